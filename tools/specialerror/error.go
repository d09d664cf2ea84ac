package specialerror

import (
	"errors"
	"net"
	"sync"

	"PChatCore/tools/errs"
)

// Handler maps a foreign error onto an error code. It returns 0 when it does
// not recognise err.
type Handler func(err error) int

var (
	mu       sync.RWMutex
	handlers []Handler
)

func init() {
	_ = AddErrHandler(netHandler)
}

func AddErrHandler(h Handler) (err error) {
	if h == nil {
		return errs.New("nil handler")
	}
	mu.Lock()
	handlers = append(handlers, h)
	mu.Unlock()
	return nil
}

// ErrCode classifies err. Coded errors keep their code, registered handlers
// get a chance at everything else, the rest falls back to errs.Code.
func ErrCode(err error) int {
	if err == nil {
		return 0
	}
	if ce, ok := errs.As(err); ok {
		return ce.Code
	}
	mu.RLock()
	hs := handlers
	mu.RUnlock()
	for _, h := range hs {
		if code := h(err); code != 0 {
			return code
		}
	}
	return errs.Code(err)
}

// Normalize returns err unchanged when it is already coded, otherwise a
// CodeError of the classified kind carrying err's text.
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errs.As(err); ok {
		return err
	}
	code := ErrCode(err)
	return errs.NewCodeError(code, errs.CodeName(code)).WrapMsg(err.Error())
}

func ErrString(err error) errs.Error {
	var codeErr errs.Error
	if errors.As(err, &codeErr) {
		return codeErr
	}
	return nil
}

func ErrWrapper(err error) errs.ErrWrapper {
	var codeErr errs.ErrWrapper
	if errors.As(err, &codeErr) {
		return codeErr
	}
	return nil
}

func netHandler(err error) int {
	var ne net.Error
	if errors.As(err, &ne) {
		return errs.UnavailableError
	}
	return 0
}
