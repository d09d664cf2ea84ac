package safe

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"PChatCore/logger"
	"PChatCore/tools/errs"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required dependencies during construction.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// SafeGo starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func SafeGo(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Recover is meant to be deferred; it logs a recovered panic with its stack.
func Recover(name string) {
	if r := recover(); r != nil {
		LogPanic(name, r)
	}
}

// LogPanic logs an already recovered value with the current stack.
func LogPanic(name string, r any) {
	logger.Log.Error("[SafeGo] panic recovered",
		zap.String("goroutine", name),
		zap.Any("panic", r),
		zap.Stack("stack"),
	)
}

// Call runs f and turns a panic into a ServerInternalError.
func Call(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
		}
	}()
	return f()
}
