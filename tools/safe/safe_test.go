package safe

import (
	"errors"
	"testing"
	"time"

	"PChatCore/tools/errs"
)

func TestCallRecoversPanic(t *testing.T) {
	err := Call(func() error { panic("boom") })
	if errs.Code(err) != errs.ServerInternalError {
		t.Fatalf("Call err = %v, want ServerInternalError", err)
	}

	want := errors.New("plain")
	if got := Call(func() error { return want }); got != want {
		t.Fatalf("Call err = %v, want %v", got, want)
	}
}

func TestSafeGoSurvivesPanic(t *testing.T) {
	done := make(chan struct{})
	SafeGo("test", func() {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestMustNotNil(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil pointer")
		}
	}()
	MustNotNil(&struct{}{}, "ok")
	MustNotNil(42, "value")
	var p *int
	MustNotNil(p, "p")
}
