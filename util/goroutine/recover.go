package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

const (
	// StackTraceBufferSize is the buffer size for stack trace collection
	StackTraceBufferSize = 4096
)

// PanicError is a recovered panic converted into an error
type PanicError struct {
	Name  string
	Value interface{}
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Name, e.Value)
}

// Unwrap exposes the panic value when it was itself an error
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// RecoverToError recovers a panic in the deferring function and stores it
// in *errp as a *PanicError. It must be deferred directly:
//
//	defer goroutine.RecoverToError("merge", logger, &err)
func RecoverToError(name string, logger *zap.SugaredLogger, errp *error) {
	r := recover()
	if r == nil {
		return
	}

	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)
	perr := &PanicError{Name: name, Value: r, Stack: string(buf[:n])}

	if logger != nil {
		logger.Errorw("Panic recovered",
			"name", name,
			"panic", r,
			"stack", perr.Stack)
	} else {
		fmt.Fprintf(os.Stderr, "PANIC in %s (no logger): %v\n%s\n", name, r, perr.Stack)
	}

	if errp != nil {
		*errp = perr
	}
}
