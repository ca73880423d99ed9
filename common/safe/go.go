package safe

import (
	"github.com/pkg/errors"
)

//be safe, don't panic

// Run calls fn and turns a panic into an error carrying the panic stack.
func Run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch x := r.(type) {
			case error:
				err = errors.WithStack(x)
			default:
				err = errors.Errorf("panic: %v", x)
			}
		}
	}()
	return fn()
}

// Go runs fn in a new goroutine, the returned channel receives its error and is then closed.
func Go(fn func() error) <-chan error {
	c := make(chan error, 1)
	go func() {
		c <- Run(fn)
		close(c)
	}()
	return c
}
