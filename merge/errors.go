package merge

import (
	"fmt"

	"github.com/RuiFG/streaming-merge/window"
	"github.com/pkg/errors"
)

var (
	ErrMissingConfiguration = window.ErrMissingConfiguration
	// ErrOperatorFailed is matched by every error returned after a merge function failed.
	ErrOperatorFailed = errors.New("merge operator failed")
	ErrNotOpened      = errors.New("merge operator not opened")
)

// FailedError records the tuple whose accumulation failed. The operator rejects all
// input after it until restored from a checkpoint.
type FailedError struct {
	Stream    int
	Timestamp int64
	Key       any
	Err       error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("merge operator failed on stream %d at %d for key %v: %v", e.Stream, e.Timestamp, e.Key, e.Err)
}

func (e *FailedError) Unwrap() error {
	return e.Err
}

func (e *FailedError) Is(target error) bool {
	return target == ErrOperatorFailed
}
