package chat

import (
	"errors"
	"fmt"
)

var ErrEmptyQuery = errors.New("question cannot be empty")

// GenerationError wraps a failed or timed-out language model call.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate answer: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
