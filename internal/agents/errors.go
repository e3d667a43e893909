package agents

import (
	"fmt"

	"github.com/kubrick-video/kubrick/internal/domain"
)

// DecompositionError means the director could not produce a usable
// decomposition. It is fatal to the whole run.
type DecompositionError struct {
	Err error
}

func (e *DecompositionError) Error() string {
	return fmt.Sprintf("decomposition failed: %v", e.Err)
}

func (e *DecompositionError) Unwrap() error { return e.Err }

// GenerationError means the programmer could not produce a script for one
// sub-process. It is fatal to that sub-process but not to the run.
type GenerationError struct {
	Type domain.SubProcess
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("script generation for %s failed: %v", e.Type, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
