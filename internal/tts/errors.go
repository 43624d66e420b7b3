package tts

import (
	"errors"
	"fmt"
)

// ErrUnavailable indicates the TTS server could not be reached or did
// not stabilize within the startup timeout.
var ErrUnavailable = errors.New("tts server unavailable")

// SynthesisError indicates synthesis failed after retries were
// exhausted.
type SynthesisError struct {
	Chapter string
	Err     error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed for chapter %q: %v", e.Chapter, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
