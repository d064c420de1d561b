package feedback

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyTranscript is returned when a call produced no utterances.
	ErrEmptyTranscript = errors.New("empty transcript")
	// ErrTranscriptTooLong is returned when a transcript exceeds the scoring
	// token budget.
	ErrTranscriptTooLong = errors.New("transcript exceeds token budget")
	// ErrInvalidAssessment marks a scoring response that failed validation.
	ErrInvalidAssessment = errors.New("invalid assessment")
)

// ScoringError wraps a failure of the scoring service.
type ScoringError struct {
	Attempts int
	Err      error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("score transcript after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ScoringError) Unwrap() error { return e.Err }

// StoreError wraps a document store failure with the operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
