// Package transcriber defines the speech-to-text contract. Transcription is
// best-effort everywhere in the engine: a failure marks the slot and never
// blocks phase advancement.
package transcriber

import (
	"context"
	"errors"
)

// Transcriber converts an audio blob to text. Implementations hold no
// per-call state; a failed call is safe to retry.
type Transcriber interface {
	Transcribe(ctx context.Context, blob []byte, mimeType string) (string, error)
}

// Unavailable always fails. It stands in for a real transcriber in tools
// that never transcribe, where a call would indicate a wiring mistake.
type Unavailable struct{}

func (Unavailable) Transcribe(context.Context, []byte, string) (string, error) {
	return "", errors.New("transcriber: not configured")
}
