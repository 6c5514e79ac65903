// Package media defines the blob sink contract for voice audio and the
// deterministic key scheme that makes uploads idempotent.
package media

import (
	"context"
	"fmt"
)

// PutResult describes a stored blob.
type PutResult struct {
	URL  string
	Key  string
	Size int64
}

// Sink stores opaque audio blobs under caller-chosen keys. Delete is
// idempotent: deleting an absent key succeeds.
type Sink interface {
	Put(ctx context.Context, blob []byte, key, mimeType string) (PutResult, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// keyNamespace prefixes every engine-owned media key.
const keyNamespace = "game"

// AnswerKey builds the deterministic key for a voice answer. Retrying the
// same submission overwrites instead of duplicating.
func AnswerKey(sessionID string, questionNumber int, participantID, mimeType string) string {
	return fmt.Sprintf("%s/%s/q%d_%s%s", keyNamespace, sessionID, questionNumber, participantID, ExtensionFor(mimeType))
}

// NoteKey builds the deterministic key for a discussion note.
func NoteKey(sessionID string, noteIndex int, participantID, mimeType string) string {
	return fmt.Sprintf("%s/%s/note%d_%s%s", keyNamespace, sessionID, noteIndex, participantID, ExtensionFor(mimeType))
}

// ExtensionFor maps an audio mime type to a file extension.
func ExtensionFor(mimeType string) string {
	switch mimeType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	case "audio/wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".bin"
	}
}
