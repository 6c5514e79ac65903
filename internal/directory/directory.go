// Package directory exposes the engine's view of the surrounding dating
// platform: who a user is and whether a match is mutual. Both concerns live
// in external services; the engine only consumes these contracts.
package directory

import "context"

// UserDirectory resolves display names for session participants.
type UserDirectory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// MatchDirectory answers whether two users share a mutual match.
type MatchDirectory interface {
	IsMutual(ctx context.Context, matchID, userA, userB string) (bool, error)
}
