// Package domain models the async two-player game session aggregate: the
// state machine both game variants share, per-variant submissions, scoring,
// results, and post-game discussion.
package domain
