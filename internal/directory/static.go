package directory

import (
	"context"
	"strings"
	"sync"
)

// Static is an in-process directory backed by a map. It stands in for the
// platform's user and match services in single-node deployments and tests.
type Static struct {
	mu      sync.RWMutex
	names   map[string]string
	matches map[string][2]string
}

// NewStatic builds an empty static directory.
func NewStatic() *Static {
	return &Static{
		names:   make(map[string]string),
		matches: make(map[string][2]string),
	}
}

// SetDisplayName registers a display name for a user.
func (s *Static) SetDisplayName(userID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[strings.TrimSpace(userID)] = strings.TrimSpace(name)
}

// SetMutualMatch registers a mutual match between two users.
func (s *Static) SetMutualMatch(matchID, userA, userB string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[strings.TrimSpace(matchID)] = [2]string{strings.TrimSpace(userA), strings.TrimSpace(userB)}
}

// DisplayName returns the registered name, falling back to the user ID so
// callers always have something presentable.
func (s *Static) DisplayName(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if name, ok := s.names[userID]; ok && name != "" {
		return name, nil
	}
	return userID, nil
}

// IsMutual reports whether the match exists and pairs exactly these users,
// in either order.
func (s *Static) IsMutual(_ context.Context, matchID, userA, userB string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pair, ok := s.matches[matchID]
	if !ok {
		return false, nil
	}
	if pair[0] == userA && pair[1] == userB {
		return true, nil
	}
	if pair[0] == userB && pair[1] == userA {
		return true, nil
	}
	return false, nil
}
