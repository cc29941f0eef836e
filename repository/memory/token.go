package memory

import (
	"context"
	"sync"
)

type TokenBlacklist struct {
	mu     sync.RWMutex
	tokens map[string]struct{}
}

func NewTokenBlacklist(tokens ...string) *TokenBlacklist {
	b := &TokenBlacklist{tokens: make(map[string]struct{}, len(tokens))}
	for _, t := range tokens {
		b.tokens[t] = struct{}{}
	}
	return b
}

// Revoke adds token to the list, as logout does in the account service.
func (b *TokenBlacklist) Revoke(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens[token] = struct{}{}
}

func (b *TokenBlacklist) IsBlacklisted(_ context.Context, token string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.tokens[token]
	return ok, nil
}
