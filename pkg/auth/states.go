package auth

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/beam-cloud/synopsis/pkg/common"
)

const (
	DefaultStateTTL = 10 * time.Minute
	maxPendingState = 4096
)

// pendingConnect is a mailbox connection waiting for its OAuth callback
type pendingConnect struct {
	OwnerId   string
	ReturnTo  string
	ExpiresAt time.Time
}

// StateStore maps OAuth state values back to the owner that started the flow.
// Each state can be taken once.
type StateStore struct {
	pending *expirable.LRU[string, pendingConnect]
	ttl     time.Duration
	clock   common.Clock
}

func NewStateStore(ttl time.Duration, clock common.Clock) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateStore{
		pending: expirable.NewLRU[string, pendingConnect](maxPendingState, nil, ttl),
		ttl:     ttl,
		clock:   clock,
	}
}

// Create records a pending connection and returns its state value
func (s *StateStore) Create(ownerId, returnTo string) string {
	state := generateState()
	s.pending.Add(state, pendingConnect{
		OwnerId:   ownerId,
		ReturnTo:  returnTo,
		ExpiresAt: s.clock.Now().Add(s.ttl),
	})
	return state
}

// Take removes and returns the pending connection for state
func (s *StateStore) Take(state string) (ownerId, returnTo string, ok bool) {
	p, found := s.pending.Peek(state)
	if !found {
		return "", "", false
	}
	s.pending.Remove(state)

	if s.clock.Now().After(p.ExpiresAt) {
		return "", "", false
	}
	return p.OwnerId, p.ReturnTo, true
}

func generateState() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
