package gateway

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned when a scripted gateway runs out of turns.
var ErrScriptExhausted = errors.New("scripted gateway: no turns remaining")

// Scripted is a deterministic in-memory gateway replaying a fixed sequence
// of responses. Each Complete call consumes the next turn. Used by tests.
type Scripted struct {
	mu       sync.Mutex
	turns    []*Response
	next     int
	requests []*Request
}

// NewScripted builds a gateway replaying turns in order.
func NewScripted(turns ...*Response) *Scripted {
	return &Scripted{turns: turns}
}

// Provider implements Gateway.
func (s *Scripted) Provider() string { return "scripted" }

// Model implements Gateway.
func (s *Scripted) Model() string { return "scripted" }

// Complete implements Gateway. It records the request and returns the next
// scripted turn, or ErrScriptExhausted when none remain.
func (s *Scripted) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.next >= len(s.turns) {
		return nil, ErrScriptExhausted
	}
	turn := s.turns[s.next]
	s.next++
	return turn, nil
}

// Requests returns the requests seen so far, in order.
func (s *Scripted) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Remaining reports how many scripted turns are left.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns) - s.next
}
