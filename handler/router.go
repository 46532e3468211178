package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"security-checker/internal/usecase"
)

// Participant answers chat requests routed to it; *usecase.ChatService
// satisfies it.
type Participant interface {
	Respond(ctx context.Context, req usecase.ChatRequest, sink usecase.ResponseSink) (usecase.ChatResult, error)
}

// Router maps participant identifiers to their handlers. The first
// participant registered also serves requests that name none.
type Router struct {
	mu           sync.RWMutex
	participants map[string]Participant
	defaultID    string
}

func NewRouter() *Router {
	return &Router{participants: make(map[string]Participant)}
}

func (r *Router) Register(id string, p Participant) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("handler: participant id must not be empty")
	}
	if p == nil {
		return errors.New("handler: participant must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[id]; ok {
		return fmt.Errorf("handler: participant %q already registered", id)
	}
	r.participants[id] = p
	if r.defaultID == "" {
		r.defaultID = id
	}
	return nil
}

// Lookup returns the participant for id, falling back to the default when id
// is empty.
func (r *Router) Lookup(id string) (Participant, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id = strings.TrimSpace(id)
	if id == "" {
		id = r.defaultID
	}
	p, ok := r.participants[id]
	return p, id, ok
}
