// Package events is the in-process publish/subscribe bus for session
// lifecycle notifications.
package events

import (
	"sync"

	"github.com/jrsteele09/go-auth-client/oauthmodel"
)

// Type enumerates the session lifecycle notifications.
type Type string

const (
	TypeLogin        Type = "login"
	TypeLogout       Type = "logout"
	TypeTokenRefresh Type = "token-refresh"
	TypeTokenExpired Type = "token-expired"
	TypeError        Type = "error"
)

// Event is delivered synchronously to subscribers and never persisted.
// Data shape per type:
//
//	TypeLogin        LoginPayload
//	TypeLogout       nil
//	TypeTokenRefresh *oauthmodel.AuthTokens
//	TypeTokenExpired error
//	TypeError        ErrorPayload
type Event struct {
	Type Type
	Data any
}

// LoginPayload accompanies TypeLogin.
type LoginPayload struct {
	User   *oauthmodel.User
	Tokens *oauthmodel.AuthTokens
}

// ErrorPayload accompanies TypeError, mirroring the OAuth2 error body.
type ErrorPayload struct {
	Code        string
	Description string
}

// Handler receives events. Register a *Handler so the same handler can be
// removed again; func values are not comparable in Go.
type Handler func(Event)

// Bus dispatches events to registered handlers. Handlers for one type form
// a set: registering the identical *Handler twice has no additional effect.
// Emission is synchronous and in registration order; a panicking handler
// fails its own caller, the bus swallows nothing.
type Bus struct {
	lock      sync.RWMutex
	handlers  map[Type][]*Handler
	destroyed bool
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[Type][]*Handler)}
}

// On registers handler for events of type t. Nil handlers are ignored.
func (b *Bus) On(t Type, handler *Handler) {
	if handler == nil {
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	if b.destroyed {
		return
	}
	for _, existing := range b.handlers[t] {
		if existing == handler {
			return
		}
	}
	b.handlers[t] = append(b.handlers[t], handler)
}

// Off removes handler from events of type t. Unknown handlers are ignored.
func (b *Bus) Off(t Type, handler *Handler) {
	b.lock.Lock()
	defer b.lock.Unlock()

	registered := b.handlers[t]
	for i, existing := range registered {
		if existing == handler {
			b.handlers[t] = append(registered[:i:i], registered[i+1:]...)
			return
		}
	}
}

// Emit delivers event to every handler currently registered for its type.
// After Destroy, Emit is a no-op.
func (b *Bus) Emit(event Event) {
	b.lock.RLock()
	if b.destroyed {
		b.lock.RUnlock()
		return
	}
	registered := append([]*Handler(nil), b.handlers[event.Type]...)
	b.lock.RUnlock()

	for _, handler := range registered {
		(*handler)(event)
	}
}

// Destroy clears all registrations and disables further emission.
func (b *Bus) Destroy() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.destroyed = true
	b.handlers = make(map[Type][]*Handler)
}
