package events_test

import (
	"testing"

	"github.com/jrsteele09/go-auth-client/events"
	"github.com/stretchr/testify/require"
)

func TestEmitDeliversInRegistrationOrder(t *testing.T) {
	bus := events.NewBus()

	var order []string
	first := events.Handler(func(events.Event) { order = append(order, "first") })
	second := events.Handler(func(events.Event) { order = append(order, "second") })
	bus.On(events.TypeLogin, &first)
	bus.On(events.TypeLogin, &second)

	bus.Emit(events.Event{Type: events.TypeLogin})
	require.Equal(t, []string{"first", "second"}, order)
}

func TestEmitOnlyMatchingType(t *testing.T) {
	bus := events.NewBus()

	calls := 0
	handler := events.Handler(func(events.Event) { calls++ })
	bus.On(events.TypeLogout, &handler)

	bus.Emit(events.Event{Type: events.TypeLogin})
	require.Zero(t, calls)

	bus.Emit(events.Event{Type: events.TypeLogout})
	require.Equal(t, 1, calls)
}

func TestDuplicateRegistrationHasNoEffect(t *testing.T) {
	bus := events.NewBus()

	calls := 0
	handler := events.Handler(func(events.Event) { calls++ })
	bus.On(events.TypeError, &handler)
	bus.On(events.TypeError, &handler)

	bus.Emit(events.Event{Type: events.TypeError})
	require.Equal(t, 1, calls)
}

func TestOffRemovesHandler(t *testing.T) {
	bus := events.NewBus()

	calls := 0
	handler := events.Handler(func(events.Event) { calls++ })
	bus.On(events.TypeLogin, &handler)
	bus.Off(events.TypeLogin, &handler)

	bus.Emit(events.Event{Type: events.TypeLogin})
	require.Zero(t, calls)
}

func TestOffUnknownHandlerIsIgnored(t *testing.T) {
	bus := events.NewBus()

	handler := events.Handler(func(events.Event) {})
	bus.Off(events.TypeLogin, &handler)
}

func TestEventDataDelivered(t *testing.T) {
	bus := events.NewBus()

	var got events.Event
	handler := events.Handler(func(e events.Event) { got = e })
	bus.On(events.TypeError, &handler)

	bus.Emit(events.Event{
		Type: events.TypeError,
		Data: events.ErrorPayload{Code: "access_denied", Description: "nope"},
	})
	require.Equal(t, events.ErrorPayload{Code: "access_denied", Description: "nope"}, got.Data)
}

func TestDestroyDisablesBus(t *testing.T) {
	bus := events.NewBus()

	calls := 0
	handler := events.Handler(func(events.Event) { calls++ })
	bus.On(events.TypeLogin, &handler)

	bus.Destroy()
	bus.Emit(events.Event{Type: events.TypeLogin})
	require.Zero(t, calls)

	// Registration after Destroy is also a no-op.
	bus.On(events.TypeLogin, &handler)
	bus.Emit(events.Event{Type: events.TypeLogin})
	require.Zero(t, calls)
}
