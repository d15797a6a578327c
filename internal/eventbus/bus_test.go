// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmit_RegistrationOrder(t *testing.T) {
	b := New(nil)
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		b.On(func(Event) { order = append(order, i) })
	}
	b.Emit(Event{Type: "x"})
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestEmit_PanicIsolatedAndLogged(t *testing.T) {
	b := New(nil)
	var secondCalled bool
	b.On(func(Event) { panic("boom") })
	b.On(func(Event) { secondCalled = true })

	require.NotPanics(t, func() { b.Emit(Event{Type: "x"}) })
	assert.True(t, secondCalled)
}

func TestUnsubscribe_RemovesExactlyOne(t *testing.T) {
	b := New(nil)
	var calls int
	unsub := b.On(func(Event) { calls++ })
	b.On(func(Event) { calls++ })

	unsub()
	b.Emit(Event{Type: "x"})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, b.Len())
}

func TestEmit_ListenerReceivesValueCopy(t *testing.T) {
	b := New(nil)
	type payload struct{ N int }
	received := make([]payload, 0)
	b.On(func(e Event) {
		p := e.Payload.(payload)
		received = append(received, p)
	})
	b.Emit(Event{Type: "x", Payload: payload{N: 1}})
	b.Emit(Event{Type: "x", Payload: payload{N: 2}})
	require.Len(t, received, 2)
	assert.Equal(t, 1, received[0].N)
	assert.Equal(t, 2, received[1].N)
}
