package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifiesOnTransitionsOnly(t *testing.T) {
	m := New(Options{})
	var mu sync.Mutex
	var seen []bool
	m.Subscribe(func(online bool) {
		mu.Lock()
		seen = append(seen, online)
		mu.Unlock()
	})

	m.SetOnline(true)
	m.SetOnline(true) // repeat, no transition
	m.SetOnline(false)
	m.SetOnline(true)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false, true}, seen)
}

func TestSubscribeReplaysKnownState(t *testing.T) {
	m := New(Options{})
	m.SetOnline(true)

	called := false
	m.Subscribe(func(online bool) {
		called = true
		assert.True(t, online)
	})
	assert.True(t, called, "a late subscriber gets the current state immediately")
}

func TestSubscribeSilentWhenUnknown(t *testing.T) {
	m := New(Options{})
	m.Subscribe(func(bool) {
		t.Fatal("no observation yet, listener must not fire")
	})
}

func TestProbeLoop(t *testing.T) {
	var mu sync.Mutex
	healthy := false
	m := New(Options{
		Interval: 10 * time.Millisecond,
		Probe: func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			if healthy {
				return nil
			}
			return errors.New("unreachable")
		},
	})
	defer m.Stop()

	transitions := make(chan bool, 8)
	m.Subscribe(func(online bool) { transitions <- online })
	m.Start(context.Background())

	select {
	case online := <-transitions:
		require.False(t, online)
	case <-time.After(time.Second):
		t.Fatal("no offline observation")
	}

	mu.Lock()
	healthy = true
	mu.Unlock()

	select {
	case online := <-transitions:
		require.True(t, online)
	case <-time.After(time.Second):
		t.Fatal("no online transition after probe recovery")
	}
}
