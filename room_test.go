package main

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPeer struct {
	id      string
	mu      sync.Mutex
	frames  []string
	sendErr error
}

func (p *mockPeer) ID() string { return p.id }

func (p *mockPeer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.frames = append(p.frames, string(data))
	return nil
}

func (p *mockPeer) received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.frames...)
}

func newTestRoom(t *testing.T, token string) (*room, *snapshotStore) {
	t.Helper()
	store := newSnapshotStore(newMemKV(), testLogger())
	return newRoom(token, store, testLogger()), store
}

func TestRoomCardEcho(t *testing.T) {
	ctx := context.Background()
	rm, store := newTestRoom(t, "abc")
	a := &mockPeer{id: "a"}
	b := &mockPeer{id: "b"}
	rm.add(a)
	rm.add(b)

	rm.handle(ctx, a, []byte(`{"type":"card","card":"🎴"}`))

	for _, p := range []*mockPeer{a, b} {
		frames := p.received()
		require.Len(t, frames, 1, "peer %s", p.id)
		assert.JSONEq(t, `{"type":"card","card":"🎴"}`, frames[0], "sender included in echo")
	}

	rec, err := store.Read(ctx, "abc", kindCard)
	require.NoError(t, err)
	assert.JSONEq(t, `"🎴"`, string(rec.Card))
}

func TestRoomBackgroundValid(t *testing.T) {
	ctx := context.Background()
	rm, store := newTestRoom(t, "abc")
	a := &mockPeer{id: "a"}
	b := &mockPeer{id: "b"}
	rm.add(a)
	rm.add(b)

	rm.handle(ctx, a, []byte(`{"type":"background","backgroundColor":"#336699"}`))

	for _, p := range []*mockPeer{a, b} {
		frames := p.received()
		require.Len(t, frames, 1, "peer %s", p.id)
		assert.JSONEq(t, `{"type":"background","backgroundColor":"#336699"}`, frames[0])
	}

	rec, err := store.Read(ctx, "abc", kindBackground)
	require.NoError(t, err)
	assert.Equal(t, "#336699", rec.BackgroundColor)
}

func TestRoomBackgroundInvalid(t *testing.T) {
	ctx := context.Background()
	rm, store := newTestRoom(t, "abc")
	a := &mockPeer{id: "a"}
	b := &mockPeer{id: "b"}
	rm.add(a)
	rm.add(b)

	rm.handle(ctx, a, []byte(`{"type":"background","backgroundColor":"not-a-color"}`))

	frames := a.received()
	require.Len(t, frames, 1, "sender gets the error frame")
	assert.JSONEq(t, `{"type":"error","message":"Invalid background color format"}`, frames[0])

	assert.Empty(t, b.received(), "error frames are never broadcast")

	_, err := store.Read(ctx, "abc", kindBackground)
	assert.ErrorIs(t, err, errSnapshotMissing, "rejected colors are not persisted")
}

func TestRoomClear(t *testing.T) {
	ctx := context.Background()
	rm, store := newTestRoom(t, "abc")
	a := &mockPeer{id: "a"}
	b := &mockPeer{id: "b"}
	rm.add(a)
	rm.add(b)

	rm.handle(ctx, a, []byte(`{"type":"card","card":"🎴"}`))
	rm.handle(ctx, a, []byte(`{"type":"background","backgroundColor":"#F00"}`))
	rm.handle(ctx, a, []byte(`{"type":"clear"}`))

	frames := b.received()
	require.Len(t, frames, 3)
	assert.JSONEq(t, `{"type":"clear"}`, frames[2])

	_, err := store.Read(ctx, "abc", kindCard)
	assert.ErrorIs(t, err, errSnapshotMissing)

	rec, err := store.Read(ctx, "abc", kindBackground)
	require.NoError(t, err, "clear leaves the background snapshot alone")
	assert.Equal(t, "#F00", rec.BackgroundColor)
}

func TestRoomDropsUnusableFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed JSON", `not json {`},
		{"unknown type", `{"type":"wave"}`},
		{"card without payload", `{"type":"card"}`},
		{"inbound error frame", `{"type":"error","message":"spoofed"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm, store := newTestRoom(t, "abc")
			a := &mockPeer{id: "a"}
			b := &mockPeer{id: "b"}
			rm.add(a)
			rm.add(b)

			rm.handle(context.Background(), a, []byte(tt.raw))

			assert.Empty(t, a.received())
			assert.Empty(t, b.received())
			_, err := store.Read(context.Background(), "abc", kindCard)
			assert.ErrorIs(t, err, errSnapshotMissing)
		})
	}
}

func TestRoomPrunesFailingPeer(t *testing.T) {
	ctx := context.Background()
	rm, _ := newTestRoom(t, "abc")
	a := &mockPeer{id: "a"}
	b := &mockPeer{id: "b"}
	dead := &mockPeer{id: "dead", sendErr: errors.New("connection reset")}
	rm.add(a)
	rm.add(b)
	rm.add(dead)

	rm.handle(ctx, a, []byte(`{"type":"card","card":"🎴"}`))

	require.Len(t, a.received(), 1, "one failing peer must not block the rest")
	require.Len(t, b.received(), 1)
	assert.Equal(t, 2, rm.size(), "failing peer pruned from the registry")

	rm.handle(ctx, a, []byte(`{"type":"clear"}`))
	require.Len(t, a.received(), 2)
	require.Len(t, b.received(), 2)
}

func TestRoomRegistrySemantics(t *testing.T) {
	rm, _ := newTestRoom(t, "abc")
	a := &mockPeer{id: "a"}

	rm.add(a)
	rm.add(a)
	assert.Equal(t, 1, rm.size(), "duplicate add is idempotent")

	rm.remove(&mockPeer{id: "stranger"})
	assert.Equal(t, 1, rm.size(), "removing an absent peer is a no-op")

	rm.remove(a)
	rm.remove(a)
	assert.Equal(t, 0, rm.size())
}

func TestRoomIsolation(t *testing.T) {
	ctx := context.Background()
	store := newSnapshotStore(newMemKV(), testLogger())
	dir := newDirectory(store, testLogger())

	rm1 := dir.getOrCreate("room-1")
	rm2 := dir.getOrCreate("room-2")

	a := &mockPeer{id: "a"}
	b := &mockPeer{id: "b"}
	rm1.add(a)
	rm2.add(b)

	rm1.handle(ctx, a, []byte(`{"type":"card","card":"🎴"}`))

	require.Len(t, a.received(), 1)
	assert.Empty(t, b.received(), "no cross-room delivery")

	_, err := store.Read(ctx, "room-2", kindCard)
	assert.ErrorIs(t, err, errSnapshotMissing, "no cross-room persistence")
}

func TestRoomBroadcastStoreFailure(t *testing.T) {
	// Live peers still see the update when the durable map is down.
	rm := newRoom("abc", newSnapshotStore(brokenKV{}, testLogger()), testLogger())
	a := &mockPeer{id: "a"}
	rm.add(a)

	rm.handle(context.Background(), a, []byte(`{"type":"card","card":"🎴"}`))

	require.Len(t, a.received(), 1)
	assert.JSONEq(t, `{"type":"card","card":"🎴"}`, a.received()[0])
}
