package main

import (
	"context"
	"log/slog"
	"sync"
)

// peer is the registry's view of a connection: something that can accept a
// frame or fail trying. Tests register mocks in place of real websockets.
type peer interface {
	ID() string
	Send(data []byte) error
}

// room is the broadcast domain for one tenant token: the registry of live
// peers plus the controller that applies message side effects. Rooms never
// terminate; an empty registry costs nothing to keep.
type room struct {
	token string
	store *snapshotStore
	log   *slog.Logger

	mu    sync.Mutex
	peers map[peer]struct{}
}

func newRoom(token string, store *snapshotStore, log *slog.Logger) *room {
	return &room{
		token: token,
		store: store,
		log:   log.With("room", token),
		peers: make(map[peer]struct{}),
	}
}

// add registers a peer. Adding the same peer twice is a no-op.
func (r *room) add(p peer) {
	r.mu.Lock()
	r.peers[p] = struct{}{}
	n := len(r.peers)
	r.mu.Unlock()
	r.log.Info("client connected", "clientId", p.ID(), "clients", n)
}

// remove drops a peer from the registry. Removing an absent peer is a no-op;
// this tolerates a close event racing the broadcaster's prune.
func (r *room) remove(p peer) {
	r.mu.Lock()
	_, ok := r.peers[p]
	delete(r.peers, p)
	n := len(r.peers)
	r.mu.Unlock()
	if ok {
		r.log.Info("client disconnected", "clientId", p.ID(), "clients", n)
	}
}

func (r *room) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// broadcast fans data out to every peer registered at call time, the sender
// included. A failed send drops that peer and delivery continues to the
// rest; nothing is retried or acknowledged.
func (r *room) broadcast(data []byte) {
	r.mu.Lock()
	members := make([]peer, 0, len(r.peers))
	for p := range r.peers {
		members = append(members, p)
	}
	r.mu.Unlock()

	for _, p := range members {
		if err := p.Send(data); err != nil {
			incr("drops", 1)
			r.remove(p)
		}
	}
	incr("broadcasts", 1)
}

// handle runs one inbound frame through parse, validate, persistence and
// echo. Malformed or unrecognized frames are dropped silently; a bad
// background color earns the sender an error frame and nothing else.
func (r *room) handle(ctx context.Context, sender peer, raw []byte) {
	msg, err := parseMessage(raw)
	if err != nil {
		incr("parse.errors", 1)
		r.log.Debug("dropping message", "clientId", sender.ID(), "err", err)
		return
	}

	switch msg.Type {
	case typeCard:
		if err := r.store.WriteCard(ctx, r.token, msg.Card); err != nil {
			// Live peers still get the update when persistence fails.
			r.log.Error("card snapshot write failed", "err", err)
		}
		r.broadcast(serializeMessage(msg))

	case typeBackground:
		if err := validateMessage(msg); err != nil {
			r.log.Debug("rejecting background", "clientId", sender.ID(), "err", err)
			if err := sender.Send(serializeMessage(errorMessage("Invalid background color format"))); err != nil {
				r.remove(sender)
			}
			return
		}
		if err := r.store.WriteBackground(ctx, r.token, msg.BackgroundColor); err != nil {
			r.log.Error("background snapshot write failed", "err", err)
		}
		r.broadcast(serializeMessage(msg))

	case typeClear:
		// Clear wipes the card only. The background acts as a room theme
		// and stays until replaced, deleted via the API, or expired.
		if err := r.store.Clear(ctx, r.token, kindCard); err != nil {
			r.log.Error("card snapshot clear failed", "err", err)
		}
		r.broadcast(serializeMessage(msg))

	case typeError:
		// error frames are outbound-only; inbound ones are ignored.
	}
}
