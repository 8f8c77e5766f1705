package main

import (
	"log/slog"
	"sync"
)

// directory hands out the singleton room for each tenant token. All sockets
// connecting under one token land in the same room; no data or connection
// ever crosses between two rooms.
type directory struct {
	store *snapshotStore
	log   *slog.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

func newDirectory(store *snapshotStore, log *slog.Logger) *directory {
	return &directory{
		store: store,
		log:   log,
		rooms: make(map[string]*room),
	}
}

// getOrCreate returns the room for token, building it on first reference.
// Rooms live for the process lifetime; there is no eviction.
func (d *directory) getOrCreate(token string) *room {
	d.mu.Lock()
	defer d.mu.Unlock()
	rm, ok := d.rooms[token]
	if !ok {
		rm = newRoom(token, d.store, d.log)
		d.rooms[token] = rm
		incr("rooms", 1)
	}
	return rm
}

// stats reports the live room and client counts.
func (d *directory) stats() (rooms, clients int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, rm := range d.rooms {
		clients += rm.size()
	}
	return len(d.rooms), clients
}
