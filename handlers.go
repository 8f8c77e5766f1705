package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

type wsHandler struct {
	dir      *directory
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func newWsHandler(dir *directory, log *slog.Logger, origin string) *wsHandler {
	h := &wsHandler{
		dir: dir,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if origin == "" {
		h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	} else {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			return r.Header.Get("Origin") == origin
		}
	}
	return h
}

// ServeHTTP upgrades /{token} to a websocket and parks the connection in the
// token's room until it closes.
func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "Expected Upgrade: websocket", http.StatusUpgradeRequired)
		return
	}
	token := strings.Trim(r.URL.Path, "/")
	if token == "" {
		http.Error(w, "Error: bad request. Missing room token.", http.StatusBadRequest)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "err", err)
		return
	}
	rm := h.dir.getOrCreate(token)
	c := newConnection(uuid.New().String(), ws, rm)
	c.run(r.Context())
}

// snapshotAPI serves the pull-based recovery path: plain HTTP reads and
// deletes of the last-known state, independent of any live socket.
type snapshotAPI struct {
	store *snapshotStore
	log   *slog.Logger
}

func (a *snapshotAPI) getLastCard(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	rec, err := a.store.Read(r.Context(), token, kindCard)
	switch {
	case errors.Is(err, errSnapshotMissing):
		writeJSON(w, http.StatusOK, map[string]any{
			"message":   "No card found",
			"card":      nil,
			"timestamp": nil,
		})
	case errors.Is(err, errSnapshotCorrupt):
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Invalid card data found",
			"message": "Internal server error",
		})
	case err != nil:
		a.log.Error("card snapshot read failed", "token", token, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Failed to retrieve last card",
			"message": "Internal server error",
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"message":   "Last card retrieved successfully",
			"card":      rec.Card,
			"timestamp": rec.Timestamp,
			"version":   rec.Version,
		})
	}
}

func (a *snapshotAPI) deleteLastCard(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if err := a.store.Clear(r.Context(), token, kindCard); err != nil {
		a.log.Error("card snapshot clear failed", "token", token, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Failed to clear last card",
			"message": "Internal server error",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Last card cleared successfully",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *snapshotAPI) getLastBackground(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	rec, err := a.store.Read(r.Context(), token, kindBackground)
	switch {
	case errors.Is(err, errSnapshotMissing):
		writeJSON(w, http.StatusOK, map[string]any{
			"message":         "No background found",
			"backgroundColor": nil,
			"timestamp":       nil,
		})
	case errors.Is(err, errSnapshotCorrupt):
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Invalid background data found",
			"message": "Internal server error",
		})
	case err != nil:
		a.log.Error("background snapshot read failed", "token", token, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Failed to retrieve last background",
			"message": "Internal server error",
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"message":         "Last background retrieved successfully",
			"backgroundColor": rec.BackgroundColor,
			"timestamp":       rec.Timestamp,
			"version":         rec.Version,
		})
	}
}

func (a *snapshotAPI) deleteLastBackground(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if err := a.store.Clear(r.Context(), token, kindBackground); err != nil {
		a.log.Error("background snapshot clear failed", "token", token, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Failed to clear last background",
			"message": "Internal server error",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Last background cleared successfully",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func statsHandler(dir *directory) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		rooms, clients := dir.stats()
		writeJSON(w, http.StatusOK, map[string]int{
			"rooms":   rooms,
			"clients": clients,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
