// Command showhub serves multi-tenant broadcast rooms over websockets.
//
//	showhub -addr=:8081 -redis=localhost:6379
//
// Clients join a room by opening a websocket to a path naming their tenant
// token.
//
//	ws://localhost:8081/my-room-token
//
// Every card, background and clear message published by one client is echoed
// to all clients under the same token, the sender included. The latest card
// and background per token are also persisted to Redis for 24 hours so a
// late joiner can recover the current state over plain HTTP:
//
//	GET    /api/my-room-token/last-card
//	DELETE /api/my-room-token/last-card
//	GET    /api/my-room-token/last-background
//	DELETE /api/my-room-token/last-background
//
// Delivery is best-effort and at-most-once: a peer that cannot be written to
// is dropped and the broadcast continues. There is no acknowledgment and no
// history beyond the single latest state per kind.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/facebookgo/httpdown"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	// Prepare the stoppable HTTP server
	server := &http.Server{
		Addr: getenv("ADDR", ":8081"),
	}
	hd := &httpdown.HTTP{
		StopTimeout: 10 * time.Second,
		KillTimeout: 1 * time.Second,
	}

	flag.StringVar(&server.Addr, "addr", server.Addr, "http service address")
	flag.DurationVar(&hd.StopTimeout, "stop-timeout", hd.StopTimeout, "stop timeout")
	flag.DurationVar(&hd.KillTimeout, "kill-timeout", hd.KillTimeout, "kill timeout")
	origin := flag.String("origin", "", "websocket server checks Origin headers against this scheme://host[:port]")
	redisAddr := flag.String("redis", getenv("REDIS_ADDR", "localhost:6379"), "redis address for snapshot storage")
	redisDB := flag.Int("redis-db", getenvInt("REDIS_DB", 0), "redis database number")
	flag.Parse()

	logger := newLogger(os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	kv, err := newRedisKV(context.Background(), *redisAddr, *redisDB)
	if err != nil {
		logger.Error("redis connect failed", "addr", *redisAddr, "err", err)
		os.Exit(1)
	}
	defer kv.Close()

	startMetrics()
	defer finalMetrics()

	store := newSnapshotStore(kv, logger)
	dir := newDirectory(store, logger)
	server.Handler = newHandler(dir, store, logger, *origin)

	logger.Info("server starting", "addr", server.Addr)
	if err := httpdown.ListenAndServe(server, hd); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

// newHandler assembles the full route table around one room directory and
// one snapshot store.
func newHandler(dir *directory, store *snapshotStore, logger *slog.Logger, origin string) http.Handler {
	api := &snapshotAPI{store: store, log: logger}

	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/stats", statsHandler(dir)).Methods("GET")

	r.HandleFunc("/api/{token}/last-card", api.getLastCard).Methods("GET")
	r.HandleFunc("/api/{token}/last-card", api.deleteLastCard).Methods("DELETE")
	r.HandleFunc("/api/{token}/last-background", api.getLastBackground).Methods("GET")
	r.HandleFunc("/api/{token}/last-background", api.deleteLastBackground).Methods("DELETE")
	r.PathPrefix("/api/").Handler(http.NotFoundHandler())

	// Everything else is a room token; the handler rejects non-upgrade
	// requests with 426.
	r.PathPrefix("/").Handler(newWsHandler(dir, logger, origin))

	return r
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// getenv returns the env var or a default
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvInt parses an int env var with a fallback
func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
