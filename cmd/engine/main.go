// Command engine runs the sync engine: it loads plans from Postgres,
// assigns them to a worker pool, records results in Redis, and serves a
// live dashboard and Prometheus metrics over HTTP.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fluxforge/syncengine/dashboard"
	"github.com/fluxforge/syncengine/engine"
	"github.com/fluxforge/syncengine/planstore"
	"github.com/fluxforge/syncengine/resultsink"
	"github.com/fluxforge/syncengine/taskmanager"
	"github.com/fluxforge/syncengine/worker"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func forwardResults(ctx context.Context, ch <-chan worker.Result, sink resultsink.Sink, hub *dashboard.Hub) {
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return
			}
			hub.PublishResult(r)
			if err := sink.Record(ctx, r); err != nil {
				log.Printf("resultsink: record task %s: %v", r.TaskID, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func forwardErrors(ctx context.Context, ch <-chan taskmanager.Error, hub *dashboard.Hub) {
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			hub.PublishError(e)
		case <-ctx.Done():
			return
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgConnString := envOr("SYNCENGINE_POSTGRES_DSN", "postgres://localhost:5432/syncengine")
	repo, err := planstore.New(ctx, pgConnString)
	if err != nil {
		log.Fatalf("connect to Postgres: %v", err)
	}
	defer repo.Close()

	redisAddr := envOr("SYNCENGINE_REDIS_ADDR", "localhost:6379")
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	var sink resultsink.Sink
	if pingErr := redisClient.Ping(ctx).Err(); pingErr != nil {
		log.Printf("warning: Redis unreachable at %s, falling back to log sink: %v", redisAddr, pingErr)
		sink = resultsink.LogSink{}
	} else {
		sink = resultsink.NewRedisSink(redisClient)
		log.Printf("recording results in Redis at %s", redisAddr)
	}

	cfg := engine.DefaultConfig()
	cfg.Workers = envIntOr("SYNCENGINE_WORKERS", cfg.Workers)

	eng := engine.New(repo, cfg)
	eng.Start(ctx)

	hub := dashboard.NewHub()
	go hub.Run(ctx)
	go forwardResults(ctx, eng.Results(), sink, hub)
	go forwardErrors(ctx, eng.Errors(), hub)

	if err := eng.Assign(ctx); err != nil {
		log.Printf("assign plans: %v", err)
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/dashboard/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("dashboard upgrade: %v", err)
			return
		}
		hub.Register(conn)
	})

	srv := &http.Server{
		Addr:    ":" + envOr("SYNCENGINE_HTTP_PORT", "8080"),
		Handler: mux,
	}
	go func() {
		log.Printf("sync engine listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Printf("engine shutdown: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
}
