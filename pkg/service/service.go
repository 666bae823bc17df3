// Package service holds the process wiring shared by the service commands.
package service

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/nsyszr/foodblog/pkg/config"
	"github.com/nsyszr/foodblog/pkg/middleware"
	"github.com/nsyszr/foodblog/pkg/rpc"
	"github.com/nsyszr/foodblog/pkg/stats"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// OpenDB connects to PostgreSQL and checks the connection.
func OpenDB(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "database connection failed")
	}
	return db, nil
}

// NewRecorder returns the RPC stats collector configured in cfg. Without a
// Redis address stats are disabled and the collector is nil.
func NewRecorder(cfg *config.Config) (rpc.Recorder, *stats.Collector, func(), error) {
	if cfg.RedisAddr == "" {
		log.Debug("Redis address not set, RPC stats disabled")
		return rpc.NopRecorder{}, nil, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping().Err(); err != nil {
		client.Close()
		return nil, nil, nil, errors.Wrapf(err, "failed to connect to redis at %s", cfg.RedisAddr)
	}

	collector := stats.NewCollector(client)
	return collector, collector, func() { client.Close() }, nil
}

// ListenAndServe runs the HTTP server with request logging and CORS until
// ctx is done, then shuts it down gracefully.
func ListenAndServe(ctx context.Context, port int, handler http.Handler) error {
	withCORS := middleware.CORSHandler()
	h := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: middleware.WithLogging(withCORS(handler))}

	errc := make(chan error, 1)
	go func() {
		log.Infof("Listening on http://0.0.0.0:%d", port)
		errc <- h.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "http server failed")
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server...")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := h.Shutdown(sctx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}
	return nil
}
