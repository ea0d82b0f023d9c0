package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kelechio/floodgate/pkg/config"
	"github.com/kelechio/floodgate/pkg/gate"
	"github.com/kelechio/floodgate/pkg/limiter"
)

const sweepInterval = 5 * time.Minute

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run an HTTP front for the admission gate",
		Long: `Accepts transport updates as JSON on POST /events, admits or drops them,
and exposes Prometheus metrics on /metrics and backend state on /healthz.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck
			return runServe(cmd.Context(), cfg, log)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder := limiter.NewPrometheusRecorder(nil)

	localCounters := limiter.NewLocalCounterStore(cfg.Window())
	localBans := limiter.NewLocalBanStore()

	var backend limiter.Backend
	var sup *limiter.Supervisor
	if cfg.Backend == config.BackendShared {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.Timeout,
			ReadTimeout:  cfg.Redis.Timeout,
			WriteTimeout: cfg.Redis.Timeout,
		})
		defer client.Close() //nolint:errcheck

		sup = limiter.NewSupervisor(client,
			limiter.NewRedisCounterStore(client, cfg.Window(), limiter.WithTimeout(cfg.Redis.Timeout)),
			limiter.NewRedisBanStore(client, limiter.WithTimeout(cfg.Redis.Timeout)),
			localCounters, localBans,
			limiter.WithProbeTimeout(cfg.Redis.Timeout),
			limiter.WithSupervisorLogger(log),
			limiter.WithSupervisorRecorder(recorder),
		)
		defer sup.Close()
		backend = sup
		log.Info("using shared counting backend", zap.String("addr", cfg.Redis.Addr))
	} else {
		backend = limiter.StaticBackend{Counters: localCounters, Bans: localBans}
		log.Info("using local counting backend, limits are per instance")
	}

	rl, err := limiter.NewRateLimiter(cfg.Policy(), backend,
		limiter.WithLogger(log), limiter.WithRecorder(recorder))
	if err != nil {
		return err
	}

	g := gate.New(rl, func(ctx context.Context, u *gate.Update) error {
		// Downstream processing lives outside this subsystem; the demo
		// front just acknowledges the admitted update.
		return nil
	}, gate.WithLogger(log))

	// Lazy pruning keeps per-actor state tidy, but idle actors linger
	// until swept.
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				localCounters.Sweep(time.Now())
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		state := "local-only"
		if sup != nil {
			state = sup.State().String()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"backend": state}) //nolint:errcheck
	})
	mux.HandleFunc("POST /events", func(w http.ResponseWriter, r *http.Request) {
		var u gate.Update
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			http.Error(w, "malformed update", http.StatusBadRequest)
			return
		}
		dec, err := g.Handle(r.Context(), &u)
		if err != nil {
			http.Error(w, "downstream failure", http.StatusInternalServerError)
			return
		}
		if !dec.Allow {
			w.Header().Set("Retry-After", strconv.FormatInt(int64(dec.RetryAfter.Seconds()), 10))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("POST /admin/reset/{actor}", func(w http.ResponseWriter, r *http.Request) {
		actor := limiter.Actor(r.PathValue("actor"))
		if actor == "" {
			http.Error(w, "missing actor", http.StatusBadRequest)
			return
		}
		if err := g.ResetLimit(r.Context(), actor); err != nil {
			http.Error(w, "reset failed", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
