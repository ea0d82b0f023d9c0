package main

import (
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/kelechio/floodgate/pkg/config"
	"github.com/kelechio/floodgate/pkg/limiter"
)

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <actor-id>",
		Short: "Clear rate-limit and ban state for an actor",
		Long: `Clears the actor's event counts and any active suspension in the shared
backend. Local-backend state lives inside the running process and must be
reset through its admin endpoint instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("actor id must be numeric, got %q", args[0])
			}

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cfg.Backend != config.BackendShared {
				return fmt.Errorf("reset needs backend %q; %q state is process-local", config.BackendShared, cfg.Backend)
			}

			log, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			client := redis.NewClient(&redis.Options{
				Addr:         cfg.Redis.Addr,
				Password:     cfg.Redis.Password,
				DB:           cfg.Redis.DB,
				DialTimeout:  cfg.Redis.Timeout,
				ReadTimeout:  cfg.Redis.Timeout,
				WriteTimeout: cfg.Redis.Timeout,
			})
			defer client.Close() //nolint:errcheck

			rl, err := limiter.NewRateLimiter(cfg.Policy(), limiter.StaticBackend{
				Counters: limiter.NewRedisCounterStore(client, cfg.Window(), limiter.WithTimeout(cfg.Redis.Timeout)),
				Bans:     limiter.NewRedisBanStore(client, limiter.WithTimeout(cfg.Redis.Timeout)),
			}, limiter.WithLogger(log))
			if err != nil {
				return err
			}

			actor := limiter.ActorID(id)
			if err := rl.Reset(cmd.Context(), actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rate limit reset for actor %s\n", actor)
			return nil
		},
	}
}
