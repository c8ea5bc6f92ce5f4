package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tilecore/internal/config"
	"tilecore/internal/logger"
	"tilecore/internal/mapstore"
)

// version is set via ldflags: -X main.version=v1.0.0
var version = "dev"

type app struct {
	cfgFile string
	cfg     *config.Config
	log     *zap.Logger
}

func main() {
	a := &app{}

	root := &cobra.Command{
		Use:           "tiler",
		Short:         "Map tile service: map configurations, tiles and static maps",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgFile)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.cfg = cfg
			a.log = log.With(zap.String("run_id", uuid.NewString()))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (toml, yaml or json)")

	root.AddCommand(newServeCmd(a))
	root.AddCommand(newMapCmd(a))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openStore opens the configured backend and waits for it to answer.
func (a *app) openStore(ctx context.Context) (*mapstore.Store, error) {
	backend, err := mapstore.OpenBackend(ctx, mapstore.BackendConfig{
		Kind: a.cfg.StoreBackend,
		Redis: mapstore.RedisOptions{
			Addr:      a.cfg.RedisAddr,
			DB:        a.cfg.RedisDB,
			Password:  a.cfg.RedisPassword,
			MaxIdle:   a.cfg.RedisMaxIdle,
			MaxActive: a.cfg.RedisMaxActive,
		},
		SQLitePath: a.cfg.SQLitePath,
	}, a.log)
	if err != nil {
		return nil, err
	}
	if err := mapstore.Connect(ctx, backend, a.cfg.StoreWait, a.log); err != nil {
		backend.Close()
		return nil, fmt.Errorf("map store unavailable: %w", err)
	}
	return mapstore.New(backend, mapstore.Options{TTL: a.cfg.MapConfigTTL}, a.log), nil
}
