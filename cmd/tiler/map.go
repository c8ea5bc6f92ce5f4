package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tilecore/internal/mapconfig"
)

func newMapCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Manage stored map configurations",
	}
	cmd.AddCommand(newMapSaveCmd(a), newMapShowCmd(a), newMapDeleteCmd(a))
	return cmd
}

func newMapSaveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save <file>",
		Short: "Validate and store a map configuration (use - for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			cfg, err := mapconfig.Create(raw)
			if err != nil {
				return err
			}

			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			token, existed, err := store.Save(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			a.log.Debug("map saved", zap.String("token", token), zap.Bool("existed", existed))
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"layergroupid": token,
				"existed":      existed,
				"layer_count":  cfg.LayerCount(),
			})
		},
	}
}

func newMapShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <token>",
		Short: "Print a stored map configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			cfg, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cfg)
		},
	}
}

func newMapDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <token>",
		Short: "Remove a stored map configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
			return nil
		},
	}
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return raw, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
