package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"playerpoints/internal/admin"
	"playerpoints/pkg/server"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	json       bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "pointsctl",
		Short:         "Inspect and manage the player points table",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a config file")
	cmd.PersistentFlags().BoolVar(&opts.json, "json", false, "print results as JSON")

	cmd.AddCommand(
		newGetCommand(opts),
		newSetCommand(opts),
		newHasCommand(opts),
		newRemoveCommand(opts),
		newPlayersCommand(opts),
		newListCommand(opts),
		newBuildCommand(opts),
		newDestroyCommand(opts),
		newImportCommand(opts),
		newServeCommand(opts),
	)
	return cmd
}

// withService boots the store, runs fn and tears everything down again
func withService(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, svc *admin.Service) error) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a.service(opts))
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <player>",
		Short: "Print the points balance of a player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *admin.Service) error {
				return svc.Get(ctx, args[0])
			})
		},
	}
}

func newSetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <player> <points>",
		Short: "Set the points balance of a player",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			// the points column is a 32-bit INTEGER
			points, err := strconv.ParseInt(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid points value %q: %w", args[1], err)
			}
			return withService(cmd, opts, func(ctx context.Context, svc *admin.Service) error {
				return svc.Set(ctx, args[0], int(points))
			})
		},
	}
}

func newHasCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "has <player>",
		Short: "Report whether a player has an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *admin.Service) error {
				return svc.Has(ctx, args[0])
			})
		},
	}
}

func newRemoveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <player>",
		Aliases: []string{"rm"},
		Short:   "Delete the entry of a player",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *admin.Service) error {
				return svc.Remove(ctx, args[0])
			})
		},
	}
}

func newPlayersCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "players",
		Short: "List every player with an entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *admin.Service) error {
				return svc.Players(ctx)
			})
		},
	}
}

func newListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every balance in the table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *admin.Service) error {
				return svc.List(ctx)
			})
		},
	}
}

func newBuildCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Create the points table if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *admin.Service) error {
				return svc.Build(ctx)
			})
		},
	}
}

func newDestroyCommand(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Drop the points table and every balance in it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to drop the points table without --yes")
			}
			return withService(cmd, opts, func(ctx context.Context, svc *admin.Service) error {
				return svc.Destroy(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm dropping the table")
	return cmd
}

func newImportCommand(opts *rootOptions) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Write balances from newline-delimited JSON (stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = os.Stdin
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			ctx := cmd.Context()
			a, err := bootstrap(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			n := a.cfg.Import.Workers
			if cmd.Flags().Changed("workers") {
				n = workers
			}
			stats, err := a.service(opts).Import(ctx, in, n)
			if err != nil {
				return err
			}
			if stats.Failed > 0 {
				return fmt.Errorf("%d entries failed to import", stats.Failed)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "number of concurrent writers (defaults to import.workers)")
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the health and metrics server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			obsServer := server.New(a.cfg.Server.Addr, a.store, a.logger)
			errCh := make(chan error, 1)
			go func() {
				errCh <- obsServer.Start()
			}()

			select {
			case err := <-errCh:
				if err != nil {
					a.logger.Error("observability server failed", err)
				}
				return err
			case <-ctx.Done():
				a.logger.Info("observability server stopping")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return obsServer.Shutdown(shutdownCtx)
		},
	}
}
