package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/bike-tacho/internal/store"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the settings database schema",
	}

	run := func(fn func(*store.Store, []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			s, err := store.OpenUnmigrated(flagDB)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := fn(s, args); err != nil {
				return err
			}
			version, dirty, err := s.MigrateVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE:  run(func(s *store.Store, _ []string) error { return s.MigrateUp() }),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE:  run(func(s *store.Store, _ []string) error { return s.MigrateDown() }),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the schema version",
			Args:  cobra.NoArgs,
			RunE:  run(func(*store.Store, []string) error { return nil }),
		},
		&cobra.Command{
			Use:   "to <version>",
			Short: "Migrate up or down to a version",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(s *store.Store, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return s.MigrateTo(uint(v))
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the version without running migrations, to recover a dirty schema",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(s *store.Store, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return s.MigrateForce(v)
			}),
		},
	)
	return cmd
}
