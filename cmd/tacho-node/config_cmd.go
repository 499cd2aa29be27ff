package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/banshee-data/bike-tacho/internal/config"
	"github.com/banshee-data/bike-tacho/internal/store"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the persisted settings",
	}

	var secrets bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration and any defaults applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.Store, d *config.BuildDefaults) error {
				return showConfig(cmd.OutOrStdout(), s, d, secrets)
			})
		},
	}
	show.Flags().BoolVar(&secrets, "secrets", false, "Print passwords and the API key")

	set := &cobra.Command{
		Use:   "set key=value...",
		Short: "Write one or more settings",
		Long:  "Write settings by store key. Known keys: " + strings.Join(store.ConfigKeys, ", "),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.Store, d *config.BuildDefaults) error {
				return setConfig(cmd.OutOrStdout(), s, d, args)
			})
		},
	}

	var limit int
	changes := &cobra.Command{
		Use:   "changes",
		Short: "List recent configuration changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.Store, _ *config.BuildDefaults) error {
				list, err := s.RecentChanges(limit)
				if err != nil {
					return err
				}
				for _, c := range list {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s %-16s %q -> %q\n",
						c.ChangedAt.Format("2006-01-02 15:04:05"), c.Source, c.Key, c.OldValue, c.NewValue)
				}
				return nil
			})
		},
	}
	changes.Flags().IntVar(&limit, "limit", 20, "Number of entries")

	cmd.AddCommand(show, set, changes)
	return cmd
}

func withStore(fn func(*store.Store, *config.BuildDefaults) error) error {
	d, err := loadDefaults()
	if err != nil {
		return err
	}
	s, err := store.Open(flagDB)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s, d)
}

type configReport struct {
	Config   config.DeviceConfig     `json:"config"`
	Defaults []config.AppliedDefault `json:"defaults_applied,omitempty"`
	Missing  []string                `json:"missing_critical,omitempty"`
}

func showConfig(w io.Writer, s *store.Store, d *config.BuildDefaults, secrets bool) error {
	cfg, applied, err := config.Load(s, d)
	if err != nil {
		return err
	}
	report := configReport{Config: cfg, Defaults: applied, Missing: cfg.MissingCritical(d)}
	if !secrets {
		report.Config = cfg.Redacted()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// setConfig validates every pair before writing any of them.
func setConfig(w io.Writer, s *store.Store, d *config.BuildDefaults, args []string) error {
	type pair struct{ key, value string }
	pairs := make([]pair, 0, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("expected key=value, got %q", arg)
		}
		if !slices.Contains(store.ConfigKeys, key) {
			return fmt.Errorf("unknown key %q", key)
		}
		if err := validateSetting(key, value); err != nil {
			return err
		}
		pairs = append(pairs, pair{key, value})
	}

	for _, p := range pairs {
		changed, err := s.SetFrom(store.SourceCLI, p.key, p.value)
		if err != nil {
			return err
		}
		shown := p.value
		if store.IsSecret(p.key) {
			shown = "***"
		}
		if changed {
			fmt.Fprintf(w, "%s = %s\n", p.key, shown)
		} else {
			fmt.Fprintf(w, "%s unchanged\n", p.key)
		}
	}

	cfg, _, err := config.Load(s, d)
	if err != nil {
		return err
	}
	if missing := cfg.MissingCritical(d); len(missing) > 0 {
		fmt.Fprintf(w, "still missing: %s\n", strings.Join(missing, ", "))
	}
	return nil
}

func validateSetting(key, value string) error {
	switch key {
	case store.KeyWheelSize:
		var mm int
		if _, err := fmt.Sscan(value, &mm); err != nil {
			return fmt.Errorf("%s: %q is not an integer", key, value)
		}
		return config.ValidateWheel(mm)
	case store.KeyAPPassword:
		return config.ValidateAPPassword(value)
	case store.KeySendInterval, store.KeyTestInterval, store.KeyConfigFetchInt:
		var n int
		if _, err := fmt.Sscan(value, &n); err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer, got %q", key, value)
		}
	case store.KeyDeepSleep:
		var n int
		if _, err := fmt.Sscan(value, &n); err != nil || n < 0 {
			return fmt.Errorf("%s must be zero or a positive integer, got %q", key, value)
		}
	case store.KeyLEDEnabled, store.KeyDebugEnabled, store.KeyTestMode:
		if value != "true" && value != "false" {
			return fmt.Errorf("%s must be true or false, got %q", key, value)
		}
	case store.KeyServerURL:
		if config.SanitizeServerURL(value) != value {
			return fmt.Errorf("%s: use the full form %q", key, config.SanitizeServerURL(value))
		}
	}
	return nil
}
