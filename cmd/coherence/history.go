package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/coherence/internal/config"
	"github.com/dshills/coherence/internal/history"
	"github.com/dshills/coherence/internal/render"
	"github.com/dshills/coherence/internal/schema"
)

func newHistoryCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Record and inspect the user event history used for gaming detection",
	}
	cmd.AddCommand(newHistoryRecordCmd(configFile), newHistoryListCmd(configFile))
	return cmd
}

// openHistory opens the configured SQLite store.
func openHistory(configFile string) (*history.SQLiteStore, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	return openHistoryFrom(cfg)
}

func openHistoryFrom(cfg *config.Config) (*history.SQLiteStore, error) {
	if cfg.History.Path == "" {
		return nil, badInput(fmt.Errorf("history.path is not configured"))
	}
	s, err := history.OpenSQLite(cfg.History.Path)
	if err != nil {
		return nil, runtimeErr(err)
	}
	return s, nil
}

func newHistoryRecordCmd(configFile *string) *cobra.Command {
	var (
		userID, typ, hash, at string
		oldW, newW            float64
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Append one user event",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := schema.UserEvent{Type: typ, ContentHash: hash, Timestamp: time.Now().UTC()}
			switch typ {
			case schema.EventEdit, schema.EventResolve:
			case schema.EventWeightChange:
				if !cmd.Flags().Changed("old-weight") || !cmd.Flags().Changed("new-weight") {
					return badInput(fmt.Errorf("weight_change events need --old-weight and --new-weight"))
				}
				e.OldWeight, e.NewWeight = &oldW, &newW
			default:
				return badInput(fmt.Errorf("unknown event type %q", typ))
			}
			if at != "" {
				ts, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return badInput(fmt.Errorf("--at: %w", err))
				}
				e.Timestamp = ts
			}

			s, err := openHistory(*configFile)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Record(cmd.Context(), userID, e); err != nil {
				return runtimeErr(err)
			}
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&userID, "user", "", "user id (required)")
	fs.StringVar(&typ, "type", "", "edit, resolve or weight_change (required)")
	fs.StringVar(&hash, "hash", "", "content hash of the resolved item")
	fs.StringVar(&at, "at", "", "RFC 3339 timestamp (default now)")
	fs.Float64Var(&oldW, "old-weight", 0, "previous weight (weight_change)")
	fs.Float64Var(&newW, "new-weight", 0, "new weight (weight_change)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newHistoryListCmd(configFile *string) *cobra.Command {
	var (
		userID string
		since  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print a user's events as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			s, err := openHistoryFrom(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if since <= 0 {
				since = cfg.History.Lookback
			}
			now := time.Now()
			evs, err := s.Events(cmd.Context(), userID, now.Add(-since), now)
			if err != nil {
				return runtimeErr(err)
			}
			if evs == nil {
				evs = []schema.UserEvent{}
			}
			b, err := render.JSON(evs)
			if err != nil {
				return runtimeErr(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", b)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().DurationVar(&since, "since", 0, "look-back window (default history.lookback)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
