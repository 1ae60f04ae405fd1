package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/hookd/internal/database"
	"github.com/watzon/hookd/internal/events"
	"github.com/watzon/hookd/internal/source"
)

func newEventsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and update stored webhook events",
	}

	cmd.AddCommand(
		newEventsGetCmd(root),
		newEventsStatsCmd(root),
		newEventsMarkCmd(root),
	)

	return cmd
}

func newEventsGetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <source> <eventKey>",
		Short: "Print a stored event as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(root, func(store *events.Store) error {
				ev, found, err := store.FindBySourceAndEventKey(cmd.Context(), source.Normalize(args[0]), args[1])
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("event %s/%s: %w", args[0], args[1], events.ErrNotFound)
				}
				return printJSON(cmd, ev)
			})
		},
	}
}

func newEventsStatsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count stored events by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(root, func(store *events.Store) error {
				counts, err := store.CountByStatus(cmd.Context())
				if err != nil {
					return err
				}
				for _, status := range events.Statuses() {
					fmt.Fprintf(cmd.OutOrStdout(), "%-10s %d\n", status, counts[status])
				}
				return nil
			})
		},
	}
}

func newEventsMarkCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mark <id> <processed|failed>",
		Short: "Move a received event to a terminal status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, status := args[0], events.Status(args[1])

			return withStore(root, func(store *events.Store) error {
				var (
					ev  events.WebhookEvent
					err error
				)
				now := time.Now()
				switch status {
				case events.StatusProcessed:
					ev, err = store.MarkProcessed(cmd.Context(), id, now)
				case events.StatusFailed:
					ev, err = store.MarkFailed(cmd.Context(), id, now)
				default:
					return fmt.Errorf("status must be %q or %q", events.StatusProcessed, events.StatusFailed)
				}
				if errors.Is(err, events.ErrInvalidTransition) {
					return fmt.Errorf("event %s is not in status %q: %w", id, events.StatusReceived, err)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd, ev)
			})
		},
	}
}

func withStore(root *rootOptions, fn func(*events.Store) error) error {
	db, err := database.Open(&root.cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	return fn(events.NewStore(db))
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
