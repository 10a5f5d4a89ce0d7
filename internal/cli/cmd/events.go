package cmd

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fanoutsh/fanout/pkg/client"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Query stored events",
	Long:  `List stored events with optional filters.`,
}

var (
	eventsListTopic  string
	eventsListType   string
	eventsListSource string
	eventsListSince  string
	eventsListUntil  string
	eventsListLimit  int
	eventsListOffset int
)

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored events",
	Long: `List stored events with optional filters.

--since and --until accept RFC3339 timestamps or relative durations.

Examples:
  fanout events list
  fanout events list --topic orders/emea/created
  fanout events list --type order.created --since 1h
  fanout events list --since 2026-08-01T00:00:00Z --limit 50`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := client.EventsQueryOptions{
			Topic:  eventsListTopic,
			Type:   eventsListType,
			Source: eventsListSource,
			Limit:  eventsListLimit,
			Offset: eventsListOffset,
		}

		if eventsListSince != "" {
			if t, err := time.Parse(time.RFC3339, eventsListSince); err == nil {
				opts.Since = t
			} else if d, err := time.ParseDuration(eventsListSince); err == nil {
				opts.Since = time.Now().Add(-d)
			}
		}
		if eventsListUntil != "" {
			if t, err := time.Parse(time.RFC3339, eventsListUntil); err == nil {
				opts.Until = t
			} else if d, err := time.ParseDuration(eventsListUntil); err == nil {
				opts.Until = time.Now().Add(-d)
			}
		}

		c := getClient()
		result, err := c.EventsList(opts)
		if err != nil {
			out.Error("Failed to list events: %v", err)
			return
		}

		if jsonOutput {
			out.JSON(result)
			return
		}

		if result.Count == 0 {
			out.Info("No events found")
			return
		}

		out.Header("Events")
		out.KeyValue("Count", strconv.Itoa(result.Count))
		out.KeyValue("Total", strconv.Itoa(result.Total))
		out.Divider()

		for _, e := range result.Events {
			out.Event(e.ID, e.Topic, e.Payload, e.Timestamp)
		}
	},
}

func init() {
	eventsListCmd.Flags().StringVar(&eventsListTopic, "topic", "", "filter by exact topic")
	eventsListCmd.Flags().StringVar(&eventsListType, "type", "", "filter by event type")
	eventsListCmd.Flags().StringVar(&eventsListSource, "source", "", "filter by source")
	eventsListCmd.Flags().StringVar(&eventsListSince, "since", "", "RFC3339 timestamp or duration ago (e.g. 1h)")
	eventsListCmd.Flags().StringVar(&eventsListUntil, "until", "", "RFC3339 timestamp or duration ago")
	eventsListCmd.Flags().IntVar(&eventsListLimit, "limit", 0, "max events to return")
	eventsListCmd.Flags().IntVar(&eventsListOffset, "offset", 0, "skip this many events")

	eventsCmd.AddCommand(eventsListCmd)
	rootCmd.AddCommand(eventsCmd)
}
