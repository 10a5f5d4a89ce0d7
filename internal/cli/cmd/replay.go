package cmd

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fanoutsh/fanout/pkg/client"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay stored events",
	Long:  `Start, inspect, and cancel replays of stored events through live subscriptions.`,
}

var (
	replayStartFrom  string
	replayStartTo    string
	replayStartTopic string
	replayStartSubs  []string
	replayStartSpeed float64
)

var replayStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a replay over a time range",
	Long: `Replay stored events from a time range through matching subscriptions.
--from and --to accept RFC3339 timestamps or relative durations.

Replayed events keep their original IDs and carry a replay marker so
consumers can tell them apart from live traffic.

Examples:
  fanout replay start --from 1h --to 0s
  fanout replay start --from 2026-08-01T00:00:00Z --to 2026-08-02T00:00:00Z --topic "orders/#"
  fanout replay start --from 24h --to 0s --subscription sub_abc --speed 10`,
	Run: func(cmd *cobra.Command, args []string) {
		from, ok := parseTimeOrAgo(replayStartFrom)
		if !ok {
			out.Error("--from must be an RFC3339 timestamp or a duration (e.g. 1h)")
			return
		}
		to, ok := parseTimeOrAgo(replayStartTo)
		if !ok {
			out.Error("--to must be an RFC3339 timestamp or a duration (e.g. 0s)")
			return
		}

		req := client.ReplayRequest{
			From:            from,
			To:              to,
			Topic:           replayStartTopic,
			SubscriptionIDs: replayStartSubs,
			Speed:           replayStartSpeed,
		}

		c := getClient()
		info, err := c.ReplayStart(req)
		if err != nil {
			out.Error("Failed to start replay: %v", err)
			return
		}

		if jsonOutput {
			out.JSON(info)
			return
		}

		out.Success("Replay started")
		out.KeyValue("ID", info.ID)
		out.KeyValue("Range", info.From.Format(time.RFC3339)+" .. "+info.To.Format(time.RFC3339))
		out.KeyValue("Speed", strconv.FormatFloat(info.Speed, 'g', -1, 64)+"x")
		out.KeyValue("Events", strconv.FormatInt(info.EventsToReplay, 10))
		out.KeyValue("Estimated", (time.Duration(info.EstimatedMS) * time.Millisecond).String())
	},
}

var replayListCmd = &cobra.Command{
	Use:   "list",
	Short: "List replay runs",
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		result, err := c.ReplaysList()
		if err != nil {
			out.Error("Failed to list replays: %v", err)
			return
		}

		if jsonOutput {
			out.JSON(result)
			return
		}

		if result.Count == 0 {
			out.Info("No replays")
			return
		}

		out.Header("Replays")
		out.Divider()
		for _, info := range result.Replays {
			out.Info("%s  [%s]", info.ID, info.State)
			out.KeyValue("Range", info.From.Format(time.RFC3339)+" .. "+info.To.Format(time.RFC3339))
			out.KeyValue("Events", strconv.FormatInt(info.EventsReplayed, 10))
			if info.Error != "" {
				out.KeyValue("Error", info.Error)
			}
			out.Divider()
		}
	},
}

var replayStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show the state of one replay",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		info, err := c.ReplayGet(args[0])
		if err != nil {
			out.Error("Failed to get replay: %v", err)
			return
		}

		if jsonOutput {
			out.JSON(info)
			return
		}

		out.Header("Replay " + info.ID)
		out.KeyValue("State", info.State)
		out.KeyValue("Range", info.From.Format(time.RFC3339)+" .. "+info.To.Format(time.RFC3339))
		out.KeyValue("Speed", strconv.FormatFloat(info.Speed, 'g', -1, 64)+"x")
		out.KeyValue("Events Replayed", strconv.FormatInt(info.EventsReplayed, 10))
		out.KeyValue("Started", info.StartedAt.Format("2006-01-02 15:04:05"))
		if info.FinishedAt != nil {
			out.KeyValue("Finished", info.FinishedAt.Format("2006-01-02 15:04:05"))
		}
		if info.Error != "" {
			out.KeyValue("Error", info.Error)
		}
	},
}

var replayCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a running replay",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		if err := c.ReplayCancel(args[0]); err != nil {
			out.Error("Failed to cancel replay: %v", err)
			return
		}
		out.Success("Replay cancelling")
	},
}

// parseTimeOrAgo accepts an RFC3339 timestamp or a duration meaning
// "that long ago".
func parseTimeOrAgo(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().Add(-d), true
	}
	return time.Time{}, false
}

func init() {
	replayStartCmd.Flags().StringVar(&replayStartFrom, "from", "", "start of range, RFC3339 or duration ago (required)")
	replayStartCmd.Flags().StringVar(&replayStartTo, "to", "", "end of range, RFC3339 or duration ago (required)")
	replayStartCmd.Flags().StringVar(&replayStartTopic, "topic", "", "narrow the replay to a topic pattern")
	replayStartCmd.Flags().StringSliceVar(&replayStartSubs, "subscription", nil, "target specific subscription IDs")
	replayStartCmd.Flags().Float64Var(&replayStartSpeed, "speed", 0, "speed multiplier, 0.1 to 100 (default 1)")
	replayStartCmd.MarkFlagRequired("from")
	replayStartCmd.MarkFlagRequired("to")

	replayCmd.AddCommand(replayStartCmd)
	replayCmd.AddCommand(replayListCmd)
	replayCmd.AddCommand(replayStatusCmd)
	replayCmd.AddCommand(replayCancelCmd)
	rootCmd.AddCommand(replayCmd)
}
