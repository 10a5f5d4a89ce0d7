package cmd

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Manage the dead letter queue",
	Long:  `View, redrive, and delete events that exhausted their delivery attempts.`,
}

var (
	dlqListSubscription string
	dlqListLimit        int
)

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-letter entries",
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		result, err := c.DLQList(dlqListSubscription, dlqListLimit)
		if err != nil {
			out.Error("Failed to list DLQ: %v", err)
			return
		}

		if jsonOutput {
			out.JSON(result)
			return
		}

		if result.Count == 0 {
			out.Info("No entries in DLQ")
			return
		}

		out.Header("Dead Letter Queue")
		out.KeyValue("Count", strconv.Itoa(result.Count))
		out.Divider()

		for _, entry := range result.Entries {
			out.Info("ID: %s", entry.ID)
			out.KeyValue("Event", entry.Event.ID)
			out.KeyValue("Topic", entry.Event.Topic)
			out.KeyValue("Subscription", entry.SubscriptionID)
			out.KeyValue("Attempts", strconv.Itoa(len(entry.Attempts)))
			out.KeyValue("Failed At", entry.FailedAt.Format("2006-01-02 15:04:05"))
			if entry.LastError != "" {
				out.KeyValue("Error", entry.LastError)
			}
			out.Divider()
		}
	},
}

var dlqGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one dead-letter entry",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		entry, err := c.DLQGet(args[0])
		if err != nil {
			out.Error("Failed to get DLQ entry: %v", err)
			return
		}

		if jsonOutput {
			out.JSON(entry)
			return
		}

		out.Header("Dead Letter " + entry.ID)
		out.KeyValue("Event", entry.Event.ID)
		out.KeyValue("Topic", entry.Event.Topic)
		out.KeyValue("Subscription", entry.SubscriptionID)
		out.KeyValue("Failed At", entry.FailedAt.Format("2006-01-02 15:04:05"))
		if entry.LastError != "" {
			out.KeyValue("Error", entry.LastError)
		}
		out.Divider()
		for _, a := range entry.Attempts {
			out.Info("Attempt %d: %s (%dms)", a.Attempt, a.Outcome, a.LatencyMS)
			if a.Error != "" {
				out.KeyValue("Error", a.Error)
			}
		}
	},
}

var dlqRedriveCmd = &cobra.Command{
	Use:   "redrive <id>",
	Short: "Re-queue a dead-letter entry for delivery",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		if err := c.DLQRedrive(args[0]); err != nil {
			out.Error("Failed to redrive: %v", err)
			return
		}
		out.Success("Entry requeued")
	},
}

var dlqRedriveAllSubscription string

var dlqRedriveAllCmd = &cobra.Command{
	Use:   "redrive-all",
	Short: "Re-queue every dead-letter entry for a subscription",
	Run: func(cmd *cobra.Command, args []string) {
		if dlqRedriveAllSubscription == "" {
			out.Error("--subscription is required")
			return
		}
		c := getClient()
		n, err := c.DLQRedriveAll(dlqRedriveAllSubscription)
		if err != nil {
			out.Error("Failed to redrive: %v", err)
			return
		}
		out.Success("Requeued %d entries", n)
	},
}

var dlqDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a dead-letter entry",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		if err := c.DLQDelete(args[0]); err != nil {
			out.Error("Failed to delete: %v", err)
			return
		}
		out.Success("Entry deleted")
	},
}

var dlqPurgeOlderThan time.Duration

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete entries older than a cutoff",
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		n, err := c.DLQPurge(dlqPurgeOlderThan)
		if err != nil {
			out.Error("Failed to purge: %v", err)
			return
		}
		out.Success("Purged %d entries", n)
	},
}

func init() {
	dlqListCmd.Flags().StringVar(&dlqListSubscription, "subscription", "", "filter by subscription ID")
	dlqListCmd.Flags().IntVar(&dlqListLimit, "limit", 0, "max entries to return")
	dlqRedriveAllCmd.Flags().StringVar(&dlqRedriveAllSubscription, "subscription", "", "subscription ID (required)")
	dlqPurgeCmd.Flags().DurationVar(&dlqPurgeOlderThan, "older-than", 0, "purge entries older than this (default server retention)")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqGetCmd)
	dlqCmd.AddCommand(dlqRedriveCmd)
	dlqCmd.AddCommand(dlqRedriveAllCmd)
	dlqCmd.AddCommand(dlqDeleteCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)
	rootCmd.AddCommand(dlqCmd)
}
