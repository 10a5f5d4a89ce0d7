package cmd

import (
	"encoding/json"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fanoutsh/fanout/pkg/client"
)

var subsCmd = &cobra.Command{
	Use:     "subscriptions",
	Aliases: []string{"subs"},
	Short:   "Manage subscriptions",
}

var (
	subsCreateEndpoint string
	subsCreateConnType string
	subsCreateFilter   string
	subsCreateOptions  string
	subsCreateDesc     string
)

var subsCreateCmd = &cobra.Command{
	Use:   "create <pattern>",
	Short: "Create a subscription",
	Long: `Create a subscription on a topic pattern. Patterns use / separators,
* for one segment, and a trailing # for one or more segments.

Examples:
  fanout subs create "orders/*/created" --type webhook --endpoint https://example.com/hook
  fanout subs create "orders/#" --type websocket
  fanout subs create "alerts/sev1" --type webhook --endpoint https://example.com/hook \
    --filter '{"min_priority": "high"}' \
    --options '{"retry": {"max_retries": 5, "backoff": "exponential"}}'`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req := client.CreateSubscriptionRequest{
			Topic:          args[0],
			Endpoint:       subsCreateEndpoint,
			ConnectionType: subsCreateConnType,
			Description:    subsCreateDesc,
		}
		if subsCreateFilter != "" {
			if !json.Valid([]byte(subsCreateFilter)) {
				out.Error("Invalid JSON filter")
				return
			}
			req.Filter = json.RawMessage(subsCreateFilter)
		}
		if subsCreateOptions != "" {
			if !json.Valid([]byte(subsCreateOptions)) {
				out.Error("Invalid JSON options")
				return
			}
			req.Options = json.RawMessage(subsCreateOptions)
		}

		c := getClient()
		sub, err := c.SubscriptionCreate(req)
		if err != nil {
			out.Error("Failed to create subscription: %v", err)
			return
		}

		if jsonOutput {
			out.JSON(sub)
			return
		}

		out.Success("Subscription created")
		out.KeyValue("ID", sub.ID)
		out.KeyValue("Pattern", sub.Topic)
		out.KeyValue("Type", sub.ConnectionType)
		if sub.Endpoint != "" {
			out.KeyValue("Endpoint", sub.Endpoint)
		}
	},
}

var subsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your subscriptions",
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		result, err := c.SubscriptionsList()
		if err != nil {
			out.Error("Failed to list subscriptions: %v", err)
			return
		}

		if jsonOutput {
			out.JSON(result)
			return
		}

		if result.Count == 0 {
			out.Info("No subscriptions")
			return
		}

		out.Header("Subscriptions")
		out.KeyValue("Count", strconv.Itoa(result.Count))
		out.Divider()

		for _, sub := range result.Subscriptions {
			out.Info("%s  [%s]", sub.ID, sub.Status)
			out.KeyValue("Pattern", sub.Topic)
			out.KeyValue("Type", sub.ConnectionType)
			out.KeyValue("Delivered", strconv.FormatInt(sub.Stats.Delivered, 10))
			if sub.Stats.Failed > 0 {
				out.KeyValue("Failed", strconv.FormatInt(sub.Stats.Failed, 10))
			}
			if sub.Stats.LastError != "" {
				out.KeyValue("Last Error", sub.Stats.LastError)
			}
			out.Divider()
		}
	},
}

var subsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one subscription",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		sub, err := c.SubscriptionGet(args[0])
		if err != nil {
			out.Error("Failed to get subscription: %v", err)
			return
		}

		if jsonOutput {
			out.JSON(sub)
			return
		}

		out.Header("Subscription " + sub.ID)
		out.KeyValue("Pattern", sub.Topic)
		out.KeyValue("Type", sub.ConnectionType)
		out.KeyValue("Status", sub.Status)
		if sub.Endpoint != "" {
			out.KeyValue("Endpoint", sub.Endpoint)
		}
		out.KeyValue("Queue Depth", strconv.Itoa(sub.QueueDepth))
		out.KeyValue("Delivered", strconv.FormatInt(sub.Stats.Delivered, 10))
		out.KeyValue("Failed", strconv.FormatInt(sub.Stats.Failed, 10))
		out.KeyValue("Retried", strconv.FormatInt(sub.Stats.Retried, 10))
		out.KeyValue("Dead Letter", strconv.FormatInt(sub.Stats.DeadLetter, 10))
		out.KeyValue("Created", sub.CreatedAt.Format("2006-01-02 15:04:05"))
	},
}

var subsCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a subscription",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		if err := c.SubscriptionCancel(args[0]); err != nil {
			out.Error("Failed to cancel: %v", err)
			return
		}
		out.Success("Subscription cancelled")
	},
}

var subsPauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause delivery for a subscription",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		if err := c.SubscriptionPause(args[0]); err != nil {
			out.Error("Failed to pause: %v", err)
			return
		}
		out.Success("Subscription paused")
	},
}

var subsResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused or errored subscription",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		if err := c.SubscriptionResume(args[0]); err != nil {
			out.Error("Failed to resume: %v", err)
			return
		}
		out.Success("Subscription resumed")
	},
}

func init() {
	subsCreateCmd.Flags().StringVar(&subsCreateConnType, "type", "webhook", "connection type: webhook, websocket, direct")
	subsCreateCmd.Flags().StringVar(&subsCreateEndpoint, "endpoint", "", "webhook endpoint URL")
	subsCreateCmd.Flags().StringVar(&subsCreateFilter, "filter", "", "filter as JSON")
	subsCreateCmd.Flags().StringVar(&subsCreateOptions, "options", "", "delivery options as JSON")
	subsCreateCmd.Flags().StringVar(&subsCreateDesc, "description", "", "free-form description")

	subsCmd.AddCommand(subsCreateCmd)
	subsCmd.AddCommand(subsListCmd)
	subsCmd.AddCommand(subsGetCmd)
	subsCmd.AddCommand(subsCancelCmd)
	subsCmd.AddCommand(subsPauseCmd)
	subsCmd.AddCommand(subsResumeCmd)
	rootCmd.AddCommand(subsCmd)
}
