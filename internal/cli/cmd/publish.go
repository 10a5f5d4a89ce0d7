package cmd

import (
	"bufio"
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fanoutsh/fanout/pkg/client"
)

var (
	publishType     string
	publishSource   string
	publishPriority string
	publishMeta     string
)

var publishCmd = &cobra.Command{
	Use:   "publish <topic> [payload]",
	Short: "Publish an event to a topic",
	Long: `Publish an event to a topic. The payload can be provided as an argument or via stdin.

Examples:
  fanout publish orders/emea/created --type order.created --source checkout '{"order_id": 123}'
  echo '{"order_id": 123}' | fanout publish orders/emea/created --type order.created --source checkout
  fanout publish alerts/sev1 --type alert.fired --source monitor --priority critical '{"check": "disk"}'`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		topic := args[0]

		// Get payload from arg or stdin
		var payload string
		if len(args) > 1 {
			payload = args[1]
		} else {
			stat, _ := os.Stdin.Stat()
			if (stat.Mode() & os.ModeCharDevice) == 0 {
				scanner := bufio.NewScanner(os.Stdin)
				var lines []string
				for scanner.Scan() {
					lines = append(lines, scanner.Text())
				}
				payload = strings.Join(lines, "\n")
			}
		}

		if payload == "" {
			out.Error("No payload provided. Pass as argument or pipe via stdin.")
			return
		}
		if !json.Valid([]byte(payload)) {
			out.Error("Invalid JSON payload")
			return
		}

		req := client.PublishRequest{
			Type:     publishType,
			Source:   publishSource,
			Topic:    topic,
			Priority: publishPriority,
			Payload:  json.RawMessage(payload),
		}
		if publishMeta != "" {
			if !json.Valid([]byte(publishMeta)) {
				out.Error("Invalid JSON metadata")
				return
			}
			req.Metadata = json.RawMessage(publishMeta)
		}

		c := getClient()
		resp, err := c.Publish(req)
		if err != nil {
			if jsonOutput {
				out.JSON(map[string]any{"error": err.Error()})
			} else {
				out.Error("Failed to publish: %v", err)
			}
			return
		}

		if jsonOutput {
			out.JSON(resp)
			return
		}

		out.Success("Event published")
		out.KeyValue("ID", resp.EventID)
		out.KeyValue("Topic", topic)
		out.KeyValue("Matched", strconv.Itoa(resp.Matched))
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishType, "type", "", "event type (required)")
	publishCmd.Flags().StringVar(&publishSource, "source", "", "event source (required)")
	publishCmd.Flags().StringVar(&publishPriority, "priority", "", "priority: low, normal, high, critical")
	publishCmd.Flags().StringVar(&publishMeta, "metadata", "", "metadata as JSON")
	publishCmd.MarkFlagRequired("type")
	publishCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(publishCmd)
}
