package cmd

import (
	"strconv"

	"github.com/spf13/cobra"
)

var statsTop int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show broker statistics",
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		stats, err := c.Stats(statsTop)
		if err != nil {
			out.Error("Failed to get stats: %v", err)
			return
		}

		if jsonOutput {
			out.JSON(stats)
			return
		}

		out.Header("Broker Statistics")
		out.KeyValue("Published", strconv.FormatInt(stats.PublishedTotal, 10))
		out.KeyValue("Delivered", strconv.FormatInt(stats.Delivered, 10))
		out.KeyValue("Failed", strconv.FormatInt(stats.Failed, 10))
		out.KeyValue("Retries", strconv.FormatInt(stats.Retries, 10))
		out.KeyValue("Dead Letters", strconv.FormatInt(stats.DeadLetters, 10))
		out.KeyValue("Active Subscriptions", strconv.FormatInt(stats.ActiveSubscriptions, 10))
		out.KeyValue("Pending Retries", strconv.Itoa(stats.PendingRetries))
		out.KeyValue("Latency p50", strconv.FormatInt(stats.LatencyP50MS, 10)+"ms")
		out.KeyValue("Latency p95", strconv.FormatInt(stats.LatencyP95MS, 10)+"ms")
		out.KeyValue("Latency p99", strconv.FormatInt(stats.LatencyP99MS, 10)+"ms")

		if len(stats.TopTopics) > 0 {
			out.Divider()
			out.Header("Top Topics")
			for _, topic := range stats.TopTopics {
				out.KeyValue(topic, strconv.FormatInt(stats.PerTopic[topic], 10))
			}
		}
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsTop, "top", 0, "number of top topics to show")
	rootCmd.AddCommand(statsCmd)
}
