package cmd

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Manage topics",
}

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known topics",
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		result, err := c.TopicsList()
		if err != nil {
			out.Error("Failed to list topics: %v", err)
			return
		}

		if jsonOutput {
			out.JSON(result)
			return
		}

		if result.Count == 0 {
			out.Info("No topics yet")
			return
		}

		out.Header("Topics")
		out.KeyValue("Count", strconv.Itoa(result.Count))
		out.Divider()

		for _, t := range result.Topics {
			out.Info("%s", t.Name)
			out.KeyValue("Subscribers", strconv.Itoa(t.SubscriberCount))
			out.KeyValue("Events", strconv.FormatInt(t.EventCount, 10))
			if t.HasSchema {
				out.KeyValue("Schema", "yes")
			}
			if t.LastEvent != nil {
				out.KeyValue("Last Event", t.LastEvent.Format("2006-01-02 15:04:05"))
			}
			out.Divider()
		}
	},
}

var topicsRegisterSchema string

var topicsRegisterCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Register a topic, optionally with a payload schema",
	Long: `Register a topic. With --schema, published payloads must satisfy
the given JSON schema.

Examples:
  fanout topics register orders/emea/created
  fanout topics register orders/emea/created --schema ./order-schema.json`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var schema json.RawMessage
		if topicsRegisterSchema != "" {
			data, err := os.ReadFile(topicsRegisterSchema)
			if err != nil {
				out.Error("Failed to read schema file: %v", err)
				return
			}
			if !json.Valid(data) {
				out.Error("Schema file is not valid JSON")
				return
			}
			schema = data
		}

		c := getClient()
		if err := c.TopicRegister(args[0], schema); err != nil {
			out.Error("Failed to register topic: %v", err)
			return
		}

		out.Success("Topic registered")
		out.KeyValue("Name", args[0])
		if schema != nil {
			out.KeyValue("Schema", topicsRegisterSchema)
		}
	},
}

func init() {
	topicsRegisterCmd.Flags().StringVar(&topicsRegisterSchema, "schema", "", "path to a JSON schema file")

	topicsCmd.AddCommand(topicsListCmd)
	topicsCmd.AddCommand(topicsRegisterCmd)
	rootCmd.AddCommand(topicsCmd)
}
