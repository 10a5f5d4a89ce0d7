package cmd

import (
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	Long:  `Check the health and readiness of the fanout server.`,
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()

		health, err := c.Health()
		if err != nil {
			if jsonOutput {
				out.JSON(map[string]any{
					"status": "error",
					"error":  err.Error(),
				})
			} else {
				out.Error("Server unreachable: %v", err)
			}
			return
		}

		ready := "yes"
		if err := c.Ready(); err != nil {
			ready = "no: " + err.Error()
		}

		if jsonOutput {
			out.JSON(map[string]any{
				"status": health.Status,
				"ready":  ready,
			})
			return
		}

		out.Success("Server is healthy")
		out.KeyValue("Status", health.Status)
		out.KeyValue("Ready", ready)
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
