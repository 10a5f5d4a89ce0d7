package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fanoutsh/fanout/internal/cli/config"
)

var authCmd = &cobra.Command{
	Use:   "auth <token>",
	Short: "Authenticate with a caller token",
	Long:  `Save your caller token to the config file for future requests.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg.Token = args[0]
		if serverURL != "" {
			cfg.Server = serverURL
		}

		if err := config.Save(cfg, cfgFile); err != nil {
			out.Error("Failed to save config: %v", err)
			return
		}

		out.Success("Token saved")
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
}
