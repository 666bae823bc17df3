package cmd

import (
	"fmt"
	"os"

	"github.com/nsyszr/foodblog/pkg/config"
	"github.com/nsyszr/foodblog/pkg/service"
	"github.com/spf13/cobra"
)

var (
	cfg            = config.Default("db/migrations/subscriptions")
	flagConfigFile string
)

var rootCmd = &cobra.Command{
	Use:   "subscription-service",
	Short: "Subscription service resolving users over AMQP",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cfg.Load(cmd.Flags(), flagConfigFile)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfigFile, "config", "c", "", "YAML config file")
	cfg.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(service.NewMigrateCommand("subscriptions", cfg))
}

// Execute runs the subscription-service command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
