package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/nsyszr/foodblog/pkg/config"
	"github.com/spf13/cobra"
)

var (
	flagAMQPURL            string
	flagQueue              string
	flagDeadLetterExchange string
	flagTimeout            time.Duration
	flagWaitTimeout        time.Duration
	flagLogLevel           string
)

var rootCmd = &cobra.Command{
	Use:   "userctl",
	Short: "userctl resolves users through the auth service",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.SetupLogging(flagLogLevel)
	},
	SilenceUsage: true,
}

func init() {
	defaults := config.Default("")

	rootCmd.PersistentFlags().StringVarP(&flagAMQPURL, "amqp-url", "", defaults.AMQPURL, "AMQP broker URL")
	rootCmd.PersistentFlags().StringVarP(&flagQueue, "queue", "q", defaults.RPCQueue, "Queue of the auth service")
	rootCmd.PersistentFlags().StringVarP(&flagDeadLetterExchange, "dead-letter-exchange", "", defaults.DeadLetterExchange, "Dead-letter exchange the auth service declares its queue with")
	rootCmd.PersistentFlags().DurationVarP(&flagTimeout, "timeout", "t", defaults.RPCTimeout, "How long to wait for each reply")
	rootCmd.PersistentFlags().DurationVarP(&flagWaitTimeout, "wait", "", 5*time.Second, "How long to wait for the broker")
	rootCmd.PersistentFlags().StringVarP(&flagLogLevel, "log-level", "", "warn", "Log level (debug, info, warn, error)")
}

// Execute runs the userctl command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
