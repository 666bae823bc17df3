package cmd

import (
	"github.com/gorilla/mux"
	"github.com/nsyszr/foodblog/pkg/messaging"
	"github.com/nsyszr/foodblog/pkg/messaging/amqp"
	"github.com/nsyszr/foodblog/pkg/rpc"
	"github.com/nsyszr/foodblog/pkg/service"
	"github.com/nsyszr/foodblog/pkg/stats"
	"github.com/nsyszr/foodblog/pkg/subscriptions"
	"github.com/nsyszr/foodblog/pkg/users"
	"github.com/ory/herodot"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the subscriptions API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.SetupLogging()
		log.Info("Starting subscription service...")

		log.WithFields(log.Fields{"databaseUrl": cfg.DatabaseURL, "port": cfg.Port,
			"queue": cfg.RPCQueue, "rpcTimeout": cfg.RPCTimeout}).
			Debug("Application settings")

		ctx, stop := service.SignalContext()
		defer stop()

		db, err := service.OpenDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		recorder, collector, closeRecorder, err := service.NewRecorder(cfg)
		if err != nil {
			return err
		}
		defer closeRecorder()

		broker := amqp.NewBroker(cfg.AMQPURL, amqp.WithWaitTimeout(cfg.BrokerWaitTimeout))
		defer broker.Close()

		caller := rpc.NewCaller(broker,
			rpc.WithTargetQueue(cfg.RPCQueue),
			rpc.WithRequestQueueDeclare(cfg.DeadLetterExchange),
			rpc.WithCallerRecorder(recorder))

		// Calls made before the auth service is up wait in the queue.
		broker.OnReady(func(ch messaging.Channel) {
			if err := caller.DeclareQueue(ch); err != nil {
				log.Warn("Failed to declare request queue: ", err)
			}
		})

		// In-flight calls cannot get their reply over a dead connection.
		broker.OnLost(func(err error) {
			caller.FailPending(err)
		})
		if err := broker.Connect(ctx); err != nil {
			return err
		}

		resolver := users.NewResolver(caller, users.WithResolveTimeout(cfg.RPCTimeout))

		r := mux.NewRouter()
		hw := herodot.NewJSONWriter(log.StandardLogger())
		subscriptions.NewHandler(subscriptions.NewSQLManager(db), resolver, hw).RegisterRoutes(r)
		if collector != nil {
			stats.NewHandler(collector, hw).RegisterRoutes(r)
		}

		log.Info("Subscription service started")
		if err := service.ListenAndServe(ctx, cfg.Port, r); err != nil {
			return err
		}
		log.Info("Subscription service stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
