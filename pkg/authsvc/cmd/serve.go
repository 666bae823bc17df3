package cmd

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/mux"
	"github.com/nsyszr/foodblog/pkg/messaging"
	"github.com/nsyszr/foodblog/pkg/messaging/amqp"
	"github.com/nsyszr/foodblog/pkg/rpc"
	"github.com/nsyszr/foodblog/pkg/service"
	"github.com/nsyszr/foodblog/pkg/stats"
	"github.com/nsyszr/foodblog/pkg/users"
	"github.com/ory/herodot"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the users API and the getUser responder",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.SetupLogging()
		log.Info("Starting auth service...")

		log.WithFields(log.Fields{"databaseUrl": cfg.DatabaseURL, "port": cfg.Port,
			"queue": cfg.RPCQueue, "prefetch": cfg.Prefetch}).
			Debug("Application settings")

		ctx, stop := service.SignalContext()
		defer stop()
		ctx, fail := context.WithCancel(ctx)
		defer fail()
		failed := make(chan error, 1)

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

		manager := users.NewSQLManager(db)

		broker := amqp.NewBroker(cfg.AMQPURL, amqp.WithWaitTimeout(cfg.BrokerWaitTimeout))
		defer broker.Close()

		responder := rpc.NewResponder(broker,
			rpc.WithQueue(cfg.RPCQueue),
			rpc.WithPrefetch(cfg.Prefetch),
			rpc.WithDeadLetterExchange(cfg.DeadLetterExchange),
			rpc.WithRequeueDelay(cfg.RequeueDelay),
			rpc.WithResponderRecorder(recorder))
		users.Register(responder, manager)

		// Every (re)connect starts a fresh consumer on the new channel.
		broker.OnReady(func(messaging.Channel) {
			go serveResponder(ctx, responder, fail, failed)
		})
		if err := broker.Connect(ctx); err != nil {
			return err
		}

		r := mux.NewRouter()
		hw := herodot.NewJSONWriter(log.StandardLogger())
		users.NewHandler(manager, hw).RegisterRoutes(r)
		if collector != nil {
			stats.NewHandler(collector, hw).RegisterRoutes(r)
		}

		log.Info("Auth service started")
		if err := service.ListenAndServe(ctx, cfg.Port, r); err != nil {
			return err
		}
		select {
		case err := <-failed:
			return errors.Wrap(err, "responder failed")
		default:
		}
		log.Info("Auth service stopped")
		return nil
	},
}

// serveResponder runs the responder on the current channel. A failure that
// outlasts the retries stops the whole service.
func serveResponder(ctx context.Context, responder *rpc.Responder, fail context.CancelFunc, failed chan<- error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = time.Minute

	err := responder.Run(ctx, bo)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, messaging.ErrTransportLost), errors.Is(err, messaging.ErrNotConnected):
		log.Warn("Responder interrupted, waiting for reconnect: ", err)
	default:
		log.Error("Responder failed, stopping service: ", err)
		select {
		case failed <- err:
		default:
		}
		fail()
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
