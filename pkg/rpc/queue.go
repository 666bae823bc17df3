package rpc

import (
	"github.com/nsyszr/foodblog/pkg/messaging"
	"github.com/pkg/errors"
	"github.com/streadway/amqp"
)

// DeclareRequestQueue declares the durable request queue name. A non-empty
// dlx adds the x-dead-letter-exchange argument. Every party declaring the
// queue must pass the same dlx, otherwise the broker refuses the later
// declaration and closes the channel.
func DeclareRequestQueue(ch messaging.Channel, name, dlx string) error {
	var args amqp.Table
	if dlx != "" {
		args = amqp.Table{"x-dead-letter-exchange": dlx}
	}

	if _, err := ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		args,  // arguments
	); err != nil {
		return errors.Wrapf(err, "failed to declare queue %s", name)
	}
	return nil
}
