// README: Publishes ride updates to the ride_topic exchange.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const RideTopicExchange = "ride_topic"

// Publisher is the subset of *amqp.Channel the sink needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type RabbitSink struct {
	pub      Publisher
	exchange string
}

func NewRabbitSink(pub Publisher) *RabbitSink {
	return &RabbitSink{pub: pub, exchange: RideTopicExchange}
}

// RoutingKey returns ride.update.<kind>.<rideID>.
func RoutingKey(u Update) string {
	return fmt.Sprintf("ride.update.%s.%s", u.Kind, u.RideID)
}

func (s *RabbitSink) Send(ctx context.Context, u Update) error {
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal ride update: %w", err)
	}
	err = s.pub.PublishWithContext(
		ctx,
		s.exchange,    // exchange
		RoutingKey(u), // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    u.Timestamp,
		},
	)
	if err != nil {
		return fmt.Errorf("publish ride update: %w", err)
	}
	return nil
}
