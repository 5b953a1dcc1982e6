// README: RabbitMQ connection and ride_topic exchange declaration.
package infra

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Rabbit struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
}

// NewRabbit dials the broker and declares the durable topic exchange ride updates go to.
func NewRabbit(url, exchange string) (*Rabbit, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare %s exchange: %w", exchange, err)
	}
	return &Rabbit{Conn: conn, Channel: ch}, nil
}

func (r *Rabbit) Close() error {
	if err := r.Channel.Close(); err != nil {
		r.Conn.Close()
		return err
	}
	return r.Conn.Close()
}
