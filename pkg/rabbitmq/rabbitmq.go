package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeadLetterQueue returns the name of the queue that receives rejected
// messages of queue.
func DeadLetterQueue(queue string) string { return queue + ".dlq" }

func deadLetterExchange(queue string) string { return queue + ".dlx" }

// Client publishes to and consumes from one durable queue. Messages that are
// nacked without requeue are routed to the queue's dead-letter queue.
type Client struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewClient(url, queueName string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := declareTopology(ch, queueName); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Client{conn: conn, ch: ch, queue: queueName}, nil
}

// declareTopology 声明死信交换机、死信队列与主队列
func declareTopology(ch *amqp.Channel, queue string) error {
	dlx := deadLetterExchange(queue)
	dlq := DeadLetterQueue(queue)

	if err := ch.ExchangeDeclare(dlx, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx: %w", err)
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlq: %w", err)
	}
	// routing key is the main queue name
	if err := ch.QueueBind(dlq, queue, dlx, false, nil); err != nil {
		return fmt.Errorf("failed to bind dlq: %w", err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": queue,
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare a queue: %w", err)
	}
	return nil
}

// Queue returns the main queue name.
func (c *Client) Queue() string { return c.queue }

func (c *Client) Publish(ctx context.Context, body []byte) error {
	return c.ch.PublishWithContext(ctx,
		"",      // exchange
		c.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
}

// Consume starts a manual-ack consumer. prefetchCount bounds the number of
// unacknowledged deliveries on this channel.
func (c *Client) Consume(prefetchCount int) (<-chan amqp.Delivery, error) {
	if err := c.ch.Qos(prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	return c.ch.Consume(
		c.queue, // queue
		"",      // consumer
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
}

func (c *Client) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
