package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/chainflow/relay-engine/pkg/model"
)

// ExecutionQueue is the inbound command queue for swap executions.
const ExecutionQueue = "inbound.swaps.execute"

// SwapService runs execution commands pulled off the queue.
type SwapService interface {
	ExecuteSwap(ctx context.Context, cmd *model.ExecuteSwapCommand) error
}

// Consumer consumes execution commands from RabbitMQ.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	service SwapService
	logger  *zap.Logger
	done    chan struct{}
}

// NewConsumer connects to RabbitMQ and opens a channel.
func NewConsumer(url string, service SwapService, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &Consumer{
		conn:    conn,
		channel: channel,
		service: service,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Start declares the execution queue and begins consuming.
func (c *Consumer) Start(ctx context.Context) error {
	if _, err := c.channel.QueueDeclare(ExecutionQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", ExecutionQueue, err)
	}

	msgs, err := c.channel.Consume(ExecutionQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", ExecutionQueue, err)
	}

	c.logger.Info("consumer.started", zap.String("queue", ExecutionQueue))

	go c.consumeExecutions(ctx, msgs)
	return nil
}

func (c *Consumer) consumeExecutions(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("consumer.channel_closed")
				return
			}

			c.logger.Debug("consumer.command_received", zap.String("body", string(msg.Body)))

			var cmd model.ExecuteSwapCommand
			if err := json.Unmarshal(msg.Body, &cmd); err != nil {
				c.logger.Error("consumer.unmarshal_failed", zap.Error(err))
				_ = msg.Nack(false, false)
				continue
			}
			if cmd.Quote == nil || len(cmd.Quote.Steps) == 0 {
				c.logger.Error("consumer.empty_quote",
					zap.String("execution_id", cmd.ExecutionID))
				_ = msg.Nack(false, false)
				continue
			}

			if err := c.service.ExecuteSwap(ctx, &cmd); err != nil {
				c.logger.Error("consumer.execution_failed",
					zap.String("execution_id", cmd.ExecutionID),
					zap.Error(err))
				_ = msg.Nack(false, true) // Requeue on failure
				continue
			}

			_ = msg.Ack(false)
		}
	}
}

// Close stops the consumer and tears down the connection.
func (c *Consumer) Close() error {
	close(c.done)

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
