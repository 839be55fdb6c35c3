package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	alarmapp "frostguard/internal/alarms/application"
	"frostguard/internal/eventing"
	"frostguard/internal/observability/metrics"
	telemetry "frostguard/internal/telemetry/domain"
	"frostguard/internal/telemetry/interfaces/ingest"

	"go.uber.org/zap"
)

// DefaultReadingsTopic matches frostguard/readings/<org>/<unit>.
const DefaultReadingsTopic = "frostguard/readings/#"

const consumerName = "alarm-engine"

// ReadingEvaluator evaluates one reading.
type ReadingEvaluator interface {
	Evaluate(ctx context.Context, reading telemetry.Reading) (alarmapp.Summary, error)
}

// Subscriber registers topic handlers.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

// Consumer feeds readings received over MQTT into the engine.
type Consumer struct {
	engine    ReadingEvaluator
	processed eventing.ProcessedStore
	topic     string
	timeout   time.Duration
	logger    *zap.Logger
}

// ConsumerOption configures the consumer.
type ConsumerOption func(*Consumer)

// WithProcessedStore drops redelivered readings.
func WithProcessedStore(store eventing.ProcessedStore) ConsumerOption {
	return func(c *Consumer) {
		c.processed = store
	}
}

// WithTopic overrides DefaultReadingsTopic.
func WithTopic(topic string) ConsumerOption {
	return func(c *Consumer) {
		if topic != "" {
			c.topic = topic
		}
	}
}

// WithHandleTimeout bounds one evaluation.
func WithHandleTimeout(timeout time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(logger *zap.Logger) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConsumer constructs a Consumer.
func NewConsumer(engine ReadingEvaluator, opts ...ConsumerOption) (*Consumer, error) {
	if engine == nil {
		return nil, errors.New("mqtt consumer: nil engine")
	}
	c := &Consumer{
		engine:  engine,
		topic:   DefaultReadingsTopic,
		timeout: 10 * time.Second,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start subscribes to the readings topic.
func (c *Consumer) Start(sub Subscriber) error {
	if sub == nil {
		return errors.New("mqtt consumer: nil subscriber")
	}
	return sub.Subscribe(c.topic, 1, c.HandleMessage)
}

// HandleMessage decodes and evaluates one message.
func (c *Consumer) HandleMessage(topic string, payload []byte) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	reading, messageID, ctx, err := c.decode(ctx, topic, payload)
	if err != nil {
		metrics.IncIngestError("decode")
		metrics.ObserveIngest("mqtt", metrics.ResultError, time.Since(start))
		return err
	}

	handler := eventing.WrapHandler(consumerName, func(ctx context.Context, _ string, _ []byte) error {
		summary, err := c.engine.Evaluate(ctx, reading)
		if err != nil {
			return err
		}
		c.logger.Debug("reading evaluated",
			zap.String("unit_id", reading.UnitID),
			zap.String("reading_id", reading.ReadingID),
			zap.Int("evaluated", summary.Evaluated),
			zap.Int("fired", summary.Fired))
		return nil
	}, c.processed)

	if err := handler(ctx, messageID, payload); err != nil {
		metrics.ObserveIngest("mqtt", metrics.ResultError, time.Since(start))
		return fmt.Errorf("mqtt consumer: evaluate %s: %w", topic, err)
	}
	metrics.ObserveIngest("mqtt", metrics.ResultSuccess, time.Since(start))
	return nil
}

func (c *Consumer) decode(ctx context.Context, topic string, payload []byte) (telemetry.Reading, string, context.Context, error) {
	messageID := ""
	if env, ok, err := eventing.DecodeEnvelope(payload); err != nil {
		return telemetry.Reading{}, "", ctx, err
	} else if ok {
		ctx = eventing.WithEnvelope(ctx, env)
		payload = env.Payload
		messageID = env.EventID
	}

	reading, err := ingest.DecodeReading(payload)
	if err != nil {
		return telemetry.Reading{}, "", ctx, err
	}
	orgID, unitID := topicIdentity(topic)
	if reading.OrgID == "" {
		reading.OrgID = orgID
	}
	if reading.UnitID == "" {
		reading.UnitID = unitID
	}
	if (orgID != "" && reading.OrgID != orgID) || (unitID != "" && reading.UnitID != unitID) {
		return telemetry.Reading{}, "", ctx, fmt.Errorf("mqtt consumer: topic %s does not match reading identity", topic)
	}
	if reading.ReadingID != "" {
		messageID = reading.ReadingID
	}
	return reading, messageID, ctx, nil
}

// topicIdentity extracts org and unit from frostguard/readings/<org>/<unit>.
func topicIdentity(topic string) (string, string) {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) != 4 || parts[1] != "readings" {
		return "", ""
	}
	return parts[2], parts[3]
}
