package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	alarmapp "frostguard/internal/alarms/application"
	alarms "frostguard/internal/alarms/domain"
	"frostguard/internal/eventing"

	"go.uber.org/zap"
)

// DefaultTopicPrefix is the root of lifecycle topics.
const DefaultTopicPrefix = "frostguard/alarms"

// Publisher sends raw payloads to a topic.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// LifecycleMessage is the enveloped payload published per lifecycle event.
type LifecycleMessage struct {
	Type    string       `json:"type"`
	Message string       `json:"message"`
	Event   alarms.Event `json:"event"`
}

// MQTTNotifier publishes lifecycle events to frostguard/alarms/<org>/<unit>.
type MQTTNotifier struct {
	publisher Publisher
	template  *Template
	prefix    string
	qos       byte
	logger    *zap.Logger
}

// MQTTOption configures the notifier.
type MQTTOption func(*MQTTNotifier)

// WithTopicPrefix overrides DefaultTopicPrefix.
func WithTopicPrefix(prefix string) MQTTOption {
	return func(n *MQTTNotifier) {
		if prefix = strings.TrimRight(prefix, "/"); prefix != "" {
			n.prefix = prefix
		}
	}
}

// WithQoS overrides the publish QoS.
func WithQoS(qos byte) MQTTOption {
	return func(n *MQTTNotifier) {
		if qos <= 2 {
			n.qos = qos
		}
	}
}

// WithTemplate overrides the message template.
func WithTemplate(tpl *Template) MQTTOption {
	return func(n *MQTTNotifier) {
		if tpl != nil {
			n.template = tpl
		}
	}
}

// WithMQTTLogger sets the logger.
func WithMQTTLogger(logger *zap.Logger) MQTTOption {
	return func(n *MQTTNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewMQTTNotifier constructs an MQTTNotifier.
func NewMQTTNotifier(publisher Publisher, opts ...MQTTOption) (*MQTTNotifier, error) {
	if publisher == nil {
		return nil, errors.New("mqtt notifier: nil publisher")
	}
	tpl, err := NewTemplate("")
	if err != nil {
		return nil, err
	}
	n := &MQTTNotifier{
		publisher: publisher,
		template:  tpl,
		prefix:    DefaultTopicPrefix,
		qos:       1,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Topic returns the topic for an event.
func (n *MQTTNotifier) Topic(event alarms.Event) string {
	return n.prefix + "/" + event.OrgID + "/" + event.UnitID
}

// Notify implements alarmapp.AlarmNotifier. Failures are logged only.
func (n *MQTTNotifier) Notify(ctx context.Context, event alarmapp.AlarmEvent) {
	if n == nil {
		return
	}
	payload, err := n.encode(ctx, event)
	if err != nil {
		n.logger.Warn("alarm notification encode failed",
			zap.String("alarm_event_id", event.Event.ID),
			zap.Error(err))
		return
	}
	topic := n.Topic(event.Event)
	if err := n.publisher.Publish(topic, n.qos, false, payload); err != nil {
		n.logger.Warn("alarm notification publish failed",
			zap.String("topic", topic),
			zap.String("alarm_event_id", event.Event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err))
	}
}

func (n *MQTTNotifier) encode(ctx context.Context, event alarmapp.AlarmEvent) ([]byte, error) {
	message, err := n.template.Render(DataFor(event))
	if err != nil {
		return nil, err
	}
	correlationID := event.Event.CorrelationID
	if correlationID == "" {
		correlationID = eventing.CorrelationIDFromContext(ctx)
	}
	occurredAt := event.Event.UpdatedAt
	if occurredAt.IsZero() {
		occurredAt = event.Event.TriggeredAt
	}
	env, err := eventing.BuildEnvelope(LifecycleMessage{
		Type:    event.Type,
		Message: message,
		Event:   event.Event,
	}, eventing.Meta{
		EventType:     "alarm." + event.Type,
		OccurredAt:    occurredAt,
		CorrelationID: correlationID,
		OrgID:         event.Event.OrgID,
		UnitID:        event.Event.UnitID,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
