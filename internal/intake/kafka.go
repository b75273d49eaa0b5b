package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"
	"github.com/tidwall/gjson"

	"github.com/sidekick-chat/sidekick/internal/agent"
)

// Trigger kinds carried in the "kind" field of a Kafka envelope.
const (
	KindCommand = "command"
	KindMessage = "message"
	KindProcess = "process"
)

var ErrUnknownTrigger = errors.New("unknown trigger kind")

// Dispatcher routes trigger envelopes to the engine. Envelopes look like
//
//	{"kind":"command","channelId":"c1","actorId":"u1","command":"summary","args":{"last":20}}
//	{"kind":"message","messageId":"m42"}
//	{"kind":"process","taskId":"..."}
type Dispatcher struct {
	engine *agent.Engine
}

// NewDispatcher creates a dispatcher for engine.
func NewDispatcher(engine *agent.Engine) *Dispatcher {
	return &Dispatcher{engine: engine}
}

// Dispatch decodes one envelope and runs it. Denials and rate limits are
// recorded by the engine and are not errors here.
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte) error {
	if !gjson.ValidBytes(payload) {
		return fmt.Errorf("dispatch: invalid json")
	}
	kind := strings.ToLower(gjson.GetBytes(payload, "kind").String())
	switch kind {
	case KindCommand:
		var req agent.CommandRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("dispatch command: %w", err)
		}
		req.Args = req.Args.Normalized()
		_, err := d.engine.RunCommand(ctx, req)
		if errors.Is(err, agent.ErrDenied) || errors.Is(err, agent.ErrRateLimited) {
			return nil
		}
		return err
	case KindMessage:
		id := gjson.GetBytes(payload, "messageId").String()
		if id == "" {
			return fmt.Errorf("dispatch message: messageId is required")
		}
		_, err := d.engine.HandleMessage(ctx, agent.MessageEvent{MessageID: id})
		return err
	case KindProcess:
		id := gjson.GetBytes(payload, "taskId").String()
		if id == "" {
			return fmt.Errorf("dispatch process: taskId is required")
		}
		return d.engine.ProcessTask(ctx, id)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTrigger, kind)
	}
}

// KafkaConsumer reads trigger envelopes from a topic and dispatches them in
// order. Offsets are committed by the consumer group after each read.
type KafkaConsumer struct {
	reader     *kafka.Reader
	dispatcher *Dispatcher
}

// NewKafkaConsumer creates a consumer for a comma-separated broker list.
func NewKafkaConsumer(brokers, groupID, topic string, dispatcher *Dispatcher) *KafkaConsumer {
	var brokerList []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokerList = append(brokerList, b)
		}
	}
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokerList,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		dispatcher: dispatcher,
	}
}

// Run consumes until ctx is cancelled. A failing envelope is logged and
// skipped so one bad message cannot block the partition.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	cfg := c.reader.Config()
	slog.Info("KafkaConsumer: started", "topic", cfg.Topic, "group", cfg.GroupID)
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("KafkaConsumer: read error", "topic", cfg.Topic, "error", err)
			continue
		}
		if err := c.dispatcher.Dispatch(ctx, msg.Value); err != nil {
			slog.Error("KafkaConsumer: dispatch failed",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}
