package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"orderpipe/internal/runtime"
)

// DeadLetterSink publishes dead letters to a Kafka topic so operators can
// inspect and replay them outside the hot path.
type DeadLetterSink struct {
	producer *Producer
}

func NewDeadLetterSink(producer *Producer) *DeadLetterSink {
	return &DeadLetterSink{producer: producer}
}

func (s *DeadLetterSink) Push(ctx context.Context, dl runtime.DeadLetter) error {
	value, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	// Keyed by group and partition so one group's poison records stay
	// ordered on the DLQ topic.
	key := []byte(fmt.Sprintf("%s/%d", dl.Group, dl.Partition))
	return s.producer.SendMessage(ctx, key, value)
}
