package continuation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	kgo "github.com/segmentio/kafka-go"
)

// Message asks a worker to run the scheduler for Workday no earlier than
// NotBefore.
type Message struct {
	Workday   string `json:"workday"`
	NotBefore int64  `json:"not_before"` // epoch ms
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kgo.Message, error)
	CommitMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// KafkaTrigger publishes continuation requests.
type KafkaTrigger struct {
	writer  messageWriter
	workday func() string
	now     func() time.Time
	timeout time.Duration
}

// NewKafkaTrigger creates a producer for topic. workday names the day the
// continuation belongs to.
func NewKafkaTrigger(brokersCSV, topic string, workday func() string) (*KafkaTrigger, error) {
	brokers := SplitCSV(brokersCSV)
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}

	w := &kgo.Writer{
		Addr:         kgo.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kgo.LeastBytes{},
		RequiredAcks: kgo.RequireOne,
	}
	return &KafkaTrigger{writer: w, workday: workday, now: time.Now, timeout: 3 * time.Second}, nil
}

// ScheduleContinuation publishes the request.
func (k *KafkaTrigger) ScheduleContinuation(ctx context.Context, delay time.Duration) error {
	day := k.workday()
	b, err := json.Marshal(Message{Workday: day, NotBefore: k.now().Add(delay).UnixMilli()})
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	if err := k.writer.WriteMessages(cctx, kgo.Message{Key: []byte(day), Value: b, Time: k.now()}); err != nil {
		scheduledTotal.WithLabelValues("kafka", "error").Inc()
		return fmt.Errorf("publish continuation: %w", err)
	}
	scheduledTotal.WithLabelValues("kafka", "ok").Inc()
	return nil
}

// Close closes the producer.
func (k *KafkaTrigger) Close() error { return k.writer.Close() }

// KafkaWorker consumes continuation requests and runs the scheduler once
// each message is due.
type KafkaWorker struct {
	reader  messageReader
	run     RunFunc
	workday func() string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewKafkaWorker creates a consumer in groupID for topic. Messages for any
// day other than workday() are dropped, since run always works on the
// current workday.
func NewKafkaWorker(brokersCSV, topic, groupID string, run RunFunc, workday func() string, logger zerolog.Logger) *KafkaWorker {
	r := kgo.NewReader(kgo.ReaderConfig{
		Brokers:        SplitCSV(brokersCSV),
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits
	})
	return &KafkaWorker{reader: r, run: run, workday: workday, logger: logger, now: time.Now}
}

// Run processes messages until ctx is done.
func (w *KafkaWorker) Run(ctx context.Context) error {
	for {
		if err := w.handleOne(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error().Err(err).Msg("Continuation message failed")
		}
	}
}

func (w *KafkaWorker) handleOne(ctx context.Context) error {
	m, err := w.reader.FetchMessage(ctx)
	if err != nil {
		return err
	}

	var msg Message
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		// commit bad messages so the partition does not stall
		_ = w.reader.CommitMessages(ctx, m)
		return fmt.Errorf("decode continuation: %w", err)
	}

	if wait := time.UnixMilli(msg.NotBefore).Sub(w.now()); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if w.workday != nil {
		if current := w.workday(); msg.Workday != current {
			w.logger.Info().
				Str("workday", msg.Workday).
				Str("current", current).
				Msg("Dropping continuation for another workday")
			return w.commit(ctx, m)
		}
	}

	w.logger.Info().Str("workday", msg.Workday).Msg("Running continuation")
	if err := w.run(ctx); err != nil {
		// Uncommitted: the group redelivers it after a rebalance or restart.
		return fmt.Errorf("run continuation for %s: %w", msg.Workday, err)
	}
	return w.commit(ctx, m)
}

func (w *KafkaWorker) commit(ctx context.Context, m kgo.Message) error {
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return w.reader.CommitMessages(cctx, m)
}

// Close closes the consumer.
func (w *KafkaWorker) Close() error { return w.reader.Close() }

// SplitCSV splits a comma separated list, dropping blanks.
func SplitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
