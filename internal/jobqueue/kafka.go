package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
)

// KafkaQueue is an alternate lane backend for deployments standardized
// on Kafka for their messaging fabric. Each lane maps to a topic;
// manual offset commit makes Ack the commit point, and Nack is a no-op
// since an uncommitted offset is naturally redelivered to the
// consumer group on restart.
type KafkaQueue struct {
	brokers []string
	groupID string

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	readers map[string]*kafka.Reader
	pending map[string]kafka.Message // receipt -> message, for commit
}

// NewKafkaQueue constructs a KafkaQueue against the given brokers,
// using groupID for the reader consumer group.
func NewKafkaQueue(brokers []string, groupID string) *KafkaQueue {
	return &KafkaQueue{
		brokers: brokers,
		groupID: groupID,
		writers: make(map[string]*kafka.Writer),
		readers: make(map[string]*kafka.Reader),
		pending: make(map[string]kafka.Message),
	}
}

func (q *KafkaQueue) writer(lane string) *kafka.Writer {
	q.mu.Lock()
	defer q.mu.Unlock()
	w, ok := q.writers[lane]
	if !ok {
		w = &kafka.Writer{
			Addr:     kafka.TCP(q.brokers...),
			Topic:    lane,
			Balancer: &kafka.LeastBytes{},
		}
		q.writers[lane] = w
	}
	return w
}

func (q *KafkaQueue) reader(lane string) *kafka.Reader {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.readers[lane]
	if !ok {
		r = kafka.NewReader(kafka.ReaderConfig{
			Brokers: q.brokers,
			GroupID: q.groupID,
			Topic:   lane,
		})
		q.readers[lane] = r
	}
	return r
}

// Enqueue writes the job's JSON encoding to the lane topic.
func (q *KafkaQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.writer(job.Lane).WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.RunID + "/" + job.NodeID),
		Value: payload,
	})
}

// Dequeue fetches the next message for lane without committing it; the
// caller must Ack to commit the offset.
func (q *KafkaQueue) Dequeue(ctx context.Context, lane string) (Delivery, error) {
	msg, err := q.reader(lane).FetchMessage(ctx)
	if err != nil {
		return Delivery{}, err
	}
	var job Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		return Delivery{}, err
	}
	receipt := newReceipt()
	q.mu.Lock()
	q.pending[receipt] = msg
	q.mu.Unlock()
	return Delivery{Job: job, Receipt: receipt}, nil
}

// Ack commits the message's offset.
func (q *KafkaQueue) Ack(ctx context.Context, d Delivery) error {
	q.mu.Lock()
	msg, ok := q.pending[d.Receipt]
	delete(q.pending, d.Receipt)
	q.mu.Unlock()
	if !ok {
		return nil
	}
	return q.reader(d.Job.Lane).CommitMessages(ctx, msg)
}

// Nack drops the pending record without committing; the consumer
// group's uncommitted offset naturally redelivers the message.
func (q *KafkaQueue) Nack(ctx context.Context, d Delivery) error {
	q.mu.Lock()
	delete(q.pending, d.Receipt)
	q.mu.Unlock()
	return nil
}

// Info is unsupported: kafka-go exposes no cheap lag query without a
// separate admin client and consumer-group offset walk.
func (q *KafkaQueue) Info(ctx context.Context, lane string) (Info, error) {
	return Info{}, fmt.Errorf("jobqueue: kafka backend does not support Info")
}

// Close closes all writers and readers opened for this queue.
func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var firstErr error
	for _, w := range q.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, r := range q.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
