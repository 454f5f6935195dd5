// internal/service/fulfillment/infrastructure/kafka_queue.go
package infrastructure

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"shopflow/internal/pkg/mq"
	"shopflow/internal/service/fulfillment/port"
)

// KafkaJobQueue 是 JobQueue 端口的 Kafka 适配器。
// 延迟投递走延迟等级主题：消息头里的 real-topic 指向真实业务主题，
// delay-scheduler 在到期后转投。attempt 序号由 x-attempt 头承载。
type KafkaJobQueue struct {
	brokers   []string
	realTopic string

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewKafkaJobQueue(brokers []string, realTopic string) *KafkaJobQueue {
	return &KafkaJobQueue{
		brokers:   brokers,
		realTopic: realTopic,
		writers:   make(map[string]*kafka.Writer),
	}
}

func (q *KafkaJobQueue) Enqueue(ctx context.Context, job port.FulfillmentJob, delay time.Duration, attempt int) error {
	value, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal fulfillment job")
	}

	// 同一订单的消息使用同一个 key，保证落在同一分区
	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(job.OrderID, 10)),
		Value: value,
	}
	mq.SetHeader(&msg.Headers, mq.HeaderAttempt, strconv.Itoa(attempt))

	topic := q.realTopic
	if delay > 0 {
		level := mq.PickDelayLevel(delay)
		topic = level.Topic
		mq.SetHeader(&msg.Headers, mq.HeaderRealTopic, q.realTopic)
	}
	mq.InjectTraceContext(ctx, &msg.Headers)

	if err := q.writerFor(topic).WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "enqueue job %s to %s", job.JobID, topic)
	}
	return nil
}

func (q *KafkaJobQueue) writerFor(topic string) *kafka.Writer {
	q.mu.Lock()
	defer q.mu.Unlock()
	writer, ok := q.writers[topic]
	if !ok {
		writer = mq.NewKafkaWriter(q.brokers, topic)
		q.writers[topic] = writer
	}
	return writer
}

// Close 关闭全部 writer
func (q *KafkaJobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, writer := range q.writers {
		writer.Close()
	}
}
