package mq

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"

	"shopflow/internal/pkg/logger"
)

// FailureHandler 负责把无法继续处理的消息移入死信队列（DLT），
// 并在消息头中记录原始主题、分区、位点和异常信息，便于事后排查和重放。
type FailureHandler struct {
	dltWriter *kafka.Writer
}

func NewFailureHandler(brokers []string, dltTopic string) *FailureHandler {
	return &FailureHandler{
		dltWriter: NewKafkaWriter(brokers, dltTopic),
	}
}

// Handle 把失败消息连同失败现场写入 DLT。
// DLT 写入失败只能记日志告警，不能阻塞消费主循环。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) {
	headers := make([]kafka.Header, len(msg.Headers))
	copy(headers, msg.Headers)

	SetHeader(&headers, HeaderOriginalTopic, msg.Topic)
	SetHeader(&headers, HeaderOriginalPartition, strconv.Itoa(msg.Partition))
	SetHeader(&headers, HeaderOriginalOffset, strconv.FormatInt(msg.Offset, 10))
	SetHeader(&headers, HeaderExceptionMessage, cause.Error())
	InjectTraceContext(ctx, &headers)

	dltMsg := kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}

	if err := h.dltWriter.WriteMessages(ctx, dltMsg); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("original_topic", msg.Topic).
			Str("key", string(msg.Key)).
			Msg("🚨 CRITICAL: failed to move message to DLT")
		return
	}

	logger.Ctx(ctx).Warn().
		Str("original_topic", msg.Topic).
		Str("key", string(msg.Key)).
		Str("cause", cause.Error()).
		Msg("Message moved to DLT")
}

func (h *FailureHandler) Close() error {
	return h.dltWriter.Close()
}
