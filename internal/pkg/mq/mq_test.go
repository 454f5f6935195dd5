package mq

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestPickDelayLevel(t *testing.T) {
	cases := []struct {
		delay time.Duration
		topic string
	}{
		{0, "fulfillment_delay_2s"},
		{1 * time.Second, "fulfillment_delay_2s"},
		{2 * time.Second, "fulfillment_delay_2s"},
		{3 * time.Second, "fulfillment_delay_5s"},
		{5 * time.Second, "fulfillment_delay_5s"},
		{7 * time.Second, "fulfillment_delay_10s"},
		{10 * time.Second, "fulfillment_delay_10s"},
		{15 * time.Second, "fulfillment_delay_15s"},
		// 超出最大等级时取最大等级
		{time.Minute, "fulfillment_delay_15s"},
	}

	for _, tc := range cases {
		level := PickDelayLevel(tc.delay)
		assert.Equal(t, tc.topic, level.Topic, "delay %v", tc.delay)
		// 到期判定依赖等级延迟不小于请求延迟（封顶除外）
		if tc.delay <= DelayLevels[len(DelayLevels)-1].Delay {
			assert.GreaterOrEqual(t, level.Delay, tc.delay)
		}
	}
}

func TestDelayLevelsAreAscending(t *testing.T) {
	for i := 1; i < len(DelayLevels); i++ {
		assert.Greater(t, DelayLevels[i].Delay, DelayLevels[i-1].Delay)
	}
}

func TestHeaderCarrierSetOverwrites(t *testing.T) {
	var headers []kafka.Header

	SetHeader(&headers, HeaderAttempt, "1")
	SetHeader(&headers, HeaderRealTopic, "order-fulfillment-topic")
	SetHeader(&headers, HeaderAttempt, "2")

	assert.Equal(t, "2", GetHeader(headers, HeaderAttempt))
	assert.Equal(t, "order-fulfillment-topic", GetHeader(headers, HeaderRealTopic))
	assert.Len(t, headers, 2, "overwriting a header must not duplicate it")
}

func TestGetHeaderMissingKey(t *testing.T) {
	headers := []kafka.Header{{Key: HeaderAttempt, Value: []byte("1")}}

	assert.Equal(t, "", GetHeader(headers, HeaderRealTopic))
	assert.Equal(t, "", GetHeader(nil, HeaderAttempt))
}

func TestHeaderCarrierKeys(t *testing.T) {
	carrier := KafkaHeaderCarrier{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
	}

	assert.ElementsMatch(t, []string{"a", "b"}, carrier.Keys())
	assert.Equal(t, "1", carrier.Get("a"))
	assert.Equal(t, "", carrier.Get("missing"))
}
