package mq

import (
	"sort"
	"time"
)

// DelayLevel 表示一个延迟等级：一个固定延迟时长对应一个专用的延迟主题。
// Kafka 本身不支持任意延迟投递，我们采用"延迟等级主题 + 轮询调度器"的方案：
// 生产者把消息写入延迟主题并在 real-topic 头里记下目标主题，
// delay-scheduler 轮询延迟主题，在 msg.Time + Delay 到期后转投到真实主题。
type DelayLevel struct {
	Topic string
	Delay time.Duration
}

// DelayLevels 是系统支持的全部延迟等级，按时长升序排列。
// 2s 服务于派发前的初始延迟，5s/10s/15s 服务于库存冲突的退避重试。
var DelayLevels = []DelayLevel{
	{Topic: "fulfillment_delay_2s", Delay: 2 * time.Second},
	{Topic: "fulfillment_delay_5s", Delay: 5 * time.Second},
	{Topic: "fulfillment_delay_10s", Delay: 10 * time.Second},
	{Topic: "fulfillment_delay_15s", Delay: 15 * time.Second},
}

// PickDelayLevel 返回不小于 d 的最小延迟等级；超出最大等级时取最大等级。
func PickDelayLevel(d time.Duration) DelayLevel {
	i := sort.Search(len(DelayLevels), func(i int) bool {
		return DelayLevels[i].Delay >= d
	})
	if i == len(DelayLevels) {
		return DelayLevels[len(DelayLevels)-1]
	}
	return DelayLevels[i]
}
