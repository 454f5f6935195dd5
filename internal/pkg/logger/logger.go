package logger

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// base 是全局的根 logger，Init 之后携带 service 字段
var base = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 初始化全局 logger，附带服务名，供所有 cmd 在启动时调用
func Init(serviceName string) {
	base = zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// Ctx 返回一个与追踪上下文关联的 logger。
// 如果 ctx 中存在有效的 Span，日志会自动附带 trace_id，便于在 Jaeger 和日志系统间互相跳转。
func Ctx(ctx context.Context) *zerolog.Logger {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if spanCtx.HasTraceID() {
		l := base.With().Str("trace_id", spanCtx.TraceID().String()).Logger()
		return &l
	}
	return &base
}
