// internal/service/dashboard/application/service.go
package application

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"shopflow/internal/pkg/logger"
	"shopflow/internal/pkg/redis"
)

const (
	defaultDateRangeDays = 30
	pageSize             = 20
	statsCacheTTL        = 30 * time.Second
)

// DashboardRepository 是看板对读模型的全部依赖，由基础设施层实现
type DashboardRepository interface {
	OrdersSummary(ctx context.Context, start, end time.Time, page, perPage int) ([]OrderSummaryRow, int64, error)
	Stats(ctx context.Context, start, end, stuckBefore time.Time) (*Stats, error)
}

// DashboardService 提供只读的运营视图。
// 统计查询聚合代价高，用 Redis 短 TTL 缓存兜底。
type DashboardService struct {
	repo            DashboardRepository
	cache           *redis.Client
	tracer          trace.Tracer
	maxTotalBackoff time.Duration
}

func NewDashboardService(repo DashboardRepository, cache *redis.Client, tracer trace.Tracer, maxTotalBackoff time.Duration) *DashboardService {
	return &DashboardService{repo: repo, cache: cache, tracer: tracer, maxTotalBackoff: maxTotalBackoff}
}

// GetOrdersSummary 返回时间窗口内的分页订单列表
func (s *DashboardService) GetOrdersSummary(ctx context.Context, days, page int) (*OrdersSummary, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetOrdersSummary")
	defer span.End()

	days, page = normalize(days, page)
	start, end := window(days)

	rows, total, err := s.repo.OrdersSummary(ctx, start, end, page, pageSize)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &OrdersSummary{
		Orders:  rows,
		Total:   total,
		Page:    page,
		PerPage: pageSize,
		DateRange: DateRange{
			StartDate: start.Format("2006-01-02"),
			EndDate:   end.Format("2006-01-02"),
			Days:      days,
		},
	}, nil
}

// GetStats 返回时间窗口内的统计数据，命中缓存时直接返回
func (s *DashboardService) GetStats(ctx context.Context, days int) (*Stats, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetStats")
	defer span.End()

	days, _ = normalize(days, 1)
	cacheKey := fmt.Sprintf("dashboard:stats:%d", days)

	if s.cache != nil {
		var cached Stats
		hit, err := s.cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			// 缓存故障不阻塞读路径
			logger.Ctx(ctx).Warn().Err(err).Msg("dashboard stats cache read failed")
		} else if hit {
			span.AddEvent("Stats served from cache.")
			return &cached, nil
		}
	}

	start, end := window(days)
	stuckBefore := time.Now().UTC().Add(-s.maxTotalBackoff)
	stats, err := s.repo.Stats(ctx, start, end, stuckBefore)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cacheKey, stats, statsCacheTTL); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("dashboard stats cache write failed")
		}
	}
	return stats, nil
}

func normalize(days, page int) (int, int) {
	if days <= 0 || days > 365 {
		days = defaultDateRangeDays
	}
	if page <= 0 {
		page = 1
	}
	return days, page
}

func window(days int) (time.Time, time.Time) {
	now := time.Now().UTC()
	end := now
	start := now.AddDate(0, 0, -days).Truncate(24 * time.Hour)
	return start, end
}
