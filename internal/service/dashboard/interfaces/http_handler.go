// internal/service/dashboard/interfaces/http_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"shopflow/internal/pkg/logger"
	"shopflow/internal/service/dashboard/application"
)

const serviceName = "order-service"

// dashboardService 是 HTTP 层对看板应用服务的全部依赖
type dashboardService interface {
	GetOrdersSummary(ctx context.Context, days, page int) (*application.OrdersSummary, error)
	GetStats(ctx context.Context, days int) (*application.Stats, error)
}

// DashboardHandler 暴露只读的运营看板接口
type DashboardHandler struct {
	service dashboardService
}

func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册看板路由
func (h *DashboardHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/dashboard/orders-summary", h.ordersSummaryHandler)
	mux.HandleFunc("/api/dashboard/stats", h.statsHandler)
}

// ordersSummaryHandler 处理 GET /api/dashboard/orders-summary?date_range=30&page=1
func (h *DashboardHandler) ordersSummaryHandler(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "api.OrdersSummary")
	defer span.End()

	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	days := queryInt(r, "date_range")
	page := queryInt(r, "page")
	span.SetAttributes(attribute.Int("dashboard.date_range", days), attribute.Int("dashboard.page", page))

	summary, err := h.service.GetOrdersSummary(ctx, days, page)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "orders summary query failed")
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to load orders summary")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to load orders summary",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    summary,
	})
}

// statsHandler 处理 GET /api/dashboard/stats?date_range=30
func (h *DashboardHandler) statsHandler(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "api.DashboardStats")
	defer span.End()

	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	days := queryInt(r, "date_range")
	span.SetAttributes(attribute.Int("dashboard.date_range", days))

	stats, err := h.service.GetStats(ctx, days)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stats query failed")
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to load dashboard stats")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to load dashboard stats",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    stats,
	})
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
