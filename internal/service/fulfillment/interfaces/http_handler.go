// internal/service/fulfillment/interfaces/http_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"shopflow/internal/pkg/logger"
	"shopflow/internal/service/fulfillment/application"
	"shopflow/internal/service/fulfillment/domain"
)

const serviceName = "order-service"

// dispatchService 是 HTTP 层对派发器的全部依赖
type dispatchService interface {
	Dispatch(ctx context.Context, orderID uint64) (*application.DispatchResult, error)
}

// OrderProcessingHandler 封装了订单履约的 HTTP 处理器。
// 调用方只能看到派发结果（202/409/404/500）；
// 后台尝试的最终成败要通过后续的状态读取观察，不在本次请求里体现。
type OrderProcessingHandler struct {
	dispatcher dispatchService
}

func NewOrderProcessingHandler(dispatcher dispatchService) *OrderProcessingHandler {
	return &OrderProcessingHandler{dispatcher: dispatcher}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OrderProcessingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/orders/", h.processOrderHandler)
}

// processOrderHandler 处理 POST /api/orders/{orderId}/process
func (h *OrderProcessingHandler) processOrderHandler(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "api.ProcessOrder")
	defer span.End()

	orderID, ok := parseProcessPath(r.URL.Path)
	if !ok || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	span.SetAttributes(attribute.Int64("order.id", int64(orderID)))

	result, err := h.dispatcher.Dispatch(ctx, orderID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"success": true,
			"message": "Order processing started",
			"data":    result,
		})
	case errors.Is(err, domain.ErrAlreadyInFlight):
		span.AddEvent("Duplicate dispatch rejected.")
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"success":  false,
			"message":  "Order is already being processed",
			"order_id": orderID,
		})
	case errors.Is(err, domain.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"message": "Order not found or not in pending status",
		})
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed unexpectedly")
		logger.Ctx(ctx).Error().Err(err).Uint64("order_id", orderID).Msg("Failed to dispatch order processing job")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to start order processing",
		})
	}
}

// parseProcessPath 从 /api/orders/{orderId}/process 中解析订单 ID
func parseProcessPath(path string) (uint64, bool) {
	rest := strings.TrimPrefix(path, "/api/orders/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "process" {
		return 0, false
	}
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
