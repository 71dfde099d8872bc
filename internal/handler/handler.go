// Package handler содержит HTTP-обработчики API сервиса заказов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/bagstore/internal/middleware"
	"github.com/mmeshcher/bagstore/internal/model"
	"github.com/mmeshcher/bagstore/internal/service"
	"github.com/mmeshcher/bagstore/internal/validation"
)

// maxBodySize ограничивает размер тела запроса.
const maxBodySize = middleware.MaxRequestBody

// advanceRetryAfter передаётся в Retry-After, пока выполняется предыдущий проход продвижения статусов.
const advanceRetryAfter = "1"

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateOrder(ctx context.Context, cmd service.CreateOrderCommand) (*service.CreateOrderResult, error)
	CancelOrder(ctx context.Context, userID, orderID int64) error
	AdvanceStatuses(ctx context.Context) (model.AdvanceResult, error)
	CaptureReceipt(ctx context.Context, userID int64, orderNumber string, snap model.ReceiptSnapshot) (*service.ReceiptResult, error)
	ListOrders(ctx context.Context, userID int64) ([]model.Order, error)
	GetPoints(ctx context.Context, userID int64) (*service.PointsSummary, error)
	ListNotifications(ctx context.Context, userID int64) ([]model.Notification, error)
	CreateReview(ctx context.Context, rv model.Review) (int64, error)
}

// Handler реализует HTTP-обработчики API сервиса заказов.
type Handler struct {
	service          Service
	logger           *zap.Logger
	authMiddleware   *middleware.AuthMiddleware
	idempotencyStore middleware.IdempotencyStore

	// advancing не даёт запустить второй проход продвижения статусов в этом процессе.
	advancing atomic.Bool
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// idem может быть nil: тогда заголовок Idempotency-Key игнорируется.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, idem middleware.IdempotencyStore) *Handler {
	return &Handler{
		service:          s,
		logger:           logger,
		authMiddleware:   auth,
		idempotencyStore: idem,
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// handleServiceError переводит ошибку сервиса в HTTP-ответ.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var fe *validation.FieldError
	switch {
	case errors.As(err, &fe):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "validation_error",
			Message: fe.Error(),
			Field:   fe.Field,
		})
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "order not found")
	case errors.Is(err, service.ErrAlreadyFinalized):
		writeError(w, http.StatusBadRequest, "already_finalized", "order can no longer be cancelled")
	case errors.Is(err, service.ErrOrderExists):
		writeError(w, http.StatusConflict, "order_exists", "order with this number already exists")
	default:
		userID, _ := middleware.GetUserIDFromContext(r.Context())
		h.logger.Error(op+" error", zap.Error(err), zap.Int64("userID", userID))
		writeError(w, http.StatusInternalServerError, "storage_unavailable", "internal error, please retry")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "malformed request body")
		return false
	}
	return true
}

func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return 0, false
	}
	return userID, true
}

type orderItemRequest struct {
	Name     string          `json:"name"`
	Image    string          `json:"image"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Size     string          `json:"size"`
	Color    string          `json:"color"`
}

type createOrderRequest struct {
	OrderID       string             `json:"orderId"`
	Items         []orderItemRequest `json:"items"`
	Subtotal      decimal.Decimal    `json:"subtotal"`
	Shipping      decimal.Decimal    `json:"shipping"`
	Total         decimal.Decimal    `json:"total"`
	Payment       string             `json:"payment"`
	Courier       string             `json:"courier"`
	CustomerEmail string             `json:"customerEmail"`
	CustomerPhone string             `json:"customerPhone"`
}

type createOrderResponse struct {
	Success     bool   `json:"success"`
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

// CreateOrder оформляет заказ текущего пользователя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cmd := service.CreateOrderCommand{
		UserID:         userID,
		OrderNumber:    req.OrderID,
		Items:          make([]model.OrderItem, 0, len(req.Items)),
		Subtotal:       req.Subtotal,
		Shipping:       req.Shipping,
		Total:          req.Total,
		PaymentMethod:  req.Payment,
		CourierService: req.Courier,
		CustomerEmail:  req.CustomerEmail,
		CustomerPhone:  req.CustomerPhone,
	}
	for _, it := range req.Items {
		cmd.Items = append(cmd.Items, model.OrderItem{
			Name:     it.Name,
			Image:    it.Image,
			Price:    it.Price,
			Quantity: it.Quantity,
			Size:     it.Size,
			Color:    it.Color,
		})
	}

	res, err := h.service.CreateOrder(r.Context(), cmd)
	if err != nil {
		h.handleServiceError(w, r, "create order", err)
		return
	}

	writeJSON(w, http.StatusOK, createOrderResponse{
		Success:     true,
		OrderID:     res.OrderID,
		OrderNumber: res.OrderNumber,
	})
}

// orderIDValue принимает идентификатор заказа числом или строкой.
type orderIDValue int64

func (v *orderIDValue) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		n = json.Number(s)
	}
	id, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return err
	}
	*v = orderIDValue(id)
	return nil
}

type cancelOrderRequest struct {
	OrderID orderIDValue `json:"order_id"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// CancelOrder отменяет заказ текущего пользователя.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrderID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "validation_error",
			Message: "order_id is required",
			Field:   "order_id",
		})
		return
	}

	if err := h.service.CancelOrder(r.Context(), userID, int64(req.OrderID)); err != nil {
		h.handleServiceError(w, r, "cancel order", err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "order cancelled"})
}

type updateStatusResponse struct {
	Success bool                `json:"success"`
	Updated model.AdvanceResult `json:"updated"`
}

// UpdateOrderStatus продвигает статусы всех созревших заказов.
// Обработчик идемпотентен: повторный вызов не учитывает уже выполненные переходы.
// Пока предыдущий проход не завершён, отвечает 429 с Retry-After.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	if !h.advancing.CompareAndSwap(false, true) {
		w.Header().Set("Retry-After", advanceRetryAfter)
		writeError(w, http.StatusTooManyRequests, "advance_in_progress", "status advance is already running")
		return
	}
	defer h.advancing.Store(false)

	res, err := h.service.AdvanceStatuses(r.Context())
	if err != nil {
		h.handleServiceError(w, r, "update order status", err)
		return
	}

	writeJSON(w, http.StatusOK, updateStatusResponse{Success: true, Updated: res})
}

type receiptRequest struct {
	OrderID         string          `json:"orderId"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Shipping        decimal.Decimal `json:"shipping"`
	Total           decimal.Decimal `json:"total"`
	Payment         string          `json:"payment"`
	Courier         string          `json:"courier"`
	ShippingAddress json.RawMessage `json:"shippingAddress,omitempty"`
}

type receiptResponse struct {
	Success       bool  `json:"success"`
	ReceiptID     int64 `json:"receipt_id"`
	AlreadyExists bool  `json:"already_exists,omitempty"`
}

// CaptureReceipt сохраняет чек по заказу не более одного раза.
func (h *Handler) CaptureReceipt(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req receiptRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	address := req.ShippingAddress
	if string(address) == "null" {
		address = nil
	}

	res, err := h.service.CaptureReceipt(r.Context(), userID, req.OrderID, model.ReceiptSnapshot{
		Subtotal:        req.Subtotal,
		Shipping:        req.Shipping,
		Total:           req.Total,
		PaymentMethod:   req.Payment,
		CourierService:  req.Courier,
		ShippingAddress: address,
	})
	if err != nil {
		h.handleServiceError(w, r, "capture receipt", err)
		return
	}

	writeJSON(w, http.StatusOK, receiptResponse{
		Success:       true,
		ReceiptID:     res.ReceiptID,
		AlreadyExists: res.AlreadyExisted,
	})
}

type orderItemResponse struct {
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Size      string          `json:"size,omitempty"`
	Color     string          `json:"color,omitempty"`
	LineTotal decimal.Decimal `json:"line_total"`
	Status    string          `json:"status"`
}

type orderResponse struct {
	ID             int64               `json:"id"`
	OrderNumber    string              `json:"order_number"`
	Status         string              `json:"status"`
	Subtotal       decimal.Decimal     `json:"subtotal"`
	Shipping       decimal.Decimal     `json:"shipping"`
	Total          decimal.Decimal     `json:"total"`
	PaymentMethod  string              `json:"payment_method"`
	CourierService string              `json:"courier_service"`
	CreatedAt      string              `json:"created_at"`
	ShippedAt      string              `json:"shipped_at,omitempty"`
	DeliveredAt    string              `json:"delivered_at,omitempty"`
	Items          []orderItemResponse `json:"items,omitempty"`
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// GetOrders возвращает список заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListOrders(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, r, "get orders", err)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		row := orderResponse{
			ID:             o.ID,
			OrderNumber:    o.Number,
			Status:         string(o.Status),
			Subtotal:       o.Subtotal,
			Shipping:       o.Shipping,
			Total:          o.Total,
			PaymentMethod:  o.PaymentMethod,
			CourierService: o.CourierService,
			CreatedAt:      o.CreatedAt.Format(time.RFC3339),
			ShippedAt:      formatTime(o.ShippedAt),
			DeliveredAt:    formatTime(o.DeliveredAt),
		}
		for _, it := range o.Items {
			row.Items = append(row.Items, orderItemResponse{
				Name:      it.Name,
				Image:     it.Image,
				Price:     it.Price,
				Quantity:  it.Quantity,
				Size:      it.Size,
				Color:     it.Color,
				LineTotal: it.LineTotal,
				Status:    string(it.Status),
			})
		}
		resp = append(resp, row)
	}

	writeJSON(w, http.StatusOK, resp)
}

type activityResponse struct {
	Type          string `json:"activity_type"`
	Description   string `json:"description"`
	PointsAwarded int64  `json:"points_awarded"`
	CreatedAt     string `json:"created_at"`
}

type pointsResponse struct {
	Success  bool               `json:"success"`
	Points   int64              `json:"points"`
	Activity []activityResponse `json:"activity"`
}

// GetPoints возвращает баланс баллов и историю начислений текущего пользователя.
func (h *Handler) GetPoints(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	summary, err := h.service.GetPoints(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, r, "get points", err)
		return
	}

	resp := pointsResponse{
		Success:  true,
		Points:   summary.Points,
		Activity: make([]activityResponse, 0, len(summary.Activity)),
	}
	for _, a := range summary.Activity {
		resp.Activity = append(resp.Activity, activityResponse{
			Type:          string(a.Type),
			Description:   a.Description,
			PointsAwarded: a.PointsAwarded,
			CreatedAt:     a.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type notificationResponse struct {
	ID        int64  `json:"id"`
	Type      string `json:"notification_type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	RelatedID *int64 `json:"related_id,omitempty"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at"`
}

// GetNotifications возвращает уведомления текущего пользователя.
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListNotifications(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, r, "get notifications", err)
		return
	}

	resp := make([]notificationResponse, 0, len(list))
	for _, n := range list {
		resp = append(resp, notificationResponse{
			ID:        n.ID,
			Type:      string(n.Type),
			Title:     n.Title,
			Message:   n.Message,
			RelatedID: n.RelatedID,
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type reviewRequest struct {
	ItemName string `json:"item_name"`
	Rating   int    `json:"rating"`
	Comment  string `json:"comment"`
}

type reviewResponse struct {
	Success  bool  `json:"success"`
	ReviewID int64 `json:"review_id"`
}

// CreateReview сохраняет отзыв текущего пользователя.
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req reviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := h.service.CreateReview(r.Context(), model.Review{
		UserID:   userID,
		ItemName: req.ItemName,
		Rating:   req.Rating,
		Comment:  req.Comment,
	})
	if err != nil {
		h.handleServiceError(w, r, "create review", err)
		return
	}

	writeJSON(w, http.StatusCreated, reviewResponse{Success: true, ReviewID: id})
}
