package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/merchkit/discount-engine/internal/domain"
	"github.com/merchkit/discount-engine/internal/repository"
	"github.com/merchkit/discount-engine/internal/service"
	"github.com/merchkit/discount-engine/pkg/httputil"
	"github.com/merchkit/discount-engine/pkg/pagination"
	"github.com/merchkit/discount-engine/pkg/validator"
)

// DiscountHandler handles HTTP requests for discount endpoints.
type DiscountHandler struct {
	service *service.DiscountService
	logger  *slog.Logger
}

// NewDiscountHandler creates a new discount HTTP handler.
func NewDiscountHandler(svc *service.DiscountService, logger *slog.Logger) *DiscountHandler {
	return &DiscountHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// CreateDiscountRequest is the JSON request body for creating a discount.
type CreateDiscountRequest struct {
	Code                  string           `json:"code" validate:"max=64"`
	Name                  string           `json:"name" validate:"required,min=1,max=255"`
	Kind                  string           `json:"kind" validate:"required,oneof=percentage fixed_amount free_shipping buy_x_get_y"`
	Value                 decimal.Decimal  `json:"value"`
	MaxDiscountAmount     *decimal.Decimal `json:"max_discount_amount"`
	AppliesTo             string           `json:"applies_to" validate:"omitempty,oneof=all specific_products specific_categories specific_customers"`
	ProductIDs            []string         `json:"product_ids"`
	CategoryIDs           []string         `json:"category_ids"`
	CustomerIDs           []string         `json:"customer_ids"`
	MinimumType           string           `json:"minimum_type" validate:"omitempty,oneof=minimum_amount minimum_quantity"`
	MinimumValue          decimal.Decimal  `json:"minimum_value"`
	StartsAt              *string          `json:"starts_at"`
	EndsAt                *string          `json:"ends_at"`
	UsageLimit            *int             `json:"usage_limit" validate:"omitempty,gt=0"`
	UsageLimitPerCustomer *int             `json:"usage_limit_per_customer" validate:"omitempty,gt=0"`
	BuyQuantity           int              `json:"buy_quantity" validate:"gte=0"`
	GetQuantity           int              `json:"get_quantity" validate:"gte=0"`
	GetDiscountType       string           `json:"get_discount_type" validate:"omitempty,oneof=free percentage"`
	GetDiscountValue      decimal.Decimal  `json:"get_discount_value"`
}

// UpdateDiscountRequest is the JSON request body for a partial update.
type UpdateDiscountRequest struct {
	Code                  *string          `json:"code" validate:"omitempty,min=1,max=64"`
	Name                  *string          `json:"name" validate:"omitempty,min=1,max=255"`
	Value                 *decimal.Decimal `json:"value"`
	MaxDiscountAmount     *decimal.Decimal `json:"max_discount_amount"`
	AppliesTo             *string          `json:"applies_to" validate:"omitempty,oneof=all specific_products specific_categories specific_customers"`
	ProductIDs            []string         `json:"product_ids"`
	CategoryIDs           []string         `json:"category_ids"`
	CustomerIDs           []string         `json:"customer_ids"`
	MinimumType           *string          `json:"minimum_type" validate:"omitempty,oneof=minimum_amount minimum_quantity"`
	MinimumValue          *decimal.Decimal `json:"minimum_value"`
	Status                *string          `json:"status" validate:"omitempty,oneof=active inactive"`
	StartsAt              *string          `json:"starts_at"`
	EndsAt                *string          `json:"ends_at"`
	UsageLimit            *int             `json:"usage_limit" validate:"omitempty,gt=0"`
	UsageLimitPerCustomer *int             `json:"usage_limit_per_customer" validate:"omitempty,gt=0"`
	BuyQuantity           *int             `json:"buy_quantity" validate:"omitempty,gt=0"`
	GetQuantity           *int             `json:"get_quantity" validate:"omitempty,gt=0"`
	GetDiscountType       *string          `json:"get_discount_type" validate:"omitempty,oneof=free percentage"`
	GetDiscountValue      *decimal.Decimal `json:"get_discount_value"`
}

// CartItemRequest is one cart line inside an evaluate or redeem request.
type CartItemRequest struct {
	ProductID  string          `json:"product_id" validate:"required"`
	VariantID  string          `json:"variant_id"`
	Quantity   int             `json:"quantity" validate:"required,gt=0"`
	Price      decimal.Decimal `json:"price"`
	CategoryID string          `json:"category_id"`
}

// EvaluateDiscountRequest is the JSON request body for evaluating a code.
type EvaluateDiscountRequest struct {
	Code         string            `json:"code" validate:"required,max=64"`
	CustomerID   string            `json:"customer_id" validate:"omitempty,uuid"`
	Items        []CartItemRequest `json:"items" validate:"required,min=1,dive"`
	Subtotal     decimal.Decimal   `json:"subtotal"`
	ShippingCost decimal.Decimal   `json:"shipping_cost"`
}

// RedeemDiscountRequest is the JSON request body for redeeming a code.
type RedeemDiscountRequest struct {
	Code         string            `json:"code" validate:"required,max=64"`
	CustomerID   string            `json:"customer_id" validate:"omitempty,uuid"`
	OrderID      string            `json:"order_id" validate:"omitempty,uuid"`
	Items        []CartItemRequest `json:"items" validate:"required,min=1,dive"`
	Subtotal     decimal.Decimal   `json:"subtotal"`
	ShippingCost decimal.Decimal   `json:"shipping_cost"`
}

// --- Response DTOs ---

// AppliedDiscount describes the applied discount inside an evaluation response.
type AppliedDiscount struct {
	ID            string                `json:"id"`
	Code          string                `json:"code"`
	Kind          string                `json:"kind"`
	Amount        decimal.Decimal       `json:"amount"`
	AffectedItems []domain.AffectedItem `json:"affected_items"`
	FreeShipping  bool                  `json:"free_shipping"`
}

// EvaluationResponse is the JSON body returned by evaluate and redeem.
type EvaluationResponse struct {
	Valid     bool              `json:"valid"`
	Discount  *AppliedDiscount  `json:"discount,omitempty"`
	Rejection *domain.Rejection `json:"rejection,omitempty"`
}

func newEvaluationResponse(result *domain.EvaluationResult, d *domain.Discount) EvaluationResponse {
	resp := EvaluationResponse{Valid: result.Valid, Rejection: result.Rejection}
	if result.Valid && d != nil {
		resp.Discount = &AppliedDiscount{
			ID:            d.ID,
			Code:          d.Code,
			Kind:          d.Kind,
			Amount:        result.DiscountAmount,
			AffectedItems: result.AffectedItems,
			FreeShipping:  result.FreeShipping,
		}
	}
	return resp
}

// --- Handlers ---

// CreateDiscount handles POST /api/v1/discounts
func (h *DiscountHandler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	storeID, ok := storeIDFromContext(r.Context())
	if !ok {
		h.writeMissingStore(w)
		return
	}

	var req CreateDiscountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	input := &service.CreateDiscountInput{
		StoreID:               storeID,
		Code:                  req.Code,
		Name:                  req.Name,
		Kind:                  req.Kind,
		Value:                 req.Value,
		MaxDiscountAmount:     req.MaxDiscountAmount,
		AppliesTo:             req.AppliesTo,
		ProductIDs:            req.ProductIDs,
		CategoryIDs:           req.CategoryIDs,
		CustomerIDs:           req.CustomerIDs,
		MinimumType:           req.MinimumType,
		MinimumValue:          req.MinimumValue,
		UsageLimit:            req.UsageLimit,
		UsageLimitPerCustomer: req.UsageLimitPerCustomer,
		BuyQuantity:           req.BuyQuantity,
		GetQuantity:           req.GetQuantity,
		GetDiscountType:       req.GetDiscountType,
		GetDiscountValue:      req.GetDiscountValue,
	}

	if input.StartsAt, ok = h.parseTimePtr(w, req.StartsAt, "starts_at"); !ok {
		return
	}
	if input.EndsAt, ok = h.parseTimePtr(w, req.EndsAt, "ends_at"); !ok {
		return
	}

	d, err := h.service.CreateDiscount(r.Context(), input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: d})
}

// ListDiscounts handles GET /api/v1/discounts
func (h *DiscountHandler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	storeID, ok := storeIDFromContext(r.Context())
	if !ok {
		h.writeMissingStore(w)
		return
	}

	params := pagination.FromRequest(r)
	filter := repository.DiscountFilter{
		Page:    params.Page,
		PerPage: params.PerPage,
	}

	if v := r.URL.Query().Get("status"); v != "" {
		filter.Status = &v
	}
	if v := r.URL.Query().Get("kind"); v != "" {
		filter.Kind = &v
	}

	discounts, total, err := h.service.ListDiscounts(r.Context(), storeID, filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(discounts, total, params.Page, params.PerPage))
}

// GetDiscount handles GET /api/v1/discounts/{id}
func (h *DiscountHandler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	d, err := h.service.GetDiscount(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: d})
}

// GetDiscountByCode handles GET /api/v1/discounts/code/{code}
func (h *DiscountHandler) GetDiscountByCode(w http.ResponseWriter, r *http.Request) {
	storeID, ok := storeIDFromContext(r.Context())
	if !ok {
		h.writeMissingStore(w)
		return
	}

	code := chi.URLParam(r, "code")
	if code == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "discount code is required"},
		})
		return
	}

	d, err := h.service.GetDiscountByCode(r.Context(), storeID, code)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: d})
}

// UpdateDiscount handles PUT /api/v1/discounts/{id}
func (h *DiscountHandler) UpdateDiscount(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req UpdateDiscountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	input := &service.UpdateDiscountInput{
		Code:                  req.Code,
		Name:                  req.Name,
		Value:                 req.Value,
		MaxDiscountAmount:     req.MaxDiscountAmount,
		AppliesTo:             req.AppliesTo,
		ProductIDs:            req.ProductIDs,
		CategoryIDs:           req.CategoryIDs,
		CustomerIDs:           req.CustomerIDs,
		MinimumType:           req.MinimumType,
		MinimumValue:          req.MinimumValue,
		Status:                req.Status,
		UsageLimit:            req.UsageLimit,
		UsageLimitPerCustomer: req.UsageLimitPerCustomer,
		BuyQuantity:           req.BuyQuantity,
		GetQuantity:           req.GetQuantity,
		GetDiscountType:       req.GetDiscountType,
		GetDiscountValue:      req.GetDiscountValue,
	}

	if input.StartsAt, ok = h.parseTimePtr(w, req.StartsAt, "starts_at"); !ok {
		return
	}
	if input.EndsAt, ok = h.parseTimePtr(w, req.EndsAt, "ends_at"); !ok {
		return
	}

	d, err := h.service.UpdateDiscount(r.Context(), id.String(), input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: d})
}

// DeactivateDiscount handles POST /api/v1/discounts/{id}/deactivate
func (h *DiscountHandler) DeactivateDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	d, err := h.service.DeactivateDiscount(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: d})
}

// EvaluateDiscount handles POST /api/v1/discounts/evaluate
func (h *DiscountHandler) EvaluateDiscount(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	storeID, ok := storeIDFromContext(r.Context())
	if !ok {
		h.writeMissingStore(w)
		return
	}

	var req EvaluateDiscountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	cart := toCartSnapshot(req.Items, req.Subtotal, req.ShippingCost)
	customer := domain.CustomerContext{CustomerID: req.CustomerID}

	result, d, err := h.service.EvaluateCode(r.Context(), storeID, req.Code, cart, customer)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, newEvaluationResponse(result, d))
}

// RedeemDiscount handles POST /api/v1/discounts/redeem
func (h *DiscountHandler) RedeemDiscount(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	storeID, ok := storeIDFromContext(r.Context())
	if !ok {
		h.writeMissingStore(w)
		return
	}

	var req RedeemDiscountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	cart := toCartSnapshot(req.Items, req.Subtotal, req.ShippingCost)

	result, err := h.service.RedeemCode(r.Context(), &service.RedeemInput{
		StoreID:  storeID,
		Code:     req.Code,
		OrderID:  req.OrderID,
		Cart:     cart,
		Customer: domain.CustomerContext{CustomerID: req.CustomerID},
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	// The redeem response reuses the evaluation shape; on success the
	// service has already advanced the counters.
	var applied *domain.Discount
	if result.Valid {
		applied, err = h.service.GetDiscountByCode(r.Context(), storeID, req.Code)
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
	}

	httputil.WriteJSON(w, http.StatusOK, newEvaluationResponse(result, applied))
}

// --- Helpers ---

func toCartSnapshot(items []CartItemRequest, subtotal, shippingCost decimal.Decimal) *domain.CartSnapshot {
	cart := &domain.CartSnapshot{
		Items:        make([]domain.CartItem, 0, len(items)),
		Subtotal:     subtotal,
		ShippingCost: shippingCost,
	}
	for _, item := range items {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:  item.ProductID,
			VariantID:  item.VariantID,
			Quantity:   item.Quantity,
			Price:      item.Price,
			CategoryID: item.CategoryID,
		})
	}
	return cart
}

func (h *DiscountHandler) parseTimePtr(w http.ResponseWriter, value *string, field string) (*time.Time, bool) {
	if value == nil {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, *value)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: field + " must be in RFC3339 format"},
		})
		return nil, false
	}
	return &t, true
}

func (h *DiscountHandler) writeMissingStore(w http.ResponseWriter) {
	httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
		Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "X-Store-ID header is required"},
	})
}
