// Package handler содержит HTTP-обработчики API сервиса маркетплейса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace/internal/marketplace"
	"github.com/mmeshcher/marketplace/internal/metrics"
	"github.com/mmeshcher/marketplace/internal/middleware"
	"github.com/mmeshcher/marketplace/internal/model"
)

// Marketplace определяет контракт ядра маркетплейса, используемый HTTP-обработчиками.
type Marketplace interface {
	CreateProduct(ctx context.Context, name string, price uint64, status model.ProductStatus) (int, error)
	ListProducts() []model.Product
	RegisterUser(ctx context.Context, id model.Identity, name, email string) error
	GetUserInfo(id model.Identity) model.UserProfile
	BalanceOf(id model.Identity) uint64
	TransferEther(ctx context.Context, from, to model.Identity, amount uint64) error
}

// Handler реализует HTTP-обработчики API сервиса маркетплейса.
type Handler struct {
	market         Marketplace
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        *metrics.Metrics
	limiter        *middleware.RateLimiter
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// metrics и limiter могут быть nil.
func NewHandler(m Marketplace, logger *zap.Logger, auth *middleware.AuthMiddleware, mt *metrics.Metrics, limiter *middleware.RateLimiter) *Handler {
	return &Handler{
		market:         m,
		logger:         logger,
		authMiddleware: auth,
		metrics:        mt,
		limiter:        limiter,
	}
}

const (
	opCreateProduct = "create_product"
	opRegisterUser  = "register_user"
	opTransfer      = "transfer"
)

func (h *Handler) fail(w http.ResponseWriter, op string, err error, fields ...zap.Field) {
	var (
		status int
		reason string
	)
	switch {
	case errors.Is(err, marketplace.ErrInvalidIdentity):
		status, reason = http.StatusBadRequest, "invalid_identity"
	case errors.Is(err, marketplace.ErrValidation):
		status, reason = http.StatusUnprocessableEntity, "validation"
	case errors.Is(err, marketplace.ErrAlreadyRegistered):
		status, reason = http.StatusConflict, "already_registered"
	case errors.Is(err, marketplace.ErrInsufficientBalance):
		status, reason = http.StatusPaymentRequired, "insufficient_balance"
	default:
		status, reason = http.StatusInternalServerError, "internal"
		h.logger.Error(op+" error", append(fields, zap.Error(err))...)
	}

	if h.metrics != nil {
		h.metrics.ObserveFailure(op, reason)
	}
	http.Error(w, http.StatusText(status), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response error", zap.Error(err))
	}
}

func parseAmount(n json.Number) (uint64, error) {
	v, err := strconv.ParseUint(n.String(), 10, 64)
	if err != nil {
		return 0, errors.Join(marketplace.ErrValidation, err)
	}
	return v, nil
}

func caller(r *http.Request) (model.Identity, bool) {
	return middleware.CallerFromContext(r.Context())
}

type createProductRequest struct {
	Name   string      `json:"name"`
	Price  json.Number `json:"price"`
	Status string      `json:"status"`
}

type createProductResponse struct {
	Index int `json:"index"`
}

// CreateProduct добавляет товар в каталог.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(r); !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	price, err := parseAmount(req.Price)
	if err != nil {
		h.fail(w, opCreateProduct, err)
		return
	}
	status, err := model.ParseProductStatus(req.Status)
	if err != nil {
		h.fail(w, opCreateProduct, errors.Join(marketplace.ErrValidation, err))
		return
	}

	index, err := h.market.CreateProduct(r.Context(), req.Name, price, status)
	if err != nil {
		h.fail(w, opCreateProduct, err, zap.String("name", req.Name))
		return
	}

	h.writeJSON(w, http.StatusCreated, createProductResponse{Index: index})
}

type productResponse struct {
	Index int `json:"index"`
	model.Product
}

// ListProducts возвращает все товары каталога в порядке добавления.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products := h.market.ListProducts()

	resp := make([]productResponse, 0, len(products))
	for i, p := range products {
		resp = append(resp, productResponse{Index: i, Product: p})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type registerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RegisterUser регистрирует профиль текущего вызывающего.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.market.RegisterUser(r.Context(), id, req.Name, req.Email); err != nil {
		h.fail(w, opRegisterUser, err, zap.Stringer("identity", id))
		return
	}

	w.WriteHeader(http.StatusOK)
}

type userResponse struct {
	Identity model.Identity `json:"identity"`
	model.UserProfile
}

// GetUserInfo возвращает профиль пользователя; для незарегистрированного пустой профиль.
func (h *Handler) GetUserInfo(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseIdentity(chi.URLParam(r, "identity"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusOK, userResponse{Identity: id, UserProfile: h.market.GetUserInfo(id)})
}

type balanceResponse struct {
	Identity model.Identity `json:"identity"`
	Balance  uint64         `json:"balance"`
}

// GetBalance возвращает баланс счёта из пути запроса.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseIdentity(chi.URLParam(r, "identity"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{Identity: id, Balance: h.market.BalanceOf(id)})
}

// GetOwnBalance возвращает баланс текущего вызывающего.
func (h *Handler) GetOwnBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{Identity: id, Balance: h.market.BalanceOf(id)})
}

type transferRequest struct {
	To     string      `json:"to"`
	Amount json.Number `json:"amount"`
}

// Transfer переводит средства со счёта текущего вызывающего.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	to, err := model.ParseIdentity(req.To)
	if err != nil {
		h.fail(w, opTransfer, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.fail(w, opTransfer, err)
		return
	}

	if err := h.market.TransferEther(r.Context(), from, to, amount); err != nil {
		h.fail(w, opTransfer, err,
			zap.Stringer("from", from), zap.Stringer("to", to), zap.Uint64("amount", amount))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Health сообщает о готовности сервиса.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
