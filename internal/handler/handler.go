// Package handler содержит HTTP-обработчики API сервиса ваучеров.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mmeshcher/rewards-engine/internal/apperr"
	"github.com/mmeshcher/rewards-engine/internal/middleware"
	"github.com/mmeshcher/rewards-engine/internal/model"
	"github.com/mmeshcher/rewards-engine/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Spin(ctx context.Context, userID int64, category string) (*service.SpinResult, error)
	Claim(ctx context.Context, userID int64, voucherID string) (*model.Allocation, error)
	Assign(ctx context.Context, in service.AssignInput) (*service.AssignResult, error)
	Consume(ctx context.Context, allocationID int64) (*model.Allocation, *model.UsageEvent, error)
	Unconsume(ctx context.Context, allocationID int64) (*model.Allocation, error)
	ListOwned(ctx context.Context, userID int64) ([]model.OwnedVoucher, error)
	Eligible(ctx context.Context, category string, userID int64) ([]model.Voucher, error)

	CreateVoucher(ctx context.Context, in service.VoucherInput) (*model.Voucher, error)
	UpdateVoucher(ctx context.Context, idOrCode string, p service.VoucherPatch) (*model.Voucher, error)
	DeleteVoucher(ctx context.Context, idOrCode string) error
	GetVoucher(ctx context.Context, idOrCode string) (*model.Voucher, error)
	ListVouchers(ctx context.Context, category string) ([]model.Voucher, error)
	WheelSegments(ctx context.Context) (int, error)
	SetWheelSegments(ctx context.Context, n int) error

	Ping(ctx context.Context) error
}

// Handler реализует HTTP-обработчики API сервиса ваучеров.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	validate       *validator.Validate
	gatherer       prometheus.Gatherer
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// gatherer может быть nil: тогда /metrics не публикуется.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, gatherer prometheus.Gatherer) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		gatherer:       gatherer,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encode response", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		h.logger.Debug("write response", zap.Error(err))
	}
}

// writeError переводит ошибку движка в HTTP-статус.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindInvalid:
		status = http.StatusBadRequest
	case apperr.KindUnavailable:
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err), zap.String("uri", r.RequestURI))
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}

	h.writeJSON(w, status, errorResponse{Error: apperr.CodeOf(err), Message: msg})
}

func (h *Handler) badRequest(w http.ResponseWriter, msg string) {
	h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: apperr.ErrInvalidInput.Code, Message: msg})
}

// decode читает JSON-тело в dst и проверяет его тегами validate.
// Пустое тело допустимо, если поля dst необязательны.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		h.badRequest(w, "malformed JSON body")
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" failed on "+fe.Tag())
			}
			h.badRequest(w, strings.Join(fields, "; "))
			return false
		}
		h.badRequest(w, err.Error())
		return false
	}

	return true
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return 0, false
	}
	return userID, true
}

func (h *Handler) allocationIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(w, "allocation id must be a positive integer")
		return 0, false
	}
	return id, true
}

// Ping сообщает о доступности хранилища.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
