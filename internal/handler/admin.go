package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/rewards-engine/internal/model"
	"github.com/mmeshcher/rewards-engine/internal/service"
)

type createVoucherRequest struct {
	VoucherID   string           `json:"voucherId" validate:"max=128"`
	Description string           `json:"description" validate:"max=1000"`
	Discount    decimal.Decimal  `json:"discount"`
	Category    string           `json:"category" validate:"max=64"`
	Quantity    *int64           `json:"quantity" validate:"omitempty,min=0"`
	Probability *decimal.Decimal `json:"probability"`
	Image       string           `json:"image" validate:"max=512"`
	ExpiryDate  *time.Time       `json:"expiryDate"`
	IsActive    *bool            `json:"isActive"`
}

// CreateVoucher добавляет ваучер в каталог.
func (h *Handler) CreateVoucher(w http.ResponseWriter, r *http.Request) {
	var req createVoucherRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := service.VoucherInput{
		ID:          req.VoucherID,
		Description: req.Description,
		Discount:    req.Discount,
		Category:    req.Category,
		Quantity:    req.Quantity,
		Image:       req.Image,
		ExpiryDate:  req.ExpiryDate,
		IsActive:    req.IsActive,
	}
	if req.Probability != nil {
		in.Probability = decimal.NewNullDecimal(*req.Probability)
	}

	v, err := h.service.CreateVoucher(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, v)
}

type updateVoucherRequest struct {
	Description *string          `json:"description" validate:"omitempty,max=1000"`
	Discount    *decimal.Decimal `json:"discount"`
	Category    *string          `json:"category" validate:"omitempty,max=64"`
	Quantity    *int64           `json:"quantity" validate:"omitempty,min=0"`
	Probability *decimal.Decimal `json:"probability"`
	Image       *string          `json:"image" validate:"omitempty,max=512"`
	ExpiryDate  *time.Time       `json:"expiryDate"`
	IsActive    *bool            `json:"isActive"`
}

// UpdateVoucher частично изменяет ваучер по идентификатору или коду.
func (h *Handler) UpdateVoucher(w http.ResponseWriter, r *http.Request) {
	var req updateVoucherRequest
	if !h.decode(w, r, &req) {
		return
	}

	v, err := h.service.UpdateVoucher(r.Context(), chi.URLParam(r, "id"), service.VoucherPatch{
		Description: req.Description,
		Discount:    req.Discount,
		Category:    req.Category,
		Quantity:    req.Quantity,
		Probability: req.Probability,
		Image:       req.Image,
		ExpiryDate:  req.ExpiryDate,
		IsActive:    req.IsActive,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, v)
}

// DeleteVoucher удаляет ваучер вместе с записями владения.
func (h *Handler) DeleteVoucher(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteVoucher(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignRequest struct {
	Phone        string `json:"phone" validate:"required,max=32"`
	VoucherID    string `json:"voucherId" validate:"required,max=128"`
	Quantity     int64  `json:"quantity" validate:"omitempty,min=1"`
	CustomerName string `json:"customerName" validate:"max=128"`
}

type assignResponse struct {
	UserID      int64            `json:"userId"`
	Allocation  model.Allocation `json:"allocation"`
	Accumulated bool             `json:"accumulated"`
}

// Assign выдаёт ваучер пользователю по номеру телефона.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	res, err := h.service.Assign(r.Context(), service.AssignInput{
		Contact:   req.Phone,
		VoucherID: req.VoucherID,
		Quantity:  req.Quantity,
		Label:     req.CustomerName,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Accumulated {
		status = http.StatusOK
	}

	h.writeJSON(w, status, assignResponse{
		UserID:      res.UserID,
		Allocation:  res.Allocation,
		Accumulated: res.Accumulated,
	})
}

type consumeResponse struct {
	Allocation model.Allocation `json:"allocation"`
	Usage      model.UsageEvent `json:"usage"`
}

// Consume погашает одну единицу записи владения.
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	id, ok := h.allocationIDParam(w, r)
	if !ok {
		return
	}

	a, ev, err := h.service.Consume(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, consumeResponse{Allocation: *a, Usage: *ev})
}

// Unconsume снимает отметку использования с записи владения.
func (h *Handler) Unconsume(w http.ResponseWriter, r *http.Request) {
	id, ok := h.allocationIDParam(w, r)
	if !ok {
		return
	}

	a, err := h.service.Unconsume(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, a)
}

type wheelConfigRequest struct {
	NumSegments int `json:"numSegments" validate:"required,min=2,max=64"`
}

// UpdateWheelConfig сохраняет число секторов колеса.
func (h *Handler) UpdateWheelConfig(w http.ResponseWriter, r *http.Request) {
	var req wheelConfigRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.SetWheelSegments(r.Context(), req.NumSegments); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, wheelConfigResponse{NumSegments: req.NumSegments})
}
