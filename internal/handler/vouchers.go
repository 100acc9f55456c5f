package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/rewards-engine/internal/apperr"
	"github.com/mmeshcher/rewards-engine/internal/model"
)

// ListVouchers возвращает каталог, опционально отфильтрованный по ?category=.
func (h *Handler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.service.ListVouchers(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if vouchers == nil {
		vouchers = []model.Voucher{}
	}
	h.writeJSON(w, http.StatusOK, vouchers)
}

// GetVoucher возвращает ваучер по идентификатору или коду.
func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.GetVoucher(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, v)
}

type wheelConfigResponse struct {
	NumSegments int `json:"numSegments"`
}

// GetWheelConfig возвращает число секторов колеса.
func (h *Handler) GetWheelConfig(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.WheelSegments(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wheelConfigResponse{NumSegments: n})
}

type wheelResponse struct {
	NumSegments int             `json:"numSegments"`
	Vouchers    []model.Voucher `json:"vouchers"`
}

// GetWheel возвращает ваучеры, которые сейчас могут выпасть на колесе.
func (h *Handler) GetWheel(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.WheelSegments(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	vouchers, err := h.service.Eligible(r.Context(), r.URL.Query().Get("category"), 0)
	if err != nil && !errors.Is(err, apperr.ErrNoEligibleVouchers) {
		h.writeError(w, r, err)
		return
	}
	if vouchers == nil {
		vouchers = []model.Voucher{}
	}

	h.writeJSON(w, http.StatusOK, wheelResponse{NumSegments: n, Vouchers: vouchers})
}

type spinRequest struct {
	Category string `json:"category" validate:"max=64"`
}

type spinResponse struct {
	Voucher    model.Voucher    `json:"voucher"`
	Allocation model.Allocation `json:"allocation"`
	Draw       string           `json:"draw"`
	Total      string           `json:"total"`
}

// Spin вращает колесо для текущего пользователя.
func (h *Handler) Spin(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req spinRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.Spin(r.Context(), userID, req.Category)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, spinResponse{
		Voucher:    res.Voucher,
		Allocation: res.Allocation,
		Draw:       res.Draw.String(),
		Total:      res.Total.String(),
	})
}

type claimRequest struct {
	VoucherID string `json:"voucherId" validate:"required,max=128"`
}

// Claim выдаёт текущему пользователю ваучер из обычного пула.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req claimRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.service.Claim(r.Context(), userID, req.VoucherID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, a)
}

type ownedVoucherResponse struct {
	model.Voucher
	AllocationID  int64    `json:"allocationId"`
	OwnedQuantity int64    `json:"ownedQuantity"`
	IsUsed        bool     `json:"isUsed"`
	Label         string   `json:"label,omitempty"`
	AssignedAt    string   `json:"assignedAt"`
	UsedAt        string   `json:"usedAt,omitempty"`
	Usages        []string `json:"usages"`
}

func newOwnedVoucherResponse(o model.OwnedVoucher) ownedVoucherResponse {
	resp := ownedVoucherResponse{
		Voucher:       o.Voucher,
		AllocationID:  o.Allocation.ID,
		OwnedQuantity: o.Allocation.Quantity,
		IsUsed:        o.Allocation.IsUsed,
		Label:         o.Allocation.Label,
		AssignedAt:    o.Allocation.AssignedAt.Format(time.RFC3339),
		Usages:        make([]string, 0, len(o.Usages)),
	}
	if o.Allocation.UsedAt != nil {
		resp.UsedAt = o.Allocation.UsedAt.Format(time.RFC3339)
	}
	for _, u := range o.Usages {
		resp.Usages = append(resp.Usages, u.Format(time.RFC3339))
	}
	return resp
}

// ListMine возвращает ваучеры текущего пользователя.
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	owned, err := h.service.ListOwned(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(owned) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]ownedVoucherResponse, 0, len(owned))
	for _, o := range owned {
		resp = append(resp, newOwnedVoucherResponse(o))
	}

	h.writeJSON(w, http.StatusOK, resp)
}
