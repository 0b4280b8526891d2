package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"orderpipe/internal/infrastructure/postgres"
	"orderpipe/internal/usecase"

	"github.com/go-chi/chi/v5"
)

type Handlers struct {
	createOrderUC  *usecase.CreateOrder
	getOrderUC     *usecase.GetOrder
	updateStatusUC *usecase.UpdateOrderStatus
}

func NewHandlers(createOrderUC *usecase.CreateOrder, getOrderUC *usecase.GetOrder, updateStatusUC *usecase.UpdateOrderStatus) *Handlers {
	return &Handlers{
		createOrderUC:  createOrderUC,
		getOrderUC:     getOrderUC,
		updateStatusUC: updateStatusUC,
	}
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Item   string `json:"item"`
		Amount int64  `json:"amount"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Item == "" {
		http.Error(w, "user_id and item are required", http.StatusBadRequest)
		return
	}

	id, err := h.createOrderUC.Execute(r.Context(), usecase.CreateOrderParams{
		UserID: req.UserID,
		Item:   req.Item,
		Amount: req.Amount,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"status":   "CREATED",
		"order_id": id,
	})
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "missing order id", http.StatusBadRequest)
		return
	}

	order, err := h.getOrderUC.Execute(r.Context(), id)
	if err != nil {
		if errors.Is(err, postgres.ErrOrderNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	json.NewEncoder(w).Encode(order)
}

func (h *Handlers) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "missing order id", http.StatusBadRequest)
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Status == "" {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}

	err := h.updateStatusUC.Execute(r.Context(), usecase.UpdateOrderStatusParams{
		OrderID: id,
		Status:  req.Status,
	})
	if err != nil {
		if errors.Is(err, postgres.ErrOrderNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"order_id": id,
		"status":   req.Status,
	})
}
