package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"orderpipe/internal/domain/event"
	"orderpipe/internal/domain/outbox"
	"orderpipe/internal/infrastructure/postgres"
)

type UpdateOrderStatus struct {
	txManager  postgres.Transactor
	orderRepo  *postgres.OrderRepository
	outboxRepo *postgres.OutboxRepository
}

func NewUpdateOrderStatus(
	txManager postgres.Transactor,
	orderRepo *postgres.OrderRepository,
	outboxRepo *postgres.OutboxRepository,
) *UpdateOrderStatus {
	return &UpdateOrderStatus{
		txManager:  txManager,
		orderRepo:  orderRepo,
		outboxRepo: outboxRepo,
	}
}

type UpdateOrderStatusParams struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// Execute transitions the order and commits the status-changed event in the
// same transaction. The bumped order version keys the deterministic event
// ID, so every distinct transition gets exactly one logical event.
func (uc *UpdateOrderStatus) Execute(ctx context.Context, params UpdateOrderStatusParams) error {
	return uc.txManager.WithinTransaction(ctx, func(txCtx context.Context) error {
		oldStatus, version, err := uc.orderRepo.UpdateStatus(txCtx, params.OrderID, params.Status)
		if err != nil {
			return err
		}

		payload, err := json.Marshal(event.OrderStatusChanged{
			OrderID:   params.OrderID,
			OldStatus: oldStatus,
			NewStatus: params.Status,
			Version:   version,
		})
		if err != nil {
			return fmt.Errorf("marshal status payload: %w", err)
		}

		return uc.outboxRepo.Create(txCtx, &outbox.Event{
			ID:           event.DeterministicID("order:"+params.OrderID, version),
			EventType:    event.TypeOrderStatusChanged,
			PartitionKey: params.OrderID,
			Payload:      payload,
			Status:       outbox.StatusNew,
			Producer:     producerName,
			CreatedAt:    time.Now().UTC(),
		})
	})
}
