package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"orderpipe/internal/domain/event"
	"orderpipe/internal/domain/order"
	"orderpipe/internal/domain/outbox"
	"orderpipe/internal/infrastructure/postgres"

	"github.com/google/uuid"
)

const producerName = "order-service"

type CreateOrder struct {
	txManager  postgres.Transactor
	orderRepo  *postgres.OrderRepository
	outboxRepo *postgres.OutboxRepository
}

func NewCreateOrder(
	txManager postgres.Transactor,
	orderRepo *postgres.OrderRepository,
	outboxRepo *postgres.OutboxRepository,
) *CreateOrder {
	return &CreateOrder{
		txManager:  txManager,
		orderRepo:  orderRepo,
		outboxRepo: outboxRepo,
	}
}

type CreateOrderParams struct {
	UserID string `json:"user_id"`
	Item   string `json:"item"`
	Amount int64  `json:"amount"`
}

// Execute commits the order row and its pending event as one atomic unit.
// The relay publishes the event afterwards; a crash in between leaves the
// pending row behind, never a state change without an event.
func (uc *CreateOrder) Execute(ctx context.Context, params CreateOrderParams) (string, error) {
	now := time.Now().UTC()
	newOrder := &order.Order{
		ID:        uuid.New().String(),
		UserID:    params.UserID,
		Item:      params.Item,
		Amount:    params.Amount,
		Status:    order.StatusCreated,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	payload, err := json.Marshal(event.OrderCreated{
		OrderID:   newOrder.ID,
		UserID:    newOrder.UserID,
		Item:      newOrder.Item,
		Amount:    newOrder.Amount,
		CreatedAt: newOrder.CreatedAt,
	})
	if err != nil {
		return "", fmt.Errorf("marshal order payload: %w", err)
	}

	outboxEvent := &outbox.Event{
		// Derived from the change identity: a republish after crash reuses
		// this exact ID.
		ID:           event.DeterministicID("order:"+newOrder.ID, newOrder.Version),
		EventType:    event.TypeOrderCreated,
		PartitionKey: newOrder.ID,
		Payload:      payload,
		Status:       outbox.StatusNew,
		Producer:     producerName,
		CreatedAt:    now,
	}

	err = uc.txManager.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := uc.orderRepo.Create(txCtx, newOrder); err != nil {
			return err
		}
		return uc.outboxRepo.Create(txCtx, outboxEvent)
	})
	if err != nil {
		return "", fmt.Errorf("transaction failed: %w", err)
	}

	return newOrder.ID, nil
}
