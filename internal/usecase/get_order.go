package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"orderpipe/internal/infrastructure/postgres"

	"github.com/redis/go-redis/v9"
)

type OrderDTO struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Item      string    `json:"item"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type GetOrder struct {
	redisClient *redis.Client
	orderRepo   *postgres.OrderRepository
}

func NewGetOrder(redisClient *redis.Client, orderRepo *postgres.OrderRepository) *GetOrder {
	return &GetOrder{
		redisClient: redisClient,
		orderRepo:   orderRepo,
	}
}

func (uc *GetOrder) Execute(ctx context.Context, orderID string) (*OrderDTO, error) {
	cacheKey := fmt.Sprintf("order:%s", orderID)

	if uc.redisClient != nil {
		val, err := uc.redisClient.Get(ctx, cacheKey).Result()
		if err == nil {
			var dto OrderDTO
			if err := json.Unmarshal([]byte(val), &dto); err == nil {
				return &dto, nil
			}
		}
	}

	dbOrder, err := uc.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	dto := &OrderDTO{
		ID:        dbOrder.ID,
		UserID:    dbOrder.UserID,
		Item:      dbOrder.Item,
		Amount:    dbOrder.Amount,
		Status:    dbOrder.Status,
		Version:   dbOrder.Version,
		CreatedAt: dbOrder.CreatedAt,
		UpdatedAt: dbOrder.UpdatedAt,
	}

	if uc.redisClient != nil {
		data, _ := json.Marshal(dto)
		// Short TTL so status transitions show up quickly.
		uc.redisClient.Set(ctx, cacheKey, data, time.Second)
	}

	return dto, nil
}
