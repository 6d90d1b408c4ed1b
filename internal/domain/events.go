package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ProductVersionCreatedPayload публикуется при создании товара и при каждом обновлении.
type ProductVersionCreatedPayload struct {
	ProductID int64           `json:"product_id"`
	Version   int             `json:"version"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
}

// PinnedProductPayload — закреплённая за заказом версия с ценой на момент размещения.
type PinnedProductPayload struct {
	ProductID int64           `json:"product_id"`
	Version   int             `json:"version"`
	Price     decimal.Decimal `json:"price"`
}

// OrderPlacedPayload публикуется при размещении заказа.
type OrderPlacedPayload struct {
	OrderID      int64                  `json:"order_id"`
	BuyerEmailID string                 `json:"buyer_email_id"`
	OrderTime    time.Time              `json:"order_time"`
	Products     []PinnedProductPayload `json:"products"`
	Cost         decimal.Decimal        `json:"cost"`
}

// ProductVersion восстанавливает снимок товара из события.
func (p ProductVersionCreatedPayload) ProductVersion() ProductVersion {
	return ProductVersion{
		ProductID: p.ProductID,
		Version:   p.Version,
		Name:      p.Name,
		Price:     p.Price,
		CreatedAt: p.CreatedAt,
	}
}

// NewProductVersionCreatedMessage строит outbox-сообщение для новой версии товара.
func NewProductVersionCreatedMessage(v ProductVersion) (OutboxMessage, error) {
	payload, err := json.Marshal(ProductVersionCreatedPayload{
		ProductID: v.ProductID,
		Version:   v.Version,
		Name:      v.Name,
		Price:     v.Price,
		CreatedAt: v.CreatedAt,
	})
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", EventProductVersionCreated, err)
	}
	return OutboxMessage{
		AggregateType: AggregateProduct,
		AggregateID:   strconv.FormatInt(v.ProductID, 10),
		EventType:     EventProductVersionCreated,
		Payload:       payload,
	}, nil
}

// NewOrderPlacedMessage строит outbox-сообщение для размещённого заказа.
func NewOrderPlacedMessage(view OrderView) (OutboxMessage, error) {
	products := make([]PinnedProductPayload, 0, len(view.Products))
	for _, p := range view.Products {
		products = append(products, PinnedProductPayload{ProductID: p.ProductID, Version: p.Version, Price: p.Price})
	}

	payload, err := json.Marshal(OrderPlacedPayload{
		OrderID:      view.ID,
		BuyerEmailID: view.BuyerEmailID,
		OrderTime:    view.OrderTime,
		Products:     products,
		Cost:         view.Cost,
	})
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", EventOrderPlaced, err)
	}
	return OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   strconv.FormatInt(view.ID, 10),
		EventType:     EventOrderPlaced,
		Payload:       payload,
	}, nil
}
