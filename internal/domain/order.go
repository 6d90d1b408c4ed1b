package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Order — размещённый заказ. Создаётся один раз и больше не изменяется.
type Order struct {
	ID           int64
	BuyerEmailID string
	OrderTime    time.Time
}

// OrderProductPin фиксирует версию товара, которая была последней в момент размещения заказа.
type OrderProductPin struct {
	OrderID   int64
	ProductID int64
	Version   int
}

// Key возвращает ссылку на закреплённую версию.
func (p OrderProductPin) Key() VersionKey {
	return VersionKey{ProductID: p.ProductID, Version: p.Version}
}

// OrderView — собранное представление заказа со снимками товаров и стоимостью.
type OrderView struct {
	Order
	Products []ProductVersion
	Cost     decimal.Decimal
}

// PlaceOrderRequest — входные данные для размещения заказа.
type PlaceOrderRequest struct {
	BuyerEmailID string
	ProductIDs   []int64
	OrderTime    time.Time
}

// Validate проверяет запрос без обращения к хранилищу.
func (r PlaceOrderRequest) Validate() error {
	if strings.TrimSpace(r.BuyerEmailID) == "" {
		return ErrBuyerEmailRequired
	}
	if r.OrderTime.IsZero() {
		return ErrOrderTimeRequired
	}
	if len(r.ProductIDs) == 0 {
		return ErrOrderProductsRequired
	}
	for _, id := range r.ProductIDs {
		if id <= 0 {
			return ErrProductIDInvalid
		}
	}
	return nil
}

// LockOrder возвращает уникальные идентификаторы товаров по возрастанию.
// В этом порядке товары блокируются при размещении заказа, поэтому два заказа
// с пересекающимися наборами не могут взять блокировки крест-накрест.
func (r PlaceOrderRequest) LockOrder() []int64 {
	ids := slices.Clone(r.ProductIDs)
	slices.Sort(ids)
	return slices.Compact(ids)
}

// SumPrices складывает цены версий.
func SumPrices(versions []ProductVersion) decimal.Decimal {
	total := decimal.Zero
	for _, v := range versions {
		total = total.Add(v.Price)
	}
	return total
}
