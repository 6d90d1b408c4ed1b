// Package catalogv1 описывает gRPC API каталога: сообщения, кодек и сервис.
package catalogv1

import "time"

// Product — версия товара. Цена передаётся десятичной строкой.
type Product struct {
	ProductID int64     `json:"product_id"`
	Version   int32     `json:"version"`
	Name      string    `json:"name"`
	Price     string    `json:"price"`
	IsLatest  bool      `json:"is_latest"`
	CreatedAt time.Time `json:"created_at"`
}

// Order — заказ с закреплёнными версиями и стоимостью на момент размещения.
type Order struct {
	OrderID      int64     `json:"order_id"`
	BuyerEmailID string    `json:"buyer_email_id"`
	OrderTime    time.Time `json:"order_time"`
	Products     []Product `json:"products"`
	Cost         string    `json:"cost"`
}

type CreateProductRequest struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

type CreateProductResponse struct {
	Product Product `json:"product"`
}

type UpdateProductRequest struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     string `json:"price"`
}

type UpdateProductResponse struct {
	Product Product `json:"product"`
}

type GetProductRequest struct {
	ProductID int64 `json:"product_id"`
}

type GetProductResponse struct {
	Product Product `json:"product"`
}

type ListProductsRequest struct{}

type ListProductsResponse struct {
	Products []Product `json:"products"`
}

type GetProductVersionRequest struct {
	ProductID int64 `json:"product_id"`
	Version   int32 `json:"version"`
}

type GetProductVersionResponse struct {
	Product Product `json:"product"`
}

// PlaceOrderRequest — пустое OrderTime означает текущее время сервера.
type PlaceOrderRequest struct {
	BuyerEmailID string     `json:"buyer_email_id"`
	ProductIDs   []int64    `json:"product_ids"`
	OrderTime    *time.Time `json:"order_time,omitempty"`
}

type PlaceOrderResponse struct {
	Order Order `json:"order"`
}

type GetOrderRequest struct {
	OrderID int64 `json:"order_id"`
}

type GetOrderResponse struct {
	Order Order `json:"order"`
}

// ListOrdersRequest выбирает заказы с OrderTime в [Start, End].
type ListOrdersRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type ListOrdersResponse struct {
	Orders []Order `json:"orders"`
}

type RecalculateOrderRequest struct {
	OrderID int64 `json:"order_id"`
}

// RecalculateOrderResponse — стоимость заказа по текущим ценам; заказ не меняется.
type RecalculateOrderResponse struct {
	OrderID int64  `json:"order_id"`
	Cost    string `json:"cost"`
}
