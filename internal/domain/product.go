package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProductVersion — неизменяемый снимок названия и цены товара.
//
// Для одного ProductID версии образуют непрерывную последовательность 1..N,
// и ровно одна из них помечена IsLatest. Строки никогда не удаляются,
// меняется только флаг IsLatest при добавлении следующей версии.
type ProductVersion struct {
	ProductID int64
	Version   int
	Name      string
	Price     decimal.Decimal
	IsLatest  bool
	CreatedAt time.Time
}

// Цены хранятся как NUMERIC(19, 4): не больше PriceScale знаков после запятой.
const (
	PriceScale     = 4
	priceIntDigits = 15
)

var maxPrice = decimal.New(1, priceIntDigits)

// ProductDraft — данные для новой версии товара.
type ProductDraft struct {
	Name  string
	Price decimal.Decimal
}

// Normalize обрезает пробелы вокруг названия.
func (d ProductDraft) Normalize() ProductDraft {
	d.Name = strings.TrimSpace(d.Name)
	return d
}

// Validate проверяет название и цену черновика.
func (d ProductDraft) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrProductNameRequired
	}
	if d.Price.IsNegative() {
		return ErrProductPriceNegative
	}
	if !d.Price.Equal(d.Price.Round(PriceScale)) || d.Price.GreaterThanOrEqual(maxPrice) {
		return ErrProductPricePrecision
	}
	return nil
}

// Key возвращает ключ (productID, version), по которому на версию ссылаются заказы.
func (v ProductVersion) Key() VersionKey {
	return VersionKey{ProductID: v.ProductID, Version: v.Version}
}

// VersionKey — невладеющая ссылка на конкретную версию товара.
type VersionKey struct {
	ProductID int64
	Version   int
}
