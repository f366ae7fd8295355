// Package store keeps the parts ledger: product transfers issued to repair orders and the stock
// they draw from.
package store

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/repairflow/internal/shared"
)

// Transfer moves a quantity of a product out of a warehouse onto an order. Negative quantities
// are returns.
type Transfer struct {
	UUID          string          `json:"uuid"`
	ProductUUID   string          `json:"product_uuid"`
	WarehouseUUID string          `json:"warehouse_uuid"`
	OrderUUID     string          `json:"order_uuid"`
	Quantity      decimal.Decimal `json:"quantity"`
	Remarks       string          `json:"remarks,omitempty"`
	CreatedBy     string          `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Stock is the on-hand quantity of a product in a warehouse.
type Stock struct {
	ProductUUID   string          `json:"product_uuid"`
	WarehouseUUID string          `json:"warehouse_uuid"`
	Quantity      decimal.Decimal `json:"quantity"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TransferSummary is the net quantity of one product/warehouse pair issued to an order.
type TransferSummary struct {
	ProductUUID   string          `json:"product_uuid"`
	ProductName   string          `json:"product_name"`
	WarehouseUUID string          `json:"warehouse_uuid"`
	WarehouseName string          `json:"warehouse_name"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
}

// Cost is the billed value of the summary line.
func (s TransferSummary) Cost() decimal.Decimal {
	return s.Quantity.Mul(s.UnitPrice)
}

// TransferResult reports a stored transfer with the stock it left behind.
type TransferResult struct {
	Transfer Transfer `json:"transfer"`
	Stock    Stock    `json:"stock"`
	// MaxQuantity is the largest quantity this transfer could carry without overdrawing stock.
	MaxQuantity decimal.Decimal `json:"max_quantity"`
}

// ShortfallError reports a transfer that would overdraw stock.
type ShortfallError struct {
	ProductUUID   string
	WarehouseUUID string
	Available     decimal.Decimal
	Requested     decimal.Decimal
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("insufficient stock of product %s in warehouse %s: available %s, requested %s",
		e.ProductUUID, e.WarehouseUUID, e.Available, e.Requested)
}

// Unwrap lets errors.Is match shared.ErrInsufficientStock.
func (e *ShortfallError) Unwrap() error {
	return shared.ErrInsufficientStock
}
