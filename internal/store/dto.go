package store

import "github.com/shopspring/decimal"

// TransferInput records a new transfer.
type TransferInput struct {
	ProductUUID    string          `json:"product_uuid" validate:"required,uuid"`
	WarehouseUUID  string          `json:"warehouse_uuid" validate:"required,uuid"`
	OrderUUID      string          `json:"order_uuid" validate:"required,uuid"`
	Quantity       decimal.Decimal `json:"quantity"`
	Remarks        string          `json:"remarks" validate:"max=500"`
	Override       bool            `json:"override"`
	IdempotencyKey string          `json:"-"`
	Actor          string          `json:"-"`
}

// UpdateTransferInput changes the quantity of a transfer.
type UpdateTransferInput struct {
	TransferUUID string          `json:"-"`
	Quantity     decimal.Decimal `json:"quantity"`
	Override     bool            `json:"override"`
	Actor        string          `json:"-"`
}
