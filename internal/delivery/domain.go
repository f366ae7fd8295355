// Package delivery closes the repair lifecycle: ready orders are manifested on challans and an order
// counts as delivered once its challan is marked complete.
package delivery

import (
	"time"

	"github.com/odyssey-erp/repairflow/internal/work"
)

// ChallanType is how the devices on a challan leave the shop.
type ChallanType string

const (
	ChallanCustomerPickup   ChallanType = "customer_pickup"
	ChallanCourierDelivery  ChallanType = "courier_delivery"
	ChallanEmployeeDelivery ChallanType = "employee_delivery"
	ChallanVehicleDelivery  ChallanType = "vehicle_delivery"
)

// IsValid checks if the type is known.
func (t ChallanType) IsValid() bool {
	switch t {
	case ChallanCustomerPickup, ChallanCourierDelivery, ChallanEmployeeDelivery, ChallanVehicleDelivery:
		return true
	default:
		return false
	}
}

// recipientField names the one recipient column a challan of this type carries.
func (t ChallanType) recipientField() string {
	switch t {
	case ChallanCustomerPickup:
		return "customer_uuid"
	case ChallanCourierDelivery:
		return "courier_uuid"
	case ChallanEmployeeDelivery:
		return "employee_uuid"
	case ChallanVehicleDelivery:
		return "vehicle_uuid"
	}
	return ""
}

// PaymentMethod records how the bill is settled on hand-over.
type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentDue  PaymentMethod = "due"
)

// IsValid checks if the payment method is known.
func (p PaymentMethod) IsValid() bool {
	return p == PaymentCash || p == PaymentDue
}

// Challan is a delivery manifest.
type Challan struct {
	ID                 int64         `json:"-"`
	UUID               string        `json:"uuid"`
	Type               ChallanType   `json:"challan_type"`
	CustomerUUID       *string       `json:"customer_uuid,omitempty"`
	EmployeeUUID       *string       `json:"employee_uuid,omitempty"`
	CourierUUID        *string       `json:"courier_uuid,omitempty"`
	VehicleUUID        *string       `json:"vehicle_uuid,omitempty"`
	PaymentMethod      PaymentMethod `json:"payment_method"`
	IsDeliveryComplete bool          `json:"is_delivery_complete"`
	DeliveryDate       *time.Time    `json:"delivery_date,omitempty"`
	CreatedBy          string        `json:"created_by,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	Entries            []Entry       `json:"entries"`
}

// Recipient returns the set recipient UUID, whichever column holds it.
func (c Challan) Recipient() string {
	for _, v := range []*string{c.CustomerUUID, c.EmployeeUUID, c.CourierUUID, c.VehicleUUID} {
		if v != nil {
			return *v
		}
	}
	return ""
}

// Entry places one order on a challan.
type Entry struct {
	UUID        string    `json:"uuid"`
	ChallanUUID string    `json:"challan_uuid"`
	OrderUUID   string    `json:"order_uuid"`
	CreatedAt   time.Time `json:"created_at"`
}

// OrderRef is the slice of an order the delivery side needs.
type OrderRef struct {
	ID       int64       `json:"-"`
	UUID     string      `json:"uuid"`
	SerialNo string      `json:"serial_no"`
	Status   work.Status `json:"status"`
	// ChallanUUID is the challan the order is manifested on, empty when none.
	ChallanUUID string    `json:"challan_uuid,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Manifested reports whether the order already sits on a challan.
func (o OrderRef) Manifested() bool {
	return o.ChallanUUID != ""
}
