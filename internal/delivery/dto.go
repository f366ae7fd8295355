package delivery

// CreateChallanInput opens a challan.
type CreateChallanInput struct {
	Type          ChallanType   `json:"challan_type" validate:"required"`
	CustomerUUID  *string       `json:"customer_uuid" validate:"omitempty,uuid"`
	EmployeeUUID  *string       `json:"employee_uuid" validate:"omitempty,uuid"`
	CourierUUID   *string       `json:"courier_uuid" validate:"omitempty,uuid"`
	VehicleUUID   *string       `json:"vehicle_uuid" validate:"omitempty,uuid"`
	PaymentMethod PaymentMethod `json:"payment_method" validate:"required"`
	Actor         string        `json:"-"`
}

// AddOrderInput manifests an order on a challan.
type AddOrderInput struct {
	OrderUUID string `json:"order_uuid" validate:"required,uuid"`
}

// ChallanDetail is a challan with its display code.
type ChallanDetail struct {
	Challan
	DisplayCode string `json:"display_code"`
}

// CompleteResult reports the orders a completed challan delivered.
type CompleteResult struct {
	Challan   ChallanDetail `json:"challan"`
	Delivered []string      `json:"delivered"`
	// AlreadyComplete is set when the challan was closed by an earlier call.
	AlreadyComplete bool `json:"already_complete"`
}
