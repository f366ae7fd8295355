package delivery

import (
	"github.com/odyssey-erp/repairflow/internal/shared"
)

// ValidateCreateChallan checks the type, payment method and that exactly the recipient the type calls
// for is set.
func ValidateCreateChallan(in CreateChallanInput) error {
	fields := shared.ValidationErrors{}
	if !in.Type.IsValid() {
		fields["challan_type"] = "must be one of customer_pickup, courier_delivery, employee_delivery, vehicle_delivery"
	}
	if !in.PaymentMethod.IsValid() {
		fields["payment_method"] = "must be cash or due"
	}
	recipients := map[string]*string{
		"customer_uuid": in.CustomerUUID,
		"employee_uuid": in.EmployeeUUID,
		"courier_uuid":  in.CourierUUID,
		"vehicle_uuid":  in.VehicleUUID,
	}
	if want := in.Type.recipientField(); want != "" {
		for field, v := range recipients {
			set := v != nil && *v != ""
			switch {
			case field == want && !set:
				fields[field] = "is required for " + string(in.Type)
			case field != want && set:
				fields[field] = "must be empty for " + string(in.Type)
			}
		}
	}
	if len(fields) > 0 {
		return fields
	}
	return nil
}
