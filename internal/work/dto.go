package work

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/repairflow/internal/catalog"
	"github.com/odyssey-erp/repairflow/internal/location"
)

// CreateOrderInput books a device in.
type CreateOrderInput struct {
	SerialNo         string         `json:"serial_no" validate:"required,max=100"`
	ProblemsUUID     []string       `json:"problems_uuid" validate:"dive,uuid"`
	ProblemStatement string         `json:"problem_statement" validate:"max=2000"`
	Accessories      []string       `json:"accessories" validate:"dive,uuid"`
	Quantity         int            `json:"quantity" validate:"gte=0"`
	IsDiagnosisNeed  bool           `json:"is_diagnosis_need"`
	Location         location.Chain `json:"location"`
	Actor            string         `json:"-"`
}

// DiagnosisInput opens a diagnosis.
type DiagnosisInput struct {
	OrderUUID        string           `json:"-"`
	EngineerUUID     string           `json:"engineer_uuid" validate:"omitempty,uuid"`
	ProblemsUUID     []string         `json:"problems_uuid" validate:"dive,uuid"`
	ProblemStatement string           `json:"problem_statement" validate:"max=2000"`
	ProposedCost     *decimal.Decimal `json:"proposed_cost"`
	Actor            string           `json:"-"`
}

// DecisionInput decides a diagnosis.
type DecisionInput struct {
	DiagnosisUUID     string           `json:"-"`
	Status            DiagnosisStatus  `json:"status" validate:"required,oneof=accepted rejected not_repairable"`
	IsProceedToRepair bool             `json:"is_proceed_to_repair"`
	ProposedCost      *decimal.Decimal `json:"proposed_cost"`
	Sections          []string         `json:"sections" validate:"dive,uuid"`
	Actor             string           `json:"-"`
}

// SectionsInput registers the repair sections that must hand over before QC.
type SectionsInput struct {
	DiagnosisUUID string   `json:"-"`
	Sections      []string `json:"sections" validate:"required,min=1,dive,uuid"`
	Actor         string   `json:"-"`
}

// ProcessStepInput reports a repair section's progress.
type ProcessStepInput struct {
	DiagnosisUUID    string         `json:"-"`
	SectionUUID      string         `json:"section_uuid" validate:"required,uuid"`
	EngineerUUID     string         `json:"engineer_uuid" validate:"omitempty,uuid"`
	ProblemsUUID     []string       `json:"problems_uuid" validate:"dive,uuid"`
	ProblemStatement string         `json:"problem_statement" validate:"max=2000"`
	Done             bool           `json:"status"`
	TransferredForQC bool           `json:"is_transferred_for_qc"`
	ReadyForDelivery bool           `json:"is_ready_for_delivery"`
	Location         location.Chain `json:"location"`
	Actor            string         `json:"-"`
}

// ProcessStepResult reports the stored process and whether the step completed the QC join.
type ProcessStepResult struct {
	Process          Process `json:"process"`
	Order            Order   `json:"order"`
	TransferredForQC bool    `json:"order_transferred_for_qc"`
}

// QCInput hands an order to QC.
type QCInput struct {
	OrderUUID    string   `json:"-"`
	ProblemsUUID []string `json:"problems_uuid" validate:"dive,uuid"`
	Actor        string   `json:"-"`
}

// ReadyInput signs an order off QC with its bill.
type ReadyInput struct {
	OrderUUID    string          `json:"-"`
	BillAmount   decimal.Decimal `json:"bill_amount"`
	ProblemsUUID []string        `json:"problems_uuid" validate:"dive,uuid"`
	Actor        string          `json:"-"`
}

// AttachInput names the diagnosis whose decision should be re-applied.
type AttachInput struct {
	DiagnosisUUID string `json:"diagnosis_uuid" validate:"required,uuid"`
}

// OrderDetail is an order with its derived flags and resolved names.
type OrderDetail struct {
	Order
	DisplayCode        string             `json:"display_code"`
	EffectiveStatus    Status             `json:"effective_status"`
	IsProceedToRepair  bool               `json:"is_proceed_to_repair"`
	IsTransferredForQC bool               `json:"is_transferred_for_qc"`
	IsReadyForDelivery bool               `json:"is_ready_for_delivery"`
	ProblemsByStage    map[Stage][]string `json:"problems_by_stage"`
	ProblemNames       catalog.Names      `json:"problem_names,omitempty"`
	AccessoryNames     catalog.Names      `json:"accessory_names,omitempty"`
}
