// Package work models the repair order lifecycle: intake, diagnosis, repair processes, QC and
// hand-off to delivery.
package work

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/repairflow/internal/location"
)

// Status is the stored lifecycle state of an order.
type Status string

const (
	StatusIntake           Status = "intake"
	StatusDiagnosisPending Status = "diagnosis_pending"
	StatusRepairInProgress Status = "repair_in_progress"
	StatusQCPending        Status = "qc_pending"
	StatusReadyForDelivery Status = "ready_for_delivery"
	StatusRejected         Status = "rejected"
	// StatusDelivered is never stored. It is derived from a completed challan.
	StatusDelivered Status = "delivered"
)

var statusRank = map[Status]int{
	StatusIntake:           0,
	StatusDiagnosisPending: 1,
	StatusRepairInProgress: 2,
	StatusQCPending:        3,
	StatusReadyForDelivery: 4,
	StatusDelivered:        5,
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	_, ok := statusRank[s]
	return ok || s == StatusRejected
}

// reached reports whether s is at or past target on the forward path. Rejected reaches nothing.
func (s Status) reached(target Status) bool {
	r, ok := statusRank[s]
	return ok && r >= statusRank[target]
}

// Stage tags where in the lifecycle a problem was observed.
type Stage string

const (
	StageIntake    Stage = "intake"
	StageDiagnosis Stage = "diagnosis"
	StageRepairing Stage = "repairing"
	StageQC        Stage = "qc"
	StageDelivery  Stage = "delivery"
)

// ProblemEntry is one problem code observed at a stage.
type ProblemEntry struct {
	Stage       Stage     `json:"stage"`
	ProblemUUID string    `json:"problem_uuid"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// ProblemLog is the append-only, stage-tagged problem history of an order.
type ProblemLog []ProblemEntry

// Stage returns the UUIDs recorded at stage in the order they were added.
func (l ProblemLog) Stage(stage Stage) []string {
	var out []string
	for _, e := range l {
		if e.Stage == stage {
			out = append(out, e.ProblemUUID)
		}
	}
	return out
}

// ByStage groups the log for presentation.
func (l ProblemLog) ByStage() map[Stage][]string {
	out := make(map[Stage][]string)
	for _, e := range l {
		out[e.Stage] = append(out[e.Stage], e.ProblemUUID)
	}
	return out
}

// UUIDs returns every distinct problem UUID in the log.
func (l ProblemLog) UUIDs() []string {
	ids := make([]string, 0, len(l))
	for _, e := range l {
		ids = append(ids, e.ProblemUUID)
	}
	return dedupe(ids)
}

// Add appends the UUIDs not yet recorded at stage and returns only the new entries.
func (l *ProblemLog) Add(stage Stage, uuids []string, at time.Time) []ProblemEntry {
	seen := make(map[string]struct{})
	for _, id := range l.Stage(stage) {
		seen[id] = struct{}{}
	}
	var added []ProblemEntry
	for _, id := range uuids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		entry := ProblemEntry{Stage: stage, ProblemUUID: id, RecordedAt: at}
		added = append(added, entry)
		*l = append(*l, entry)
	}
	return added
}

// Order is one device's repair job.
type Order struct {
	ID                   int64            `json:"-"`
	UUID                 string           `json:"uuid"`
	SerialNo             string           `json:"serial_no"`
	ProblemStatement     string           `json:"problem_statement"`
	Accessories          []string         `json:"accessories"`
	Quantity             int              `json:"quantity"`
	IsDiagnosisNeed      bool             `json:"is_diagnosis_need"`
	Status               Status           `json:"status"`
	Delivered            bool             `json:"delivered"`
	Location             location.Chain   `json:"location"`
	BillAmount           *decimal.Decimal `json:"bill_amount,omitempty"`
	ReadyForDeliveryDate *time.Time       `json:"ready_for_delivery_date,omitempty"`
	Problems             ProblemLog       `json:"-"`
	CreatedBy            string           `json:"created_by,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// EffectiveStatus folds the derived delivered state into Status.
func (o Order) EffectiveStatus() Status {
	if o.Delivered {
		return StatusDelivered
	}
	return o.Status
}

// IsProceedToRepair reports whether an accepted diagnosis has sent the order to repair.
func (o Order) IsProceedToRepair() bool {
	return o.IsDiagnosisNeed && o.EffectiveStatus().reached(StatusRepairInProgress)
}

// IsTransferredForQC reports whether the order has been handed to QC.
func (o Order) IsTransferredForQC() bool {
	return o.EffectiveStatus().reached(StatusQCPending)
}

// IsReadyForDelivery reports whether QC has passed the order.
func (o Order) IsReadyForDelivery() bool {
	return o.EffectiveStatus().reached(StatusReadyForDelivery)
}

// DiagnosisStatus is the decision recorded against a diagnosis.
type DiagnosisStatus string

const (
	DiagnosisPending       DiagnosisStatus = "pending"
	DiagnosisAccepted      DiagnosisStatus = "accepted"
	DiagnosisRejected      DiagnosisStatus = "rejected"
	DiagnosisNotRepairable DiagnosisStatus = "not_repairable"
)

// IsValid reports whether s is a known diagnosis status.
func (s DiagnosisStatus) IsValid() bool {
	switch s {
	case DiagnosisPending, DiagnosisAccepted, DiagnosisRejected, DiagnosisNotRepairable:
		return true
	}
	return false
}

// IsDeclined reports whether the customer or engineer closed the order out.
func (s DiagnosisStatus) IsDeclined() bool {
	return s == DiagnosisRejected || s == DiagnosisNotRepairable
}

// Diagnosis is an engineer's assessment of an order.
type Diagnosis struct {
	UUID              string           `json:"uuid"`
	OrderUUID         string           `json:"order_uuid"`
	EngineerUUID      string           `json:"engineer_uuid,omitempty"`
	ProblemsUUID      []string         `json:"problems_uuid"`
	ProblemStatement  string           `json:"problem_statement"`
	ProposedCost      *decimal.Decimal `json:"proposed_cost,omitempty"`
	Status            DiagnosisStatus  `json:"status"`
	IsProceedToRepair bool             `json:"is_proceed_to_repair"`
	StatusUpdateDate  *time.Time       `json:"status_update_date,omitempty"`
	CreatedBy         string           `json:"created_by,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// IsActive reports whether the diagnosis still awaits a final decision.
func (d Diagnosis) IsActive() bool {
	return d.Status == DiagnosisPending || (d.Status == DiagnosisAccepted && !d.IsProceedToRepair)
}

// Process is the work one repair section does on a diagnosed order.
type Process struct {
	UUID               string         `json:"uuid"`
	DiagnosisUUID      string         `json:"diagnosis_uuid"`
	OrderUUID          string         `json:"order_uuid"`
	SectionUUID        string         `json:"section_uuid"`
	EngineerUUID       string         `json:"engineer_uuid,omitempty"`
	ProblemsUUID       []string       `json:"problems_uuid"`
	ProblemStatement   string         `json:"problem_statement"`
	Status             bool           `json:"status"`
	IsTransferredForQC bool           `json:"is_transferred_for_qc"`
	IsReadyForDelivery bool           `json:"is_ready_for_delivery"`
	StatusUpdateDate   *time.Time     `json:"status_update_date,omitempty"`
	Location           location.Chain `json:"location"`
	CreatedBy          string         `json:"created_by,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// NotificationKind names a customer-facing event.
type NotificationKind string

const (
	NotifyDiagnosisDeclined NotificationKind = "diagnosis_declined"
	NotifyReadyForDelivery  NotificationKind = "ready_for_delivery"
)

// Notification is emitted after a committed transition the customer should hear about.
type Notification struct {
	Kind          NotificationKind `json:"kind"`
	OrderUUID     string           `json:"order_uuid"`
	DisplayCode   string           `json:"display_code"`
	SerialNo      string           `json:"serial_no"`
	DiagnosisUUID string           `json:"diagnosis_uuid,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	BillAmount    *decimal.Decimal `json:"bill_amount,omitempty"`
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
