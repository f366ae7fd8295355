package work

import (
	"fmt"

	"github.com/odyssey-erp/repairflow/internal/shared"
)

// Event drives an order from one status to the next.
type Event string

const (
	EventDiagnosisRecorded Event = "diagnosis_recorded"
	EventDiagnosisAccepted Event = "diagnosis_accepted"
	EventDiagnosisDeclined Event = "diagnosis_declined"
	EventRepairStarted     Event = "repair_started"
	EventTransferredForQC  Event = "transferred_for_qc"
	EventQCPassed          Event = "qc_passed"
	EventDelivered         Event = "delivered"
)

// transitions lists, per event, the status each allowed source status moves to.
var transitions = map[Event]map[Status]Status{
	EventDiagnosisRecorded: {StatusIntake: StatusDiagnosisPending},
	EventDiagnosisAccepted: {StatusDiagnosisPending: StatusRepairInProgress},
	EventDiagnosisDeclined: {StatusDiagnosisPending: StatusRejected},
	EventRepairStarted:     {StatusIntake: StatusRepairInProgress},
	EventTransferredForQC:  {StatusRepairInProgress: StatusQCPending},
	EventQCPassed:          {StatusQCPending: StatusReadyForDelivery},
	EventDelivered:         {StatusReadyForDelivery: StatusDelivered},
}

// Transition returns the status event leads to from status from.
func Transition(from Status, event Event) (Status, error) {
	edges, ok := transitions[event]
	if !ok {
		return from, fmt.Errorf("%w: unknown event %q", shared.ErrInvalidTransition, event)
	}
	to, ok := edges[from]
	if !ok {
		return from, fmt.Errorf("%w: %s not allowed from %s", shared.ErrInvalidTransition, event, from)
	}
	return to, nil
}

// apply moves the order along event, honouring whether it was booked for diagnosis.
func (o *Order) apply(event Event) error {
	switch event {
	case EventDiagnosisRecorded, EventDiagnosisAccepted, EventDiagnosisDeclined:
		if !o.IsDiagnosisNeed {
			return fmt.Errorf("%w: order %s was not booked for diagnosis", shared.ErrInvalidTransition, o.UUID)
		}
	case EventRepairStarted:
		if o.IsDiagnosisNeed {
			return fmt.Errorf("%w: order %s needs an accepted diagnosis first", shared.ErrInvalidTransition, o.UUID)
		}
	case EventDelivered:
		return fmt.Errorf("%w: delivery is recorded by closing a challan", shared.ErrInvalidTransition)
	}
	next, err := Transition(o.EffectiveStatus(), event)
	if err != nil {
		return fmt.Errorf("order %s: %w", o.UUID, err)
	}
	o.Status = next
	return nil
}

// CheckPartsOpen rejects part movements on an order QC has signed off. Callers read the order
// under a lock in the same transaction as the movement.
func CheckPartsOpen(o Order) error {
	if o.IsReadyForDelivery() {
		return fmt.Errorf("%w: order %s is %s, parts are frozen", shared.ErrInvalidTransition, o.UUID, o.EffectiveStatus())
	}
	return nil
}

// guardOpen rejects writers that raced with QC sign-off or delivery.
func guardOpen(o Order) error {
	if o.Delivered || o.Status == StatusReadyForDelivery {
		return fmt.Errorf("%w: order %s is already %s", shared.ErrStaleWorkflowState, o.UUID, o.EffectiveStatus())
	}
	return nil
}
