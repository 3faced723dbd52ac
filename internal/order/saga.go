package order

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

type SagaStatus string

const (
	SagaStarted     SagaStatus = "STARTED"
	SagaCompleted   SagaStatus = "COMPLETED"
	SagaFailed      SagaStatus = "FAILED"
	SagaCompensated SagaStatus = "COMPENSATED"
)

// Saga steps. Per-line steps carry the line number after '#'.
const (
	StepCreated        = "order.created"
	StepPlaced         = "order.placed"
	StepPlacedEvent    = "event.order.placed"
	StepPaid           = "order.paid"
	StepConfirmedEvent = "event.order.confirmed"
	StepCanceled       = "order.canceled"
	StepCanceledEvent  = "event.order.canceled"
	StepPayment        = "payment.process"
	StepRefund         = "payment.refund"
	StepRefunded       = "payment.refunded"
	StepAdminStatus    = "admin.status"

	stepReservePrefix = "stock.reserve#"
	stepReleasePrefix = "stock.release#"
)

func StepReserve(line int) string { return stepReservePrefix + strconv.Itoa(line) }
func StepRelease(line int) string { return stepReleasePrefix + strconv.Itoa(line) }

// SagaEntry is one append-only record of the order saga.
type SagaEntry struct {
	OrderID string     `json:"orderId"`
	Step    string     `json:"step"`
	Status  SagaStatus `json:"status"`
	Detail  string     `json:"detail,omitempty"`
	At      time.Time  `json:"at"`
}

// SagaLog is the ordered history of one order.
type SagaLog []SagaEntry

func (l SagaLog) Has(step string, status SagaStatus) bool {
	for _, e := range l {
		if e.Step == step && e.Status == status {
			return true
		}
	}
	return false
}

// OutstandingReservations lists lines whose reservation completed and was never
// released or compensated, in line order.
func (l SagaLog) OutstandingReservations() []int {
	held := map[int]bool{}
	for _, e := range l {
		switch {
		case strings.HasPrefix(e.Step, stepReservePrefix) && e.Status == SagaCompleted:
			if n, ok := lineOf(e.Step, stepReservePrefix); ok {
				held[n] = true
			}
		case strings.HasPrefix(e.Step, stepReleasePrefix) && (e.Status == SagaCompleted || e.Status == SagaCompensated):
			if n, ok := lineOf(e.Step, stepReleasePrefix); ok {
				delete(held, n)
			}
		}
	}
	out := make([]int, 0, len(held))
	for n := range held {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func lineOf(step, prefix string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(step, prefix))
	return n, err == nil
}
