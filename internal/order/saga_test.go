package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutstandingReservations(t *testing.T) {
	tests := []struct {
		name string
		log  SagaLog
		want []int
	}{
		{
			name: "nothing reserved",
			log:  SagaLog{{Step: StepCreated, Status: SagaCompleted}},
			want: []int{},
		},
		{
			name: "failed reservation is not held",
			log: SagaLog{
				{Step: StepReserve(0), Status: SagaCompleted},
				{Step: StepReserve(1), Status: SagaFailed},
			},
			want: []int{0},
		},
		{
			name: "released lines drop out",
			log: SagaLog{
				{Step: StepReserve(2), Status: SagaCompleted},
				{Step: StepReserve(0), Status: SagaCompleted},
				{Step: StepReserve(1), Status: SagaCompleted},
				{Step: StepRelease(1), Status: SagaCompensated},
			},
			want: []int{0, 2},
		},
		{
			name: "failed release is still held",
			log: SagaLog{
				{Step: StepReserve(0), Status: SagaCompleted},
				{Step: StepRelease(0), Status: SagaFailed},
			},
			want: []int{0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.log.OutstandingReservations())
		})
	}
}

func TestSagaMetricStep(t *testing.T) {
	assert.Equal(t, "stock.reserve", sagaMetricStep(StepReserve(12)))
	assert.Equal(t, StepPlaced, sagaMetricStep(StepPlaced))
}
