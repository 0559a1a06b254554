package installments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSchedule(t *testing.T) {
	firstDue := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	t.Run("remainder lands on last installment", func(t *testing.T) {
		out := BuildSchedule(100, 3, firstDue)
		require.Len(t, out, 3)
		assert.Equal(t, 33.33, out[0].TotalAmount)
		assert.Equal(t, 33.33, out[1].TotalAmount)
		assert.Equal(t, 33.34, out[2].TotalAmount)
	})

	t.Run("sums back to total", func(t *testing.T) {
		for _, tc := range []struct {
			total float64
			count int
		}{
			{999.99, 7}, {1000, 12}, {0.05, 4}, {123.45, 1},
		} {
			out := BuildSchedule(tc.total, tc.count, firstDue)
			require.Len(t, out, tc.count)
			var sum float64
			for _, inst := range out {
				sum += inst.TotalAmount
			}
			assert.InDelta(t, tc.total, sum, 0.001, "total=%v count=%d", tc.total, tc.count)
		}
	})

	t.Run("monthly due dates in sequence", func(t *testing.T) {
		out := BuildSchedule(600, 3, firstDue)
		require.Len(t, out, 3)
		assert.Equal(t, firstDue, out[0].DueDate)
		assert.Equal(t, firstDue.AddDate(0, 1, 0), out[1].DueDate)
		assert.Equal(t, firstDue.AddDate(0, 2, 0), out[2].DueDate)
		for i, inst := range out {
			assert.Equal(t, i+1, inst.Number)
			assert.Equal(t, InstallmentPending, inst.PaymentStatus)
		}
	})

	t.Run("rejects bad input", func(t *testing.T) {
		assert.Nil(t, BuildSchedule(100, 0, firstDue))
		assert.Nil(t, BuildSchedule(0, 3, firstDue))
	})
}

func TestApplyPayment(t *testing.T) {
	t.Run("partial then paid", func(t *testing.T) {
		inst := Installment{TotalAmount: 100, PaymentStatus: InstallmentPending}

		consumed := ApplyPayment(&inst, 40)
		assert.Equal(t, 40.0, consumed)
		assert.Equal(t, 40.0, inst.PaidAmount)
		assert.Equal(t, InstallmentPartial, inst.PaymentStatus)

		consumed = ApplyPayment(&inst, 75)
		assert.Equal(t, 60.0, consumed)
		assert.Equal(t, 100.0, inst.PaidAmount)
		assert.Equal(t, InstallmentPaid, inst.PaymentStatus)
	})

	t.Run("paid installment consumes nothing", func(t *testing.T) {
		inst := Installment{TotalAmount: 100, PaidAmount: 100, PaymentStatus: InstallmentPaid}
		assert.Zero(t, ApplyPayment(&inst, 50))
		assert.Equal(t, 100.0, inst.PaidAmount)
		assert.Equal(t, InstallmentPaid, inst.PaymentStatus)
	})

	t.Run("non-positive amount is a no-op", func(t *testing.T) {
		inst := Installment{TotalAmount: 100, PaymentStatus: InstallmentPending}
		assert.Zero(t, ApplyPayment(&inst, 0))
		assert.Zero(t, ApplyPayment(&inst, -5))
		assert.Equal(t, InstallmentPending, inst.PaymentStatus)
	})

	t.Run("fractional amounts stay on two decimals", func(t *testing.T) {
		inst := Installment{TotalAmount: 33.34, PaymentStatus: InstallmentPending}
		ApplyPayment(&inst, 11.11)
		ApplyPayment(&inst, 11.11)
		ApplyPayment(&inst, 11.12)
		assert.Equal(t, 33.34, inst.PaidAmount)
		assert.Equal(t, InstallmentPaid, inst.PaymentStatus)
	})
}
