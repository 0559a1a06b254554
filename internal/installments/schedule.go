package installments

import (
	"time"

	"github.com/shopspring/decimal"
)

// BuildSchedule splits total into count monthly installments. Amounts are
// computed with exact decimals so the slices always sum back to the total;
// the rounding remainder lands on the last installment.
func BuildSchedule(total float64, count int, firstDue time.Time) []Installment {
	if count <= 0 || total <= 0 {
		return nil
	}
	totalDec := decimal.NewFromFloat(total).Round(2)
	per := totalDec.Div(decimal.NewFromInt(int64(count))).RoundDown(2)
	last := totalDec.Sub(per.Mul(decimal.NewFromInt(int64(count - 1))))

	out := make([]Installment, 0, count)
	for i := 0; i < count; i++ {
		amount := per
		if i == count-1 {
			amount = last
		}
		value, _ := amount.Float64()
		out = append(out, Installment{
			Number:        i + 1,
			DueDate:       firstDue.AddDate(0, i, 0),
			TotalAmount:   value,
			PaymentStatus: InstallmentPending,
		})
	}
	return out
}

// ApplyPayment allocates amount to the installment and returns how much was
// consumed. Status moves forward only.
func ApplyPayment(inst *Installment, amount float64) float64 {
	if amount <= 0 || inst.PaymentStatus == InstallmentPaid {
		return 0
	}
	toAllocate := inst.Outstanding()
	if amount < toAllocate {
		toAllocate = amount
	}
	if toAllocate <= 0 {
		return 0
	}
	applied := decimal.NewFromFloat(inst.PaidAmount).Add(decimal.NewFromFloat(toAllocate))
	inst.PaidAmount, _ = applied.Round(2).Float64()
	if inst.PaidAmount >= inst.TotalAmount {
		inst.PaymentStatus = InstallmentPaid
	} else {
		inst.PaymentStatus = InstallmentPartial
	}
	return toAllocate
}
