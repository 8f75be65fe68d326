package billing

import (
	"math"
	"testing"
	"time"

	"evcsms/internal"
	"evcsms/models"
)

func TestOnTransactionFinalized(t *testing.T) {
	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	price := func(chargePointId string, ts time.Time) float64 {
		if chargePointId == "CP1" && ts.Equal(start) {
			return 0.3
		}
		return 1
	}
	affleck := NewAffleck(price)
	affleck.SetLogger(internal.NewLogger(time.UTC))

	transaction := &models.Transaction{
		TransactionId: "5",
		ChargePointId: "CP1",
		TimeStart:     start,
		MeterStart:    1000,
		MeterLatest:   13345,
		KwhConsumed:   12.345,
	}
	if err := affleck.OnTransactionFinalized(transaction); err != nil {
		t.Fatal(err)
	}
	if math.Abs(transaction.Amount-3.7) > 1e-9 {
		t.Errorf("amount = %v; want 3.7", transaction.Amount)
	}
}

func TestFlatPrice(t *testing.T) {
	affleck := NewAffleck(FlatPrice(0.5))
	transaction := &models.Transaction{ChargePointId: "CP9", KwhConsumed: 3}
	if err := affleck.OnTransactionFinalized(transaction); err != nil {
		t.Fatal(err)
	}
	if transaction.Amount != 1.5 {
		t.Errorf("amount = %v", transaction.Amount)
	}
}

func TestMissingPriceSource(t *testing.T) {
	if err := NewAffleck(nil).OnTransactionFinalized(&models.Transaction{}); err == nil {
		t.Error("expected an error without a price source")
	}
}
