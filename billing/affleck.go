package billing

import (
	"fmt"
	"math"

	"evcsms/internal"
	"evcsms/metrics/counters"
	"evcsms/models"
	"evcsms/utility"
)

// Affleck prices finished transactions by consumed energy
type Affleck struct {
	logger internal.LogHandler
	price  PriceFunc
}

func NewAffleck(price PriceFunc) *Affleck {
	return &Affleck{price: price}
}

func (a *Affleck) SetLogger(logger internal.LogHandler) {
	a.logger = logger
}

func (a *Affleck) OnTransactionFinalized(transaction *models.Transaction) error {
	if a.price == nil {
		return fmt.Errorf("no price source configured")
	}
	pricePerKwh := a.price(transaction.ChargePointId, transaction.TimeStart)
	if pricePerKwh < 0 {
		return fmt.Errorf("negative price %v for %s", pricePerKwh, transaction.ChargePointId)
	}
	transaction.Amount = round(transaction.KwhConsumed*pricePerKwh, 2)

	counters.CountRevenue(transaction.ChargePointId, transaction.Amount)
	if a.logger != nil {
		a.logger.FeatureEvent("Billing", transaction.ChargePointId,
			fmt.Sprintf("transaction %s: %s kWh x %s = %s", transaction.TransactionId,
				utility.WhToKwh(transaction.MeterLatest-transaction.MeterStart),
				utility.FormatPrice(pricePerKwh), utility.FormatPrice(transaction.Amount)))
	}
	return nil
}

func round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
