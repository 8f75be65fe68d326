package internal

import "evcsms/models"

type BillingService interface {
	// OnTransactionFinalized is called once per transaction, after it was persisted as finished
	OnTransactionFinalized(transaction *models.Transaction) error
}
