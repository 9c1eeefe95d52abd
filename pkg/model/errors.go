package model

import "errors"

var (
	// ErrRefunded is surfaced when the settlement terminates in a refund.
	ErrRefunded = errors.New("transaction failed: refunded")

	// ErrTransactionFailed is surfaced when a failure status becomes final
	// after the grace window elapses.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrTransactionCancelled is raised when a pending transaction is
	// explicitly aborted by the user or provider.
	ErrTransactionCancelled = errors.New("transaction cancelled")
)
