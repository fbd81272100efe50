package main

import (
	"errors"
	"fmt"
)

// Taxonomia de erros do pipeline de compra. Erros de validação são
// descartados antes de abrir transação; os demais causam rollback.
var (
	ErrMalformedEvent       = fmt.Errorf("malformed purchase event")
	ErrUnknownUser          = fmt.Errorf("unknown user id")
	ErrUnknownMachine       = fmt.Errorf("unknown machine id")
	ErrUnknownProduct       = fmt.Errorf("unknown product id")
	ErrCrossMachinePurchase = fmt.Errorf("purchase lines span more than one machine")
	ErrTotalMismatch        = fmt.Errorf("declared total does not match priced lines")
	ErrChannelNotConfigured = fmt.Errorf("channel not configured for machine/product")
	ErrStockInsufficient    = fmt.Errorf("insufficient stock")
	ErrLockTimeout          = fmt.Errorf("channel lock acquisition timed out")
)

// IsValidationError indica se o erro deve ser tratado como rejeição
// pré-transação (nenhuma escrita no banco aconteceu nem deve acontecer).
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrMalformedEvent,
		ErrUnknownUser,
		ErrUnknownMachine,
		ErrUnknownProduct,
		ErrCrossMachinePurchase,
		ErrTotalMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
