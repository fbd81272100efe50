package main

import (
	"context"
	"time"
)

// LedgerWriter é persistência pura: dado um evento já validado e com
// estoque checado, produz as linhas de Order, OrderItem e Payment dentro
// da transação aberta. Não tem validação própria; confia nas checagens
// anteriores do processador.
type LedgerWriter struct {
	repository Repository
}

// NewLedgerWriter cria uma nova instância de LedgerWriter
func NewLedgerWriter(repository Repository) *LedgerWriter {
	return &LedgerWriter{repository: repository}
}

// WriteOrder grava o pedido, uma linha por produto distinto e o registro
// de pagamento, tudo na mesma transação. Ou tudo entra, ou nada entra.
func (w *LedgerWriter) WriteOrder(ctx context.Context, tx Tx, event *PurchaseEvent, orderID string, now time.Time) (*Order, []OrderItem, error) {
	order := NewOrder(orderID, event, now)

	if err := w.repository.InsertOrder(ctx, tx, order); err != nil {
		return nil, nil, err
	}

	items := make([]OrderItem, 0, len(event.Lines))
	for _, line := range event.Lines {
		items = append(items, OrderItem{
			OrderID:   orderID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	if err := w.repository.InsertOrderItems(ctx, tx, items); err != nil {
		return nil, nil, err
	}

	payment := NewPayment(orderID, order.Total, now)
	if err := w.repository.InsertPayment(ctx, tx, payment); err != nil {
		return nil, nil, err
	}

	return order, items, nil
}
