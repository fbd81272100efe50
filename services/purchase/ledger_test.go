package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestWriteOrderProducesAllRows(t *testing.T) {
	repo := new(MockRepository)
	tx := new(MockTx)
	ledger := NewLedgerWriter(repo)

	event := &PurchaseEvent{
		Origin:        OriginDevice,
		UserID:        7,
		MachineID:     "V001",
		PaymentMethod: "wechat",
		Lines: []PurchaseLine{
			{ProductID: 1, Quantity: 2, UnitPrice: decimal.NewFromFloat(2.00)},
			{ProductID: 2, Quantity: 1, UnitPrice: decimal.NewFromFloat(3.50)},
		},
	}
	now := time.Unix(1700000000, 0)

	var insertedPayment *Payment
	repo.On("InsertOrder", mock.Anything, tx, mock.Anything).Return(nil)
	repo.On("InsertOrderItems", mock.Anything, tx, mock.Anything).Return(nil)
	repo.On("InsertPayment", mock.Anything, tx, mock.Anything).
		Run(func(args mock.Arguments) {
			insertedPayment = args.Get(2).(*Payment)
		}).
		Return(nil)

	order, items, err := ledger.WriteOrder(context.Background(), tx, event, "order-123", now)
	require.NoError(t, err)

	assert.Equal(t, "order-123", order.ID)
	assert.Equal(t, "7.50", order.Total.StringFixed(2))

	// Uma linha por produto distinto, todas com o id do pedido
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, "order-123", item.OrderID)
	}

	// O pagamento cobre exatamente o total do pedido
	require.NotNil(t, insertedPayment)
	assert.True(t, insertedPayment.Amount.Equal(order.Total))
	assert.Equal(t, PaymentStatusSuccess, insertedPayment.Status)

	repo.AssertExpectations(t)
}

func TestWriteOrderStopsOnFirstFailure(t *testing.T) {
	repo := new(MockRepository)
	tx := new(MockTx)
	ledger := NewLedgerWriter(repo)

	event := &PurchaseEvent{
		UserID:        7,
		MachineID:     "V001",
		PaymentMethod: "wechat",
		Lines:         []PurchaseLine{{ProductID: 1, Quantity: 1, UnitPrice: decimal.NewFromFloat(2.00)}},
	}

	repo.On("InsertOrder", mock.Anything, tx, mock.Anything).Return(errors.New("connection reset"))

	order, items, err := ledger.WriteOrder(context.Background(), tx, event, "order-123", time.Now())
	assert.Error(t, err)
	assert.Nil(t, order)
	assert.Nil(t, items)

	repo.AssertNotCalled(t, "InsertOrderItems", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "InsertPayment", mock.Anything, mock.Anything, mock.Anything)
}
