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

func TestAcquireAndCheckLocksInAscendingProductOrder(t *testing.T) {
	repo := new(MockRepository)
	tx := new(MockTx)
	stock := NewStockController(repo, time.Second)

	var lockOrder []int64
	for _, productID := range []int64{1, 7, 9} {
		id := productID
		repo.On("ChannelForUpdate", mock.Anything, tx, "V001", id).
			Run(func(args mock.Arguments) {
				lockOrder = append(lockOrder, id)
			}).
			Return(&Channel{MachineID: "V001", ProductID: id, Volume: 10, Status: ChannelStatusActive}, nil)
	}

	// Linhas fora de ordem de propósito: a aquisição deve ser crescente
	lines := []PurchaseLine{
		{ProductID: 9, Quantity: 1, UnitPrice: decimal.NewFromFloat(1.00)},
		{ProductID: 1, Quantity: 1, UnitPrice: decimal.NewFromFloat(1.00)},
		{ProductID: 7, Quantity: 1, UnitPrice: decimal.NewFromFloat(1.00)},
	}

	volumes, err := stock.AcquireAndCheck(context.Background(), tx, "V001", lines)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 7, 9}, lockOrder)
	assert.Equal(t, map[int64]int{1: 10, 7: 10, 9: 10}, volumes)
}

func TestAcquireAndCheckInsufficientStock(t *testing.T) {
	repo := new(MockRepository)
	tx := new(MockTx)
	stock := NewStockController(repo, time.Second)

	repo.On("ChannelForUpdate", mock.Anything, tx, "V001", int64(1)).
		Return(&Channel{MachineID: "V001", ProductID: 1, Volume: 1, Status: ChannelStatusActive}, nil)

	lines := []PurchaseLine{{ProductID: 1, Quantity: 2, UnitPrice: decimal.NewFromFloat(2.00)}}

	volumes, err := stock.AcquireAndCheck(context.Background(), tx, "V001", lines)
	assert.Nil(t, volumes)
	assert.ErrorIs(t, err, ErrStockInsufficient)
}

func TestAcquireAndCheckClassifiesLockTimeout(t *testing.T) {
	repo := new(MockRepository)
	tx := new(MockTx)
	stock := NewStockController(repo, 10*time.Millisecond)

	repo.On("ChannelForUpdate", mock.Anything, tx, "V001", int64(1)).
		Run(func(args mock.Arguments) {
			// Segura o lock além do prazo de aquisição
			time.Sleep(40 * time.Millisecond)
		}).
		Return(nil, context.DeadlineExceeded)

	lines := []PurchaseLine{{ProductID: 1, Quantity: 1, UnitPrice: decimal.NewFromFloat(2.00)}}

	_, err := stock.AcquireAndCheck(context.Background(), tx, "V001", lines)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestAcquireAndCheckKeepsPermanentErrors(t *testing.T) {
	cases := []struct {
		name     string
		repoErr  error
		expected error
	}{
		{"channel not configured", ErrChannelNotConfigured, ErrChannelNotConfigured},
		{"store failure", errors.New("connection refused"), nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := new(MockRepository)
			tx := new(MockTx)
			stock := NewStockController(repo, time.Second)

			repo.On("ChannelForUpdate", mock.Anything, tx, "V001", int64(1)).
				Return(nil, tc.repoErr)

			lines := []PurchaseLine{{ProductID: 1, Quantity: 1, UnitPrice: decimal.NewFromFloat(2.00)}}

			// Erro do banco dentro do prazo: passa intacto, nunca vira timeout
			_, err := stock.AcquireAndCheck(context.Background(), tx, "V001", lines)
			assert.NotErrorIs(t, err, ErrLockTimeout)
			if tc.expected != nil {
				assert.ErrorIs(t, err, tc.expected)
			} else {
				assert.EqualError(t, err, tc.repoErr.Error())
			}
		})
	}
}

func TestDecrementMarksChannelSoldOut(t *testing.T) {
	repo := new(MockRepository)
	tx := new(MockTx)
	stock := NewStockController(repo, time.Second)

	// Volume 2, compra 2: o canal zera e deve ser marcado out_of_stock
	repo.On("DecrementChannel", mock.Anything, tx, "V001", int64(1), 2, true).Return(nil)

	lines := []PurchaseLine{{ProductID: 1, Quantity: 2, UnitPrice: decimal.NewFromFloat(2.00)}}
	err := stock.Decrement(context.Background(), tx, "V001", lines, map[int64]int{1: 2})
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestDecrementKeepsChannelActive(t *testing.T) {
	repo := new(MockRepository)
	tx := new(MockTx)
	stock := NewStockController(repo, time.Second)

	repo.On("DecrementChannel", mock.Anything, tx, "V001", int64(1), 2, false).Return(nil)

	lines := []PurchaseLine{{ProductID: 1, Quantity: 2, UnitPrice: decimal.NewFromFloat(2.00)}}
	err := stock.Decrement(context.Background(), tx, "V001", lines, map[int64]int{1: 5})
	require.NoError(t, err)
	repo.AssertExpectations(t)
}
