package main

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockTx simula uma transação do banco
type MockTx struct {
	mock.Mock
}

func (m *MockTx) Commit() error {
	return m.Called().Error(0)
}

func (m *MockTx) Rollback() error {
	return m.Called().Error(0)
}

// MockRepository para testes que não precisam de banco real
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) BeginTx(ctx context.Context) (Tx, error) {
	args := m.Called(ctx)
	tx, _ := args.Get(0).(Tx)
	return tx, args.Error(1)
}

func (m *MockRepository) ChannelForUpdate(ctx context.Context, tx Tx, machineID string, productID int64) (*Channel, error) {
	args := m.Called(ctx, tx, machineID, productID)
	channel, _ := args.Get(0).(*Channel)
	return channel, args.Error(1)
}

func (m *MockRepository) DecrementChannel(ctx context.Context, tx Tx, machineID string, productID int64, quantity int, soldOut bool) error {
	return m.Called(ctx, tx, machineID, productID, quantity, soldOut).Error(0)
}

func (m *MockRepository) InsertOrder(ctx context.Context, tx Tx, order *Order) error {
	return m.Called(ctx, tx, order).Error(0)
}

func (m *MockRepository) InsertOrderItems(ctx context.Context, tx Tx, items []OrderItem) error {
	return m.Called(ctx, tx, items).Error(0)
}

func (m *MockRepository) InsertPayment(ctx context.Context, tx Tx, payment *Payment) error {
	return m.Called(ctx, tx, payment).Error(0)
}

func (m *MockRepository) Restock(ctx context.Context, machineID string, productID int64, quantity int) error {
	return m.Called(ctx, machineID, productID, quantity).Error(0)
}

func (m *MockRepository) ListMachines(ctx context.Context) ([]MachineCatalog, error) {
	args := m.Called(ctx)
	catalog, _ := args.Get(0).([]MachineCatalog)
	return catalog, args.Error(1)
}

func (m *MockRepository) GetOrder(ctx context.Context, orderID string) (*OrderDetail, error) {
	args := m.Called(ctx, orderID)
	detail, _ := args.Get(0).(*OrderDetail)
	return detail, args.Error(1)
}

func (m *MockRepository) DescribePurchase(ctx context.Context, userID int64, machineID string, productIDs []int64) (*PurchaseDescription, error) {
	args := m.Called(ctx, userID, machineID, productIDs)
	desc, _ := args.Get(0).(*PurchaseDescription)
	return desc, args.Error(1)
}

// MockNotifier simula o publisher de notificações pós-commit
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) PublishPurchaseCompleted(ctx context.Context, order *Order, items []OrderItem) error {
	return m.Called(ctx, order, items).Error(0)
}
