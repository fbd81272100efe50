package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Origem do evento de compra
const (
	OriginWeb    = "web"
	OriginDevice = "device"
)

// ChannelStatus representa os possíveis status de um canal (slot de produto)
const (
	ChannelStatusActive     = "active"
	ChannelStatusOutOfStock = "out_of_stock"
)

// OrderStatus representa os possíveis status de um pedido
// Não existe estado parcial: o pedido só é gravado quando a compra fecha.
const (
	OrderStatusCompleted = "completed"
)

// PaymentStatus representa os possíveis status de um pagamento
const (
	PaymentStatusSuccess = "success"
)

// PurchaseLine é uma linha de compra: um produto de um canal, com quantidade e preço unitário
type PurchaseLine struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Subtotal calcula quantity × unit_price da linha
func (l PurchaseLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// PurchaseEvent é a forma canônica de uma compra, independente da origem
// (checkout web ou telemetria do dispositivo). É transiente: consumido uma
// única vez pelo processador e descartado.
type PurchaseEvent struct {
	Origin        string         `json:"origin"`
	UserID        int64          `json:"user_id"`
	MachineID     string         `json:"machine_id"`
	Lines         []PurchaseLine `json:"lines"`
	PaymentMethod string         `json:"payment_method"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Total soma os subtotais das linhas, arredondado para duas casas
func (e *PurchaseEvent) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range e.Lines {
		total = total.Add(line.Subtotal())
	}
	return total.Round(2)
}

// Order representa um pedido persistido
type Order struct {
	ID            string          `json:"id" db:"id"`
	UserID        int64           `json:"user_id" db:"user_id"`
	MachineID     string          `json:"machine_id" db:"machine_id"`
	Total         decimal.Decimal `json:"total" db:"total"`
	PaymentMethod string          `json:"payment_method" db:"payment_method"`
	Status        string          `json:"status" db:"status"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// NewOrder cria uma nova instância de Order a partir de um evento validado
func NewOrder(id string, event *PurchaseEvent, now time.Time) *Order {
	return &Order{
		ID:            id,
		UserID:        event.UserID,
		MachineID:     event.MachineID,
		Total:         event.Total(),
		PaymentMethod: event.PaymentMethod,
		Status:        OrderStatusCompleted,
		CreatedAt:     now,
	}
}

// OrderItem representa uma linha persistida de um pedido
type OrderItem struct {
	OrderID   string          `json:"order_id" db:"order_id"`
	ProductID int64           `json:"product_id" db:"product_id"`
	Quantity  int             `json:"quantity" db:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" db:"unit_price"`
}

// Payment representa o registro de liquidação de um pedido.
// Todo pedido completado tem exatamente um pagamento.
type Payment struct {
	OrderID       string          `json:"order_id" db:"order_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	Status        string          `json:"status" db:"status"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// NewPayment cria o pagamento de um pedido. O transaction_id é derivado
// deterministicamente do id do pedido e do instante do commit.
func NewPayment(orderID string, amount decimal.Decimal, now time.Time) *Payment {
	return &Payment{
		OrderID:       orderID,
		Amount:        amount,
		TransactionID: fmt.Sprintf("TXN_%s_%d", orderID, now.Unix()),
		Status:        PaymentStatusSuccess,
		CreatedAt:     now,
	}
}

// Channel representa o slot de um produto dentro de uma máquina
type Channel struct {
	MachineID string `json:"machine_id" db:"machine_id"`
	ProductID int64  `json:"product_id" db:"product_id"`
	Volume    int    `json:"volume" db:"volume"`
	Status    string `json:"status" db:"status"`
}

// Machine representa uma vending machine (read-only para o core)
type Machine struct {
	ID       string `json:"machine_id" db:"machine_id"`
	Location string `json:"location" db:"location_address"`
	Status   string `json:"status" db:"status"`
}

// MachineProduct é um produto exposto no catálogo de uma máquina
type MachineProduct struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Volume    int             `json:"volume"`
}

// MachineCatalog é uma máquina com seus canais ativos, para o catálogo web
type MachineCatalog struct {
	Machine
	Products []MachineProduct `json:"products"`
}

// OrderDetail agrega um pedido com suas linhas e seu pagamento
type OrderDetail struct {
	Order   *Order      `json:"order"`
	Items   []OrderItem `json:"items"`
	Payment *Payment    `json:"payment"`
}

// PurchaseDescription são os descritores legíveis usados só para logging
// pós-commit (best-effort, fora da transação)
type PurchaseDescription struct {
	Username     string
	Location     string
	ProductNames []string
}
