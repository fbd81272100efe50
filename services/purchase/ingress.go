package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// WebCheckoutRequest é a submissão do checkout web: uma lista de tokens
// "<machine_id>-<product_id>-<unit_price>" mais a forma de pagamento.
type WebCheckoutRequest struct {
	UserID        int64    `json:"user_id" binding:"required"`
	Items         []string `json:"items" binding:"required"`
	PaymentMethod string   `json:"payment_method" binding:"required"`
}

// DevicePurchaseMessage é o corpo JSON publicado pelo dispositivo no tópico
// de compras. unit_price é opcional; na ausência, o preço vem do snapshot.
type DevicePurchaseMessage struct {
	UserID        *int64           `json:"user_id"`
	MachineID     string           `json:"machine_id"`
	ProductID     *int64           `json:"product_id"`
	Quantity      *int             `json:"quantity"`
	UnitPrice     *decimal.Decimal `json:"unit_price,omitempty"`
	Total         *decimal.Decimal `json:"total,omitempty"`
	PaymentMethod string           `json:"payment_method"`
	Timestamp     string           `json:"timestamp,omitempty"`
	Origin        string           `json:"origin,omitempty"`
}

// EventIngress normaliza as duas formas de entrada (web e dispositivo) em
// um único PurchaseEvent canônico. Eventos que não parseiam, com campos
// faltando ou ids/preços não numéricos são rejeitados sem efeito colateral.
type EventIngress struct {
	snapshot *ReferenceSnapshot
}

// NewEventIngress cria uma nova instância de EventIngress
func NewEventIngress(snapshot *ReferenceSnapshot) *EventIngress {
	return &EventIngress{snapshot: snapshot}
}

// FromWebCheckout normaliza uma submissão web em um PurchaseEvent.
// Tokens duplicados do mesmo canal viram uma única linha com a quantidade
// somada, para que o canal seja lockado uma vez só.
func (in *EventIngress) FromWebCheckout(req WebCheckoutRequest) (*PurchaseEvent, error) {
	if len(req.Items) == 0 || req.PaymentMethod == "" || req.UserID <= 0 {
		return nil, fmt.Errorf("%w: missing items, payment method or user", ErrMalformedEvent)
	}

	machineID := ""
	lines := make(map[int64]*PurchaseLine)

	for _, item := range req.Items {
		parts := strings.SplitN(item, "-", 3)
		if len(parts) < 3 {
			return nil, fmt.Errorf("%w: bad item token %q", ErrMalformedEvent, item)
		}

		tokenMachine := parts[0]
		if tokenMachine == "" {
			return nil, fmt.Errorf("%w: empty machine id in token %q", ErrMalformedEvent, item)
		}

		productID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: non-numeric product id in token %q", ErrMalformedEvent, item)
		}

		price, err := decimal.NewFromString(parts[2])
		if err != nil || price.IsNegative() {
			return nil, fmt.Errorf("%w: invalid price in token %q", ErrMalformedEvent, item)
		}

		// Compras nunca atravessam máquinas
		if machineID == "" {
			machineID = tokenMachine
		} else if machineID != tokenMachine {
			return nil, fmt.Errorf("%w: %s and %s", ErrCrossMachinePurchase, machineID, tokenMachine)
		}

		if existing, ok := lines[productID]; ok {
			if !existing.UnitPrice.Equal(price) {
				return nil, fmt.Errorf("%w: conflicting prices for product %d", ErrMalformedEvent, productID)
			}
			existing.Quantity++
			continue
		}
		lines[productID] = &PurchaseLine{ProductID: productID, Quantity: 1, UnitPrice: price}
	}

	event := &PurchaseEvent{
		Origin:        OriginWeb,
		UserID:        req.UserID,
		MachineID:     machineID,
		PaymentMethod: req.PaymentMethod,
		Timestamp:     time.Now(),
	}
	for _, line := range lines {
		event.Lines = append(event.Lines, *line)
	}
	sort.Slice(event.Lines, func(i, j int) bool {
		return event.Lines[i].ProductID < event.Lines[j].ProductID
	})

	return event, nil
}

// FromDeviceMessage normaliza o payload JSON do dispositivo em um
// PurchaseEvent. Se o payload declarar um total que não bate com as linhas
// precificadas (além do arredondamento de duas casas), o evento é rejeitado
// em vez de confiar no total informado.
func (in *EventIngress) FromDeviceMessage(data []byte) (*PurchaseEvent, error) {
	var msg DevicePurchaseMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if msg.UserID == nil || msg.MachineID == "" || msg.ProductID == nil ||
		msg.Quantity == nil || msg.PaymentMethod == "" {
		return nil, fmt.Errorf("%w: missing required fields", ErrMalformedEvent)
	}
	if *msg.UserID <= 0 || *msg.ProductID <= 0 || *msg.Quantity <= 0 {
		return nil, fmt.Errorf("%w: non-positive user, product or quantity", ErrMalformedEvent)
	}

	// Preço unitário: payload se presente, snapshot caso contrário
	var unitPrice decimal.Decimal
	switch {
	case msg.UnitPrice != nil:
		if msg.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: negative unit price", ErrMalformedEvent)
		}
		unitPrice = *msg.UnitPrice
	default:
		price, ok := in.snapshot.LookupProduct(*msg.ProductID)
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownProduct, *msg.ProductID)
		}
		unitPrice = price
	}

	timestamp := time.Now()
	if msg.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, msg.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: bad timestamp %q", ErrMalformedEvent, msg.Timestamp)
		}
		timestamp = parsed
	}

	event := &PurchaseEvent{
		Origin:        OriginDevice,
		UserID:        *msg.UserID,
		MachineID:     msg.MachineID,
		PaymentMethod: msg.PaymentMethod,
		Timestamp:     timestamp,
		Lines: []PurchaseLine{{
			ProductID: *msg.ProductID,
			Quantity:  *msg.Quantity,
			UnitPrice: unitPrice,
		}},
	}

	if msg.Total != nil && !msg.Total.Round(2).Equal(event.Total()) {
		return nil, fmt.Errorf("%w: declared %s, computed %s",
			ErrTotalMismatch, msg.Total.StringFixed(2), event.Total().StringFixed(2))
	}

	return event, nil
}
