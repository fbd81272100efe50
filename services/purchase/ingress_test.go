package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIngress() *EventIngress {
	snapshot := newTestSnapshot(
		[]int64{7},
		[]string{"V001"},
		map[int64]decimal.Decimal{
			1: decimal.NewFromFloat(2.00),
			2: decimal.NewFromFloat(3.50),
		},
	)
	return NewEventIngress(snapshot)
}

func TestFromWebCheckout(t *testing.T) {
	ingress := testIngress()

	// Tokens duplicados do mesmo canal viram uma linha só, com a
	// quantidade somada
	event, err := ingress.FromWebCheckout(WebCheckoutRequest{
		UserID:        7,
		Items:         []string{"V001-2-3.50", "V001-1-2.00", "V001-1-2.00"},
		PaymentMethod: "wechat",
	})
	require.NoError(t, err)

	assert.Equal(t, OriginWeb, event.Origin)
	assert.Equal(t, int64(7), event.UserID)
	assert.Equal(t, "V001", event.MachineID)
	require.Len(t, event.Lines, 2)

	// Linhas ordenadas por product id
	assert.Equal(t, int64(1), event.Lines[0].ProductID)
	assert.Equal(t, 2, event.Lines[0].Quantity)
	assert.Equal(t, int64(2), event.Lines[1].ProductID)
	assert.Equal(t, 1, event.Lines[1].Quantity)

	assert.Equal(t, "7.50", event.Total().StringFixed(2))
}

func TestFromWebCheckoutRejectsMalformed(t *testing.T) {
	ingress := testIngress()

	cases := []struct {
		name string
		req  WebCheckoutRequest
	}{
		{"no items", WebCheckoutRequest{UserID: 7, PaymentMethod: "wechat"}},
		{"no payment method", WebCheckoutRequest{UserID: 7, Items: []string{"V001-1-2.00"}}},
		{"no user", WebCheckoutRequest{Items: []string{"V001-1-2.00"}, PaymentMethod: "wechat"}},
		{"token without separators", WebCheckoutRequest{UserID: 7, Items: []string{"V00112.00"}, PaymentMethod: "wechat"}},
		{"non-numeric product id", WebCheckoutRequest{UserID: 7, Items: []string{"V001-abc-2.00"}, PaymentMethod: "wechat"}},
		{"non-numeric price", WebCheckoutRequest{UserID: 7, Items: []string{"V001-1-cheap"}, PaymentMethod: "wechat"}},
		{"negative price", WebCheckoutRequest{UserID: 7, Items: []string{"V001-1--2.00"}, PaymentMethod: "wechat"}},
		{"conflicting prices for same product", WebCheckoutRequest{UserID: 7, Items: []string{"V001-1-2.00", "V001-1-2.50"}, PaymentMethod: "wechat"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, err := ingress.FromWebCheckout(tc.req)
			assert.Nil(t, event)
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestFromWebCheckoutRejectsCrossMachine(t *testing.T) {
	ingress := testIngress()

	event, err := ingress.FromWebCheckout(WebCheckoutRequest{
		UserID:        7,
		Items:         []string{"V001-1-2.00", "V002-2-3.50"},
		PaymentMethod: "wechat",
	})

	assert.Nil(t, event)
	assert.ErrorIs(t, err, ErrCrossMachinePurchase)
}

func TestFromDeviceMessage(t *testing.T) {
	ingress := testIngress()

	payload := []byte(`{
		"user_id": 7,
		"machine_id": "V001",
		"product_id": 1,
		"quantity": 2,
		"unit_price": "2.00",
		"total": "4.00",
		"payment_method": "alipay",
		"timestamp": "2025-11-02T10:30:00Z",
		"origin": "device"
	}`)

	event, err := ingress.FromDeviceMessage(payload)
	require.NoError(t, err)

	assert.Equal(t, OriginDevice, event.Origin)
	assert.Equal(t, int64(7), event.UserID)
	assert.Equal(t, "V001", event.MachineID)
	require.Len(t, event.Lines, 1)
	assert.Equal(t, 2, event.Lines[0].Quantity)
	assert.Equal(t, "4.00", event.Total().StringFixed(2))
	assert.Equal(t, "alipay", event.PaymentMethod)
}

func TestFromDeviceMessagePricesFromSnapshot(t *testing.T) {
	ingress := testIngress()

	// Sem unit_price no payload: o preço vem do snapshot de referência
	payload := []byte(`{
		"user_id": 7,
		"machine_id": "V001",
		"product_id": 2,
		"quantity": 1,
		"payment_method": "wechat"
	}`)

	event, err := ingress.FromDeviceMessage(payload)
	require.NoError(t, err)
	assert.True(t, event.Lines[0].UnitPrice.Equal(decimal.NewFromFloat(3.50)))
}

func TestFromDeviceMessageUnknownProductWithoutPrice(t *testing.T) {
	ingress := testIngress()

	payload := []byte(`{
		"user_id": 7,
		"machine_id": "V001",
		"product_id": 42,
		"quantity": 1,
		"payment_method": "wechat"
	}`)

	event, err := ingress.FromDeviceMessage(payload)
	assert.Nil(t, event)
	assert.ErrorIs(t, err, ErrUnknownProduct)
}

func TestFromDeviceMessageRejectsTotalMismatch(t *testing.T) {
	ingress := testIngress()

	// Total declarado não bate com quantity × unit_price
	payload := []byte(`{
		"user_id": 7,
		"machine_id": "V001",
		"product_id": 1,
		"quantity": 2,
		"unit_price": "2.00",
		"total": "5.00",
		"payment_method": "wechat"
	}`)

	event, err := ingress.FromDeviceMessage(payload)
	assert.Nil(t, event)
	assert.ErrorIs(t, err, ErrTotalMismatch)
}

func TestFromDeviceMessageRejectsMalformed(t *testing.T) {
	ingress := testIngress()

	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `this is not json`},
		{"missing user", `{"machine_id":"V001","product_id":1,"quantity":1,"payment_method":"wechat"}`},
		{"missing machine", `{"user_id":7,"product_id":1,"quantity":1,"payment_method":"wechat"}`},
		{"missing quantity", `{"user_id":7,"machine_id":"V001","product_id":1,"payment_method":"wechat"}`},
		{"zero quantity", `{"user_id":7,"machine_id":"V001","product_id":1,"quantity":0,"payment_method":"wechat"}`},
		{"missing payment method", `{"user_id":7,"machine_id":"V001","product_id":1,"quantity":1}`},
		{"bad timestamp", `{"user_id":7,"machine_id":"V001","product_id":1,"quantity":1,"payment_method":"wechat","timestamp":"yesterday"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, err := ingress.FromDeviceMessage([]byte(tc.payload))
			assert.Nil(t, event)
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestMalformedEventRejectionIsIdempotent(t *testing.T) {
	ingress := testIngress()
	payload := []byte(`not a purchase`)

	// Reenviar o mesmo evento malformado repetidamente nunca muda o
	// resultado nem produz efeito colateral
	for i := 0; i < 3; i++ {
		event, err := ingress.FromDeviceMessage(payload)
		assert.Nil(t, event)
		assert.ErrorIs(t, err, ErrMalformedEvent)
	}
}
