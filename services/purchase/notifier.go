package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// PurchaseNotification é a mensagem outbound publicada após o commit,
// descrevendo a compra concluída. Chaveada por machine id no tópico.
type PurchaseNotification struct {
	OrderID       string             `json:"order_id"`
	UserID        int64              `json:"user_id"`
	MachineID     string             `json:"machine_id"`
	Total         string             `json:"total"`
	PaymentMethod string             `json:"payment_method"`
	Items         []NotificationItem `json:"items"`
	CompletedAt   time.Time          `json:"completed_at"`
}

// NotificationItem é uma linha da notificação de compra
type NotificationItem struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// KafkaNotifier implementa Notifier publicando em um tópico Kafka
type KafkaNotifier struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaNotifier cria um producer para o tópico de notificações
func NewKafkaNotifier(brokers []string, topic string, logger *zap.Logger) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaNotifier{
		writer: writer,
		logger: logger,
	}
}

// PublishPurchaseCompleted publica a notificação da compra. Roda sempre
// depois do commit; o chamador trata falha como log-only.
func (n *KafkaNotifier) PublishPurchaseCompleted(ctx context.Context, order *Order, items []OrderItem) error {
	notification := PurchaseNotification{
		OrderID:       order.ID,
		UserID:        order.UserID,
		MachineID:     order.MachineID,
		Total:         order.Total.StringFixed(2),
		PaymentMethod: order.PaymentMethod,
		CompletedAt:   order.CreatedAt,
	}
	for _, item := range items {
		notification.Items = append(notification.Items, NotificationItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
		})
	}

	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(order.MachineID),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	n.logger.Debug("📤 purchase notification published",
		zap.String("order_id", order.ID),
		zap.String("machine_id", order.MachineID))
	return nil
}

// Close fecha o writer subjacente
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
