package main

import (
	"context"
	"encoding/json"
	stdlog "log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// simProduct é um produto do catálogo simulado, espelhando o seed do banco
type simProduct struct {
	ID    int64
	Name  string
	Price decimal.Decimal
}

// devicePurchase é o corpo publicado no tópico de compras
type devicePurchase struct {
	UserID        int64  `json:"user_id"`
	MachineID     string `json:"machine_id"`
	ProductID     int64  `json:"product_id"`
	Quantity      int    `json:"quantity"`
	UnitPrice     string `json:"unit_price"`
	Total         string `json:"total"`
	PaymentMethod string `json:"payment_method"`
	Timestamp     string `json:"timestamp"`
	Origin        string `json:"origin"`
}

// webCheckout é o corpo da submissão web síncrona
type webCheckout struct {
	UserID        int64    `json:"user_id"`
	Items         []string `json:"items"`
	PaymentMethod string   `json:"payment_method"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewProduction()
	if err != nil {
		stdlog.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	products := []simProduct{
		{ID: 1, Name: "mineral water", Price: decimal.NewFromFloat(2.00)},
		{ID: 2, Name: "cola", Price: decimal.NewFromFloat(3.50)},
		{ID: 3, Name: "potato chips", Price: decimal.NewFromFloat(5.00)},
	}
	machines := strings.Split(getEnv("MACHINE_IDS", "V001"), ",")
	paymentMethods := []string{"wechat", "alipay"}

	brokers := strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  getEnv("KAFKA_PURCHASE_TOPIC", "vending.machine.purchases"),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	client := resty.New().
		SetBaseURL(getEnv("PURCHASE_SERVICE_URL", "http://localhost:8080")).
		SetTimeout(10 * time.Second)

	count := getEnvInt("SIMULATOR_COUNT", 10)
	interval := time.Duration(getEnvInt("SIMULATOR_INTERVAL_MS", 2000)) * time.Millisecond
	// Fração das compras enviadas pelo checkout web em vez do tópico
	webRatio := getEnvInt("SIMULATOR_WEB_PERCENT", 30)
	maxUserID := int64(getEnvInt("SIMULATOR_MAX_USER_ID", 20))

	logger.Info("🚀 vending machine simulator started",
		zap.Int("count", count),
		zap.Duration("interval", interval))

	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			logger.Info("👋 simulator interrupted")
			return
		case <-time.After(interval):
		}

		product := products[rand.Intn(len(products))]
		machine := machines[rand.Intn(len(machines))]
		quantity := rand.Intn(2) + 1
		userID := rand.Int63n(maxUserID) + 1
		method := paymentMethods[rand.Intn(len(paymentMethods))]

		if rand.Intn(100) < webRatio {
			sendWebCheckout(ctx, client, logger, machine, product, quantity, userID, method)
			continue
		}
		sendDevicePurchase(ctx, writer, logger, machine, product, quantity, userID, method)
	}

	logger.Info("✅ simulator finished")
}

// sendDevicePurchase publica uma compra no tópico, como um dispositivo faria
func sendDevicePurchase(ctx context.Context, writer *kafka.Writer, logger *zap.Logger, machine string, product simProduct, quantity int, userID int64, method string) {
	total := product.Price.Mul(decimal.NewFromInt(int64(quantity)))

	payload := devicePurchase{
		UserID:        userID,
		MachineID:     machine,
		ProductID:     product.ID,
		Quantity:      quantity,
		UnitPrice:     product.Price.StringFixed(2),
		Total:         total.StringFixed(2),
		PaymentMethod: method,
		Timestamp:     time.Now().Format(time.RFC3339),
		Origin:        "device",
	}

	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal purchase", zap.Error(err))
		return
	}

	err = writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(machine),
		Value: data,
	})
	if err != nil {
		logger.Error("❌ failed to publish purchase", zap.Error(err))
		return
	}

	logger.Info("📤 device purchase published",
		zap.String("machine_id", machine),
		zap.String("product", product.Name),
		zap.Int("quantity", quantity),
		zap.String("total", total.StringFixed(2)))
}

// sendWebCheckout envia a mesma compra pela rota síncrona do checkout
func sendWebCheckout(ctx context.Context, client *resty.Client, logger *zap.Logger, machine string, product simProduct, quantity int, userID int64, method string) {
	token := machine + "-" + strconv.FormatInt(product.ID, 10) + "-" + product.Price.StringFixed(2)
	items := make([]string, 0, quantity)
	for i := 0; i < quantity; i++ {
		items = append(items, token)
	}

	resp, err := client.R().
		SetContext(ctx).
		SetBody(webCheckout{UserID: userID, Items: items, PaymentMethod: method}).
		Post("/api/checkout")
	if err != nil {
		logger.Error("❌ web checkout failed", zap.Error(err))
		return
	}

	logger.Info("🛒 web checkout submitted",
		zap.String("machine_id", machine),
		zap.String("product", product.Name),
		zap.Int("quantity", quantity),
		zap.Int("status", resp.StatusCode()))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
