package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Notifier publica a mensagem de compra concluída depois do commit.
// Falha de publicação nunca desfaz a compra.
type Notifier interface {
	PublishPurchaseCompleted(ctx context.Context, order *Order, items []OrderItem) error
}

// TransactionProcessor é o pipeline central de compra:
// validar → lockar → checar → persistir → decrementar → commit.
// Qualquer falha depois de abrir a transação causa rollback completo.
type TransactionProcessor struct {
	snapshot   *ReferenceSnapshot
	repository Repository
	stock      *StockController
	ledger     *LedgerWriter
	notifier   Notifier
	logger     *zap.Logger
	tracer     trace.Tracer

	retryBackoff time.Duration

	purchasesCompleted  metric.Int64Counter
	purchasesRejected   metric.Int64Counter
	purchasesRolledBack metric.Int64Counter
	lockTimeoutRetries  metric.Int64Counter
}

// NewTransactionProcessor cria uma nova instância de TransactionProcessor
func NewTransactionProcessor(
	snapshot *ReferenceSnapshot,
	repository Repository,
	stock *StockController,
	ledger *LedgerWriter,
	notifier Notifier,
	logger *zap.Logger,
	retryBackoff time.Duration,
) *TransactionProcessor {
	meter := otel.Meter("purchase-service")
	completed, _ := meter.Int64Counter("purchases_completed_total")
	rejected, _ := meter.Int64Counter("purchases_rejected_total")
	rolledBack, _ := meter.Int64Counter("purchases_rolled_back_total")
	lockRetries, _ := meter.Int64Counter("purchase_lock_timeout_retries_total")

	return &TransactionProcessor{
		snapshot:            snapshot,
		repository:          repository,
		stock:               stock,
		ledger:              ledger,
		notifier:            notifier,
		logger:              logger,
		tracer:              otel.Tracer("purchase-service"),
		retryBackoff:        retryBackoff,
		purchasesCompleted:  completed,
		purchasesRejected:   rejected,
		purchasesRolledBack: rolledBack,
		lockTimeoutRetries:  lockRetries,
	}
}

// Process executa o pipeline completo para um evento de compra, de qualquer
// origem. Retorna o pedido commitado ou o erro terminal do evento.
func (p *TransactionProcessor) Process(ctx context.Context, event *PurchaseEvent) (*Order, error) {
	ctx, span := p.tracer.Start(ctx, "process_purchase")
	defer span.End()

	span.SetAttributes(
		attribute.String("origin", event.Origin),
		attribute.String("machine_id", event.MachineID),
		attribute.Int64("user_id", event.UserID),
		attribute.Int("lines", len(event.Lines)),
	)

	// 1. Received → Validated: todo id do evento precisa existir no
	// snapshot. Qualquer miss rejeita sem tocar no banco.
	if err := p.validate(event); err != nil {
		p.purchasesRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", event.Origin)))
		span.RecordError(err)
		p.logger.Warn("❌ purchase rejected",
			zap.String("origin", event.Origin),
			zap.String("machine_id", event.MachineID),
			zap.Int64("user_id", event.UserID),
			zap.Error(err))
		return nil, err
	}

	// 2–6. Transação única, com uma única repetição em lock timeout
	order, items, err := p.runTransaction(ctx, event)
	if errors.Is(err, ErrLockTimeout) {
		p.lockTimeoutRetries.Add(ctx, 1)
		p.logger.Warn("⏳ channel lock timed out, retrying once",
			zap.String("machine_id", event.MachineID),
			zap.Duration("backoff", p.retryBackoff))
		// Backoff sensível a cancelamento: em shutdown a repetição é abortada
		select {
		case <-ctx.Done():
		case <-time.After(p.retryBackoff):
			order, items, err = p.runTransaction(ctx, event)
		}
	}
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrStockInsufficient) || errors.Is(err, ErrChannelNotConfigured) {
			p.purchasesRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", event.Origin)))
			p.logger.Warn("❌ purchase rejected in transaction",
				zap.String("machine_id", event.MachineID),
				zap.Error(err))
		} else {
			p.purchasesRolledBack.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", event.Origin)))
			p.logger.Error("❌ purchase rolled back",
				zap.String("machine_id", event.MachineID),
				zap.Error(err))
		}
		return nil, err
	}

	p.purchasesCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", event.Origin)))
	span.SetAttributes(attribute.String("order_id", order.ID))

	// 7. Pós-commit, best-effort: enriquecimento para o log e notificação.
	// Falha aqui nunca afeta o resultado já commitado.
	p.logCompleted(ctx, order, items)
	if p.notifier != nil {
		if err := p.notifier.PublishPurchaseCompleted(ctx, order, items); err != nil {
			p.logger.Warn("⚠️ failed to publish purchase notification",
				zap.String("order_id", order.ID),
				zap.Error(err))
		}
	}

	return order, nil
}

// validate confere o evento contra o snapshot de referência
func (p *TransactionProcessor) validate(event *PurchaseEvent) error {
	if len(event.Lines) == 0 {
		return fmt.Errorf("%w: event has no lines", ErrMalformedEvent)
	}
	for _, line := range event.Lines {
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: non-positive quantity for product %d", ErrMalformedEvent, line.ProductID)
		}
	}

	if !p.snapshot.LookupUser(event.UserID) {
		return fmt.Errorf("%w: %d", ErrUnknownUser, event.UserID)
	}
	if !p.snapshot.LookupMachine(event.MachineID) {
		return fmt.Errorf("%w: %s", ErrUnknownMachine, event.MachineID)
	}
	for _, line := range event.Lines {
		if _, ok := p.snapshot.LookupProduct(line.ProductID); !ok {
			return fmt.Errorf("%w: %d", ErrUnknownProduct, line.ProductID)
		}
	}
	return nil
}

// runTransaction executa os estados 2–6 dentro de uma única transação.
// Pedido, linhas, pagamento e decremento são todos-ou-nada.
func (p *TransactionProcessor) runTransaction(ctx context.Context, event *PurchaseEvent) (*Order, []OrderItem, error) {
	// 2. Validated → Locked: abre a transação; os locks de canal são
	// adquiridos em ordem crescente de product id.
	tx, err := p.repository.BeginTx(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 3. Locked → StockChecked: lê cada volume sob lock
	volumes, err := p.stock.AcquireAndCheck(ctx, tx, event.MachineID, event.Lines)
	if err != nil {
		return nil, nil, err
	}

	// 4. StockChecked → Persisted: pedido, linhas e pagamento
	order, items, err := p.ledger.WriteOrder(ctx, tx, event, uuid.New().String(), time.Now())
	if err != nil {
		return nil, nil, err
	}

	// 5. Decremento do estoque, ainda sob os mesmos locks
	if err := p.stock.Decrement(ctx, tx, event.MachineID, event.Lines, volumes); err != nil {
		return nil, nil, err
	}

	// 6. Commit
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit purchase: %w", err)
	}

	return order, items, nil
}

// logCompleted enriquece o log de sucesso com descritores legíveis.
// Qualquer falha de consulta é engolida: o pedido já está commitado.
func (p *TransactionProcessor) logCompleted(ctx context.Context, order *Order, items []OrderItem) {
	productIDs := make([]int64, 0, len(items))
	for _, item := range items {
		productIDs = append(productIDs, item.ProductID)
	}

	describeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	desc, err := p.repository.DescribePurchase(describeCtx, order.UserID, order.MachineID, productIDs)
	if err != nil {
		p.logger.Info("✅ order completed",
			zap.String("order_id", order.ID),
			zap.Int64("user_id", order.UserID),
			zap.String("machine_id", order.MachineID),
			zap.String("total", order.Total.StringFixed(2)))
		return
	}

	p.logger.Info("✅ order completed",
		zap.String("order_id", order.ID),
		zap.String("user", desc.Username),
		zap.String("machine_id", order.MachineID),
		zap.String("location", desc.Location),
		zap.String("products", strings.Join(desc.ProductNames, ", ")),
		zap.String("total", order.Total.StringFixed(2)))
}
