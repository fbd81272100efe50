package main

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// PurchaseReader é a visão do consumer sobre o tópico de compras
type PurchaseReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// DeviceConsumer drena o tópico de compras dos dispositivos e alimenta o
// processador através de um pool de workers. Eventos são fire-and-forget:
// um evento que falha é descartado com log, nunca re-tentado para sempre,
// para não criar loop de poison message.
type DeviceConsumer struct {
	reader      PurchaseReader
	ingress     *EventIngress
	processor   *TransactionProcessor
	workers     int
	logger      *zap.Logger
	readBackoff time.Duration
}

// NewDeviceConsumer cria uma nova instância de DeviceConsumer
func NewDeviceConsumer(reader PurchaseReader, ingress *EventIngress, processor *TransactionProcessor, workers int, logger *zap.Logger) *DeviceConsumer {
	if workers < 1 {
		workers = 1
	}
	return &DeviceConsumer{
		reader:      reader,
		ingress:     ingress,
		processor:   processor,
		workers:     workers,
		logger:      logger,
		readBackoff: time.Second,
	}
}

// Run consome mensagens até o contexto ser cancelado. Workers processam
// eventos concorrentemente; o lock de linha do canal no banco é quem
// serializa eventos que tocam o mesmo canal.
func (c *DeviceConsumer) Run(ctx context.Context) {
	messages := make(chan kafka.Message, c.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range messages {
				c.handle(ctx, msg)
			}
		}()
	}

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("context done, exiting kafka read loop")
				break
			}
			// Erro persistente de leitura (reader fechado, broker fora):
			// espera antes de reler para não girar em loop apertado
			c.logger.Error("❌ error reading from kafka", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.readBackoff):
			}
			continue
		}
		messages <- msg
	}

	close(messages)
	wg.Wait()
}

// handle normaliza e processa uma mensagem. Todos os erros terminam aqui:
// nada volta para o transporte além de uma entrada de log.
func (c *DeviceConsumer) handle(ctx context.Context, msg kafka.Message) {
	event, err := c.ingress.FromDeviceMessage(msg.Value)
	if err != nil {
		c.logger.Warn("❌ dropping unparseable device message",
			zap.ByteString("key", msg.Key),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return
	}

	// O processador já loga rejeições, rollbacks e sucesso
	if _, err := c.processor.Process(ctx, event); err != nil {
		return
	}
}
