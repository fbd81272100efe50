package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// StockController encapsula a sequência lock → checagem → decremento de um
// canal, sempre presa à transação do chamador. O lock nunca é segurado
// através de chamadas bloqueantes a sistemas externos: a notificação e o
// enriquecimento acontecem só depois do commit.
type StockController struct {
	repository  Repository
	lockTimeout time.Duration
}

// NewStockController cria uma nova instância de StockController
func NewStockController(repository Repository, lockTimeout time.Duration) *StockController {
	return &StockController{
		repository:  repository,
		lockTimeout: lockTimeout,
	}
}

// sortedLines devolve as linhas em ordem crescente de product id.
// Ordem determinística de aquisição evita deadlock entre eventos
// concorrentes que tocam os mesmos canais.
func sortedLines(lines []PurchaseLine) []PurchaseLine {
	sorted := make([]PurchaseLine, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ProductID < sorted[j].ProductID
	})
	return sorted
}

// AcquireAndCheck adquire o lock pessimista de cada canal do evento, em
// ordem crescente de product id, e verifica o volume de cada linha. Se
// qualquer linha não tiver estoque, retorna ErrStockInsufficient e nenhum
// pedido deve ser criado (sem fulfillment parcial). Retorna os volumes
// lidos sob lock, para o decremento posterior decidir o status do canal.
func (sc *StockController) AcquireAndCheck(ctx context.Context, tx Tx, machineID string, lines []PurchaseLine) (map[int64]int, error) {
	volumes := make(map[int64]int, len(lines))

	for _, line := range sortedLines(lines) {
		// A aquisição do lock é limitada por timeout; estourar o prazo é
		// falha transiente, não fatal. A classificação olha o erro antes do
		// cancel: só prazo estourado vira ErrLockTimeout, erros permanentes
		// do banco (canal inexistente, conexão) passam intactos.
		lockCtx, cancel := context.WithTimeout(ctx, sc.lockTimeout)
		channel, err := sc.repository.ChannelForUpdate(lockCtx, tx, machineID, line.ProductID)
		timedOut := errors.Is(err, context.DeadlineExceeded) ||
			(errors.Is(lockCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil)
		cancel()
		if err != nil {
			if timedOut {
				return nil, fmt.Errorf("%w: machine=%s product=%d", ErrLockTimeout, machineID, line.ProductID)
			}
			return nil, err
		}

		if channel.Volume < line.Quantity {
			return nil, fmt.Errorf("%w: product %d needs %d, has %d",
				ErrStockInsufficient, line.ProductID, line.Quantity, channel.Volume)
		}
		volumes[line.ProductID] = channel.Volume
	}

	return volumes, nil
}

// Decrement abate o volume de cada linha sob os locks já adquiridos.
// Canais que chegam a zero são marcados out_of_stock na mesma transação.
func (sc *StockController) Decrement(ctx context.Context, tx Tx, machineID string, lines []PurchaseLine, volumes map[int64]int) error {
	for _, line := range sortedLines(lines) {
		soldOut := volumes[line.ProductID]-line.Quantity == 0
		if err := sc.repository.DecrementChannel(ctx, tx, machineID, line.ProductID, line.Quantity, soldOut); err != nil {
			return err
		}
	}
	return nil
}
