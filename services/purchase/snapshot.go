package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// snapshotData é uma versão imutável dos dados de referência. Nunca é
// mutada depois de construída; o refresh constrói uma nova e troca o ponteiro.
type snapshotData struct {
	users    map[int64]struct{}
	machines map[string]struct{}
	products map[int64]decimal.Decimal
	loadedAt time.Time
}

// ReferenceSnapshot guarda a cópia em memória de ids válidos e preços,
// usada para validação barata antes de abrir transação. Staleness é
// aceita: mudanças feitas depois do último Refresh só aparecem no próximo.
type ReferenceSnapshot struct {
	db      *pgxpool.Pool
	current atomic.Pointer[snapshotData]
}

// NewReferenceSnapshot cria um snapshot vazio; chame Refresh antes de usar
func NewReferenceSnapshot(db *pgxpool.Pool) *ReferenceSnapshot {
	s := &ReferenceSnapshot{db: db}
	s.current.Store(&snapshotData{
		users:    map[int64]struct{}{},
		machines: map[string]struct{}{},
		products: map[int64]decimal.Decimal{},
	})
	return s
}

// Refresh busca linhas frescas do banco e troca o snapshot ativo de forma
// atômica. Leitores nunca enxergam um snapshot pela metade.
func (s *ReferenceSnapshot) Refresh(ctx context.Context) error {
	data := &snapshotData{
		users:    make(map[int64]struct{}),
		machines: make(map[string]struct{}),
		products: make(map[int64]decimal.Decimal),
		loadedAt: time.Now(),
	}

	rows, err := s.db.Query(ctx, "SELECT user_id FROM users")
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan user id: %w", err)
		}
		data.users[id] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}

	rows, err = s.db.Query(ctx, "SELECT machine_id FROM machines")
	if err != nil {
		return fmt.Errorf("failed to load machines: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan machine id: %w", err)
		}
		data.machines[id] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to load machines: %w", err)
	}

	rows, err = s.db.Query(ctx, "SELECT product_id, price::text FROM products")
	if err != nil {
		return fmt.Errorf("failed to load products: %w", err)
	}
	for rows.Next() {
		var (
			id    int64
			price string
		)
		if err := rows.Scan(&id, &price); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan product: %w", err)
		}
		parsed, err := decimal.NewFromString(price)
		if err != nil {
			rows.Close()
			return fmt.Errorf("invalid price for product %d: %w", id, err)
		}
		data.products[id] = parsed
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to load products: %w", err)
	}

	s.current.Store(data)
	return nil
}

// LookupUser verifica se o user id existe no snapshot ativo
func (s *ReferenceSnapshot) LookupUser(id int64) bool {
	_, ok := s.current.Load().users[id]
	return ok
}

// LookupMachine verifica se o machine id existe no snapshot ativo
func (s *ReferenceSnapshot) LookupMachine(id string) bool {
	_, ok := s.current.Load().machines[id]
	return ok
}

// LookupProduct retorna o preço do produto, se ele existir no snapshot ativo
func (s *ReferenceSnapshot) LookupProduct(id int64) (decimal.Decimal, bool) {
	price, ok := s.current.Load().products[id]
	return price, ok
}

// LoadedAt retorna quando o snapshot ativo foi carregado
func (s *ReferenceSnapshot) LoadedAt() time.Time {
	return s.current.Load().loadedAt
}

// Sizes retorna as contagens de usuários, máquinas e produtos carregados
func (s *ReferenceSnapshot) Sizes() (users, machines, products int) {
	data := s.current.Load()
	return len(data.users), len(data.machines), len(data.products)
}
