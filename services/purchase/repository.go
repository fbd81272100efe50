package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository define a interface para operações de banco de dados da compra
type Repository interface {
	// BeginTx inicia a transação que engloba lock, checagem, escrita e decremento
	BeginTx(ctx context.Context) (Tx, error)

	// ChannelForUpdate obtém o canal com lock pessimista (FOR UPDATE)
	ChannelForUpdate(ctx context.Context, tx Tx, machineID string, productID int64) (*Channel, error)

	// DecrementChannel abate o volume do canal e, se soldOut, marca out_of_stock
	DecrementChannel(ctx context.Context, tx Tx, machineID string, productID int64, quantity int, soldOut bool) error

	// InsertOrder grava o pedido dentro da transação aberta
	InsertOrder(ctx context.Context, tx Tx, order *Order) error

	// InsertOrderItems grava as linhas do pedido
	InsertOrderItems(ctx context.Context, tx Tx, items []OrderItem) error

	// InsertPayment grava o registro de pagamento do pedido
	InsertPayment(ctx context.Context, tx Tx, payment *Payment) error

	// Restock repõe volume em um canal e o reativa
	Restock(ctx context.Context, machineID string, productID int64, quantity int) error

	// ListMachines retorna as máquinas com seus canais ativos (catálogo)
	ListMachines(ctx context.Context) ([]MachineCatalog, error)

	// GetOrder busca um pedido com linhas e pagamento
	GetOrder(ctx context.Context, orderID string) (*OrderDetail, error)

	// DescribePurchase busca descritores legíveis para o log pós-commit
	DescribePurchase(ctx context.Context, userID int64, machineID string, productIDs []int64) (*PurchaseDescription, error)
}

// Tx interface para transações
type Tx interface {
	Commit() error
	Rollback() error
}

// PostgresTx implementa a interface Tx
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *PostgresTx) Rollback() error {
	return t.tx.Rollback(context.Background())
}

// PostgresRepository implementa Repository usando PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewRepository cria uma nova instância de PostgresRepository
func NewRepository(db *pgxpool.Pool) Repository {
	return &PostgresRepository{
		db: db,
	}
}

// BeginTx inicia uma nova transação
func (r *PostgresRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &PostgresTx{tx: tx}, nil
}

// ChannelForUpdate obtém o canal com lock pessimista (SELECT FOR UPDATE).
// A linha fica bloqueada no banco até o Commit ou Rollback.
func (r *PostgresRepository) ChannelForUpdate(ctx context.Context, tx Tx, machineID string, productID int64) (*Channel, error) {
	pgTx := tx.(*PostgresTx).tx

	query := `
		SELECT machine_id, product_id, volume, status
		FROM machine_channels
		WHERE machine_id = $1 AND product_id = $2
		FOR UPDATE
	`

	var channel Channel
	err := pgTx.QueryRow(ctx, query, machineID, productID).Scan(
		&channel.MachineID,
		&channel.ProductID,
		&channel.Volume,
		&channel.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: machine=%s product=%d", ErrChannelNotConfigured, machineID, productID)
		}
		return nil, fmt.Errorf("failed to lock channel: %w", err)
	}

	return &channel, nil
}

// DecrementChannel abate o volume e atualiza o status do canal.
// Roda sempre sob o lock adquirido por ChannelForUpdate na mesma transação.
func (r *PostgresRepository) DecrementChannel(ctx context.Context, tx Tx, machineID string, productID int64, quantity int, soldOut bool) error {
	pgTx := tx.(*PostgresTx).tx

	updateQuery := `
		UPDATE machine_channels
		SET volume = volume - $3
		WHERE machine_id = $1 AND product_id = $2
	`
	if _, err := pgTx.Exec(ctx, updateQuery, machineID, productID, quantity); err != nil {
		return fmt.Errorf("failed to decrement channel: %w", err)
	}

	if soldOut {
		statusQuery := `
			UPDATE machine_channels
			SET status = 'out_of_stock'
			WHERE machine_id = $1 AND product_id = $2
		`
		if _, err := pgTx.Exec(ctx, statusQuery, machineID, productID); err != nil {
			return fmt.Errorf("failed to mark channel out of stock: %w", err)
		}
	}

	return nil
}

// InsertOrder grava o pedido
func (r *PostgresRepository) InsertOrder(ctx context.Context, tx Tx, order *Order) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		INSERT INTO orders (id, user_id, machine_id, total, payment_method, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, order.ID, order.UserID, order.MachineID, order.Total.StringFixed(2),
		order.PaymentMethod, order.Status, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// InsertOrderItems grava uma linha por produto distinto do pedido
func (r *PostgresRepository) InsertOrderItems(ctx context.Context, tx Tx, items []OrderItem) error {
	pgTx := tx.(*PostgresTx).tx

	for _, item := range items {
		_, err := pgTx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
		`, item.OrderID, item.ProductID, item.Quantity, item.UnitPrice.StringFixed(2))
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}
	return nil
}

// InsertPayment grava o registro de pagamento
func (r *PostgresRepository) InsertPayment(ctx context.Context, tx Tx, payment *Payment) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		INSERT INTO payments (order_id, amount, transaction_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, payment.OrderID, payment.Amount.StringFixed(2), payment.TransactionID,
		payment.Status, payment.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// Restock repõe volume no canal, reativa e marca o horário da reposição
func (r *PostgresRepository) Restock(ctx context.Context, machineID string, productID int64, quantity int) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE machine_channels
		SET volume = volume + $3, status = 'active', last_restock = NOW()
		WHERE machine_id = $1 AND product_id = $2
	`, machineID, productID, quantity)
	if err != nil {
		return fmt.Errorf("failed to restock channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: machine=%s product=%d", ErrChannelNotConfigured, machineID, productID)
	}
	return nil
}

// ListMachines retorna as máquinas com os canais ativos e seus produtos
func (r *PostgresRepository) ListMachines(ctx context.Context) ([]MachineCatalog, error) {
	rows, err := r.db.Query(ctx, `
		SELECT m.machine_id, m.location_address, m.status,
		       p.product_id, p.product_name, p.price::text, mc.volume
		FROM machines m
		LEFT JOIN machine_channels mc
		       ON mc.machine_id = m.machine_id AND mc.status = 'active'
		LEFT JOIN products p ON p.product_id = mc.product_id
		ORDER BY m.machine_id, p.product_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}
	defer rows.Close()

	var (
		catalog []MachineCatalog
		current *MachineCatalog
	)
	for rows.Next() {
		var (
			machine   Machine
			productID *int64
			name      *string
			price     *string
			volume    *int
		)
		if err := rows.Scan(&machine.ID, &machine.Location, &machine.Status,
			&productID, &name, &price, &volume); err != nil {
			return nil, fmt.Errorf("failed to scan machine row: %w", err)
		}

		if current == nil || current.ID != machine.ID {
			catalog = append(catalog, MachineCatalog{Machine: machine})
			current = &catalog[len(catalog)-1]
		}

		if productID == nil {
			continue
		}
		parsed, err := decimal.NewFromString(*price)
		if err != nil {
			return nil, fmt.Errorf("invalid price for product %d: %w", *productID, err)
		}
		current.Products = append(current.Products, MachineProduct{
			ProductID: *productID,
			Name:      *name,
			Price:     parsed,
			Volume:    *volume,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}

	return catalog, nil
}

// GetOrder busca um pedido com suas linhas e pagamento
func (r *PostgresRepository) GetOrder(ctx context.Context, orderID string) (*OrderDetail, error) {
	var (
		order Order
		total string
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, machine_id, total::text, payment_method, status, created_at
		FROM orders WHERE id = $1
	`, orderID).Scan(&order.ID, &order.UserID, &order.MachineID, &total,
		&order.PaymentMethod, &order.Status, &order.CreatedAt)
	if err != nil {
		return nil, err
	}
	order.Total, err = decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("invalid order total: %w", err)
	}

	detail := &OrderDetail{Order: &order}

	rows, err := r.db.Query(ctx, `
		SELECT order_id, product_id, quantity, unit_price::text
		FROM order_items WHERE order_id = $1
		ORDER BY product_id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			item  OrderItem
			price string
		)
		if err := rows.Scan(&item.OrderID, &item.ProductID, &item.Quantity, &price); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		item.UnitPrice, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("invalid item price: %w", err)
		}
		detail.Items = append(detail.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	var (
		payment Payment
		amount  string
	)
	err = r.db.QueryRow(ctx, `
		SELECT order_id, amount::text, transaction_id, status, created_at
		FROM payments WHERE order_id = $1
	`, orderID).Scan(&payment.OrderID, &amount, &payment.TransactionID,
		&payment.Status, &payment.CreatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Pedidos anteriores à unificação podem não ter pagamento
	case err != nil:
		return nil, fmt.Errorf("failed to load payment: %w", err)
	default:
		payment.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("invalid payment amount: %w", err)
		}
		detail.Payment = &payment
	}

	return detail, nil
}

// DescribePurchase faz as consultas best-effort usadas só para logging.
// Roda fora da transação, depois do commit.
func (r *PostgresRepository) DescribePurchase(ctx context.Context, userID int64, machineID string, productIDs []int64) (*PurchaseDescription, error) {
	desc := &PurchaseDescription{}

	err := r.db.QueryRow(ctx,
		"SELECT username FROM users WHERE user_id = $1", userID).Scan(&desc.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to describe user: %w", err)
	}

	err = r.db.QueryRow(ctx,
		"SELECT location_address FROM machines WHERE machine_id = $1", machineID).Scan(&desc.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to describe machine: %w", err)
	}

	rows, err := r.db.Query(ctx,
		"SELECT product_name FROM products WHERE product_id = ANY($1) ORDER BY product_id", productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to describe products: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan product name: %w", err)
		}
		desc.ProductNames = append(desc.ProductNames, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to describe products: %w", err)
	}

	return desc, nil
}
