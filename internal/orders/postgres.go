package orders

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PGStore serves lookups from PostgreSQL.
type PGStore struct {
	db *sql.DB
}

// Open connects to the order database at connStr and applies any pending
// migrations.
func Open(connStr string) (*PGStore, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("orders open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("orders ping: %w", err)
	}
	if err = migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("orders migrate: %w", err)
	}
	return &PGStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.Exec(string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// Close closes the database.
func (s *PGStore) Close() error {
	return s.db.Close()
}

// Lookup implements Store.
func (s *PGStore) Lookup(ctx context.Context, id int) (*Order, error) {
	var o Order
	row := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, order_date, total_amount, status
		   FROM orders WHERE id = $1`, id)
	if err := row.Scan(&o.ID, &o.CustomerID, &o.OrderDate, &o.TotalAmount, &o.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("orders lookup %d: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT p.name, p.sku, oi.quantity, oi.unit_price
		   FROM order_items oi
		   JOIN products p ON p.id = oi.product_id
		  WHERE oi.order_id = $1
		  ORDER BY p.name`, id)
	if err != nil {
		return nil, fmt.Errorf("orders items %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var item Item
		if err = rows.Scan(&item.ProductName, &item.SKU, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("orders items scan: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("orders items iterate: %w", err)
	}

	return &o, nil
}

// Upsert inserts or replaces one order and its items. Used by cmd/seed.
func (s *PGStore) Upsert(ctx context.Context, o *Order, items []SeedItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("orders upsert begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (id, customer_id, order_date, total_amount, status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		    SET customer_id = $2, order_date = $3, total_amount = $4, status = $5`,
		o.ID, o.CustomerID, o.OrderDate, o.TotalAmount, o.Status)
	if err != nil {
		return fmt.Errorf("orders upsert %d: %w", o.ID, err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, o.ID); err != nil {
		return fmt.Errorf("orders clear items %d: %w", o.ID, err)
	}
	for _, item := range items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, product_id, quantity, unit_price)
			 VALUES ($1, $2, $3, $4)`,
			o.ID, item.ProductID, item.Quantity, item.UnitPrice)
		if err != nil {
			return fmt.Errorf("orders insert item: %w", err)
		}
	}

	return tx.Commit()
}

// UpsertProduct inserts or replaces one product row. Used by cmd/seed.
func (s *PGStore) UpsertProduct(ctx context.Context, id int, name, sku string, price float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, name, sku, price)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = $2, sku = $3, price = $4`,
		id, name, sku, price)
	if err != nil {
		return fmt.Errorf("orders upsert product %d: %w", id, err)
	}
	return nil
}

// SeedItem is an order line as it appears in the store seed file, before
// the product join.
type SeedItem struct {
	ProductID int
	Quantity  int
	UnitPrice float64
}
