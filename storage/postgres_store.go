package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"salefeed-relay/models"
	"salefeed-relay/utils"
)

const (
	insertBatchSize = 50
	// uniqueViolation is the SQLSTATE raised by the listing key constraint.
	uniqueViolation = "23505"
)

// PostgresStore persists listings to PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection to PostgreSQL, waits for it to accept
// connections, creates the schema, and returns a ready-to-use PostgresStore.
func NewPostgresStore(ctx context.Context, dsn string, retry *utils.RetryConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: open")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	err = retry.Do(ctx, "postgres ping", func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "postgres: ping")
	}

	ps := &PostgresStore{db: db}
	if err := ps.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "postgres: create schema")
	}

	return ps, nil
}

func (ps *PostgresStore) migrate(ctx context.Context) error {
	_, err := ps.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			id              BIGSERIAL        PRIMARY KEY,
			steamid         VARCHAR(64)      NOT NULL,
			market_name     TEXT             NOT NULL,
			wear            DOUBLE PRECISION,
			sale_price      DOUBLE PRECISION,
			additional_data JSONB            NOT NULL DEFAULT '{}'::jsonb,
			created_at      TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
			CONSTRAINT unique_steamid_market_name UNIQUE (steamid, market_name)
		);

		CREATE INDEX IF NOT EXISTS idx_listings_market_name ON listings(market_name);
	`)
	return err
}

func (ps *PostgresStore) InsertIfAbsent(ctx context.Context, l *models.Listing) error {
	err := ps.db.QueryRowContext(ctx, `
		INSERT INTO listings (steamid, market_name, wear, sale_price, additional_data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, l.SteamID, l.MarketName, l.Wear, l.SalePrice, payloadArg(l)).Scan(&l.ID, &l.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return errors.Wrap(err, "postgres: insert listing")
	}
	return nil
}

func (ps *PostgresStore) BulkInsert(ctx context.Context, listings []*models.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	err := ps.inTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(listings); start += insertBatchSize {
			end := min(start+insertBatchSize, len(listings))
			if _, err := insertBatch(ctx, tx, listings[start:end], false); err != nil {
				return err
			}
		}
		return nil
	})
	if isUniqueViolation(err) {
		return aborted(ErrDuplicateKey)
	}
	if err != nil {
		return aborted(errors.Wrap(err, "postgres: bulk insert"))
	}
	return nil
}

func (ps *PostgresStore) InsertNew(ctx context.Context, listings []*models.Listing) (int, error) {
	if len(listings) == 0 {
		return 0, nil
	}
	inserted := 0
	err := ps.inTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(listings); start += insertBatchSize {
			end := min(start+insertBatchSize, len(listings))
			n, err := insertBatch(ctx, tx, listings[start:end], true)
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "postgres: insert new listings")
	}
	return inserted, nil
}

// insertBatch writes one multi-row INSERT. With skipExisting, rows whose key
// is already present (or repeated earlier in the batch) are skipped.
func insertBatch(ctx context.Context, tx *sql.Tx, batch []*models.Listing, skipExisting bool) (int64, error) {
	const cols = 5
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*cols)

	for idx, l := range batch {
		base := idx * cols
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4, base+5))
		valueArgs = append(valueArgs, l.SteamID, l.MarketName, l.Wear, l.SalePrice, payloadArg(l))
	}

	query := fmt.Sprintf(`
		INSERT INTO listings (steamid, market_name, wear, sale_price, additional_data)
		VALUES %s
	`, strings.Join(valueStrings, ","))
	if skipExisting {
		query += " ON CONFLICT (steamid, market_name) DO NOTHING"
	}

	res, err := tx.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// All retrieves every stored listing ordered by id.
func (ps *PostgresStore) All(ctx context.Context) ([]*models.Listing, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT id, steamid, market_name, wear, sale_price, additional_data, created_at
		FROM listings
		ORDER BY id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: fetch all")
	}
	defer rows.Close()

	listings := make([]*models.Listing, 0)
	for rows.Next() {
		var (
			l         models.Listing
			wear      sql.NullFloat64
			salePrice sql.NullFloat64
			payload   []byte
		)
		if err := rows.Scan(
			&l.ID, &l.SteamID, &l.MarketName, &wear, &salePrice, &payload, &l.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "postgres: scan row")
		}
		if wear.Valid {
			l.Wear = &wear.Float64
		}
		if salePrice.Valid {
			l.SalePrice = &salePrice.Float64
		}
		l.RawPayload = payload
		listings = append(listings, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "postgres: iterate rows")
	}
	return listings, nil
}

// Clear deletes all listings inside a transaction. The id sequence is left
// untouched so identifiers are never reused.
func (ps *PostgresStore) Clear(ctx context.Context) (int64, error) {
	var n int64
	err := ps.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM listings")
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "postgres: clear")
	}
	return n, nil
}

func (ps *PostgresStore) Ping(ctx context.Context) error {
	return ps.db.PingContext(ctx)
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

// inTx runs fn in a transaction, rolling back on any error.
func (ps *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func payloadArg(l *models.Listing) string {
	if len(l.RawPayload) == 0 {
		return "{}"
	}
	return string(l.RawPayload)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
