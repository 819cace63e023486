package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"freezy-bot/internal/models"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ErrNotFound is returned when no row matches.
var ErrNotFound = errors.New("not found")

// Session is what the bot keeps for a signed-in Telegram user.
type Session struct {
	TelegramID int64
	Token      string
	User       models.SessionUser
	UpdatedAt  time.Time
}

type PostgresDB struct {
	pool   *pgxpool.Pool
	sealer *Sealer
}

func NewPostgresDB(cfg struct {
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}, sealer *Sealer) (*PostgresDB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode, cfg.MaxOpenConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnLifetime
	poolConfig.MaxConnIdleTime = 15 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{pool: pool, sealer: sealer}, nil
}

func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    telegram_id   BIGINT PRIMARY KEY,
    token_sealed  BYTEA NOT NULL,
    user_snapshot JSONB NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS checkouts (
    id                 BIGSERIAL PRIMARY KEY,
    stripe_session_id  TEXT NOT NULL UNIQUE,
    telegram_id        BIGINT NOT NULL,
    offer_id           TEXT NOT NULL,
    backend_payment_id TEXT NOT NULL DEFAULT '',
    amount             BIGINT NOT NULL,
    currency           TEXT NOT NULL,
    status             TEXT NOT NULL,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate creates the tables when they are missing.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveSession stores the sealed token and the normalized user, replacing
// any previous session for the same Telegram user.
func (db *PostgresDB) SaveSession(ctx context.Context, s *Session) error {
	sealed, err := db.sealer.Seal(s.Token)
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(s.User)
	if err != nil {
		return fmt.Errorf("failed to encode user snapshot: %w", err)
	}

	query := `
        INSERT INTO sessions (telegram_id, token_sealed, user_snapshot)
        VALUES ($1, $2, $3)
        ON CONFLICT (telegram_id) DO UPDATE
        SET token_sealed = $2, user_snapshot = $3, updated_at = NOW()
        RETURNING updated_at
    `
	return db.pool.QueryRow(ctx, query, s.TelegramID, sealed, snapshot).Scan(&s.UpdatedAt)
}

func (db *PostgresDB) GetSession(ctx context.Context, telegramID int64) (*Session, error) {
	query := `
        SELECT token_sealed, user_snapshot, updated_at
        FROM sessions
        WHERE telegram_id = $1
    `

	var (
		sealed   []byte
		snapshot []byte
		s        = Session{TelegramID: telegramID}
	)
	err := db.pool.QueryRow(ctx, query, telegramID).Scan(&sealed, &snapshot, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if s.Token, err = db.sealer.Open(sealed); err != nil {
		return nil, fmt.Errorf("failed to open session token: %w", err)
	}
	if err := json.Unmarshal(snapshot, &s.User); err != nil {
		return nil, fmt.Errorf("failed to decode user snapshot: %w", err)
	}
	return &s, nil
}

// UpdateSessionUser replaces the stored user after a profile edit.
func (db *PostgresDB) UpdateSessionUser(ctx context.Context, telegramID int64, user models.SessionUser) error {
	snapshot, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user snapshot: %w", err)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE sessions SET user_snapshot = $2, updated_at = NOW() WHERE telegram_id = $1`,
		telegramID, snapshot)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *PostgresDB) DeleteSession(ctx context.Context, telegramID int64) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM sessions WHERE telegram_id = $1`, telegramID)
	return err
}

func (db *PostgresDB) SaveCheckout(ctx context.Context, c *models.Checkout) error {
	query := `
        INSERT INTO checkouts (stripe_session_id, telegram_id, offer_id, backend_payment_id, amount, currency, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, created_at, updated_at
    `

	return db.pool.QueryRow(ctx, query,
		c.StripeSessionID, c.TelegramID, c.OfferID, c.BackendPaymentID,
		c.Amount, c.Currency, c.Status,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (db *PostgresDB) GetCheckout(ctx context.Context, stripeSessionID string) (*models.Checkout, error) {
	query := `
        SELECT id, stripe_session_id, telegram_id, offer_id, backend_payment_id, amount, currency, status, created_at, updated_at
        FROM checkouts
        WHERE stripe_session_id = $1
    `

	var c models.Checkout
	err := db.pool.QueryRow(ctx, query, stripeSessionID).Scan(
		&c.ID, &c.StripeSessionID, &c.TelegramID, &c.OfferID, &c.BackendPaymentID,
		&c.Amount, &c.Currency, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout: %w", err)
	}
	return &c, nil
}

func (db *PostgresDB) UpdateCheckoutStatus(ctx context.Context, stripeSessionID string, status string) error {
	query := `
        UPDATE checkouts
        SET status = $2, updated_at = NOW()
        WHERE stripe_session_id = $1
    `

	_, err := db.pool.Exec(ctx, query, stripeSessionID, status)
	return err
}
