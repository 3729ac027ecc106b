package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/xaenox/codereview-threads/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the config as a lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// PostgresStorage keeps the snapshot as a JSONB row in kv_store.
type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(ctx context.Context, config DatabaseConfig) (*PostgresStorage, error) {
	return OpenPostgres(ctx, config.DSN())
}

// OpenPostgres connects using a raw DSN or URL.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db}

	if err := storage.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema(ctx context.Context) error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (s *PostgresStorage) Load(ctx context.Context) (models.Snapshot, error) {
	query := `
		SELECT payload
		FROM kv_store
		WHERE namespace = $1`

	var payload []byte
	err := s.db.QueryRowContext(ctx, query, Namespace).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return models.EmptySnapshot(), nil
	}
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("error loading snapshot: %w", err)
	}

	return decodeSnapshot(payload)
}

func (s *PostgresStorage) Save(ctx context.Context, snapshot models.Snapshot) error {
	payload, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO kv_store (namespace, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (namespace)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`

	if _, err := s.db.ExecContext(ctx, query, Namespace, string(payload)); err != nil {
		return fmt.Errorf("error saving snapshot: %w", err)
	}

	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
