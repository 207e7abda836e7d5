package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// PostgresResolver looks repositories up in the repositories table.
type PostgresResolver struct {
	db *sql.DB
}

// NewPostgresResolver returns a resolver over db. The schema must exist; see
// RunMigrations.
func NewPostgresResolver(db *sql.DB) *PostgresResolver {
	return &PostgresResolver{db: db}
}

// OpenPostgres connects to dsn and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresResolver, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	r := NewPostgresResolver(db)
	if err := r.RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return r, nil
}

// RunMigrations sets up goose with the embedded migrations and runs them.
func (r *PostgresResolver) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, r.db, "migrations")
}

func (r *PostgresResolver) Resolve(ctx context.Context, namespace, name string) (*Repository, error) {
	query :=
		`SELECT id, path FROM repositories
		 WHERE namespace = $1 AND name = $2
		 `

	repo := &Repository{Namespace: namespace, Name: name}
	err := r.db.QueryRowContext(ctx, query, namespace, name).Scan(&repo.ID, &repo.Path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("repository %s/%s: %w", namespace, name, ErrNotFound)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return repo, nil
}

// Register inserts or updates a repository.
func (r *PostgresResolver) Register(ctx context.Context, repo *Repository) error {
	query :=
		`INSERT INTO repositories (id, namespace, name, path)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (namespace, name) DO UPDATE SET path = EXCLUDED.path
		 `

	if _, err := r.db.ExecContext(ctx, query, repo.ID, repo.Namespace, repo.Name, repo.Path); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Close closes the database.
func (r *PostgresResolver) Close() error {
	return r.db.Close()
}
