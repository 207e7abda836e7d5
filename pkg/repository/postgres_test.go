package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestPostgresResolve(t *testing.T) {
	db, mock := newDB(t)
	mock.ExpectQuery("SELECT id, path FROM repositories").
		WithArgs("hitchhiker", "h2g2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "path"}).AddRow("42", "/srv/repos/h2g2"))

	repo, err := NewPostgresResolver(db).Resolve(context.Background(), "hitchhiker", "h2g2")
	require.NoError(t, err)
	assert.Equal(t, &Repository{ID: "42", Namespace: "hitchhiker", Name: "h2g2", Path: "/srv/repos/h2g2"}, repo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResolveNotFound(t *testing.T) {
	db, mock := newDB(t)
	mock.ExpectQuery("SELECT id, path FROM repositories").
		WithArgs("hitchhiker", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "path"}))

	_, err := NewPostgresResolver(db).Resolve(context.Background(), "hitchhiker", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResolveError(t *testing.T) {
	db, mock := newDB(t)
	mock.ExpectQuery("SELECT id, path FROM repositories").
		WillReturnError(errors.New("connection reset"))

	_, err := NewPostgresResolver(db).Resolve(context.Background(), "hitchhiker", "h2g2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestPostgresRegister(t *testing.T) {
	db, mock := newDB(t)
	mock.ExpectExec("INSERT INTO repositories").
		WithArgs("42", "hitchhiker", "h2g2", "/srv/repos/h2g2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewPostgresResolver(db).Register(context.Background(), &Repository{
		ID: "42", Namespace: "hitchhiker", Name: "h2g2", Path: "/srv/repos/h2g2",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations(t *testing.T) {
	db, _ := newDB(t)

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}
	require.NoError(t, NewPostgresResolver(db).RunMigrations(context.Background()))
	assert.Equal(t, "migrations", gotDir)

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	assert.EqualError(t, NewPostgresResolver(db).RunMigrations(context.Background()), "boom")
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "00001_create_repositories.sql", entries[0].Name())
}
