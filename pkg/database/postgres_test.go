package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-fee-api/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host:             "db.internal",
		Port:             5432,
		User:             "kasir",
		Password:         "s3cret pass'",
		Name:             "sma_fees",
		SSLMode:          "disable",
		StatementTimeout: 5 * time.Second,
	})

	assert.Equal(t, `host=db.internal port=5432 user=kasir password='s3cret pass\'' dbname=sma_fees sslmode=disable application_name=sma-fee-api statement_timeout=5000`, dsn)
}

func TestWithTx(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	db := sqlx.NewDb(raw, "sqlmock")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE fee_collections").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	err = WithTx(context.Background(), db, "verify", func(tx *sqlx.Tx) error {
		_, err := tx.Exec("UPDATE fee_collections SET is_verified = true")
		return err
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()
	boom := errors.New("stale assignment")
	err = WithTx(context.Background(), db, "collect", func(tx *sqlx.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)

	require.NoError(t, mock.ExpectationsWereMet())
}
