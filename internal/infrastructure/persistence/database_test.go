package persistence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marketsync/backend/internal/infrastructure/config"
)

func testDBConfig() *config.DatabaseConfig {
	return &config.DatabaseConfig{MaxOpenConns: 4, MaxIdleConns: 2, ConnMaxLifetime: 5, ConnMaxIdleTime: 1}
}

// openMock opens a Database over sqlmock speaking the postgres dialect
func openMock(t *testing.T) (*Database, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	mock.ExpectPing()
	db, err := Open(context.Background(), testDBConfig(),
		WithDialector(postgres.New(postgres.Config{Conn: mockDB})),
	)
	require.NoError(t, err)
	return db, mock
}

func TestOpen_PingsWithinContext(t *testing.T) {
	db, mock := openMock(t)

	mock.ExpectPing()
	assert.NoError(t, db.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 4, db.Stats().MaxOpenConnections)
}

func TestOpen_PingFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectPing().WillReturnError(fmt.Errorf("connection refused"))
	mock.ExpectClose()

	_, err = Open(context.Background(), testDBConfig(),
		WithDialector(postgres.New(postgres.Config{Conn: mockDB})),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping database")
}

func TestDatabase_Close(t *testing.T) {
	db, mock := openMock(t)

	mock.ExpectClose()
	assert.NoError(t, db.Close(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_InTx(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		db, mock := openMock(t)

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM "webhook_dedup" WHERE processed_at < \$1`).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectCommit()

		err := db.InTx(context.Background(), func(tx *gorm.DB) error {
			return tx.Exec(`DELETE FROM "webhook_dedup" WHERE processed_at < ?`, "2026-01-01").Error
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock := openMock(t)

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := db.InTx(context.Background(), func(tx *gorm.DB) error {
			return assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDatabase_AutoMigrateOnSQLite(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Open(context.Background(), &config.DatabaseConfig{MaxOpenConns: 1},
		WithDialector(sqlite.Open(dsn)),
		WithZapLogger(zaptest.NewLogger(t), gormlogger.Warn, 50*time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(context.Background()) })

	require.NoError(t, db.AutoMigrate())

	for _, table := range []string{"marketplace_connections", "webhook_dedup", "unified_orders", "unified_order_items", "unified_products", "sync_logs"} {
		assert.True(t, db.DB.Migrator().HasTable(table), table)
	}
}
