package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/graphrepair/checkpoint"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return mockDB, mock, gormDB
}

func testConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:        10,
		MaxIdleConns:        5,
		TransactionAttempts: 3,
	}
}

type fakeRecorder struct {
	mu      sync.Mutex
	conns   []string
	queries map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{queries: make(map[string]int)}
}

func (r *fakeRecorder) RecordDBConnections(database string, open, idle int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = append(r.conns, fmt.Sprintf("%s:%d:%d", database, open, idle))
}

func (r *fakeRecorder) RecordDBQuery(database, operation string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries[database+"/"+operation]++
}

func (r *fakeRecorder) queryCount(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries[key]
}

func (r *fakeRecorder) connReports() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func TestNewPoolManager(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	config := PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 1 * time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}

	manager, err := NewPoolManager(gormDB, config, zap.NewNop())
	require.NoError(t, err)

	assert.NotNil(t, manager.db)
	assert.NotNil(t, manager.logger)
	assert.Equal(t, config, manager.config)
	assert.Equal(t, "postgres", manager.name)
	assert.Same(t, gormDB, manager.DB())
	assert.Equal(t, 10, manager.GetStats().MaxOpenConnections)
}

func TestNewPoolManager_Errors(t *testing.T) {
	_, err := NewPoolManager(nil, testConfig(), nil)
	assert.Error(t, err)

	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()
	_, err = NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 2, MaxIdleConns: 5}, nil)
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, manager.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.Error(t, manager.Ping(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_Close(t *testing.T) {
	_, mock, gormDB := setupTestDB(t)

	manager, err := NewPoolManager(gormDB, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
	// 重复关闭是幂等的
	require.NoError(t, manager.Close())

	assert.Error(t, manager.Ping(context.Background()))
	assert.Error(t, manager.WithTransaction(context.Background(), func(*gorm.DB) error { return nil }))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransaction(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, manager.WithTransaction(context.Background(), func(*gorm.DB) error { return nil }))

	mock.ExpectBegin()
	mock.ExpectRollback()
	assert.ErrorIs(t, manager.WithTransaction(context.Background(), func(*gorm.DB) error { return assert.AnError }), assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err = manager.WithTransactionRetry(context.Background(), 3, func(*gorm.DB) error {
		calls++
		if calls == 1 {
			return errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry_NonRetryable(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()

	calls := 0
	err = manager.WithTransactionRetry(context.Background(), 3, func(*gorm.DB) error {
		calls++
		return checkpoint.ErrNotFound
	})
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry_Exhausted(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	err = manager.WithTransactionRetry(context.Background(), 2, func(*gorm.DB) error {
		return errors.New("database is locked")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry_ContextCanceled(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()

	ctx, cancel := context.WithCancel(context.Background())
	err = manager.WithTransactionRetry(ctx, 5, func(*gorm.DB) error {
		cancel()
		return driver.ErrBadConn
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoolManager_Transactor(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	cfg := testConfig()
	cfg.TransactionAttempts = 2
	manager, err := NewPoolManager(gormDB, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	var transact checkpoint.TransactFunc = manager.Transactor()
	calls := 0
	err = transact(context.Background(), func(*gorm.DB) error {
		calls++
		return errors.New("pq: could not serialize access (40001)")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// 📊 指标上报
// =============================================================================

type probeRow struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func TestPoolManager_StatsRecorder(t *testing.T) {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	rec := newFakeRecorder()
	cfg := PoolConfig{
		MaxOpenConns:        1,
		MaxIdleConns:        1,
		HealthCheckInterval: 10 * time.Millisecond,
	}
	manager, err := NewPoolManager(gormDB, cfg, zaptest.NewLogger(t), WithStatsRecorder("checkpoints", rec))
	require.NoError(t, err)
	defer manager.Close()

	db := manager.DB()
	require.NoError(t, db.AutoMigrate(&probeRow{}))
	require.NoError(t, db.Create(&probeRow{Name: "a"}).Error)

	var rows []probeRow
	require.NoError(t, db.Find(&rows).Error)
	require.NoError(t, db.Model(&probeRow{}).Where("id = ?", rows[0].ID).Update("name", "b").Error)
	require.NoError(t, db.Delete(&probeRow{}, rows[0].ID).Error)

	assert.Equal(t, 1, rec.queryCount("checkpoints/create"))
	assert.GreaterOrEqual(t, rec.queryCount("checkpoints/query"), 1)
	assert.Equal(t, 1, rec.queryCount("checkpoints/update"))
	assert.Equal(t, 1, rec.queryCount("checkpoints/delete"))

	assert.Eventually(t, func() bool { return rec.connReports() > 0 }, time.Second, 10*time.Millisecond)
}

// =============================================================================
// 🧪 配置与错误分类
// =============================================================================

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{"valid config", PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: time.Hour}, false},
		{"defaults", DefaultPoolConfig(), false},
		{"unlimited", PoolConfig{}, false},
		{"negative open", PoolConfig{MaxOpenConns: -1}, true},
		{"negative idle", PoolConfig{MaxIdleConns: -1}, true},
		{"idle > open", PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10}, true},
		{"negative lifetime", PoolConfig{ConnMaxLifetime: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{driver.ErrBadConn, true},
		{fmt.Errorf("wrap: %w", driver.ErrBadConn), true},
		{errors.New("Deadlock found when trying to get lock"), true},
		{errors.New("ERROR: could not serialize access due to concurrent update (SQLSTATE 40001)"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("database is locked"), true},
		{errors.New("duplicate key value violates unique constraint"), false},
		{checkpoint.ErrNotFound, false},
		{context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryableError(tt.err), "%v", tt.err)
	}
}
