package executor

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/schemasentry/internal/cache"
	"github.com/dbsmedya/schemasentry/internal/config"
	"github.com/dbsmedya/schemasentry/internal/dedup"
	"github.com/dbsmedya/schemasentry/internal/gateway"
	"github.com/dbsmedya/schemasentry/internal/ratelimit"
)

type testHarness struct {
	executor *Executor
	mock     sqlmock.Sqlmock
	store    *cache.Store
	limiter  *ratelimit.Limiter
	db       *sql.DB
}

func newHarness(t *testing.T, queryCfg config.QueryConfig, limitCfg config.RateLimitConfig) *testHarness {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	store := cache.New(100, 0)
	limiter := ratelimit.New(limitCfg)
	cacheCfg := config.CacheConfig{
		MaxEntries:  100,
		DefaultTTL:  time.Minute,
		ResultTTL:   time.Minute,
		CoalesceTTL: 5 * time.Second,
	}

	exec := New(gateway.WrapDB(db, nil), store, dedup.New(), limiter, queryCfg, cacheCfg, nil, nil)

	t.Cleanup(func() {
		db.Close()
		store.Close()
		limiter.Close()
	})
	return &testHarness{executor: exec, mock: mock, store: store, limiter: limiter, db: db}
}

func defaultQueryConfig() config.QueryConfig {
	return config.QueryConfig{
		MaxRows:        1000,
		DefaultTimeout: 5 * time.Second,
		MaxTimeout:     10 * time.Second,
	}
}

func defaultLimitConfig() config.RateLimitConfig {
	return config.RateLimitConfig{RequestsPerMinute: 100}
}

func TestExecute_SimpleSelect(t *testing.T) {
	h := newHarness(t, defaultQueryConfig(), defaultLimitConfig())

	h.mock.ExpectQuery("SELECT 1 as test").
		WillReturnRows(sqlmock.NewRows([]string{"test"}).AddRow(int64(1)))

	result, err := h.executor.Execute(context.Background(), "agent-1", "SELECT 1 as test", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"test"}, result.Columns)
	assert.Equal(t, 1, result.RowCount)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, int64(1), result.Rows[0]["test"])
	assert.False(t, result.Truncated)
	assert.False(t, result.FromCache)
	assert.GreaterOrEqual(t, result.ExecutionTimeMs, float64(0))

	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestExecute_ValidationRejection(t *testing.T) {
	h := newHarness(t, defaultQueryConfig(), defaultLimitConfig())

	tests := []struct {
		name     string
		sql      string
		contains string
	}{
		{"mutating statement", "DROP TABLE orders", "DROP"},
		{"use then drop", "USE shop; DROP TABLE orders;", "DROP"},
		{"two reads", "SELECT 1; SELECT 2;", "second read"},
		{"empty", "  ", "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.executor.Execute(context.Background(), "agent-1", tt.sql, Options{})
			require.Error(t, err)

			var svcErr *ServiceError
			require.ErrorAs(t, err, &svcErr)
			assert.Equal(t, CategoryValidation, svcErr.Category)
			assert.Contains(t, svcErr.Message, tt.contains)
		})
	}

	// Rejections never touch the database
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestExecute_RateLimited(t *testing.T) {
	h := newHarness(t, defaultQueryConfig(), config.RateLimitConfig{RequestsPerMinute: 1})

	h.mock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(int64(1)))

	_, err := h.executor.Execute(context.Background(), "agent-1", "SELECT 1", Options{})
	require.NoError(t, err)

	_, err = h.executor.Execute(context.Background(), "agent-1", "SELECT 2", Options{})
	require.Error(t, err)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, CategoryRateLimited, svcErr.Category)
	assert.Greater(t, svcErr.RetryAfter, time.Duration(0))

	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestExecute_ExecutionError(t *testing.T) {
	h := newHarness(t, defaultQueryConfig(), defaultLimitConfig())

	h.mock.ExpectQuery("SELECT boom FROM nowhere").
		WillReturnError(sql.ErrConnDone)

	_, err := h.executor.Execute(context.Background(), "agent-1", "SELECT boom FROM nowhere", Options{})
	require.Error(t, err)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, CategoryExecution, svcErr.Category)
}

func TestExecute_Timeout(t *testing.T) {
	h := newHarness(t, config.QueryConfig{
		MaxRows:        1000,
		DefaultTimeout: 20 * time.Millisecond,
		MaxTimeout:     time.Second,
	}, defaultLimitConfig())

	h.mock.ExpectQuery("SELECT SLEEP").
		WillDelayFor(200 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"SLEEP(1)"}).AddRow(int64(0)))

	_, err := h.executor.Execute(context.Background(), "agent-1", "SELECT SLEEP(1)", Options{})
	require.Error(t, err)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, CategoryTimeout, svcErr.Category)
	assert.Contains(t, svcErr.Message, "timeout")
}

func TestExecute_TimeoutCappedAtMax(t *testing.T) {
	h := newHarness(t, config.QueryConfig{
		MaxRows:        1000,
		DefaultTimeout: 10 * time.Millisecond,
		MaxTimeout:     30 * time.Millisecond,
	}, defaultLimitConfig())

	h.mock.ExpectQuery("SELECT SLEEP").
		WillDelayFor(200 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(int64(0)))

	start := time.Now()
	_, err := h.executor.Execute(context.Background(), "agent-1", "SELECT SLEEP(1)",
		Options{Timeout: time.Hour})
	elapsed := time.Since(start)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, CategoryTimeout, svcErr.Category)
	assert.Less(t, elapsed, 150*time.Millisecond, "requested timeout must be capped at the maximum")
}

func TestExecute_Truncation(t *testing.T) {
	h := newHarness(t, config.QueryConfig{
		MaxRows:        2,
		DefaultTimeout: 5 * time.Second,
		MaxTimeout:     10 * time.Second,
	}, defaultLimitConfig())

	h.mock.ExpectQuery("SELECT id FROM orders").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).
			AddRow(int64(1)).AddRow(int64(2)).AddRow(int64(3)).AddRow(int64(4)))

	result, err := h.executor.Execute(context.Background(), "agent-1", "SELECT id FROM orders", Options{})
	require.NoError(t, err)

	assert.True(t, result.Truncated)
	assert.Equal(t, 2, result.RowCount)
	assert.Len(t, result.Rows, 2)
}

func TestExecute_StandaloneUse(t *testing.T) {
	h := newHarness(t, defaultQueryConfig(), defaultLimitConfig())

	h.mock.ExpectExec("USE `shop`").WillReturnResult(sqlmock.NewResult(0, 0))

	result, err := h.executor.Execute(context.Background(), "agent-1", "USE shop;", Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, result.RowCount)
	assert.NotNil(t, result.Rows)
	assert.Len(t, result.Rows, 0)

	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestExecute_UseThenSelect(t *testing.T) {
	h := newHarness(t, defaultQueryConfig(), defaultLimitConfig())

	h.mock.ExpectExec("USE `shop`").WillReturnResult(sqlmock.NewResult(0, 0))
	h.mock.ExpectQuery("SELECT id FROM orders").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	result, err := h.executor.Execute(context.Background(), "agent-1",
		"USE shop; SELECT id FROM orders;", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowCount)

	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestExecute_CacheHit(t *testing.T) {
	h := newHarness(t, defaultQueryConfig(), defaultLimitConfig())

	// The database is queried once; the second call is served warm
	h.mock.ExpectQuery("SELECT id FROM orders").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	first, err := h.executor.Execute(context.Background(), "agent-1",
		"SELECT id FROM orders", Options{UseCache: true})
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := h.executor.Execute(context.Background(), "agent-1",
		"SELECT id FROM orders", Options{UseCache: true})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Rows, second.Rows)

	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestExecute_CacheKeyedOnNormalizedSQL(t *testing.T) {
	h := newHarness(t, defaultQueryConfig(), defaultLimitConfig())

	h.mock.ExpectQuery("SELECT id FROM orders").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	_, err := h.executor.Execute(context.Background(), "agent-1",
		"SELECT id FROM orders;", Options{UseCache: true})
	require.NoError(t, err)

	// Same statement with different whitespace and comments hits the
	// same cache entry
	second, err := h.executor.Execute(context.Background(), "agent-1",
		"SELECT   id\nFROM orders -- warm", Options{UseCache: true})
	require.NoError(t, err)
	assert.True(t, second.FromCache)

	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestExecute_ConcurrentCallersCoalesce(t *testing.T) {
	h := newHarness(t, defaultQueryConfig(), defaultLimitConfig())

	h.mock.ExpectQuery("SELECT id FROM orders").
		WillDelayFor(50 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	const n = 10
	var wg sync.WaitGroup
	results := make([]*Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], errs[idx] = h.executor.Execute(context.Background(), "agent-1",
				"SELECT id FROM orders", Options{UseCache: true})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 1, results[i].RowCount)
	}
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestExecute_BypassCache(t *testing.T) {
	h := newHarness(t, defaultQueryConfig(), defaultLimitConfig())

	// Both calls hit the database
	h.mock.ExpectQuery("SELECT id FROM orders").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	h.mock.ExpectQuery("SELECT id FROM orders").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))

	_, err := h.executor.Execute(context.Background(), "agent-1", "SELECT id FROM orders", Options{})
	require.NoError(t, err)
	result, err := h.executor.Execute(context.Background(), "agent-1", "SELECT id FROM orders", Options{})
	require.NoError(t, err)

	assert.False(t, result.FromCache)
	assert.Equal(t, int64(2), result.Rows[0]["id"])

	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestExecute_AdaptiveLimiterSeesFailures(t *testing.T) {
	h := newHarness(t, defaultQueryConfig(), config.RateLimitConfig{
		RequestsPerMinute: 100,
		Adaptive:          true,
		FailureThreshold:  1,
		Cooldown:          time.Hour,
		MinRatio:          0.1,
	})

	h.mock.ExpectQuery("SELECT boom").WillReturnError(sql.ErrConnDone)
	h.mock.ExpectQuery("SELECT boom").WillReturnError(sql.ErrConnDone)

	for i := 0; i < 2; i++ {
		_, err := h.executor.Execute(context.Background(), "agent-1", "SELECT boom", Options{})
		require.Error(t, err)
	}

	// Two failures past the threshold halve the ceiling twice
	// (100 -> 25); the two failed requests already occupy the window
	allowed := 0
	for i := 0; i < 100; i++ {
		if h.limiter.Allow("agent-1") == nil {
			allowed++
		}
	}
	assert.Equal(t, 23, allowed)
}
