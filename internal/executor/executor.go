// Package executor orchestrates the query pipeline: cleanup,
// validation, rate limiting, deduplication, execution, and result
// shaping.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dbsmedya/schemasentry/internal/cache"
	"github.com/dbsmedya/schemasentry/internal/config"
	"github.com/dbsmedya/schemasentry/internal/dedup"
	"github.com/dbsmedya/schemasentry/internal/gateway"
	"github.com/dbsmedya/schemasentry/internal/logger"
	"github.com/dbsmedya/schemasentry/internal/metrics"
	"github.com/dbsmedya/schemasentry/internal/ratelimit"
	"github.com/dbsmedya/schemasentry/internal/sqlcheck"
)

// Failure categories surfaced to callers.
const (
	CategoryValidation  = "validation_rejected"
	CategoryRateLimited = "rate_limited"
	CategoryExecution   = "execution_error"
	CategoryTimeout     = "timeout"
)

// ServiceError is the typed failure every pipeline stage maps onto.
type ServiceError struct {
	Category   string        `json:"category"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Options controls one execution.
type Options struct {
	// UseCache routes the query through the deduplicator and result
	// cache, keyed on the normalized SQL.
	UseCache bool
	// Timeout overrides the configured default, capped at the
	// configured maximum.
	Timeout time.Duration
}

// Result is the shaped outcome of one accepted query.
type Result struct {
	Rows            []map[string]interface{} `json:"rows"`
	Columns         []string                 `json:"columns"`
	RowCount        int                      `json:"row_count"`
	Truncated       bool                     `json:"truncated,omitempty"`
	ExecutionTimeMs float64                  `json:"execution_time_ms"`
	FromCache       bool                     `json:"from_cache,omitempty"`
}

// Executor runs validated queries against the gateway.
type Executor struct {
	gw      gateway.Executor
	store   *cache.Store
	group   *dedup.Group
	limiter *ratelimit.Limiter
	cfg     config.QueryConfig
	cache   config.CacheConfig
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// New creates an Executor.
func New(gw gateway.Executor, store *cache.Store, group *dedup.Group, limiter *ratelimit.Limiter,
	queryCfg config.QueryConfig, cacheCfg config.CacheConfig, m *metrics.Metrics, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Executor{
		gw:      gw,
		store:   store,
		group:   group,
		limiter: limiter,
		cfg:     queryCfg,
		cache:   cacheCfg,
		metrics: m,
		logger:  log,
	}
}

// Validate runs only the cleanup + classification stages. Exposed so
// the facade can serve validate_query without touching the limiter.
func (e *Executor) Validate(sql string) sqlcheck.Verdict {
	return sqlcheck.Validate(sql)
}

// Execute runs the full pipeline for one logical query request.
// Rejections at validation or rate-check never consume a database
// connection.
func (e *Executor) Execute(ctx context.Context, clientID, sql string, opts Options) (*Result, error) {
	verdict := sqlcheck.Validate(sql)
	if !verdict.Valid {
		e.metrics.RecordOutcome(CategoryValidation)
		return nil, &ServiceError{Category: CategoryValidation, Message: verdict.Reason}
	}

	if err := e.limiter.Allow(clientID); err != nil {
		var limitErr *ratelimit.LimitError
		if errors.As(err, &limitErr) {
			e.metrics.RecordOutcome(CategoryRateLimited)
			e.metrics.RecordRateLimited()
			return nil, &ServiceError{
				Category:   CategoryRateLimited,
				Message:    limitErr.Error(),
				RetryAfter: limitErr.RetryAfter,
			}
		}
		return nil, err
	}

	timeout := e.cfg.DefaultTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if e.cfg.MaxTimeout > 0 && timeout > e.cfg.MaxTimeout {
		timeout = e.cfg.MaxTimeout
	}

	if !opts.UseCache {
		result, err := e.run(ctx, verdict, timeout)
		e.account(clientID, err)
		return result, err
	}

	key := "query:" + verdict.Normalized
	if v, ok := e.store.Get(key); ok {
		e.metrics.RecordCache(true)
		cached := v.(*Result)
		copied := *cached
		copied.FromCache = true
		e.metrics.RecordOutcome("success")
		return &copied, nil
	}
	e.metrics.RecordCache(false)

	// The producer runs detached from the first caller's context so a
	// client disconnect cannot fail waiters sharing the flight; the
	// timeout still bounds the gateway call.
	v, shared, err := e.group.Do(key, func() (interface{}, error) {
		if v, ok := e.store.Get(key); ok {
			return v, nil
		}
		result, err := e.run(context.WithoutCancel(ctx), verdict, timeout)
		if err != nil {
			return nil, err
		}
		ttl := e.cache.TTLFor("query")
		if e.cache.CoalesceTTL > ttl {
			ttl = e.cache.CoalesceTTL
		}
		e.store.Set(key, result, ttl)
		return result, nil
	})
	e.account(clientID, err)
	if err != nil {
		return nil, err
	}

	result := v.(*Result)
	if shared {
		copied := *result
		copied.FromCache = true
		return &copied, nil
	}
	return result, nil
}

// run executes the accepted statement sequence against the gateway.
func (e *Executor) run(ctx context.Context, verdict sqlcheck.Verdict, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	var rows *gateway.Rows
	var err error
	switch {
	case verdict.ReadStmt == "":
		// Standalone USE: a context switch with an empty result set.
		err = e.gw.Exec(ctx, "USE `"+verdict.UseDatabase+"`")
		rows = &gateway.Rows{Columns: []string{}, Records: []map[string]interface{}{}}
	case verdict.UseDatabase != "":
		rows, err = e.gw.QueryInDatabase(ctx, verdict.UseDatabase, verdict.ReadStmt)
	default:
		rows, err = e.gw.Query(ctx, verdict.ReadStmt)
	}

	elapsed := time.Since(start)
	e.metrics.RecordGatewayDuration(elapsed.Seconds())

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			e.metrics.RecordOutcome(CategoryTimeout)
			return nil, &ServiceError{
				Category: CategoryTimeout,
				Message:  fmt.Sprintf("query exceeded %s timeout", timeout),
			}
		}
		e.metrics.RecordOutcome(CategoryExecution)
		return nil, &ServiceError{Category: CategoryExecution, Message: err.Error()}
	}

	result := &Result{
		Rows:            rows.Records,
		Columns:         rows.Columns,
		RowCount:        len(rows.Records),
		ExecutionTimeMs: float64(elapsed.Microseconds()) / 1000.0,
	}

	// Row caps are reported, never silent.
	if e.cfg.MaxRows > 0 && result.RowCount > e.cfg.MaxRows {
		result.Rows = result.Rows[:e.cfg.MaxRows]
		result.RowCount = e.cfg.MaxRows
		result.Truncated = true
		e.logger.Warnf("result truncated to %d rows", e.cfg.MaxRows)
	}

	e.metrics.RecordOutcome("success")
	return result, nil
}

// account informs the adaptive limiter of the upstream outcome.
// Validation and rate-limit rejections never reach here; only real
// gateway outcomes move the failure streak.
func (e *Executor) account(clientID string, err error) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		if svcErr.Category == CategoryExecution || svcErr.Category == CategoryTimeout {
			e.limiter.RecordFailure(clientID)
		}
		return
	}
	if err == nil {
		e.limiter.RecordSuccess(clientID)
	}
}
