// Package server exposes the schema-intelligence service over HTTP
// and a persistent newline-delimited JSON channel. Both transports
// share identical validation, rate-limit, and cache semantics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dbsmedya/schemasentry/internal/cache"
	"github.com/dbsmedya/schemasentry/internal/config"
	"github.com/dbsmedya/schemasentry/internal/dedup"
	"github.com/dbsmedya/schemasentry/internal/executor"
	"github.com/dbsmedya/schemasentry/internal/inspector"
	"github.com/dbsmedya/schemasentry/internal/logger"
	"github.com/dbsmedya/schemasentry/internal/metrics"
	"github.com/dbsmedya/schemasentry/internal/ratelimit"
)

// Server owns the process-wide lifetime of every component; there are
// no package-level singletons.
type Server struct {
	cfg       config.ServerConfig
	inspector *inspector.Inspector
	executor  *executor.Executor
	store     *cache.Store
	group     *dedup.Group
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
	logger    *logger.Logger

	startedAt time.Time

	httpSrv  *http.Server
	listener net.Listener

	connMu sync.Mutex
	conns  map[*clientConn]struct{}

	wg sync.WaitGroup
}

// New wires the facade over already-constructed components.
func New(cfg config.ServerConfig, ins *inspector.Inspector, exec *executor.Executor,
	store *cache.Store, group *dedup.Group, limiter *ratelimit.Limiter,
	m *metrics.Metrics, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Server{
		cfg:       cfg,
		inspector: ins,
		executor:  exec,
		store:     store,
		group:     group,
		limiter:   limiter,
		metrics:   m,
		logger:    log,
		startedAt: time.Now(),
		conns:     make(map[*clientConn]struct{}),
	}
}

// Start brings up the configured listeners and blocks until ctx is
// canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 2)

	if s.cfg.HTTPAddr != "" {
		s.httpSrv = &http.Server{
			Addr:    s.cfg.HTTPAddr,
			Handler: s.buildRouter(),
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Infow("http listener started", "addr", s.cfg.HTTPAddr)
			if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	if s.cfg.TCPAddr != "" {
		listener, err := net.Listen("tcp", s.cfg.TCPAddr)
		if err != nil {
			return fmt.Errorf("tcp listen: %w", err)
		}
		s.listener = listener
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Infow("persistent channel listener started", "addr", s.cfg.TCPAddr)
			s.acceptLoop(listener)
		}()
	}

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		_ = s.shutdown()
		return err
	}
}

func (s *Server) shutdown() error {
	s.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.connMu.Lock()
	for conn := range s.conns {
		conn.close()
	}
	s.connMu.Unlock()

	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(shutdownCtx)
	}
	s.wg.Wait()
	return err
}

// dispatch executes one named operation. Both transports funnel here
// so validation/rate-limit/cache semantics cannot drift between them.
func (s *Server) dispatch(ctx context.Context, clientID, method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case MethodDiscoverDatabases:
		databases, err := s.inspector.DiscoverDatabases(ctx)
		if err != nil {
			return s.degraded(err)
		}
		return map[string]interface{}{"databases": databases}, nil

	case MethodGetTables:
		var p getTablesParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		tables, err := s.inspector.GetTables(ctx, p.Database)
		if err != nil {
			return s.degraded(err)
		}
		return map[string]interface{}{"tables": tables}, nil

	case MethodGetTableSchema:
		var p getTableSchemaParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		ts, err := s.inspector.GetTableSchema(ctx, p.Database, p.Table)
		if err != nil {
			return s.degraded(err)
		}
		return ts, nil

	case MethodGetColumnInfo:
		var p getColumnInfoParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		col, err := s.inspector.GetColumnInfo(ctx, p.Database, p.Table, p.Column)
		if err != nil {
			return s.degraded(err)
		}
		return col, nil

	case MethodValidateQuery:
		var p validateQueryParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		verdict := s.executor.Validate(p.Query)
		resp := map[string]interface{}{"valid": verdict.Valid}
		if !verdict.Valid {
			resp["message"] = verdict.Reason
		} else {
			resp["normalized"] = verdict.Normalized
		}
		return resp, nil

	case MethodExecuteQuery:
		var p executeQueryParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		opts := executor.Options{UseCache: true}
		if p.UseCache != nil {
			opts.UseCache = *p.UseCache
		}
		if p.TimeoutSeconds > 0 {
			opts.Timeout = time.Duration(p.TimeoutSeconds * float64(time.Second))
		}
		return s.executor.Execute(ctx, clientID, p.Query, opts)

	case MethodRefreshSchema:
		var p refreshSchemaParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		count := s.inspector.InvalidateDatabase(p.Database)
		s.broadcast(EventSchemaChanged, map[string]interface{}{
			"database":    p.Database,
			"invalidated": count,
		})
		return map[string]interface{}{"invalidated": count}, nil

	case MethodGetServerStats:
		return s.statsSnapshot(), nil

	default:
		return nil, &executor.ServiceError{
			Category: executor.CategoryValidation,
			Message:  fmt.Sprintf("unknown method %q", method),
		}
	}
}

// degraded converts the inspector's fallback marker into a payload
// instead of an error, per the configured preference.
func (s *Server) degraded(err error) (interface{}, error) {
	if errors.Is(err, inspector.ErrMetadataUnavailable) {
		return map[string]interface{}{"unavailable": true}, nil
	}
	return nil, err
}

func unmarshalParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return &executor.ServiceError{
			Category: executor.CategoryValidation,
			Message:  "missing request parameters",
		}
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &executor.ServiceError{
			Category: executor.CategoryValidation,
			Message:  "malformed request parameters: " + err.Error(),
		}
	}
	return nil
}

// errorPayload maps an error onto the shared error body.
func errorPayload(err error) errorBody {
	var svcErr *executor.ServiceError
	if errors.As(err, &svcErr) {
		body := errorBody{Category: svcErr.Category, Message: svcErr.Message}
		if svcErr.RetryAfter > 0 {
			body.RetryAfter = svcErr.RetryAfter.Seconds()
		}
		return body
	}
	var notFound *inspector.NotFoundError
	if errors.As(err, &notFound) {
		return errorBody{Category: "not_found", Message: notFound.Error()}
	}
	return errorBody{Category: executor.CategoryExecution, Message: err.Error()}
}
