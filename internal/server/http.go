package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbsmedya/schemasentry/internal/executor"
	"github.com/dbsmedya/schemasentry/internal/inspector"
)

// buildRouter assembles the request/response transport: one POST
// endpoint per logical tool, JSON body in, JSON body out.
func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	tools := router.Group("/tools")
	{
		tools.POST("/discover_databases", s.handleTool(MethodDiscoverDatabases))
		tools.POST("/get_tables", s.handleTool(MethodGetTables))
		tools.POST("/get_table_schema", s.handleTool(MethodGetTableSchema))
		tools.POST("/get_column_info", s.handleTool(MethodGetColumnInfo))
		tools.POST("/validate_query", s.handleTool(MethodValidateQuery))
		tools.POST("/execute_query", s.handleTool(MethodExecuteQuery))
		tools.POST("/refresh_schema", s.handleTool(MethodRefreshSchema))
		tools.GET("/get_server_stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, s.statsSnapshot())
		})
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(
		promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	return router
}

// handleTool adapts one named operation to the HTTP transport.
func (s *Server) handleTool(method string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: errorBody{
				Category: executor.CategoryValidation,
				Message:  "unreadable request body",
			}})
			return
		}
		if len(body) == 0 {
			body = []byte("{}")
		}

		payload, err := s.dispatch(c.Request.Context(), httpClientID(c), method, json.RawMessage(body))
		if err != nil {
			s.writeHTTPError(c, err)
			return
		}
		c.JSON(http.StatusOK, payload)
	}
}

// httpClientID identifies the caller for rate limiting: an explicit
// header when present, the remote IP otherwise.
func httpClientID(c *gin.Context) string {
	if id := c.GetHeader("X-Client-ID"); id != "" {
		return id
	}
	return c.ClientIP()
}

// writeHTTPError maps the failure taxonomy onto HTTP status codes.
func (s *Server) writeHTTPError(c *gin.Context, err error) {
	body := errorPayload(err)

	status := http.StatusInternalServerError
	switch body.Category {
	case executor.CategoryValidation:
		status = http.StatusBadRequest
	case executor.CategoryRateLimited:
		status = http.StatusTooManyRequests
		if body.RetryAfter > 0 {
			c.Header("Retry-After", fmt.Sprintf("%.0f", body.RetryAfter+0.5))
		}
	case executor.CategoryTimeout:
		status = http.StatusGatewayTimeout
	case executor.CategoryExecution:
		status = http.StatusBadGateway
	case "not_found":
		status = http.StatusNotFound
	}

	var notFound *inspector.NotFoundError
	if errors.As(err, &notFound) {
		status = http.StatusNotFound
	}

	c.JSON(status, errorResponse{Error: body})
}
