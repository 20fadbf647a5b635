package server

import "encoding/json"

// Message is the single frame shape used on the persistent channel.
// Frames are newline-delimited JSON; the Type field selects which of
// the remaining fields are meaningful.
type Message struct {
	Type string `json:"type"`

	// Identity (type "connection" / "event" from client)
	AgentID      string   `json:"agent_id,omitempty"`
	AgentType    string   `json:"agent_type,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`

	// Request/response correlation
	RequestID string          `json:"request_id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Payload   interface{}     `json:"payload,omitempty"`

	// Server push
	EventName string `json:"event_name,omitempty"`

	// Heartbeat
	CorrelationID string `json:"correlation_id,omitempty"`
	ServerTime    string `json:"server_time,omitempty"`

	Timestamp string `json:"timestamp,omitempty"`
}

// Frame types.
const (
	TypeConnection        = "connection"
	TypeEvent             = "event"
	TypeRequest           = "request"
	TypeResponse          = "response"
	TypeHeartbeat         = "heartbeat"
	TypePing              = "ping"
	TypeHeartbeatResponse = "heartbeat_response"
)

// Events pushed by the server.
const (
	EventConnectionAck = "connection_ack"
	EventSchemaChanged = "schema_changed"
	EventError         = "error"
)

// Tool / method names shared by both transports.
const (
	MethodDiscoverDatabases = "discover_databases"
	MethodGetTables         = "get_tables"
	MethodGetTableSchema    = "get_table_schema"
	MethodGetColumnInfo     = "get_column_info"
	MethodValidateQuery     = "validate_query"
	MethodExecuteQuery      = "execute_query"
	MethodRefreshSchema     = "refresh_schema"
	MethodGetServerStats    = "get_server_stats"
)

// errorBody is the error payload shape shared by both transports.
type errorBody struct {
	Category   string  `json:"category"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after_seconds,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// Request parameter shapes.
type getTablesParams struct {
	Database string `json:"database"`
}

type getTableSchemaParams struct {
	Database string `json:"database"`
	Table    string `json:"table"`
}

type getColumnInfoParams struct {
	Database string `json:"database"`
	Table    string `json:"table"`
	Column   string `json:"column"`
}

type validateQueryParams struct {
	Query string `json:"query"`
}

type executeQueryParams struct {
	Query          string  `json:"query"`
	TimeoutSeconds float64 `json:"timeout,omitempty"`
	UseCache       *bool   `json:"use_cache,omitempty"`
}

type refreshSchemaParams struct {
	Database string `json:"database"`
}
