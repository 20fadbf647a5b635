package server

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialTestConn wires a clientConn to an in-memory pipe and returns the
// client side.
func dialTestConn(t *testing.T, s *Server) net.Conn {
	t.Helper()

	clientSide, serverSide := net.Pipe()
	conn := &clientConn{conn: serverSide, server: s}
	s.register(conn)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		conn.serve()
	}()

	t.Cleanup(func() { clientSide.Close() })
	return clientSide
}

func sendFrame(t *testing.T, conn net.Conn, msg Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	data = append(data, '\n')
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func readFrame(t *testing.T, reader *bufio.Reader, conn net.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(line, &msg))
	return msg
}

func TestConn_ConnectionAck(t *testing.T) {
	h := newTestServer(t, 100)

	conn := dialTestConn(t, h.server)
	reader := bufio.NewReader(conn)

	sendFrame(t, conn, Message{
		Type:      TypeConnection,
		AgentID:   "agent-7",
		AgentType: "assistant",
	})

	ack := readFrame(t, reader, conn)
	assert.Equal(t, TypeEvent, ack.Type)
	assert.Equal(t, EventConnectionAck, ack.EventName)

	payload := ack.Payload.(map[string]interface{})
	assert.Equal(t, "agent-7", payload["agent_id"])
	assert.NotEmpty(t, ack.Timestamp)
}

func TestConn_Heartbeat(t *testing.T) {
	h := newTestServer(t, 100)

	conn := dialTestConn(t, h.server)
	reader := bufio.NewReader(conn)

	sendFrame(t, conn, Message{Type: TypeHeartbeat, CorrelationID: "hb-42"})

	resp := readFrame(t, reader, conn)
	assert.Equal(t, TypeHeartbeatResponse, resp.Type)
	assert.Equal(t, "hb-42", resp.CorrelationID)
	assert.NotEmpty(t, resp.ServerTime)
}

func TestConn_PingTreatedAsHeartbeat(t *testing.T) {
	h := newTestServer(t, 100)

	conn := dialTestConn(t, h.server)
	reader := bufio.NewReader(conn)

	sendFrame(t, conn, Message{Type: TypePing, CorrelationID: "p-1"})

	resp := readFrame(t, reader, conn)
	assert.Equal(t, TypeHeartbeatResponse, resp.Type)
	assert.Equal(t, "p-1", resp.CorrelationID)
}

func TestConn_RequestResponse(t *testing.T) {
	h := newTestServer(t, 100)

	conn := dialTestConn(t, h.server)
	reader := bufio.NewReader(conn)

	params, _ := json.Marshal(map[string]string{"query": "SELECT id FROM orders"})
	sendFrame(t, conn, Message{
		Type:      TypeRequest,
		RequestID: "req-1",
		Method:    MethodValidateQuery,
		Params:    params,
	})

	resp := readFrame(t, reader, conn)
	assert.Equal(t, TypeResponse, resp.Type)
	assert.Equal(t, "req-1", resp.RequestID)

	payload := resp.Payload.(map[string]interface{})
	assert.Equal(t, true, payload["valid"])
	assert.Equal(t, "SELECT id FROM orders;", payload["normalized"])
}

func TestConn_RequestError(t *testing.T) {
	h := newTestServer(t, 100)

	conn := dialTestConn(t, h.server)
	reader := bufio.NewReader(conn)

	params, _ := json.Marshal(map[string]string{"query": "DROP TABLE orders"})
	sendFrame(t, conn, Message{
		Type:      TypeRequest,
		RequestID: "req-2",
		Method:    MethodExecuteQuery,
		Params:    params,
	})

	resp := readFrame(t, reader, conn)
	assert.Equal(t, TypeResponse, resp.Type)
	assert.Equal(t, "req-2", resp.RequestID)

	payload := resp.Payload.(map[string]interface{})
	errObj := payload["error"].(map[string]interface{})
	assert.Equal(t, "validation_rejected", errObj["category"])
	assert.Contains(t, errObj["message"], "DROP")
}

func TestConn_UnknownMethod(t *testing.T) {
	h := newTestServer(t, 100)

	conn := dialTestConn(t, h.server)
	reader := bufio.NewReader(conn)

	sendFrame(t, conn, Message{
		Type:      TypeRequest,
		RequestID: "req-3",
		Method:    "summon_dragons",
		Params:    json.RawMessage(`{}`),
	})

	resp := readFrame(t, reader, conn)
	payload := resp.Payload.(map[string]interface{})
	errObj := payload["error"].(map[string]interface{})
	assert.Contains(t, errObj["message"], "summon_dragons")
}

func TestConn_MalformedFrameDoesNotDisconnect(t *testing.T) {
	h := newTestServer(t, 100)

	conn := dialTestConn(t, h.server)
	reader := bufio.NewReader(conn)

	_, err := conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	errEvent := readFrame(t, reader, conn)
	assert.Equal(t, TypeEvent, errEvent.Type)
	assert.Equal(t, EventError, errEvent.EventName)

	// The connection survives and keeps serving
	sendFrame(t, conn, Message{Type: TypeHeartbeat, CorrelationID: "still-alive"})
	resp := readFrame(t, reader, conn)
	assert.Equal(t, TypeHeartbeatResponse, resp.Type)
	assert.Equal(t, "still-alive", resp.CorrelationID)
}

func TestConn_UnknownFrameType(t *testing.T) {
	h := newTestServer(t, 100)

	conn := dialTestConn(t, h.server)
	reader := bufio.NewReader(conn)

	sendFrame(t, conn, Message{Type: "teleport"})

	errEvent := readFrame(t, reader, conn)
	assert.Equal(t, EventError, errEvent.EventName)

	payload := errEvent.Payload.(map[string]interface{})
	assert.Contains(t, payload["message"], "teleport")
}

func TestConn_BroadcastReachesIdentifiedClients(t *testing.T) {
	h := newTestServer(t, 100)

	first := dialTestConn(t, h.server)
	second := dialTestConn(t, h.server)
	firstReader := bufio.NewReader(first)
	secondReader := bufio.NewReader(second)

	// net.Pipe writes are synchronous, so broadcast must not share the
	// reading goroutine
	go h.server.broadcast(EventSchemaChanged, map[string]interface{}{"database": "shop"})

	for _, pair := range []struct {
		reader *bufio.Reader
		conn   net.Conn
	}{{firstReader, first}, {secondReader, second}} {
		event := readFrame(t, pair.reader, pair.conn)
		assert.Equal(t, TypeEvent, event.Type)
		assert.Equal(t, EventSchemaChanged, event.EventName)
		payload := event.Payload.(map[string]interface{})
		assert.Equal(t, "shop", payload["database"])
	}
}

func TestConn_ConnectedClientCountInStats(t *testing.T) {
	h := newTestServer(t, 100)

	conn := dialTestConn(t, h.server)
	assert.Equal(t, 1, h.server.statsSnapshot().ConnectedClients)

	conn.Close()
	require.Eventually(t, func() bool {
		return h.server.statsSnapshot().ConnectedClients == 0
	}, 2*time.Second, 10*time.Millisecond)
}
