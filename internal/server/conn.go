package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"
)

// maxFrameBytes bounds one newline-delimited frame.
const maxFrameBytes = 4 << 20

// clientConn is one persistent-channel client. Writes are serialized
// by writeMu; request handling runs in per-request goroutines so a
// slow query never blocks heartbeats on the same connection.
type clientConn struct {
	conn    net.Conn
	server  *Server
	writeMu sync.Mutex

	mu        sync.Mutex
	agentID   string
	agentType string
	closed    bool
}

// acceptLoop accepts persistent-channel clients until the listener
// closes.
func (s *Server) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		client := &clientConn{conn: conn, server: s}
		s.register(client)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			client.serve()
		}()
	}
}

func (s *Server) register(c *clientConn) {
	s.connMu.Lock()
	s.conns[c] = struct{}{}
	n := len(s.conns)
	s.connMu.Unlock()
	s.metrics.SetActiveConnections(n)
}

func (s *Server) unregister(c *clientConn) {
	s.connMu.Lock()
	delete(s.conns, c)
	n := len(s.conns)
	s.connMu.Unlock()
	s.metrics.SetActiveConnections(n)
}

// broadcast pushes an event frame to every connected client.
func (s *Server) broadcast(eventName string, payload interface{}) {
	s.connMu.Lock()
	clients := make([]*clientConn, 0, len(s.conns))
	for c := range s.conns {
		clients = append(clients, c)
	}
	s.connMu.Unlock()

	msg := Message{
		Type:      TypeEvent,
		EventName: eventName,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for _, c := range clients {
		_ = c.write(msg)
	}
}

// serve reads frames until the connection drops or a read deadline
// passes without traffic.
func (c *clientConn) serve() {
	defer func() {
		c.server.unregister(c)
		_ = c.conn.Close()
		c.server.logger.Debugw("client disconnected", "client", c.clientID())
	}()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.server.cfg.ReadTimeout)); err != nil {
			return
		}
		if !scanner.Scan() {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			_ = c.write(Message{
				Type:      TypeEvent,
				EventName: EventError,
				Payload:   map[string]string{"message": "malformed frame: " + err.Error()},
			})
			continue
		}
		c.handle(msg)
	}
}

// handle routes one inbound frame.
func (c *clientConn) handle(msg Message) {
	switch msg.Type {
	case TypeConnection, TypeEvent:
		c.mu.Lock()
		c.agentID = msg.AgentID
		c.agentType = msg.AgentType
		c.mu.Unlock()
		c.server.logger.Infow("client identified",
			"agent_id", msg.AgentID, "agent_type", msg.AgentType)
		_ = c.write(Message{
			Type:      TypeEvent,
			EventName: EventConnectionAck,
			Payload:   map[string]string{"agent_id": msg.AgentID},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})

	case TypeHeartbeat, TypePing:
		_ = c.write(Message{
			Type:          TypeHeartbeatResponse,
			CorrelationID: msg.CorrelationID,
			ServerTime:    time.Now().UTC().Format(time.RFC3339),
		})

	case TypeRequest:
		// Per-request goroutine: dispatched gateway work is shared
		// with other waiters, so it must not ride this connection's
		// read loop or lifetime.
		go func() {
			payload, err := c.server.dispatch(context.Background(), c.clientID(), msg.Method, msg.Params)
			resp := Message{
				Type:      TypeResponse,
				RequestID: msg.RequestID,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			}
			if err != nil {
				resp.Payload = errorResponse{Error: errorPayload(err)}
			} else {
				resp.Payload = payload
			}
			_ = c.write(resp)
		}()

	default:
		_ = c.write(Message{
			Type:      TypeEvent,
			EventName: EventError,
			Payload:   map[string]string{"message": "unknown frame type " + msg.Type},
		})
	}
}

// clientID resolves the identity used for rate limiting.
func (c *clientConn) clientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.agentID != "" {
		return c.agentID
	}
	return c.conn.RemoteAddr().String()
}

// write sends one frame, newline-terminated.
func (c *clientConn) write(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return net.ErrClosed
	}
	_, err = c.conn.Write(data)
	return err
}

func (c *clientConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// close terminates the connection; in-flight dispatched work keeps
// running for any waiters sharing it.
func (c *clientConn) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	_ = c.conn.Close()
}
