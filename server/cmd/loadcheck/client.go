package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// wireMessage mirrors the hub's Message envelope (server/message.go). It is
// redeclared here rather than imported: cmd/loadcheck is deliberately an
// external client of the wire protocol, the same way a browser peer is, and
// never reaches into the hub's internal package.
type wireMessage struct {
	Type     string          `json:"type"`
	From     string          `json:"from,omitempty"`
	To       string          `json:"to,omitempty"`
	RoomID   string          `json:"room_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	ClientID string          `json:"client_id,omitempty"`
}

const (
	typeConnected       = "connected"
	typeHandshakeInit   = "handshake-init"
	typeError           = "error"
	typeOffer           = "offer"
	typeAnswer          = "answer"
	typeICECandidate    = "ice-candidate"
	typeHandshakeVerify = "handshake-verify"
)

type connectResult struct {
	LatencyMs int64
	ClientID  string
	Err       error
}

// loadClient is one simulated browser peer: it dials /ws, waits for the
// hub's `connected` frame, joins a room, and then exchanges relay traffic
// until the step ends.
type loadClient struct {
	id      int
	roomID  string
	wsURL   string
	metrics *StepMetrics

	connectTimeout time.Duration

	writeMu sync.Mutex
	connMu  sync.Mutex
	conn    *websocket.Conn

	expectedCloseSeq atomic.Int64
	clientIDValue    atomic.Value
	generation       atomic.Int64
}

func newLoadClient(id int, roomID, wsURL string, connectTimeout time.Duration, metrics *StepMetrics) *loadClient {
	c := &loadClient{
		id:             id,
		roomID:         roomID,
		wsURL:          wsURL,
		connectTimeout: connectTimeout,
		metrics:        metrics,
	}
	c.clientIDValue.Store("")
	return c
}

func (c *loadClient) clientID() string {
	cid, _ := c.clientIDValue.Load().(string)
	return cid
}

// connectAndJoin dials the hub, waits for the connected frame, and then
// sends handshake-init for c.roomID. Gorilla's dialer answers the server's
// heartbeat pings with pongs automatically, so there is no separate
// client-driven ping loop here.
func (c *loadClient) connectAndJoin(ctx context.Context) error {
	c.metrics.connectAttempts.Add(1)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		c.metrics.connectFailures.Add(1)
		return err
	}
	c.metrics.connectSuccess.Add(1)

	seq := c.generation.Add(1)
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	connectedCh := make(chan connectResult, 1)
	readDone := make(chan struct{})
	dialedAt := time.Now()

	go c.readLoop(seq, conn, connectedCh, readDone, dialedAt)

	c.metrics.joinAttempts.Add(1)

	timer := time.NewTimer(c.connectTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		c.metrics.joinFailures.Add(1)
		c.markExpectedClose(seq)
		_ = conn.Close()
		return ctx.Err()
	case <-timer.C:
		c.metrics.joinFailures.Add(1)
		c.markExpectedClose(seq)
		_ = conn.Close()
		return fmt.Errorf("connected frame not received within %s", c.connectTimeout)
	case result := <-connectedCh:
		if result.Err != nil {
			c.metrics.joinFailures.Add(1)
			return result.Err
		}
		c.metrics.joinSuccess.Add(1)
		c.metrics.AddJoinLatency(result.LatencyMs)
		c.clientIDValue.Store(result.ClientID)
	}

	return c.writeSignal(wireMessage{Type: typeHandshakeInit, RoomID: c.roomID})
}

func (c *loadClient) readLoop(seq int64, conn *websocket.Conn, connectedCh chan<- connectResult, readDone chan<- struct{}, dialedAt time.Time) {
	defer close(readDone)
	reported := false

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !c.isExpectedClose(seq) {
				c.metrics.unexpectedDisconnect.Add(1)
			}
			if !reported {
				connectedCh <- connectResult{Err: err}
				reported = true
			}
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case typeConnected:
			if reported {
				continue
			}
			connectedCh <- connectResult{ClientID: msg.ClientID, LatencyMs: time.Since(dialedAt).Milliseconds()}
			reported = true
		case typeError:
			c.metrics.serverErrorMessages.Add(1)
			if !reported {
				connectedCh <- connectResult{Err: fmt.Errorf("server error before connected frame")}
				reported = true
			}
		case typeOffer, typeAnswer, typeICECandidate, typeHandshakeVerify:
			c.metrics.relayReceived.Add(1)
		}
	}
}

func (c *loadClient) writeSignal(msg wireMessage) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("client %d is not connected", c.id)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

func (c *loadClient) sendRelayICE(counter int64) error {
	payload := map[string]any{
		"candidate": fmt.Sprintf("candidate:%d:%d", c.id, counter),
	}
	if err := c.writeSignal(wireMessage{
		Type:    typeICECandidate,
		RoomID:  c.roomID,
		Payload: mustRawJSON(payload),
	}); err != nil {
		c.metrics.relaySendFailures.Add(1)
		return err
	}
	c.metrics.relaySent.Add(1)
	return nil
}

func (c *loadClient) close() {
	c.markExpectedClose(c.generation.Load())
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *loadClient) markExpectedClose(seq int64) {
	for {
		current := c.expectedCloseSeq.Load()
		if seq <= current {
			return
		}
		if c.expectedCloseSeq.CompareAndSwap(current, seq) {
			return
		}
	}
}

func (c *loadClient) isExpectedClose(seq int64) bool {
	return seq <= c.expectedCloseSeq.Load()
}

func mustRawJSON(v any) json.RawMessage {
	payload, _ := json.Marshal(v)
	return payload
}
