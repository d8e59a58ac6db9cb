package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/poolforge/stresslab/internal/observability"
)

const (
	wsReadLimit            = 1 << 20
	wsMaxReconnectInterval = 30 * time.Second
	wsWriteTimeout         = 5 * time.Second
)

// confirmer maintains one websocket session to the node and fans signature
// confirmations out to waiting callers. The session reconnects with
// exponential backoff and replays outstanding subscriptions.
type confirmer struct {
	endpoint   string
	commitment string

	ctx    context.Context
	cancel context.CancelFunc
	msgID  atomic.Uint64

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan error
	started bool
}

type wsSubscribeRequest struct {
	Version string            `json:"jsonrpc"`
	ID      uint64            `json:"id"`
	Method  string            `json:"method"`
	Params  wsSignatureParams `json:"params"`
}

type wsSignatureParams struct {
	Signature  string `json:"signature"`
	Commitment string `json:"commitment,omitempty"`
}

type wsNotification struct {
	Method string `json:"method"`
	Params struct {
		Signature string `json:"signature"`
		Error     string `json:"error,omitempty"`
	} `json:"params"`
}

func newConfirmer(endpoint, commitment string) *confirmer {
	ctx, cancel := context.WithCancel(context.Background())
	return &confirmer{
		endpoint:   endpoint,
		commitment: commitment,
		ctx:        ctx,
		cancel:     cancel,
		pending:    make(map[string]chan error),
	}
}

// await registers interest in a signature and blocks until the node reports
// it confirmed or failed.
func (c *confirmer) await(ctx context.Context, signature string) error {
	wait := make(chan error, 1)

	c.mu.Lock()
	if !c.started {
		c.started = true
		go c.run()
	}
	c.pending[signature] = wait
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.send(conn, signature); err != nil {
			// The run loop will replay the subscription after reconnect.
			observability.Log().Warn("signature subscribe failed, awaiting reconnect",
				observability.F("signature", signature),
				observability.F("error", err.Error()),
			)
		}
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, signature)
		c.mu.Unlock()
		return fmt.Errorf("confirm %s: %w", signature, ctx.Err())
	case <-c.ctx.Done():
		return errors.New("confirmation channel closed")
	case err := <-wait:
		return err
	}
}

func (c *confirmer) run() {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = wsMaxReconnectInterval

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.Dial(c.ctx, c.endpoint, nil)
		if err != nil {
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				sleep = wsMaxReconnectInterval
			}
			observability.Log().Warn("websocket dial failed",
				observability.F("endpoint", c.endpoint),
				observability.F("retry_in", sleep.String()),
			)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(sleep):
				continue
			}
		}
		backoffCfg.Reset()
		conn.SetReadLimit(wsReadLimit)

		c.mu.Lock()
		c.conn = conn
		outstanding := make([]string, 0, len(c.pending))
		for signature := range c.pending {
			outstanding = append(outstanding, signature)
		}
		c.mu.Unlock()

		replayFailed := false
		for _, signature := range outstanding {
			if err := c.send(conn, signature); err != nil {
				replayFailed = true
				break
			}
		}
		if !replayFailed {
			c.readLoop(conn)
		}

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusAbnormalClosure, "session ended")
	}
}

func (c *confirmer) send(conn *websocket.Conn, signature string) error {
	payload, err := json.Marshal(wsSubscribeRequest{
		Version: "2.0",
		ID:      c.msgID.Add(1),
		Method:  "signature_subscribe",
		Params:  wsSignatureParams{Signature: signature, Commitment: c.commitment},
	})
	if err != nil {
		return fmt.Errorf("encode subscribe: %w", err)
	}
	ctx, cancel := context.WithTimeout(c.ctx, wsWriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

func (c *confirmer) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			return
		}
		var note wsNotification
		if err := json.Unmarshal(data, &note); err != nil {
			continue
		}
		if note.Method != "signature_notification" || note.Params.Signature == "" {
			continue
		}
		c.resolve(note.Params.Signature, note.Params.Error)
	}
}

func (c *confirmer) resolve(signature, errText string) {
	c.mu.Lock()
	wait, ok := c.pending[signature]
	if ok {
		delete(c.pending, signature)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if errText != "" {
		wait <- &rpcError{Message: errText}
		return
	}
	wait <- nil
}

func (c *confirmer) close() {
	c.cancel()
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
}
