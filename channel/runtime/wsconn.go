package runtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
	"github.com/rs/zerolog"
)

const writeWait = 10 * time.Second

// envelope frames messages on the socket. Requests carry a message and replies carry
// the request id with either a response or an error.
type envelope struct {
	ID       string            `json:"id"`
	Reply    bool              `json:"reply,omitempty"`
	Message  json.RawMessage   `json:"message,omitempty"`
	Response *syncmsg.Response `json:"response,omitempty"`
	Error    string            `json:"error,omitempty"`
}

var errConnClosed = errors.Wrapf(errors.ErrNoReceiver, "connection closed")

// wsConn correlates requests and replies over one websocket connection.
type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	pending   map[string]chan envelope
	pendingMu sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

func newWSConn(conn *websocket.Conn, logger zerolog.Logger) *wsConn {
	return &wsConn{
		conn:    conn,
		pending: make(map[string]chan envelope),
		closed:  make(chan struct{}),
		log:     logger,
	}
}

func (c *wsConn) write(env envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(env)
}

// request sends msg and waits for the correlated reply.
func (c *wsConn) request(ctx context.Context, msg syncmsg.Message) (*syncmsg.Response, error) {
	raw, err := syncmsg.Encode(msg)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	replyCh := make(chan envelope, 1)
	c.pendingMu.Lock()
	c.pending[id] = replyCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(envelope{ID: id, Message: raw}); err != nil {
		return nil, errors.Wrapf(errConnClosed, "write: %v", err)
	}

	select {
	case reply := <-replyCh:
		if reply.Error != "" {
			if reply.Error == errors.ErrNoReceiver.Error() {
				return nil, errors.ErrNoReceiver
			}
			return reply.Response, errors.Wrapf(errors.ErrInternal, "remote: %s", reply.Error)
		}
		return reply.Response, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, errConnClosed
	}
}

// serve reads envelopes until the connection fails. Requests are handled concurrently
// so replies for in-flight requests keep flowing while a handler waits.
func (c *wsConn) serve(ctx context.Context, handle func(context.Context, syncmsg.Message) (*syncmsg.Response, error)) error {
	defer c.close()
	for {
		var env envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return err
		}

		if env.Reply {
			c.pendingMu.Lock()
			replyCh, ok := c.pending[env.ID]
			c.pendingMu.Unlock()
			if ok {
				replyCh <- env
			}
			continue
		}

		msg, err := syncmsg.Decode(env.Message)
		if err != nil {
			c.log.Debug().Err(err).Msg("dropping malformed message")
			_ = c.write(envelope{ID: env.ID, Reply: true, Error: err.Error()})
			continue
		}

		go func(id string, msg syncmsg.Message) {
			reply := envelope{ID: id, Reply: true}
			resp, err := handle(ctx, msg)
			if err != nil {
				reply.Error = err.Error()
			}
			reply.Response = resp
			if err := c.write(reply); err != nil {
				c.log.Debug().Err(err).Msg("failed to write reply")
			}
		}(env.ID, msg)
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.conn.Close()
	})
}
