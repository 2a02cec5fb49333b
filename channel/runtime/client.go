package runtime

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
	"github.com/rs/zerolog"
)

// ClientOptions configures a remote tab or view.
type ClientOptions struct {
	// URL is the router endpoint, e.g. "ws://localhost:8080/sync/ws".
	URL  string
	Kind channel.PeerKind
	ID   string
	// Header is sent with every dial, e.g. an Origin header.
	Header http.Header
	// ReconnectInitial is the first delay between reconnection attempts (default: 250ms)
	ReconnectInitial time.Duration
	// ReconnectMax caps the delay between reconnection attempts (default: 10s)
	ReconnectMax time.Duration
	Logger       zerolog.Logger
}

var _ channel.Adapter = (*Client)(nil)

// Client attaches a remote context to the background router over a websocket and
// reconnects until closed.
type Client struct {
	options  ClientOptions
	dialer   *websocket.Dialer
	handlers channel.Handlers

	conn   *wsConn
	connMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Dial connects to the router, retrying with backoff until ctx is done. A router that
// refuses the credentials fails the dial at once.
func Dial(ctx context.Context, opts ClientOptions) (*Client, error) {
	if opts.ReconnectInitial == 0 {
		opts.ReconnectInitial = 250 * time.Millisecond
	}
	if opts.ReconnectMax == 0 {
		opts.ReconnectMax = 10 * time.Second
	}
	if opts.Kind == "" {
		opts.Kind = channel.KindView
	}

	clientCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		options: opts,
		dialer:  websocket.DefaultDialer,
		ctx:     clientCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.options.Logger = opts.Logger.With().Str("component", "runtime-client").Str("peer", opts.ID).Logger()

	conn, err := c.dialWithRetry(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	c.setConn(conn)

	go c.run(conn)
	return c, nil
}

func (c *Client) peerURL() (string, error) {
	u, err := url.Parse(c.options.URL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid router url")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("kind", string(c.options.Kind))
	q.Set("id", c.options.ID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.options.ReconnectInitial
	b.MaxInterval = c.options.ReconnectMax
	b.MaxElapsedTime = 0 // Retry until the context ends
	b.RandomizationFactor = 0.5
	b.Reset()
	return backoff.WithContext(b, ctx)
}

func (c *Client) dialWithRetry(ctx context.Context) (*wsConn, error) {
	target, err := c.peerURL()
	if err != nil {
		return nil, err
	}

	var conn *wsConn
	operation := func() error {
		ws, resp, err := c.dialer.DialContext(ctx, target, c.options.Header)
		if err != nil {
			// A refused handshake will not succeed on retry.
			if resp != nil {
				switch resp.StatusCode {
				case http.StatusUnauthorized:
					return backoff.Permanent(errors.Wrapf(errors.ErrUnauthorized, "router refused the connection"))
				case http.StatusForbidden:
					return backoff.Permanent(errors.Wrapf(errors.ErrForbidden, "router refused the connection"))
				}
			}
			return err
		}
		conn = newWSConn(ws, c.options.Logger)
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.options.Logger.Debug().Err(err).Dur("retry_in", next).Msg("dial failed")
	}
	if err := backoff.RetryNotify(operation, c.newBackOff(ctx), notify); err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", c.options.URL)
	}
	return conn, nil
}

// run serves the current connection and reconnects when it drops.
func (c *Client) run(conn *wsConn) {
	defer close(c.done)
	for {
		err := conn.serve(c.ctx, c.handlers.Dispatch)
		c.setConn(nil)
		if c.ctx.Err() != nil {
			return
		}
		c.options.Logger.Debug().Err(err).Msg("connection lost, reconnecting")

		next, err := c.dialWithRetry(c.ctx)
		if err != nil {
			return
		}
		conn = next
		c.setConn(conn)
	}
}

func (c *Client) setConn(conn *wsConn) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.conn = conn
}

func (c *Client) current() *wsConn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// Send delivers msg to the background. Remote contexts can only address the background.
func (c *Client) Send(ctx context.Context, to channel.Selector, msg syncmsg.Message) (*syncmsg.Response, error) {
	if !to.Matches(channel.KindBackground, to.PeerID) || to.Broadcast() {
		return nil, errors.Wrapf(errors.ErrUnsupported, "remote peers can only message the background")
	}
	conn := c.current()
	if conn == nil {
		return nil, errors.ErrNoReceiver
	}
	return conn.request(ctx, msg)
}

func (c *Client) OnReceive(h channel.Handler) func() {
	return c.handlers.Add(h)
}

// Close stops reconnecting and closes the connection.
func (c *Client) Close() error {
	c.cancel()
	if conn := c.current(); conn != nil {
		conn.close()
	}
	<-c.done
	return nil
}
