// Package window is the page-local transport between a web page and the content script
// injected into it. Messages never leave the page and are only accepted from the page origin.
package window

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/internal/workqueue"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
	"github.com/rs/zerolog"
)

const (
	topic       = "window.message"
	metaOrigin  = "origin"
	outputDepth = 100
)

// Page is one loaded web page. Every Channel opened on it sees every posted message.
type Page struct {
	origin string
	pubsub *gochannel.GoChannel
	log    zerolog.Logger
}

func NewPage(origin string, logger zerolog.Logger) *Page {
	return &Page{
		origin: origin,
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: outputDepth,
				Persistent:          false,
				// Publishing waits for every channel to take the message, which keeps
				// per-channel delivery in post order.
				BlockPublishUntilSubscriberAck: true,
			},
			watermill.NopLogger{},
		),
		log: logger.With().Str("component", "window").Str("page", origin).Logger(),
	}
}

func (p *Page) Origin() string {
	return p.origin
}

// Post publishes raw bytes as if posted by a frame of senderOrigin.
func (p *Page) Post(senderOrigin string, raw []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), raw)
	msg.Metadata.Set(metaOrigin, senderOrigin)
	return p.pubsub.Publish(topic, msg)
}

// Close unloads the page. Every channel stops receiving.
func (p *Page) Close() error {
	return p.pubsub.Close()
}

var _ channel.Adapter = (*Channel)(nil)

// Channel is one script's view of the page's message bus.
type Channel struct {
	page     *Page
	source   syncmsg.Source
	handlers channel.Handlers
	inbox    *workqueue.Queue[syncmsg.Message]
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	log      zerolog.Logger
}

// Open attaches a script posting messages tagged with source.
func (p *Page) Open(source syncmsg.Source) (*Channel, error) {
	ctx, cancel := context.WithCancel(context.Background())
	messages, err := p.pubsub.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "failed to subscribe to page messages")
	}

	c := &Channel{
		page:   p,
		source: source,
		inbox:  workqueue.New[syncmsg.Message](),
		cancel: cancel,
		log:    p.log.With().Str("source", string(source)).Logger(),
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.receive(messages)
	}()
	go func() {
		defer c.wg.Done()
		c.inbox.Run(ctx, c.dispatch)
	}()
	return c, nil
}

// receive acks on arrival and hands accepted messages to the inbox so handlers
// are free to post back to the page.
func (c *Channel) receive(messages <-chan *message.Message) {
	for raw := range messages {
		raw.Ack()

		if origin := raw.Metadata.Get(metaOrigin); origin != c.page.origin {
			c.log.Debug().Str("from", origin).Msg("dropping message from foreign origin")
			continue
		}
		msg, err := syncmsg.Decode(raw.Payload)
		if err != nil {
			c.log.Debug().Err(err).Msg("dropping malformed message")
			continue
		}
		if msg.Source == "" || msg.Source == c.source {
			continue
		}
		c.inbox.Push(msg)
	}
	c.inbox.Close()
}

func (c *Channel) dispatch(msg syncmsg.Message) {
	if _, err := c.handlers.Dispatch(context.Background(), msg); err != nil && !errors.Is(err, errors.ErrNoReceiver) {
		c.log.Debug().Err(err).Str("type", string(msg.Type)).Msg("window handler failed")
	}
}

// Send posts msg to the page tagged with this channel's source. Window posts have no reply.
func (c *Channel) Send(_ context.Context, _ channel.Selector, msg syncmsg.Message) (*syncmsg.Response, error) {
	msg.Source = c.source
	raw, err := syncmsg.Encode(msg)
	if err != nil {
		return nil, err
	}
	return nil, c.page.Post(c.page.origin, raw)
}

func (c *Channel) OnReceive(h channel.Handler) func() {
	return c.handlers.Add(h)
}

// Close detaches the channel from the page.
func (c *Channel) Close() {
	c.cancel()
	c.wg.Wait()
}
