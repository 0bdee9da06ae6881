package venue

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"TickPilot/internal/domain/models"
	drepo "TickPilot/internal/domain/repository"
	"TickPilot/pkg/logger"

	"github.com/gorilla/websocket"
)

// Dialer opens gorilla websocket connections to the venue endpoint.
type Dialer struct {
	endpoint     string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	log          *logger.Logger
	ws           *websocket.Dialer
}

// Option configures a Dialer.
type Option func(*Dialer)

func WithDialTimeout(d time.Duration) Option {
	return func(x *Dialer) { x.dialTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(x *Dialer) { x.writeTimeout = d }
}

func WithLogger(l *logger.Logger) Option {
	return func(x *Dialer) { x.log = l }
}

// NewDialer builds a dialer for baseURL with the app_id query parameter set.
func NewDialer(baseURL, appID string, opts ...Option) (*Dialer, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("venue url: %w", err)
	}
	if appID != "" {
		q := u.Query()
		q.Set("app_id", appID)
		u.RawQuery = q.Encode()
	}
	d := &Dialer{
		endpoint:     u.String(),
		dialTimeout:  10 * time.Second,
		writeTimeout: 5 * time.Second,
		log:          logger.Nop(),
	}
	for _, o := range opts {
		o(d)
	}
	d.ws = &websocket.Dialer{HandshakeTimeout: d.dialTimeout}
	return d, nil
}

// Endpoint returns the dialed URL.
func (d *Dialer) Endpoint() string { return d.endpoint }

func (d *Dialer) Dial(ctx context.Context) (drepo.VenueConn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()
	ws, _, err := d.ws.DialContext(ctx, d.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("venue dial: %w", err)
	}
	return &Conn{ws: ws, writeTimeout: d.writeTimeout, log: d.log}, nil
}

// Conn is one venue websocket. Writes are serialized; Read must be called
// once.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	log          *logger.Logger

	wmu       sync.Mutex
	closeOnce sync.Once
}

func (c *Conn) Authorize(ctx context.Context, token string) error {
	b, err := EncodeAuthorize(token)
	if err != nil {
		return err
	}
	return c.write(ctx, b)
}

func (c *Conn) SubscribeTicks(ctx context.Context, symbol string) error {
	b, err := EncodeTicks(symbol)
	if err != nil {
		return err
	}
	return c.write(ctx, b)
}

func (c *Conn) Ping(ctx context.Context) error {
	b, err := EncodePing()
	if err != nil {
		return err
	}
	return c.write(ctx, b)
}

func (c *Conn) SubscribeContracts(ctx context.Context) error {
	b, err := EncodeContracts()
	if err != nil {
		return err
	}
	return c.write(ctx, b)
}

func (c *Conn) Buy(ctx context.Context, req models.BuyRequest) error {
	b, err := EncodeBuy(req)
	if err != nil {
		return err
	}
	return c.write(ctx, b)
}

func (c *Conn) write(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("venue write: %w", err)
	}
	return nil
}

// Read starts the read loop. Malformed frames are reported on the event
// channel as MsgError events with code models.CodeMalformedFrame; socket
// failures end the loop with one error.
func (c *Conn) Read(ctx context.Context) (<-chan models.VenueEvent, <-chan error) {
	events := make(chan models.VenueEvent, 256)
	errs := make(chan error, 1)

	// unblock ReadMessage when the caller goes away
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-stop:
		}
	}()

	go func() {
		defer close(events)
		defer close(errs)
		defer close(stop)
		for {
			_, b, err := c.ws.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					c.log.Debug("venue read loop ended", logger.Error(err))
					errs <- fmt.Errorf("venue read: %w", err)
				}
				return
			}
			ev, err := Decode(b)
			if errors.Is(err, ErrIgnored) {
				continue
			}
			if err != nil {
				ev = models.VenueEvent{Type: models.MsgError, Err: &models.VenueError{Code: models.CodeMalformedFrame, Message: err.Error()}}
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, errs
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}

var _ drepo.VenueDialer = (*Dialer)(nil)
var _ drepo.VenueConn = (*Conn)(nil)
