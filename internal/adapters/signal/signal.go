package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/deskrelay/internal/app"
	"github.com/dkeye/deskrelay/internal/config"
	"github.com/dkeye/deskrelay/internal/core"
	"github.com/dkeye/deskrelay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

// Options tune the per-connection pumps.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	}
}

type SignalWSController struct {
	Broker   *app.Broker
	Registry *app.Registry
	Limiter  *RegisterRateLimiter

	opts     Options
	upgrader websocket.Upgrader
}

func NewSignalWSController(broker *app.Broker, registry *app.Registry, limiter *RegisterRateLimiter, opts Options) *SignalWSController {
	return &SignalWSController{
		Broker:   broker,
		Registry: registry,
		Limiter:  limiter,
		opts:     opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// NewConnID returns a fresh transport-scoped connection id.
func NewConnID() domain.ConnID {
	return domain.ConnID(xid.New().String())
}

// WsSignalConn is a transport endpoint with a bounded send queue.
// It implements core.SignalConnection.
type WsSignalConn struct {
	id   domain.ConnID
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Deliver(msg core.Message) error {
	b, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return c.TrySend(b)
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	client := c.GetString("client_token")

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		id:   NewConnID(),
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	log.Info().Str("module", "adapters.signal").Str("conn", string(conn.id)).Str("client", client).Str("remote", c.ClientIP()).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.Bind(conn.id, client, conn, cancel)
	ctl.Broker.OnConnect(conn.id)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}
