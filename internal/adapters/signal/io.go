package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/deskrelay/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "adapters.signal").Str("conn", string(c.id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.signal").Str("conn", string(c.id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "adapters.signal").Str("conn", string(c.id)).Msg("ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "adapters.signal").Str("conn", string(c.id)).Msg("readPump closing")
		ctl.Registry.Unbind(c.id)
		ctl.Broker.OnDisconnect(c.id)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(c.id)
		}
		cancel()
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "adapters.signal").Str("conn", string(c.id)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
		ctl.handleSignal(c, data)
	}
}

func (ctl *SignalWSController) handleSignal(c *WsSignalConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "adapters.signal").Str("conn", string(c.id)).Msg("bad json")
		ctl.reply(c, core.ErrorMessage("invalid message format"))
		return
	}

	switch core.Event(env.Type) {
	case core.EventRegisterHost:
		ctl.handleRegisterHost(c, env)
	case core.EventRegisterViewer:
		ctl.handleRegisterViewer(c, env)
	case core.EventScreenFrame:
		ctl.Broker.ForwardFrame(c.id, core.Frame(env.Data))
	case core.EventControlEvent:
		ctl.Broker.ForwardControlEvent(c.id, core.Frame(env.Data))
	case core.EventGetSessions:
		ctl.Broker.SendSessionList(c.id)
	case core.EventPing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "adapters.signal").Str("conn", string(c.id)).Str("type", env.Type).Msg("unknown signal")
		ctl.reply(c, core.ErrorMessage("unknown message type"))
	}
}

func (ctl *SignalWSController) reply(c *WsSignalConn, msg core.Message) {
	if err := c.Deliver(msg); err != nil {
		log.Debug().Err(err).Str("module", "adapters.signal").Str("conn", string(c.id)).Str("type", string(msg.Type)).Msg("reply dropped")
	}
}
