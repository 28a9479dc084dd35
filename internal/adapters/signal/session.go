package signal

import (
	"github.com/dkeye/deskrelay/internal/core"
	"github.com/dkeye/deskrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRegisterHost(c *WsSignalConn, env envelope) {
	sid, ok := ctl.admitRegistration(c, env)
	if !ok {
		return
	}
	ctl.Broker.RegisterHost(c.id, sid)
}

func (ctl *SignalWSController) handleRegisterViewer(c *WsSignalConn, env envelope) {
	sid, ok := ctl.admitRegistration(c, env)
	if !ok {
		return
	}
	ctl.Broker.RegisterViewer(c.id, sid)
}

// admitRegistration applies the rate limit and validates the requested id.
func (ctl *SignalWSController) admitRegistration(c *WsSignalConn, env envelope) (domain.SessionID, bool) {
	if ctl.Limiter != nil && !ctl.Limiter.Allow(c.id) {
		log.Warn().Str("module", "adapters.signal").Str("conn", string(c.id)).Str("type", env.Type).Msg("registration rate limited")
		ctl.reply(c, core.ErrorMessage("too many registration attempts"))
		return "", false
	}
	sid, err := domain.ParseSessionID(env.SessionID)
	if err != nil {
		ctl.reply(c, core.ErrorMessage("invalid session_id"))
		return "", false
	}
	return sid, true
}
