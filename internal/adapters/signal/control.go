package signal

import "github.com/dkeye/deskrelay/internal/core"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.reply(conn, core.Message{Type: core.EventPong})
}
