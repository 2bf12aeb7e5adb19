package signal

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkeye/rtcengine/internal/core"
	"github.com/dkeye/rtcengine/internal/protocol"
)

func (cl *Client) writePump(c *wsConn) {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.writerDone)
	}()

	fail := func(err error, msg string) {
		cl.log.Error().Err(err).Msg(msg)
		c.stop()
		_ = c.conn.Close()
	}

	for {
		select {
		case <-c.done:
			if c.explicit.Load() {
				cl.drain(c)
			}
			cl.log.Debug().Msg("writePump done")
			return
		case data := <-c.send:
			if err := cl.write(c, data); err != nil {
				fail(err, "writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				fail(err, "writePump ping")
				return
			}
		}
	}
}

func (cl *Client) write(c *wsConn, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// drain flushes whatever was queued before an explicit close, then says goodbye.
func (cl *Client) drain(c *wsConn) {
	for {
		select {
		case data := <-c.send:
			if err := cl.write(c, data); err != nil {
				return
			}
		default:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

func (cl *Client) readPump(c *wsConn) {
	pongWait := c.pongWait
	var readErr error
	defer func() {
		c.Close()
		cl.dropped(c, readErr)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			readErr = err
			if !c.explicit.Load() {
				cl.log.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		cl.handleSignal(c, data)
	}
}

func (cl *Client) handleSignal(c *wsConn, data []byte) {
	msg, err := protocol.DecodeResponse(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownMessage) {
			cl.log.Warn().Err(err).Msg("unknown signal")
		} else {
			cl.log.Error().Err(err).Msg("bad signal")
		}
		return
	}
	cl.log.Trace().Str("type", msg.ResponseType()).Msg("signal received")
	select {
	case cl.events <- core.SignalEvent{Kind: core.SignalMessage, Message: msg}:
	case <-c.done:
	}
}
