package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/michaelbrown/sandboxd/internal/gateway"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origins are enforced by the CORS layer for browsers
	},
}

// wsIncoming is a message from the client.
type wsIncoming struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	TimeLimitMS int64  `json:"time_limit_ms"`
}

// wsFrame is one read from the socket: a decoded message, or the reason a
// frame could not be decoded.
type wsFrame struct {
	msg wsIncoming
	err error
}

// wsResult carries a completed run.
type wsResult struct {
	Type string `json:"type"`
	executeResponse
}

// wsError carries a service failure.
type wsError struct {
	Type  string       `json:"type"`
	Code  gateway.Code `json:"code"`
	Error string       `json:"error"`
}

// handleExecuteWS runs one execution per "execute" message, in order.
// Closing the socket cancels whatever is running.
func (s *Server) handleExecuteWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.maxBodyBytes())

	// A hijacked connection's request context is never canceled, so the
	// stream gets its own, tied to server shutdown.
	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	id := uuid.NewString()
	s.sessions.Add(id, cancel)
	defer s.sessions.Remove(id)
	log := s.logger.WithField("stream", id)

	incoming := make(chan wsFrame)
	go func() {
		defer cancel()
		for {
			var f wsFrame
			if err := conn.ReadJSON(&f.msg); err != nil {
				if !malformedFrame(err) {
					if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						log.WithError(err).Debug("websocket read ended")
					}
					return
				}
				f.err = err
			}
			select {
			case incoming <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-incoming:
			if f.err != nil {
				s.wsWriteJSON(conn, wsError{Type: "error", Code: gateway.CodeInvalidRequest, Error: "malformed message: " + f.err.Error()})
				continue
			}
			msg := f.msg
			if msg.Type != "execute" {
				s.wsWriteJSON(conn, wsError{Type: "error", Code: gateway.CodeInvalidRequest, Error: "unknown message type " + msg.Type})
				continue
			}
			s.processWebSocketMessage(ctx, conn, msg)
		}
	}
}

// malformedFrame reports whether err came from decoding one frame's payload
// rather than from the connection. The stream survives a bad frame.
func malformedFrame(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (s *Server) processWebSocketMessage(ctx context.Context, conn *websocket.Conn, msg wsIncoming) {
	req := executeRequest{Code: msg.Code, TimeLimitMS: msg.TimeLimitMS}
	resp, err := s.exec.Execute(ctx, req.toGateway())
	if err != nil {
		if ctx.Err() != nil {
			return // caller is gone
		}
		se, ok := gateway.AsServiceError(err)
		if !ok {
			s.logger.WithError(err).Error("execute failed")
			s.wsWriteJSON(conn, wsError{Type: "error", Error: "internal error"})
			return
		}
		s.wsWriteJSON(conn, wsError{Type: "error", Code: se.Code, Error: se.Message})
		return
	}
	s.wsWriteJSON(conn, wsResult{Type: "result", executeResponse: newExecuteResponse(resp)})
}

func (s *Server) wsWriteJSON(conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.WithError(err).Error("websocket marshal error")
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.WithError(err).Debug("websocket write error")
	}
}
