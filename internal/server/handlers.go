package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/michaelbrown/sandboxd/internal/gateway"
)

// statusClientClosedRequest is nginx's convention for a caller that went away.
const statusClientClosedRequest = 499

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string       `json:"error"`
	Code  gateway.Code `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code gateway.Code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Execute ---

type executeRequest struct {
	Code        string `json:"code"`
	TimeLimitMS int64  `json:"time_limit_ms,omitempty"`
}

func (req executeRequest) toGateway() gateway.Request {
	return gateway.Request{
		Source:    []byte(req.Code),
		TimeLimit: time.Duration(req.TimeLimitMS) * time.Millisecond,
	}
}

type executeResponse struct {
	Output     string `json:"output"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	Signal     string `json:"signal,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func newExecuteResponse(resp *gateway.Response) executeResponse {
	return executeResponse{
		Output:     resp.Output,
		Stderr:     resp.Stderr,
		ExitCode:   resp.ExitCode,
		Signal:     resp.Signal,
		DurationMS: resp.Duration.Milliseconds(),
	}
}

// maxBodyBytes bounds the request body. JSON escaping can blow a source up
// to six bytes per input byte, so the exact source check stays in the gateway.
func (s *Server) maxBodyBytes() int64 {
	return s.cfg.Limits.MaxSourceBytes*6 + 1024
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes())

	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, gateway.CodeInvalidRequest, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, gateway.CodeInvalidRequest, "invalid JSON: "+err.Error())
		return
	}

	resp, err := s.exec.Execute(r.Context(), req.toGateway())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newExecuteResponse(resp))
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	se, ok := gateway.AsServiceError(err)
	if !ok {
		s.logger.WithError(err).Error("execute failed")
		writeError(w, http.StatusInternalServerError, "", "internal error")
		return
	}

	status := statusFor(se)
	entry := s.logger.WithField("code", se.Code)
	switch {
	case status >= http.StatusInternalServerError:
		entry.WithError(err).Error("execution failed")
	case status == statusClientClosedRequest:
		entry.Info("caller went away")
	}
	writeError(w, status, se.Code, se.Message)
}

// statusFor maps a service failure onto an HTTP status.
func statusFor(se *gateway.ServiceError) int {
	switch se.Code {
	case gateway.CodeInvalidRequest:
		if errors.Is(se, gateway.ErrSourceTooLarge) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case gateway.CodeServiceBusy:
		return http.StatusServiceUnavailable
	case gateway.CodeTimedOut:
		return http.StatusGatewayTimeout
	case gateway.CodeCanceled:
		return statusClientClosedRequest
	}
	return http.StatusInternalServerError
}

// --- Health ---

type healthResponse struct {
	Status   string `json:"status"`
	InFlight int    `json:"in_flight"`
	Capacity int    `json:"capacity"`
	Streams  int    `json:"streams"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		InFlight: s.exec.InFlight(),
		Capacity: s.exec.Capacity(),
		Streams:  s.sessions.Len(),
	})
}
