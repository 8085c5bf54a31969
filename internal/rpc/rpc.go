// Package rpc serves remote calls as JSON frames over HTTP and websocket.
//
// A frame is {"id", "method", "params"}; the reply is {"id", "result"} or
// {"id", "error": {"code", "message"}}. Codes follow HTTP: 400 for malformed
// or rejected input, 404 for unknown methods, 500 for server-side failures.
package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sweeney/coin-relay/internal/config"
	"github.com/sweeney/coin-relay/internal/remote"
)

// Error codes.
const (
	CodeBadRequest = http.StatusBadRequest
	CodeNotFound   = http.StatusNotFound
	CodeInternal   = http.StatusInternalServerError
)

// maxBody bounds request bodies and websocket messages.
const maxBody = 4096

// Caller dispatches a method call.
type Caller interface {
	Call(method string, params json.RawMessage) (any, error)
}

// Request is an inbound frame.
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is an outbound frame. Exactly one of Result and Error is set.
type Response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error is the error member of a Response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Code maps a call error to its response code.
func Code(method string, err error) int {
	var (
		rpe *remote.ParseError
		cpe *config.ParseError
		cae *config.ApplyError
	)
	switch {
	case errors.Is(err, remote.ErrUnknownMethod):
		return CodeNotFound
	case errors.As(err, &rpe), errors.As(err, &cpe), errors.As(err, &cae):
		return CodeBadRequest
	case method == remote.MethodConfigSet:
		return CodeBadRequest
	}
	return CodeInternal
}

// Handler serves /rpc, /rpc/<Method> and /rpc/ws.
type Handler struct {
	caller   Caller
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a Handler.
func NewHandler(caller Caller, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		caller: caller,
		log:    log.Named("rpc"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Remote control is unauthenticated on the local network.
				return true
			},
		},
	}
}

// Dispatch runs one request and builds its response.
func (h *Handler) Dispatch(req Request) Response {
	resp := Response{ID: req.ID}
	if req.Method == "" {
		resp.Error = &Error{Code: CodeBadRequest, Message: "missing method"}
		return resp
	}
	result, err := h.caller.Call(req.Method, req.Params)
	if err != nil {
		code := Code(req.Method, err)
		h.log.Warn("call failed", zap.String("method", req.Method), zap.Int("code", code), zap.Error(err))
		resp.Error = &Error{Code: code, Message: err.Error()}
		return resp
	}
	resp.Result = result
	return resp
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/rpc/ws":
		h.serveWS(w, r)
	case path == "/rpc":
		h.serveFrame(w, r)
	case strings.HasPrefix(path, "/rpc/"):
		h.serveMethod(w, r, strings.TrimPrefix(path, "/rpc/"))
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) serveFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusOK, Response{Error: &Error{Code: CodeBadRequest, Message: err.Error()}})
		return
	}
	writeJSON(w, http.StatusOK, h.handleFrame(body))
}

// serveMethod takes the params as the request body and answers with the bare
// result, or the error with its code as the HTTP status.
func (h *Handler) serveMethod(w http.ResponseWriter, r *http.Request, method string) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var params json.RawMessage
	if r.Method == http.MethodPost {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			writeJSON(w, CodeBadRequest, Error{Code: CodeBadRequest, Message: err.Error()})
			return
		}
		params = body
	}

	resp := h.Dispatch(Request{Method: method, Params: params})
	if resp.Error != nil {
		writeJSON(w, resp.Error.Code, resp.Error)
		return
	}
	writeJSON(w, http.StatusOK, resp.Result)
}

func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBody)

	h.log.Debug("websocket connected", zap.String("remote", r.RemoteAddr))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read", zap.Error(err))
			}
			return
		}
		if err := conn.WriteJSON(h.handleFrame(msg)); err != nil {
			h.log.Warn("websocket write", zap.Error(err))
			return
		}
	}
}

func (h *Handler) handleFrame(body []byte) Response {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Response{Error: &Error{Code: CodeBadRequest, Message: "malformed frame: " + err.Error()}}
	}
	return h.Dispatch(req)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
	w.Write([]byte("\n"))
}
