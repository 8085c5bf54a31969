// Package remote decodes remote control requests and routes them to the
// config synchronizer and the state file.
package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Method names shared by every transport.
const (
	MethodConfigSet   = "Config.Set"
	MethodCountersGet = "Counters.Get"
)

// ErrUnknownMethod is returned for methods the gateway does not serve.
var ErrUnknownMethod = errors.New("unknown method")

// Applier applies a single configuration key.
type Applier interface {
	Apply(key, value string) error
}

// CountersReader returns the raw persisted record.
type CountersReader interface {
	ReadRaw() ([]byte, error)
}

// ParseError reports a malformed inbound payload.
type ParseError struct {
	Msg string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed request: %s: %v", e.Msg, e.Err)
	}
	return "malformed request: " + e.Msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// SetParams is the payload of a set command.
type SetParams struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Message is a control frame received over publish/subscribe.
type Message struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// DecodeSet extracts the key and value of a set command. The value may be a
// JSON string or a bare scalar literal such as true or 22; scalars are passed
// on as their literal text.
func DecodeSet(params json.RawMessage) (key, value string, err error) {
	if len(bytes.TrimSpace(params)) == 0 {
		return "", "", &ParseError{Msg: "missing params"}
	}
	var p SetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return "", "", &ParseError{Msg: "params", Err: err}
	}
	if p.Key == "" {
		return "", "", &ParseError{Msg: "missing key"}
	}

	raw := bytes.TrimSpace(p.Value)
	switch {
	case len(raw) == 0:
		return "", "", &ParseError{Msg: "missing value"}
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &value); err != nil {
			return "", "", &ParseError{Msg: "value", Err: err}
		}
	case raw[0] == '{' || raw[0] == '[' || string(raw) == "null":
		return "", "", &ParseError{Msg: "value must be a string or scalar"}
	default:
		value = string(raw)
	}
	return p.Key, value, nil
}

// Gateway serves remote requests from every transport.
type Gateway struct {
	applier  Applier
	counters CountersReader
	log      *zap.Logger
}

// New creates a Gateway.
func New(applier Applier, counters CountersReader, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{applier: applier, counters: counters, log: log.Named("remote")}
}

// Set applies a {key, value} set command. When the key is the machine on/off
// flag the output and state file are updated before it returns.
func (g *Gateway) Set(params json.RawMessage) error {
	key, value, err := DecodeSet(params)
	if err != nil {
		return err
	}
	if err := g.applier.Apply(key, value); err != nil {
		return err
	}
	g.log.Info("config set", zap.String("key", key), zap.String("value", value))
	return nil
}

// Counters returns the state file contents as they are on disk. A file that
// is not valid JSON is returned as a JSON string.
func (g *Gateway) Counters() (json.RawMessage, error) {
	data, err := g.counters.ReadRaw()
	if err != nil {
		return nil, fmt.Errorf("read counters: %w", err)
	}
	data = bytes.TrimSpace(data)
	if json.Valid(data) {
		return json.RawMessage(data), nil
	}
	quoted, err := json.Marshal(string(data))
	if err != nil {
		return nil, fmt.Errorf("encode counters: %w", err)
	}
	return quoted, nil
}

// Call dispatches a method by name.
func (g *Gateway) Call(method string, params json.RawMessage) (any, error) {
	switch method {
	case MethodConfigSet:
		if err := g.Set(params); err != nil {
			return nil, err
		}
		return true, nil
	case MethodCountersGet:
		return g.Counters()
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownMethod, method)
}

// HandleMessage is the publish/subscribe entry point. There is no reply
// channel, so every failure is logged and the message dropped. A frame
// without a method is taken as bare set params.
func (g *Gateway) HandleMessage(payload []byte) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		g.log.Warn("dropping control message", zap.Error(&ParseError{Msg: "frame", Err: err}))
		return
	}

	method, params := m.Method, m.Params
	if method == "" {
		method, params = MethodConfigSet, payload
	}
	if method != MethodConfigSet {
		g.log.Warn("dropping control message", zap.String("method", method), zap.Error(ErrUnknownMethod))
		return
	}
	if err := g.Set(params); err != nil {
		g.log.Warn("dropping control message", zap.String("method", method), zap.Error(err))
	}
}
