package remote

import (
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type applyCall struct {
	key, value string
}

type fakeApplier struct {
	calls []applyCall
	err   error
}

func (f *fakeApplier) Apply(key, value string) error {
	f.calls = append(f.calls, applyCall{key, value})
	return f.err
}

type fakeCounters struct {
	data []byte
	err  error
}

func (f *fakeCounters) ReadRaw() ([]byte, error) {
	return f.data, f.err
}

func newObserved() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

func TestDecodeSet(t *testing.T) {
	tests := []struct {
		name      string
		params    string
		wantKey   string
		wantValue string
		wantErr   bool
	}{
		{"string value", `{"key":"app.machine_on","value":"true"}`, "app.machine_on", "true", false},
		{"bool literal", `{"key":"app.machine_on","value":true}`, "app.machine_on", "true", false},
		{"int literal", `{"key":"app.start_hour","value":22}`, "app.start_hour", "22", false},
		{"negative literal", `{"key":"app.start_hour","value":-1}`, "app.start_hour", "-1", false},
		{"string zone", `{"key":"app.timezone","value":"Europe/Athens"}`, "app.timezone", "Europe/Athens", false},
		{"missing key", `{"value":"1"}`, "", "", true},
		{"missing value", `{"key":"app.start_hour"}`, "", "", true},
		{"null value", `{"key":"app.start_hour","value":null}`, "", "", true},
		{"object value", `{"key":"app.start_hour","value":{"a":1}}`, "", "", true},
		{"not an object", `[1,2]`, "", "", true},
		{"empty", ``, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, value, err := DecodeSet(json.RawMessage(tt.params))
			if tt.wantErr {
				var pe *ParseError
				assert.ErrorAs(t, err, &pe)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.wantValue, value)
		})
	}
}

func TestSet(t *testing.T) {
	a := &fakeApplier{}
	g := New(a, &fakeCounters{}, nil)

	require.NoError(t, g.Set(json.RawMessage(`{"key":"app.machine_on","value":"true"}`)))
	assert.Equal(t, []applyCall{{"app.machine_on", "true"}}, a.calls)
}

func TestSetApplyError(t *testing.T) {
	applyErr := errors.New("persist failed")
	a := &fakeApplier{err: applyErr}
	g := New(a, &fakeCounters{}, nil)

	err := g.Set(json.RawMessage(`{"key":"app.machine_on","value":"true"}`))
	assert.ErrorIs(t, err, applyErr)
}

func TestSetMalformedDoesNotApply(t *testing.T) {
	a := &fakeApplier{}
	g := New(a, &fakeCounters{}, nil)

	assert.Error(t, g.Set(json.RawMessage(`{"key":`)))
	assert.Empty(t, a.calls)
}

func TestCounters(t *testing.T) {
	raw := `{"machine_on": true, "total": 12, "last_update": "2026-01-02 03:04:05"}`
	g := New(&fakeApplier{}, &fakeCounters{data: []byte(raw + "\n")}, nil)

	got, err := g.Counters()
	require.NoError(t, err)
	assert.Equal(t, raw, string(got), "returned verbatim")
}

func TestCountersCorruptFile(t *testing.T) {
	g := New(&fakeApplier{}, &fakeCounters{data: []byte(`{"machine_on": tr`)}, nil)

	got, err := g.Counters()
	require.NoError(t, err)
	assert.Equal(t, `"{\"machine_on\": tr"`, string(got))
}

func TestCountersEmptyFile(t *testing.T) {
	g := New(&fakeApplier{}, &fakeCounters{data: []byte{}}, nil)

	got, err := g.Counters()
	require.NoError(t, err)
	assert.Equal(t, `""`, string(got))
}

func TestCountersUnreadable(t *testing.T) {
	g := New(&fakeApplier{}, &fakeCounters{err: os.ErrNotExist}, nil)

	_, err := g.Counters()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCall(t *testing.T) {
	a := &fakeApplier{}
	g := New(a, &fakeCounters{data: []byte(`{"total":1}`)}, nil)

	res, err := g.Call(MethodConfigSet, json.RawMessage(`{"key":"app.end_hour","value":"6"}`))
	require.NoError(t, err)
	assert.Equal(t, true, res)

	res, err = g.Call(MethodCountersGet, nil)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{"total":1}`), res)

	_, err = g.Call("Sys.Reboot", nil)
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestHandleMessage(t *testing.T) {
	a := &fakeApplier{}
	log, logs := newObserved()
	g := New(a, &fakeCounters{}, log)

	g.HandleMessage([]byte(`{"method":"Config.Set","params":{"key":"app.machine_on","value":"false"}}`))
	assert.Equal(t, []applyCall{{"app.machine_on", "false"}}, a.calls)
	assert.Equal(t, 0, logs.FilterMessage("dropping control message").Len())
}

func TestHandleMessageBareParams(t *testing.T) {
	a := &fakeApplier{}
	g := New(a, &fakeCounters{}, nil)

	g.HandleMessage([]byte(`{"key":"app.start_hour","value":21}`))
	assert.Equal(t, []applyCall{{"app.start_hour", "21"}}, a.calls)
}

func TestHandleMessageMissingParams(t *testing.T) {
	a := &fakeApplier{}
	log, logs := newObserved()
	g := New(a, &fakeCounters{}, log)

	assert.NotPanics(t, func() {
		g.HandleMessage([]byte(`{"method":"Config.Set"}`))
	})
	assert.Empty(t, a.calls, "no state change")
	assert.Equal(t, 1, logs.FilterMessage("dropping control message").Len())
}

func TestHandleMessageDrops(t *testing.T) {
	payloads := []string{
		`not json`,
		`{"method":"Counters.Get"}`,
		`{"method":"Sys.Reboot","params":{}}`,
		`{"method":"Config.Set","params":{"key":"app.machine_on"}}`,
	}
	for _, p := range payloads {
		t.Run(p, func(t *testing.T) {
			a := &fakeApplier{}
			log, logs := newObserved()
			g := New(a, &fakeCounters{}, log)

			g.HandleMessage([]byte(p))
			assert.Empty(t, a.calls)
			assert.Equal(t, 1, logs.FilterMessage("dropping control message").Len())
		})
	}
}

func TestHandleMessageApplyFailure(t *testing.T) {
	a := &fakeApplier{err: errors.New("unknown key")}
	log, logs := newObserved()
	g := New(a, &fakeCounters{}, log)

	g.HandleMessage([]byte(`{"method":"Config.Set","params":{"key":"app.nope","value":"1"}}`))
	assert.Len(t, a.calls, 1)
	assert.Equal(t, 1, logs.FilterMessage("dropping control message").Len())
}
