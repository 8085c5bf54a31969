// Package store persists the machine state to a small JSON file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sweeney/coin-relay/internal/logic"
	"go.uber.org/zap"
)

// MaxRecordSize bounds how much of the state file is read. Larger files are
// truncated, which makes them unparsable and therefore load as default.
const MaxRecordSize = 1024

// TimeLayout is the on-disk and on-wire timestamp format.
const TimeLayout = "2006-01-02 15:04:05"

// Record is the on-disk shape of the machine state.
type Record struct {
	MachineOn  bool    `json:"machine_on"`
	Total      float64 `json:"total"`
	LastUpdate string  `json:"last_update,omitempty"`
}

// File loads and saves the machine state at a fixed path.
type File struct {
	path string
	loc  *time.Location
	log  *zap.Logger
}

// New creates a File store. Timestamps are written in loc.
func New(path string, loc *time.Location, log *zap.Logger) *File {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &File{path: path, loc: loc, log: log}
}

// Path returns the state file path.
func (f *File) Path() string {
	return f.path
}

// Load returns the persisted state. A missing, unreadable or corrupt file
// yields the default state; the returned error only describes why, callers
// are expected to carry on with the state.
func (f *File) Load() (logic.MachineState, error) {
	data, err := f.readBounded()
	if err == nil && len(data) == 0 {
		err = errors.New("state file is empty")
	}
	if err != nil {
		f.log.Warn("state file unavailable, using default state", zap.String("path", f.path), zap.Error(err))
		return logic.DefaultState(), err
	}
	state, err := f.decode(data)
	if err != nil {
		f.log.Warn("state file corrupt, using default state", zap.String("path", f.path), zap.Error(err))
		return logic.DefaultState(), err
	}
	f.log.Info("loaded machine state",
		zap.String("path", f.path),
		zap.Bool("machine_on", state.On),
		zap.Float64("total", state.Counter),
	)
	return state, nil
}

// decode parses each field on its own so one bad field keeps its default.
func (f *File) decode(data []byte) (logic.MachineState, error) {
	state := logic.DefaultState()

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return state, fmt.Errorf("parse state: %w", err)
	}

	if raw, ok := fields["machine_on"]; ok {
		var on bool
		if err := json.Unmarshal(raw, &on); err == nil {
			state.On = on
		} else {
			f.log.Warn("ignoring bad machine_on field", zap.ByteString("value", raw))
		}
	}
	if raw, ok := fields["total"]; ok {
		var total float64
		if err := json.Unmarshal(raw, &total); err == nil && total >= 0 {
			state.Counter = total
		} else {
			f.log.Warn("ignoring bad total field", zap.ByteString("value", raw))
		}
	}
	if raw, ok := fields["last_update"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if ts, err := time.ParseInLocation(TimeLayout, s, f.loc); err == nil {
				state.LastUpdate = ts
			}
		}
	}
	return state, nil
}

// Encode builds the full serialized record for s.
func Encode(s logic.MachineState, loc *time.Location) ([]byte, error) {
	rec := Record{
		MachineOn: s.On,
		Total:     s.Counter,
	}
	if !s.LastUpdate.IsZero() {
		rec.LastUpdate = s.LastUpdate.In(loc).Format(TimeLayout)
	}
	return json.Marshal(rec)
}

// Save overwrites the state file with s. The record is serialized before the
// file is opened so a failed marshal never truncates the previous contents.
func (f *File) Save(s logic.MachineState) error {
	data, err := Encode(s, f.loc)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	f.log.Debug("saved machine state", zap.String("path", f.path), zap.ByteString("record", data))
	return nil
}

// ReadRaw returns the state file contents as they are on disk. An empty file
// is returned as empty, not as an error.
func (f *File) ReadRaw() ([]byte, error) {
	data, err := f.readBounded()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (f *File) readBounded() ([]byte, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}
	defer fh.Close()

	data, err := io.ReadAll(io.LimitReader(fh, MaxRecordSize))
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	return data, nil
}
