package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/coin-relay/internal/logic"
)

func newTestFile(t *testing.T) *File {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "machine_state.json"), time.UTC, nil)
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	f := newTestFile(t)

	s, err := f.Load()
	assert.Error(t, err)
	assert.Equal(t, logic.DefaultState(), s)
	assert.False(t, s.On)
	assert.Zero(t, s.Counter)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	f := newTestFile(t)
	want := logic.MachineState{
		On:         true,
		Counter:    42,
		LastUpdate: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
	}

	require.NoError(t, f.Save(want))
	got, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, want.On, got.On)
	assert.Equal(t, want.Counter, got.Counter)
	assert.True(t, want.LastUpdate.Equal(got.LastUpdate))

	// Saving what was loaded is idempotent on disk.
	first, err := f.ReadRaw()
	require.NoError(t, err)
	require.NoError(t, f.Save(got))
	second, err := f.ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestSaveWritesExpectedRecord(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, f.Save(logic.MachineState{
		On:         true,
		Counter:    3,
		LastUpdate: time.Date(2026, 7, 1, 23, 30, 0, 0, time.UTC),
	}))

	raw, err := os.ReadFile(f.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"machine_on":true,"total":3,"last_update":"2026-07-01 23:30:00"}`, string(raw))
}

func TestLoadTruncatedFileReturnsDefault(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, os.WriteFile(f.Path(), []byte(`{"machine_on": tr`), 0o644))

	s, err := f.Load()
	assert.Error(t, err)
	assert.Equal(t, logic.DefaultState(), s)
}

func TestLoadEmptyFileReturnsDefault(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, os.WriteFile(f.Path(), nil, 0o644))

	s, err := f.Load()
	assert.Error(t, err)
	assert.Equal(t, logic.DefaultState(), s)
}

func TestLoadOversizedFileIsTruncated(t *testing.T) {
	f := newTestFile(t)
	big := `{"machine_on": true, "pad": "` + strings.Repeat("x", 2*MaxRecordSize) + `"}`
	require.NoError(t, os.WriteFile(f.Path(), []byte(big), 0o644))

	s, err := f.Load()
	assert.Error(t, err, "a record cut at the read bound cannot parse")
	assert.False(t, s.On)
}

func TestLoadBadFieldKeepsDefault(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, os.WriteFile(f.Path(), []byte(`{"machine_on": "yes", "total": 9, "last_update": 12}`), 0o644))

	s, err := f.Load()
	require.NoError(t, err)
	assert.False(t, s.On, "unparsable machine_on stays at default")
	assert.Equal(t, 9.0, s.Counter)
	assert.True(t, s.LastUpdate.IsZero())
}

func TestLoadNegativeTotalIgnored(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, os.WriteFile(f.Path(), []byte(`{"machine_on": true, "total": -4}`), 0o644))

	s, err := f.Load()
	require.NoError(t, err)
	assert.True(t, s.On)
	assert.Zero(t, s.Counter)
}

func TestLoadLegacyRecordWithoutTotal(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, os.WriteFile(f.Path(), []byte(`{"machine_on": true}`), 0o644))

	s, err := f.Load()
	require.NoError(t, err)
	assert.True(t, s.On)
	assert.Zero(t, s.Counter)
}

func TestSaveToMissingDirectoryFails(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "nope", "state.json"), time.UTC, nil)
	err := f.Save(logic.MachineState{On: true})
	assert.Error(t, err)
}

func TestReadRawVerbatim(t *testing.T) {
	f := newTestFile(t)
	content := `{"machine_on":false,"total":12,"last_update":"2026-01-01 00:00:00"}`
	require.NoError(t, os.WriteFile(f.Path(), []byte(content), 0o644))

	raw, err := f.ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, content, string(raw))
}

func TestReadRawEmptyFile(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, os.WriteFile(f.Path(), nil, 0o644))

	raw, err := f.ReadRaw()
	require.NoError(t, err, "an empty file is readable")
	assert.Empty(t, raw)
}

func TestReadRawMissing(t *testing.T) {
	f := newTestFile(t)
	_, err := f.ReadRaw()
	assert.Error(t, err)
}
