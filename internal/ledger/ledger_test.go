package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sweeney/coin-relay/internal/logic"
)

func openTest(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndRecent(t *testing.T) {
	l := openTest(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, l.Record(logic.Transition{
		Time:  at,
		Cause: logic.CauseCoin,
		From:  logic.MachineState{Counter: 0},
		To:    logic.MachineState{On: true, Counter: 1},
	}))
	require.NoError(t, l.Record(logic.Transition{
		Time:  at.Add(time.Minute),
		Cause: logic.CauseRemote,
		From:  logic.MachineState{On: true, Counter: 1},
		To:    logic.MachineState{On: false, Counter: 1},
	}))

	got, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "REMOTE", got[0].Cause, "newest first")
	assert.Equal(t, KindTransition, got[0].Kind)
	assert.True(t, got[0].FromOn)
	assert.False(t, got[0].ToOn)

	assert.Equal(t, "COIN", got[1].Cause)
	assert.Equal(t, float64(1), got[1].ToTotal)
	assert.True(t, got[1].At.Equal(at))
	assert.Len(t, got[1].EventID, 36)
	assert.NotEqual(t, got[0].EventID, got[1].EventID)
}

func TestRecentLimit(t *testing.T) {
	l := openTest(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Record(logic.Transition{Time: time.Now(), Cause: logic.CauseCoin}))
	}

	got, err := l.Recent(3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestRecordReset(t *testing.T) {
	l := openTest(t)
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return at }

	require.NoError(t, l.RecordReset(logic.MachineState{On: true, Counter: 120}, "cash box emptied"))

	got, err := l.Recent(1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, KindReset, got[0].Kind)
	assert.Equal(t, float64(120), got[0].FromTotal)
	assert.Equal(t, float64(0), got[0].ToTotal)
	assert.Equal(t, "cash box emptied", got[0].Reason)
	assert.True(t, got[0].ToOn)
}

func TestRecordResetRequiresReason(t *testing.T) {
	l := openTest(t)
	assert.Error(t, l.RecordReset(logic.MachineState{Counter: 3}, ""))

	got, err := l.Recent(1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestObserver(t *testing.T) {
	l := openTest(t)
	obs := l.Observer()
	obs(logic.Transition{Time: time.Now(), Cause: logic.CauseSchedule, To: logic.MachineState{On: true}})

	got, err := l.Recent(5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "SCHEDULE", got[0].Cause)
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, l.Record(logic.Transition{Time: time.Now(), Cause: logic.CauseCoin}))
	require.NoError(t, l.Close())

	l2, err := Open(path, nil)
	require.NoError(t, err)
	defer l2.Close()

	got, err := l2.Recent(10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
