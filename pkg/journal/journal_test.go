package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"peerd/pkg/model"
)

func TestJournal(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "state", "journal.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer j.Close()

	j.CycleDone(model.CycleEvent{ID: 1, Outcome: model.CycleDeferred, BusyZone: "edge"})
	j.CycleDone(model.CycleEvent{ID: 1, Retries: 1, Outcome: model.CycleWritten, Path: "/etc/bird/peerd.conf", Lines: 2,
		Reconfigure: 15 * time.Millisecond})

	evs, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, model.CycleWritten, evs[0].Outcome)
	assert.Equal(t, uint32(1), evs[0].Retries)
	assert.Equal(t, 2, evs[0].Lines)
	assert.Equal(t, 15*time.Millisecond, evs[0].Reconfigure)
	assert.Equal(t, "edge", evs[1].BusyZone)
	assert.False(t, evs[1].Timestamp.IsZero())

	evs, err = j.Recent(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}
