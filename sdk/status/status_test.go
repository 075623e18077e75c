package status

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerStartsFalse(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, Snapshot{}, tr.Snapshot())
}

func TestTrackerSetIsLastWriteWins(t *testing.T) {
	tr := NewTracker()

	tr.Set(PersistenceHealthy, false)
	tr.Set(PersistenceHealthy, true)
	assert.True(t, tr.Get(PersistenceHealthy))

	tr.Set(PersistenceHealthy, false)
	assert.False(t, tr.Get(PersistenceHealthy))

	// Other flags are untouched.
	assert.False(t, tr.Get(ConnectionAlive))
	assert.False(t, tr.Get(ClassifierHealthy))
}

func TestTrackerFlagsAreIndependent(t *testing.T) {
	tr := NewTracker()
	tr.Set(ConnectionAlive, true)
	tr.Set(ClassifierHealthy, true)

	assert.Equal(t, Snapshot{ConnectionAlive: true, ClassifierHealthy: true}, tr.Snapshot())
}

func TestTrackerIgnoresUnknownFlag(t *testing.T) {
	tr := NewTracker()
	tr.Set(Flag(42), true)
	assert.Equal(t, Snapshot{}, tr.Snapshot())
	assert.False(t, tr.Get(Flag(42)))
	assert.Equal(t, "flag(42)", Flag(42).String())
}

func TestTrackerConcurrentWriters(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(v bool) {
			defer wg.Done()
			tr.Set(ClassifierHealthy, v)
			_ = tr.Snapshot()
		}(i%2 == 0)
	}
	wg.Wait()

	// Whichever write landed last wins; the only guarantee is a valid bool and
	// untouched neighbours.
	snap := tr.Snapshot()
	assert.False(t, snap.ConnectionAlive)
	assert.False(t, snap.PersistenceHealthy)
}

func TestSnapshotJSON(t *testing.T) {
	b, err := json.Marshal(Snapshot{ConnectionAlive: true, PersistenceHealthy: false, ClassifierHealthy: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"connectionAlive":true,"persistenceHealthy":false,"classifierHealthy":true}`, string(b))
}
