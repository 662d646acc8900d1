package correlate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/internal/models"
)

func entryAt(id string, ts time.Time) models.EnrichedEvent {
	return models.EnrichedEvent{RawEvent: models.RawEvent{ContractID: id, Timestamp: ts}}
}

func TestWindowEvictsByAge(t *testing.T) {
	w := Window{cfg: WindowConfig{MaxAge: 60 * time.Second, MaxSize: 256}}
	t0 := time.Now()

	w.Add(entryAt("old", t0), t0)
	w.Add(entryAt("mid", t0.Add(30*time.Second)), t0.Add(30*time.Second))
	require.Equal(t, 2, w.Len())

	// Inserting past the horizon drops the expired entry.
	w.Add(entryAt("new", t0.Add(90*time.Second)), t0.Add(90*time.Second))
	assert.Equal(t, 2, w.Len())

	_, found := w.NewestMatch(entryAt("probe", t0.Add(91*time.Second)), time.Hour,
		func(e models.EnrichedEvent) bool { return e.ContractID == "old" })
	assert.False(t, found)
}

func TestWindowEvictsBySize(t *testing.T) {
	w := Window{cfg: WindowConfig{MaxAge: time.Hour, MaxSize: 3}}
	t0 := time.Now()

	for i := 0; i < 5; i++ {
		ts := t0.Add(time.Duration(i) * time.Second)
		w.Add(entryAt(fmt.Sprintf("e%d", i), ts), ts)
	}
	require.Equal(t, 3, w.Len())

	// Oldest-first eviction: e0 and e1 are gone, e2 survives.
	probe := entryAt("probe", t0.Add(time.Minute))
	_, found := w.NewestMatch(probe, time.Hour, func(e models.EnrichedEvent) bool { return e.ContractID == "e1" })
	assert.False(t, found)
	_, found = w.NewestMatch(probe, time.Hour, func(e models.EnrichedEvent) bool { return e.ContractID == "e2" })
	assert.True(t, found)
}

func TestNewestMatchPicksMostRecent(t *testing.T) {
	w := Window{cfg: WindowConfig{MaxAge: time.Hour, MaxSize: 256}}
	t0 := time.Now()

	w.Add(entryAt("first", t0), t0)
	w.Add(entryAt("second", t0.Add(time.Second)), t0.Add(time.Second))

	got, found := w.NewestMatch(entryAt("trigger", t0.Add(2*time.Second)), time.Hour,
		func(models.EnrichedEvent) bool { return true })
	require.True(t, found)
	assert.Equal(t, "second", got.ContractID)
}

func TestNewestMatchRespectsGapAndOrdering(t *testing.T) {
	w := Window{cfg: WindowConfig{MaxAge: time.Hour, MaxSize: 256}}
	t0 := time.Now()

	w.Add(entryAt("early", t0), t0)
	w.Add(entryAt("later", t0.Add(20*time.Second)), t0.Add(20*time.Second))

	trigger := entryAt("trigger", t0.Add(10*time.Second))

	// "later" is after the trigger and must be skipped; "early" is the match.
	got, found := w.NewestMatch(trigger, 15*time.Second, func(models.EnrichedEvent) bool { return true })
	require.True(t, found)
	assert.Equal(t, "early", got.ContractID)

	// With a tighter gap nothing qualifies.
	_, found = w.NewestMatch(trigger, 5*time.Second, func(models.EnrichedEvent) bool { return true })
	assert.False(t, found)
}
