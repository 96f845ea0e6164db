package janitor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/waveboard/internal/element"
	"github.com/manpreetbhatti/waveboard/internal/protocol"
	"github.com/manpreetbhatti/waveboard/internal/room"
)

type countingEvictor struct {
	calls atomic.Int32
	ttl   atomic.Int64
}

func (c *countingEvictor) EvictIdleSnapshots(ttl time.Duration) int {
	c.calls.Add(1)
	c.ttl.Store(int64(ttl))
	return 1
}

func TestSweepUsesConfiguredTTL(t *testing.T) {
	ev := &countingEvictor{}
	s := New(ev, Config{Interval: time.Hour, SnapshotTTL: 42 * time.Minute}, zerolog.Nop())

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, int64(42*time.Minute), ev.ttl.Load())
}

func TestScheduledSweep(t *testing.T) {
	ev := &countingEvictor{}
	s := New(ev, Config{Interval: time.Second, SnapshotTTL: time.Minute}, zerolog.Nop())
	s.Start()
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return ev.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestSweepAgainstRegistry(t *testing.T) {
	reg := room.NewRegistry()
	reg.Join("r1", protocol.Member{ConnectionID: "c1"})
	reg.RecordUpdate("r1", "c1", []element.Element{
		element.New(0, element.TypeRectangle, element.Point{X: 1, Y: 1}, element.Style{Stroke: "#000", Size: 2}),
	})

	s := New(reg, Config{Interval: time.Hour, SnapshotTTL: time.Hour}, zerolog.Nop())
	assert.Equal(t, 0, s.Sweep(), "fresh snapshot is kept")

	s = New(reg, Config{Interval: time.Hour, SnapshotTTL: -time.Second}, zerolog.Nop())
	assert.Equal(t, 1, s.Sweep())
	_, ok := reg.Snapshot("r1")
	assert.False(t, ok)
}
