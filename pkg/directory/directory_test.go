package directory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/bjorn-manager/pkg/logger"
	"github.com/carverauto/bjorn-manager/pkg/models"
)

func TestUpsertCreatesThenRefreshes(t *testing.T) {
	d := New(logger.NewTestLogger())
	now := time.Now()

	res := d.Upsert("bjorn", 1, "192.168.1.20", now)
	assert.True(t, res.Created)
	assert.True(t, res.EndpointAdded)
	assert.Equal(t, 1, res.Record.Alias)
	assert.Equal(t, models.InterfaceLAN, res.Record.Endpoints["192.168.1.20"].Class)

	// Same address again: neither created nor a new endpoint.
	res = d.Upsert("bjorn", 1, "192.168.1.20", now.Add(time.Second))
	assert.False(t, res.Created)
	assert.False(t, res.EndpointAdded)

	// New address for the same identity forks no identity, just an endpoint.
	res = d.Upsert("bjorn", 1, "172.20.2.5", now.Add(2*time.Second))
	assert.False(t, res.Created)
	assert.True(t, res.EndpointAdded)
	assert.Equal(t, models.InterfaceUSB, res.Record.Endpoints["172.20.2.5"].Class)

	rec, ok := d.Get("bjorn")
	require.True(t, ok)
	assert.Len(t, rec.Endpoints, 2)
}

func TestSnapshotIsACopy(t *testing.T) {
	d := New(logger.NewTestLogger())
	d.Upsert("bjorn", 1, "192.168.1.20", time.Now())

	snap := d.Snapshot()
	require.Len(t, snap, 1)

	snap[0].Endpoints["192.168.1.20"].Stale = true

	rec, ok := d.Get("bjorn")
	require.True(t, ok)
	assert.False(t, rec.Endpoints["192.168.1.20"].Stale)
}

func TestIdentityForAddress(t *testing.T) {
	d := New(logger.NewTestLogger())
	d.Upsert("bjorn", 1, "192.168.1.20", time.Now())

	identity, ok := d.IdentityForAddress("192.168.1.20")
	require.True(t, ok)
	assert.Equal(t, "bjorn", identity)

	_, ok = d.IdentityForAddress("10.0.0.9")
	assert.False(t, ok)
}

func TestSetWebUIReachable(t *testing.T) {
	d := New(logger.NewTestLogger())
	d.Upsert("bjorn", 1, "192.168.1.20", time.Now())

	identity, changed := d.SetWebUIReachable("192.168.1.20", true)
	assert.Equal(t, "bjorn", identity)
	assert.True(t, changed)

	_, changed = d.SetWebUIReachable("192.168.1.20", true)
	assert.False(t, changed)

	_, changed = d.SetWebUIReachable("10.0.0.9", true)
	assert.False(t, changed)
}

func TestSweepStaleReportsTransitionOnce(t *testing.T) {
	d := New(logger.NewTestLogger())
	start := time.Now()

	d.Upsert("bjorn", 1, "192.168.1.20", start)
	d.Upsert("bjorn", 1, "172.20.2.5", start)
	d.Upsert("bjorn-2", 2, "192.168.1.30", start.Add(time.Minute))

	// Only bjorn's endpoints have aged out.
	gone := d.SweepStale(90*time.Second, start.Add(2*time.Minute))
	assert.Equal(t, []string{"bjorn"}, gone)

	// Second sweep: no new transition.
	gone = d.SweepStale(90*time.Second, start.Add(3*time.Minute))
	assert.Empty(t, gone)

	// A fresh sighting clears staleness; the next timeout reports again.
	d.Upsert("bjorn", 1, "192.168.1.20", start.Add(4*time.Minute))

	gone = d.SweepStale(90*time.Second, start.Add(10*time.Minute))
	assert.Equal(t, []string{"bjorn"}, gone)
}

func TestSweepStaleIgnoresEmptyRecords(t *testing.T) {
	d := New(logger.NewTestLogger())

	gone := d.SweepStale(time.Second, time.Now())
	assert.Empty(t, gone)
}
