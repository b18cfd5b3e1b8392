package discovery

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/bjorn-manager/pkg/alias"
	"github.com/carverauto/bjorn-manager/pkg/directory"
	"github.com/carverauto/bjorn-manager/pkg/logger"
	"github.com/carverauto/bjorn-manager/pkg/models"
)

type sinkStub struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *sinkStub) Publish(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, ev)
}

func (s *sinkStub) all() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Event, len(s.events))
	copy(out, s.events)

	return out
}

func newTestEngine(t *testing.T, names map[string]string) (*Engine, *sinkStub, *directory.Directory) {
	t.Helper()

	sink := &sinkStub{}
	dir := directory.New(logger.NewTestLogger())
	e := NewEngine(Config{}, dir, alias.NewRegistry(), sink, logger.NewTestLogger())
	e.ignored = make(map[string]struct{})
	e.reverseLookup = func(address string) string { return names[address] }

	return e, sink, dir
}

func TestReconcileMergesSightingsAcrossSources(t *testing.T) {
	e, sink, dir := newTestEngine(t, map[string]string{
		"192.168.1.20": "bjorn.local",
	})

	// mDNS reports bjorn.local on the LAN.
	e.OnSighting(models.Sighting{Host: "bjorn.local", Address: "192.168.1.20", Source: models.SourceMDNS})
	// A range probe sees the same address; reverse lookup resolves it.
	e.OnSighting(models.Sighting{Address: "192.168.1.20", Source: models.SourceProbe})
	// Later mDNS reports the same device on its USB-gadget address.
	e.OnSighting(models.Sighting{Host: "bjorn.local", Address: "172.20.2.5", Source: models.SourceMDNS})

	records := dir.Snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, "bjorn", records[0].Identity)
	assert.Equal(t, 1, records[0].Alias)
	require.Len(t, records[0].Endpoints, 2)
	assert.Equal(t, models.InterfaceLAN, records[0].Endpoints["192.168.1.20"].Class)
	assert.Equal(t, models.InterfaceUSB, records[0].Endpoints["172.20.2.5"].Class)

	events := sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventDeviceFound, events[0].Type)
	assert.Equal(t, 1, events[0].Alias)
	assert.Equal(t, "192.168.1.20", events[0].Endpoint.Address)
	assert.Equal(t, models.EventDeviceUpdated, events[1].Type)
	assert.Equal(t, "172.20.2.5", events[1].Endpoint.Address)
}

func TestStrictNameFilterRejectsForeignHosts(t *testing.T) {
	e, sink, dir := newTestEngine(t, map[string]string{
		"192.168.1.50": "printer.local",
	})

	e.OnSighting(models.Sighting{Host: "printer.local", Address: "192.168.1.40", Source: models.SourceMDNS})
	e.OnSighting(models.Sighting{Address: "192.168.1.50", Source: models.SourceProbe})
	// No hostname at all resolves to empty, which strict mode also drops.
	e.OnSighting(models.Sighting{Address: "192.168.1.60", Source: models.SourceProbe})

	assert.Empty(t, dir.Snapshot())
	assert.Empty(t, sink.all())
}

func TestNonStrictAdmitsByAddress(t *testing.T) {
	e, sink, dir := newTestEngine(t, nil)
	strict := false
	e.config.StrictNames = &strict

	e.OnSighting(models.Sighting{Address: "192.168.1.60", Source: models.SourceProbe})

	records := dir.Snapshot()
	require.Len(t, records, 1)
	// Without a resolvable name the address is the identity of last resort.
	assert.Equal(t, "192.168.1.60", records[0].Identity)
	require.Len(t, sink.all(), 1)
}

func TestInfrastructureAddressesUnconditionallyRejected(t *testing.T) {
	e, sink, dir := newTestEngine(t, map[string]string{
		"192.168.1.1": "bjorn.local", // even a matching name cannot rescue a gateway address
	})
	e.ignored["192.168.1.1"] = struct{}{}

	e.OnSighting(models.Sighting{Host: "bjorn.local", Address: "192.168.1.1", Source: models.SourceMDNS})

	assert.Empty(t, dir.Snapshot())
	assert.Empty(t, sink.all())
}

func TestRefreshEmitsNoDuplicateEvents(t *testing.T) {
	e, sink, _ := newTestEngine(t, nil)

	for i := 0; i < 5; i++ {
		e.OnSighting(models.Sighting{Host: "bjorn-2.local", Address: "192.168.1.20", Source: models.SourceMDNS})
	}

	assert.Len(t, sink.all(), 1)
}

func TestHostnameVariantsShareIdentity(t *testing.T) {
	e, _, dir := newTestEngine(t, nil)

	e.OnSighting(models.Sighting{Host: "Bjorn.local.", Address: "192.168.1.20", Source: models.SourceMDNS})
	e.OnSighting(models.Sighting{Host: "bjorn.home", Address: "172.20.1.9", Source: models.SourceMDNS})

	records := dir.Snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, "bjorn", records[0].Identity)
	assert.Len(t, records[0].Endpoints, 2)
	assert.Equal(t, models.InterfaceBluetooth, records[0].Endpoints["172.20.1.9"].Class)
}
