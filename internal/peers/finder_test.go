package peers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/warrensql/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticHosts struct{ addrs []TransportAddress }

func (h staticHosts) Addresses(ctx context.Context) ([]TransportAddress, error) { return h.addrs, nil }

// fakeConnector simulates reachable, unreachable (never returns until
// ctx times out), and slow addresses.
type fakeConnector struct {
	mu          sync.Mutex
	reachable   map[TransportAddress]DiscoveryNode
	blackholed  map[TransportAddress]bool
	connectCalls map[TransportAddress]int32
	inFlightNow map[TransportAddress]int32
	maxInFlight map[TransportAddress]int32
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		reachable:    map[TransportAddress]DiscoveryNode{},
		blackholed:   map[TransportAddress]bool{},
		connectCalls: map[TransportAddress]int32{},
		inFlightNow:  map[TransportAddress]int32{},
		maxInFlight:  map[TransportAddress]int32{},
	}
}

func (c *fakeConnector) Connect(ctx context.Context, addr TransportAddress) (DiscoveryNode, error) {
	c.mu.Lock()
	c.connectCalls[addr]++
	c.inFlightNow[addr]++
	if c.inFlightNow[addr] > c.maxInFlight[addr] {
		c.maxInFlight[addr] = c.inFlightNow[addr]
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inFlightNow[addr]--
		c.mu.Unlock()
	}()

	if c.blackholed[addr] {
		<-ctx.Done()
		return DiscoveryNode{}, ctx.Err()
	}

	c.mu.Lock()
	node, ok := c.reachable[addr]
	c.mu.Unlock()
	if !ok {
		return DiscoveryNode{}, context.DeadlineExceeded
	}
	return node, nil
}

func (c *fakeConnector) RequestPeers(ctx context.Context, node DiscoveryNode, req PeersRequest) (PeersResponse, error) {
	return PeersResponse{KnownPeers: nil, Term: 0}, nil
}

type recordingListener struct {
	mu             sync.Mutex
	peerSets       [][]DiscoveryNode
	masterFound    int32
	lastMaster     DiscoveryNode
	lastMasterTerm int64
}

func (l *recordingListener) OnPeersChanged(peers []DiscoveryNode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := append([]DiscoveryNode(nil), peers...)
	l.peerSets = append(l.peerSets, cp)
}

func (l *recordingListener) OnActiveMasterFound(master DiscoveryNode, term int64) {
	atomic.AddInt32(&l.masterFound, 1)
	l.mu.Lock()
	l.lastMaster = master
	l.lastMasterTerm = term
	l.mu.Unlock()
}

// TestPeerFinderLiveness is §8 property 8: starting from a mix of
// reachable and unreachable addresses, after probe+interval time known
// peers equals the reachable master-eligible set.
func TestPeerFinderLiveness(t *testing.T) {
	connector := newFakeConnector()
	connector.reachable["good-1"] = DiscoveryNode{ID: "n1", Address: "good-1", MasterEligible: true}
	connector.reachable["good-2"] = DiscoveryNode{ID: "n2", Address: "good-2", MasterEligible: true}
	connector.blackholed["bad-1"] = true

	hosts := staticHosts{addrs: []TransportAddress{"good-1", "good-2", "bad-1"}}
	listener := &recordingListener{}
	f := New("self", hosts, connector, listener)
	f.findPeersInterval = 5 * time.Millisecond
	f.connectTimeout = 50 * time.Millisecond
	f.requestTimeout = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Activate(ctx)
	defer f.Deactivate()

	require.Eventually(t, func() bool {
		peers := f.KnownPeers()
		return len(peers) == 2
	}, time.Second, 5*time.Millisecond)

	ids := map[string]bool{}
	for _, p := range f.KnownPeers() {
		ids[p.ID] = true
	}
	assert.True(t, ids["n1"])
	assert.True(t, ids["n2"])
}

// TestPeerFinderExclusivity is §8 property 9: at most one in-flight
// connection attempt per address at any point.
func TestPeerFinderExclusivity(t *testing.T) {
	connector := newFakeConnector()
	connector.blackholed["slow-1"] = true

	hosts := staticHosts{addrs: []TransportAddress{"slow-1"}}
	f := New("self", hosts, connector, nil)
	f.findPeersInterval = 5 * time.Millisecond
	f.connectTimeout = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Activate(ctx)

	time.Sleep(60 * time.Millisecond)
	f.Deactivate()

	connector.mu.Lock()
	maxInFlight := connector.maxInFlight["slow-1"]
	connector.mu.Unlock()
	assert.LessOrEqual(t, maxInFlight, int32(1))
}

// TestScenarioS6_PeerFinderBlackhole: one reachable address, one
// blackholed. After find_interval, known-peers contains only the
// reachable node; after connect_timeout+find_interval a retry on the
// blackholed address is attempted (connectCalls increments again).
func TestScenarioS6_PeerFinderBlackhole(t *testing.T) {
	connector := newFakeConnector()
	connector.reachable["good-1"] = DiscoveryNode{ID: "n1", Address: "good-1", MasterEligible: true}
	connector.blackholed["bad-1"] = true

	hosts := staticHosts{addrs: []TransportAddress{"good-1", "bad-1"}}
	f := New("self", hosts, connector, nil)
	f.findPeersInterval = 5 * time.Millisecond
	f.connectTimeout = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Activate(ctx)
	defer f.Deactivate()

	require.Eventually(t, func() bool {
		return len(f.KnownPeers()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "n1", f.KnownPeers()[0].ID)

	require.Eventually(t, func() bool {
		connector.mu.Lock()
		defer connector.mu.Unlock()
		return connector.connectCalls["bad-1"] >= 2
	}, time.Second, 5*time.Millisecond, "blackholed address must be retried after its connect timeout elapses")
}

// TestPeerFinderHealthCheckSkipsHandshake: an address that fails its
// pre-connect health probe must never reach the connector at all.
func TestPeerFinderHealthCheckSkipsHandshake(t *testing.T) {
	connector := newFakeConnector()
	connector.reachable["good-1"] = DiscoveryNode{ID: "n1", Address: "good-1", MasterEligible: true}

	hosts := staticHosts{addrs: []TransportAddress{"good-1", "unhealthy-1"}}
	f := New("self", hosts, connector, nil)
	f.findPeersInterval = 5 * time.Millisecond
	f.healthCheck = func(ctx context.Context, addr TransportAddress) health.Result {
		return health.Result{Healthy: addr != "unhealthy-1", Message: "fake probe"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Activate(ctx)
	defer f.Deactivate()

	require.Eventually(t, func() bool { return len(f.KnownPeers()) == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	connector.mu.Lock()
	calls := connector.connectCalls["unhealthy-1"]
	connector.mu.Unlock()
	assert.Equal(t, int32(0), calls, "connector must not be called for an address that failed its health probe")
}

// TestPeerFinderAnswerRequestWhileInactive covers the request-answering
// rule: inactive returns last known master/term.
func TestPeerFinderAnswerRequestWhileInactive(t *testing.T) {
	f := New("self", staticHosts{}, newFakeConnector(), nil)
	master := DiscoveryNode{ID: "m1"}
	f.SetAcceptedState([]DiscoveryNode{{ID: "n1"}}, 7, &master)

	resp := f.AnswerRequest(PeersRequest{SourceNode: "other"})
	require.NotNil(t, resp.Master)
	assert.Equal(t, "m1", resp.Master.ID)
	assert.Equal(t, int64(7), resp.Term)
}

// TestPeerFinderAnswerRequestWhileActive: active returns nil master and
// the current known-peers set.
func TestPeerFinderAnswerRequestWhileActive(t *testing.T) {
	connector := newFakeConnector()
	connector.reachable["good-1"] = DiscoveryNode{ID: "n1", Address: "good-1", MasterEligible: true}
	f := New("self", staticHosts{addrs: []TransportAddress{"good-1"}}, connector, nil)
	f.findPeersInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Activate(ctx)
	defer f.Deactivate()

	require.Eventually(t, func() bool { return len(f.KnownPeers()) == 1 }, time.Second, 5*time.Millisecond)

	resp := f.AnswerRequest(PeersRequest{SourceNode: "other"})
	assert.Nil(t, resp.Master)
	assert.Len(t, resp.KnownPeers, 1)
}
