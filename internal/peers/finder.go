// Package peers implements pre-consensus peer discovery (§4.I): probing
// a set of addresses for master-eligible nodes before a cluster state
// exists to route through.
package peers

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/warrensql/pkg/health"
	"github.com/cuemby/warrensql/pkg/log"
	"github.com/rs/zerolog"
)

// TransportAddress is an opaque dial target for a peer.
type TransportAddress string

// DiscoveryNode is a probed peer: enough to dial it again and to decide
// master eligibility.
type DiscoveryNode struct {
	ID             string
	Address        TransportAddress
	MasterEligible bool
}

// PeersRequest is exchanged with every known peer each round.
type PeersRequest struct {
	SourceNode string
	KnownPeers []DiscoveryNode
}

// PeersResponse answers a PeersRequest; Master is the zero value when
// the responder doesn't know of one.
type PeersResponse struct {
	Master     *DiscoveryNode
	KnownPeers []DiscoveryNode
	Term       int64
}

// HostsProvider asynchronously yields candidate addresses to probe —
// static config, DNS SRV, a discovery file, etc.
type HostsProvider interface {
	Addresses(ctx context.Context) ([]TransportAddress, error)
}

// Connector attempts an outgoing master-eligible connection to an
// address and, on success, asks it for its current peer view.
type Connector interface {
	Connect(ctx context.Context, addr TransportAddress) (DiscoveryNode, error)
	RequestPeers(ctx context.Context, node DiscoveryNode, req PeersRequest) (PeersResponse, error)
}

// Listener is notified of peer-set changes and of an active master
// being found.
type Listener interface {
	OnPeersChanged(peers []DiscoveryNode)
	OnActiveMasterFound(master DiscoveryNode, term int64)
}

const (
	defaultFindPeersInterval = time.Second
	connectTimeout           = 30 * time.Second
	requestPeersTimeout      = 3 * time.Second
)

// HealthCheck cheaply probes an address before the finder spends a
// full connectTimeout on the handshake RPC. It takes the address and
// returns a pkg/health.Result; a pkg/health checker, whose Check takes
// only a context, is adapted per address (see tcpHealthCheck).
type HealthCheck func(ctx context.Context, addr TransportAddress) health.Result

// tcpHealthCheck builds a HealthCheck that dials addr over TCP via
// pkg/health.TCPChecker.
func tcpHealthCheck(timeout time.Duration) HealthCheck {
	return func(ctx context.Context, addr TransportAddress) health.Result {
		checker := health.NewTCPChecker(string(addr)).WithTimeout(timeout)
		return checker.Check(ctx)
	}
}

// Finder runs the probe/timeout/backoff protocol of §4.I. Zero value is
// not ready for use; construct via New.
type Finder struct {
	selfID   string
	hosts    HostsProvider
	connector Connector
	listener Listener
	logger   zerolog.Logger

	findPeersInterval time.Duration
	connectTimeout    time.Duration
	requestTimeout    time.Duration

	// healthCheck, if set, is run against an address before Connect is
	// attempted; an unhealthy result skips the handshake entirely
	// instead of waiting out connectTimeout against a dead address.
	// Nil (the default built by New) means no pre-check is done.
	healthCheck HealthCheck

	mu                sync.Mutex
	activated         bool
	knownPeers        map[TransportAddress]DiscoveryNode
	inFlight          map[TransportAddress]struct{}
	lastAcceptedNodes []DiscoveryNode
	lastMaster        *DiscoveryNode
	currentTerm       int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Finder for selfID, sourcing candidate addresses from
// hosts and dialing through connector.
func New(selfID string, hosts HostsProvider, connector Connector, listener Listener) *Finder {
	return &Finder{
		selfID:            selfID,
		hosts:             hosts,
		connector:         connector,
		listener:          listener,
		logger:            log.WithComponent("peers"),
		findPeersInterval: defaultFindPeersInterval,
		connectTimeout:    connectTimeout,
		requestTimeout:    requestPeersTimeout,
		knownPeers:        make(map[TransportAddress]DiscoveryNode),
		inFlight:          make(map[TransportAddress]struct{}),
	}
}

// EnableTCPHealthCheck makes connectOne probe an address with a raw
// TCP dial before attempting the handshake RPC, so an address with
// nothing listening fails fast instead of tying up connectTimeout.
func (f *Finder) EnableTCPHealthCheck(timeout time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthCheck = tcpHealthCheck(timeout)
}

// Activate starts probing in the background. Calling Activate while
// already activated is a no-op.
func (f *Finder) Activate(ctx context.Context) {
	f.mu.Lock()
	if f.activated {
		f.mu.Unlock()
		return
	}
	f.activated = true
	f.stopCh = make(chan struct{})
	f.mu.Unlock()

	f.wg.Add(1)
	go f.run(ctx)
}

// Deactivate stops probing, clears knownPeers, and notifies listeners
// once (§4.I "deactivation clears all known peers and notifies
// listeners once").
func (f *Finder) Deactivate() {
	f.mu.Lock()
	if !f.activated {
		f.mu.Unlock()
		return
	}
	f.activated = false
	close(f.stopCh)
	f.knownPeers = make(map[TransportAddress]DiscoveryNode)
	f.mu.Unlock()

	f.wg.Wait()
	if f.listener != nil {
		f.listener.OnPeersChanged(nil)
	}
}

// SetAcceptedState records the node set from the last accepted cluster
// state, used only to answer requests while inactive.
func (f *Finder) SetAcceptedState(nodes []DiscoveryNode, term int64, master *DiscoveryNode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAcceptedNodes = nodes
	f.currentTerm = term
	f.lastMaster = master
}

// AnswerRequest implements §4.I's request-answering rule: when
// inactive, return the last known master plus current term; when
// active, return empty master, current knownPeers, current term.
func (f *Finder) AnswerRequest(req PeersRequest) PeersResponse {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mergeLocked(req.KnownPeers)

	if !f.activated {
		return PeersResponse{Master: f.lastMaster, KnownPeers: f.lastAcceptedNodes, Term: f.currentTerm}
	}
	return PeersResponse{Master: nil, KnownPeers: f.knownPeersLocked(), Term: f.currentTerm}
}

func (f *Finder) run(ctx context.Context) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.findPeersInterval)
	defer ticker.Stop()

	f.tick(ctx)
	for {
		select {
		case <-ticker.C:
			f.tick(ctx)
		case <-f.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick is one round of §4.I's protocol: refresh candidate addresses,
// probe the unprobed ones, then exchange PeersRequest with every known
// peer.
func (f *Finder) tick(ctx context.Context) {
	addrs, err := f.hosts.Addresses(ctx)
	if err != nil {
		f.logger.Warn().Err(err).Msg("hosts provider failed, will retry next interval")
		return
	}

	for _, addr := range addrs {
		f.maybeConnect(ctx, addr)
	}

	for _, peer := range f.snapshotKnownPeers() {
		f.exchange(ctx, peer)
	}
}

func (f *Finder) maybeConnect(ctx context.Context, addr TransportAddress) {
	f.mu.Lock()
	if _, known := f.knownPeers[addr]; known {
		f.mu.Unlock()
		return
	}
	if _, busy := f.inFlight[addr]; busy {
		f.mu.Unlock()
		return
	}
	f.inFlight[addr] = struct{}{}
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() {
			f.mu.Lock()
			delete(f.inFlight, addr)
			f.mu.Unlock()
		}()
		f.connectOne(ctx, addr)
	}()
}

func (f *Finder) connectOne(ctx context.Context, addr TransportAddress) {
	cctx, cancel := context.WithTimeout(ctx, f.connectTimeout)
	defer cancel()

	f.mu.Lock()
	hc := f.healthCheck
	f.mu.Unlock()
	if hc != nil {
		if res := hc(cctx, addr); !res.Healthy {
			f.logger.Debug().Str("address", string(addr)).Str("reason", res.Message).Msg("address failed health probe, skipping handshake")
			return
		}
	}

	node, err := f.connector.Connect(cctx, addr)
	if err != nil {
		f.logger.Debug().Err(err).Str("address", string(addr)).Msg("connection attempt failed")
		return
	}
	if node.ID == f.selfID {
		return
	}
	if !node.MasterEligible {
		f.logger.Debug().Str("address", string(addr)).Msg("peer not master-eligible, dropping")
		return
	}

	f.mu.Lock()
	f.knownPeers[addr] = node
	peers := f.knownPeersLocked()
	f.mu.Unlock()

	if f.listener != nil {
		f.listener.OnPeersChanged(peers)
	}

	f.exchange(ctx, node)
}

func (f *Finder) exchange(ctx context.Context, peer DiscoveryNode) {
	rctx, cancel := context.WithTimeout(ctx, f.requestTimeout)
	defer cancel()

	req := PeersRequest{SourceNode: f.selfID, KnownPeers: f.snapshotKnownPeers()}
	resp, err := f.connector.RequestPeers(rctx, peer, req)
	if err != nil {
		f.logger.Debug().Err(err).Str("peer", peer.ID).Msg("request_peers failed")
		return
	}

	f.mu.Lock()
	f.mergeLocked(resp.KnownPeers)
	currentTerm := f.currentTerm
	f.mu.Unlock()

	for _, discovered := range resp.KnownPeers {
		f.maybeConnect(ctx, discovered.Address)
	}

	if resp.Master != nil && resp.Term >= currentTerm {
		f.mu.Lock()
		f.currentTerm = resp.Term
		f.mu.Unlock()
		if f.listener != nil {
			f.listener.OnActiveMasterFound(*resp.Master, resp.Term)
		}
	}
}

func (f *Finder) mergeLocked(nodes []DiscoveryNode) {
	for _, n := range nodes {
		if n.ID == f.selfID {
			continue
		}
		if !n.MasterEligible {
			continue
		}
		if _, ok := f.knownPeers[n.Address]; !ok {
			f.knownPeers[n.Address] = n
		}
	}
}

func (f *Finder) knownPeersLocked() []DiscoveryNode {
	out := make([]DiscoveryNode, 0, len(f.knownPeers))
	for _, n := range f.knownPeers {
		out = append(out, n)
	}
	return out
}

func (f *Finder) snapshotKnownPeers() []DiscoveryNode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.knownPeersLocked()
}

// Activated reports whether the finder is currently probing.
func (f *Finder) Activated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activated
}

// KnownPeers returns a snapshot of the current known-peers set.
func (f *Finder) KnownPeers() []DiscoveryNode {
	return f.snapshotKnownPeers()
}
