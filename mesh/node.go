package mesh

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"verimesh/config"
	"verimesh/datamodel/peer"
	"verimesh/datastore/leveldb"
	"verimesh/discovery"
	"verimesh/helper/timer"
	"verimesh/identity"
	"verimesh/iputil"
	"verimesh/net/meshwire"
	"verimesh/protocol"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	log "github.com/sirupsen/logrus"
)

const (
	dialTimeout = 3 * time.Second
	callTimeout = 5 * time.Second
)

// Node ties the registry and the health tracker to the transport: it serves
// inbound mesh traffic, announces itself to the mesh, bootstraps from entry
// points and keeps the peer cache current.
type Node struct {
	identifier identity.Identifier
	port       int
	fullNode   bool

	registry *Registry
	health   *HealthTracker
	cache    *leveldb.PeerCache   // nil disables persistence
	server   *meshwire.Server
	mcast    *discovery.Multicast // nil disables LAN discovery

	entryPoints      []string
	announceInterval time.Duration
	persistInterval  time.Duration

	// Collapses concurrent mesh fetches from the announce ticker, inbound
	// joins and LAN discovery into one entry-point sweep
	sg singleflight.Group
}

func NewNode(cfg *config.Config, keypair *identity.Keypair, registry *Registry, health *HealthTracker,
	cache *leveldb.PeerCache, server *meshwire.Server, mcast *discovery.Multicast) (*Node, error) {

	tcpAddr, ok := server.Addr().(*net.TCPAddr)
	if !ok {
		return nil, errors.New("mesh: server is not listening on TCP")
	}

	n := &Node{
		identifier:       keypair.Identifier(),
		port:             tcpAddr.Port,
		fullNode:         cfg.Node.FullNode,
		registry:         registry,
		health:           health,
		cache:            cache,
		server:           server,
		mcast:            mcast,
		entryPoints:      cfg.Network.EntryPoints,
		announceInterval: time.Duration(cfg.Mesh.AnnounceSeconds) * time.Second,
		persistInterval:  time.Duration(cfg.Mesh.PersistSeconds) * time.Second,
	}

	if err := n.registerHandlers(); err != nil {
		return nil, err
	}

	log.Infof("I am %s, listening on %s", n.identifier.Short(), server.Addr())

	return n, nil
}

// WarmFromCache replays the persisted mesh into the registry, keeping the
// queue timestamps recorded before the restart.
func (n *Node) WarmFromCache() {
	if n.cache == nil {
		return
	}

	entries, err := n.cache.Enumerate()
	if err != nil {
		log.Errorf("Failed to enumerate peer cache: %v", err)
		return
	}
	for _, e := range entries {
		n.registry.UpdateWithTimestamp(e.Identifier, e.Address, e.Port, e.FullNode, e.QueueTimestamp)
	}

	log.Infof("Warmed registry with %d cached peers", len(entries))
}

// This is run via the RunWithTicker() helper
func (n *Node) announceToMesh(ctx context.Context) error {
	if !n.registry.ConnectedToMesh() {
		n.fetchMesh(ctx)
	}

	join := &protocol.JoinMessage{
		Identifier: n.identifier.Bytes(),
		Port:       n.port,
		FullNode:   n.fullNode,
	}

	for _, p := range n.registry.Mesh() {
		if p.Identifier() == n.identifier || !p.FullNode() {
			continue
		}
		n.sendJoin(ctx, iputil.String(p.Address()), p.Port(), join)
	}

	// Best effort: individual failures are the health tracker's business
	return nil
}

func (n *Node) sendJoin(ctx context.Context, host string, port int, join *protocol.JoinMessage) {
	client, err := meshwire.DialTimeout("tcp4", net.JoinHostPort(host, strconv.Itoa(port)), dialTimeout)
	if err != nil {
		log.Debugf("Failed to dial %s:%d: %v", host, port, err)
		n.health.RecordFailure(host, port)
		return
	}
	defer client.Close()

	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp := &protocol.JoinResponse{}
	if err := client.Call(cctx, protocol.MessageJoin, join, resp); err != nil {
		log.Debugf("Join call to %s:%d failed: %v", host, port, err)
		n.health.RecordFailure(host, port)
		return
	}
	n.health.RecordSuccess(host, port)

	// The responder announced itself back; register it under the address we
	// dialed.
	if address, err := iputil.Parse(host); err == nil {
		n.registry.Update(resp.Identifier, address, resp.Port, resp.FullNode)
	}
}

// fetchMesh bootstraps the registry by requesting the peer list from the
// configured entry points. The first responding entry point wins.
func (n *Node) fetchMesh(ctx context.Context) {
	n.sg.Do("FetchMesh", func() (interface{}, error) {
		for _, entryPoint := range n.entryPoints {
			host, portStr, err := net.SplitHostPort(entryPoint)
			if err != nil {
				log.Errorf("Invalid entry point %q: %v", entryPoint, err)
				continue
			}
			port, err := strconv.Atoi(portStr)
			if err != nil {
				log.Errorf("Invalid entry point port %q: %v", entryPoint, err)
				continue
			}
			if n.fetchMeshFrom(ctx, host, port) {
				return nil, nil
			}
		}
		return nil, nil
	})
}

func (n *Node) fetchMeshFrom(ctx context.Context, host string, port int) bool {
	client, err := meshwire.DialTimeout("tcp4", net.JoinHostPort(host, strconv.Itoa(port)), dialTimeout)
	if err != nil {
		log.Warnf("Failed to dial entry point %s:%d: %v", host, port, err)
		n.health.RecordFailure(host, port)
		return false
	}
	defer client.Close()

	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	res := &protocol.MeshResponse{}
	if err := client.Call(cctx, protocol.MessageMeshRequest, &protocol.MeshRequest{}, res); err != nil {
		log.Warnf("Mesh request to %s:%d failed: %v", host, port, err)
		n.health.RecordFailure(host, port)
		return false
	}
	n.health.RecordSuccess(host, port)

	// Remote lists arrive with their original queue timestamps so collision
	// tie-breaks agree across the mesh.
	for _, e := range res.Entries {
		n.registry.UpdateWithTimestamp(e.Identifier, e.Address, e.Port, e.FullNode, e.QueueTimestamp)
	}

	// The entry point itself accepted our connection, so it is a full node.
	if address, err := iputil.Parse(host); err == nil {
		n.registry.Update(res.Identifier, address, port, true)
	}

	log.Infof("Imported %d peers from %s:%d", len(res.Entries), host, port)
	return true
}

// This is run via the RunWithTicker() helper
func (n *Node) persistMesh(ctx context.Context) error {
	if n.cache == nil {
		return nil
	}

	if err := n.cache.Rewrite(meshEntries(n.registry.Mesh())); err != nil {
		log.Errorf("Failed to persist mesh: %v", err)
	}
	return nil
}

// This is run via the RunWithTicker() helper
func (n *Node) announceMulticast(ctx context.Context) error {
	msg := &discovery.Announcement{
		Identifier: n.identifier.Bytes(),
		Port:       n.port,
		FullNode:   n.fullNode,
	}
	if err := n.mcast.Announce(msg); err != nil {
		log.Errorf("Failed to publish multicast announcement: %v", err)
	}
	return nil
}

func (n *Node) handleAnnouncement(sender net.IP, msg *discovery.Announcement) {
	id, err := identity.FromBytes(msg.Identifier)
	if err == nil && id == n.identifier {
		log.Debugf("Received our own announcement - ignoring")
		return
	}

	if sender4 := sender.To4(); sender4 != nil {
		n.registry.Update(msg.Identifier, sender4, msg.Port, msg.FullNode)
	}

	if !n.registry.ConnectedToMesh() {
		n.fetchMesh(context.Background())
	}
}

func meshEntries(mesh []*peer.Peer) []*protocol.PeerEntry {
	entries := make([]*protocol.PeerEntry, 0, len(mesh))
	for _, p := range mesh {
		entries = append(entries, &protocol.PeerEntry{
			Identifier:     p.Identifier().Bytes(),
			Address:        p.Address(),
			Port:           p.Port(),
			FullNode:       p.FullNode(),
			QueueTimestamp: p.QueueTimestamp(),
		})
	}
	return entries
}

func (n *Node) Run(ctx context.Context) error {
	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return n.server.Serve(cctx)
	})

	wg.Go(func() error {
		interval := &timer.Interval{
			Duration:  n.announceInterval,
			Jitter:    n.announceInterval / 10,
			Immediate: true,
		}
		return timer.RunWithTicker(cctx, interval, n.announceToMesh)
	})

	wg.Go(func() error {
		interval := &timer.Interval{
			Duration: n.persistInterval,
		}
		return timer.RunWithTicker(cctx, interval, n.persistMesh)
	})

	if n.mcast != nil {
		wg.Go(func() error {
			return n.mcast.Listen(cctx, n.handleAnnouncement)
		})
		wg.Go(func() error {
			interval := &timer.Interval{
				Duration:  n.announceInterval,
				Jitter:    n.announceInterval / 10,
				Immediate: true,
			}
			return timer.RunWithTicker(cctx, interval, n.announceMulticast)
		})
	}

	return wg.Wait()
}
