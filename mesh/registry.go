package mesh

import (
	"sync"

	"verimesh/datamodel/peer"
	"verimesh/identity"
	"verimesh/iputil"

	log "github.com/sirupsen/logrus"
)

// Registry is the authoritative directory of known peers. Each address and
// each identifier may appear at most once; conflicting announcements are
// merged so that both constraints keep holding. One verifier per address is
// a known limitation of the design.
//
// All three structures are guarded by a single mutex so a merge is atomic
// with respect to concurrent readers and writers.
type Registry struct {
	mu           sync.Mutex
	pool         []*peer.Peer
	byAddress    map[uint32]*peer.Peer
	byIdentifier map[identity.Identifier]*peer.Peer
}

func NewRegistry() *Registry {
	return &Registry{
		byAddress:    make(map[uint32]*peer.Peer),
		byIdentifier: make(map[identity.Identifier]*peer.Peer),
	}
}

// Update registers an announcement for a peer. Announcements come from the
// network and are untrusted: a wrong-size identifier or address makes the
// call a silent no-op.
func (r *Registry) Update(identifier, address []byte, port int, fullNode bool) {
	r.UpdateWithTimestamp(identifier, address, port, fullNode, 0)
}

// UpdateWithTimestamp is the batch-import variant used when replaying a
// mesh-list response: a positive queueTimestamp overrides the default for
// newly created peers, preserving the arrival order recorded remotely.
func (r *Registry) UpdateWithTimestamp(identifier, address []byte, port int, fullNode bool, queueTimestamp int64) {
	if len(identifier) != identity.Size || len(address) != iputil.AddressSize {
		return
	}

	id, err := identity.FromBytes(identifier)
	if err != nil {
		return
	}
	addressKey := iputil.AsUint32(address)

	r.mu.Lock()
	defer r.mu.Unlock()

	byAddr := r.byAddress[addressKey]
	byID := r.byIdentifier[id]

	// Each address and each identifier may be in the pool only once:
	// (1) neither lookup hit: create a new peer
	// (2) hit for address only: rebind the peer to the new identifier
	// (3) hit for identifier only: rebind the peer to the new address
	// (4) both lookups hit the same peer: update the port
	// (5) two different peers: drop one, rebind the other
	switch {
	case byAddr == nil && byID == nil:
		log.Debugf("Registry: adding new peer %s at %s:%d", id.Short(), iputil.String(address), port)

		p := peer.New(id, address, port, fullNode)
		if queueTimestamp > 0 {
			p.SetQueueTimestamp(queueTimestamp)
		}
		r.pool = append(r.pool, p)
		r.byAddress[addressKey] = p
		r.byIdentifier[id] = p

	case byID == nil:
		log.Debugf("Registry: updating identifier for %s to %s", iputil.String(address), id.Short())

		delete(r.byIdentifier, byAddr.Identifier())
		byAddr.SetIdentifier(id)
		byAddr.SetPort(port)
		r.byIdentifier[id] = byAddr

	case byAddr == nil:
		log.Debugf("Registry: updating address for %s to %s", id.Short(), iputil.String(address))

		delete(r.byAddress, iputil.AsUint32(byID.Address()))
		byID.SetAddress(address)
		byID.SetPort(port)
		r.byAddress[addressKey] = byID

	case byAddr == byID:
		log.Debugf("Registry: updating port for %s to %d", id.Short(), port)

		byAddr.SetPort(port)

	default:
		// The address and the identifier are currently claimed by two
		// different peers. The tie-break below keeps the address-anchored
		// peer only when it is the older of the two; otherwise the
		// identifier-anchored peer survives. Asymmetric on purpose, kept
		// for behavioral parity with the rest of the network.
		log.Debugf("Registry: collision between %s and %s", byAddr.Identifier().Short(), byID.Identifier().Short())

		if byAddr.QueueTimestamp() < byID.QueueTimestamp() {
			r.removeLocked(byID)
			delete(r.byIdentifier, byAddr.Identifier())
			byAddr.SetIdentifier(id)
			byAddr.SetPort(port)
			r.byIdentifier[id] = byAddr
		} else {
			r.removeLocked(byAddr)
			delete(r.byAddress, iputil.AsUint32(byID.Address()))
			byID.SetAddress(address)
			byID.SetPort(port)
			r.byAddress[addressKey] = byID
		}
	}
}

// removeLocked drops a peer from the pool and both indices. Caller holds
// the mutex.
func (r *Registry) removeLocked(p *peer.Peer) {
	for i, candidate := range r.pool {
		if candidate == p {
			r.pool = append(r.pool[:i], r.pool[i+1:]...)
			break
		}
	}
	delete(r.byAddress, iputil.AsUint32(p.Address()))
	delete(r.byIdentifier, p.Identifier())
}

// Mesh returns a snapshot of the pool in insertion order. The entries are
// peer copies taken under the lock, so both the slice and the peers are the
// caller's to keep; merges after the snapshot are not visible through it.
func (r *Registry) Mesh() []*peer.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	mesh := make([]*peer.Peer, len(r.pool))
	for i, p := range r.pool {
		mesh[i] = p.Copy()
	}
	return mesh
}

// ConnectedToMesh reports whether this node is part of a functioning mesh.
// Requesting the peer list from any other node gets this node registered
// there, so proper membership always yields at least two entries.
func (r *Registry) ConnectedToMesh() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.pool) > 1
}

// IdentifierForAddress resolves a textual address to the identifier of the
// peer occupying it. Unparsable or unknown addresses yield ok == false.
func (r *Registry) IdentifierForAddress(text string) (identity.Identifier, bool) {
	address, err := iputil.Parse(text)
	if err != nil {
		return identity.Identifier{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.byAddress[iputil.AsUint32(address)]
	if p == nil {
		return identity.Identifier{}, false
	}
	return p.Identifier(), true
}

// RemoveByHost evicts the peer at the given host or address from the mesh.
// A parse failure or an unoccupied address is a no-op.
func (r *Registry) RemoveByHost(hostOrAddress string) {
	address, err := iputil.Parse(hostOrAddress)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.byAddress[iputil.AsUint32(address)]
	if p == nil {
		return
	}
	r.removeLocked(p)

	log.Infof("Registry: removed peer at %s from mesh", hostOrAddress)
}
