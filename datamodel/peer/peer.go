// Package peer defines the entity stored in the mesh registry. A Peer is
// constructed once and then mutated only by the registry, which owns it.
package peer

import (
	"time"

	"verimesh/identity"
)

// full node: accepts incoming connections
// client node: does not accept incoming connections

type Peer struct {
	identifier     identity.Identifier
	address        []byte // 4-byte IPv4, length enforced by the registry
	port           int
	fullNode       bool
	queueTimestamp int64 // ms since epoch, collision tie-break key
}

func New(identifier identity.Identifier, address []byte, port int, fullNode bool) *Peer {
	return &Peer{
		identifier:     identifier,
		address:        address,
		port:           port,
		fullNode:       fullNode,
		queueTimestamp: time.Now().UnixMilli(),
	}
}

func (p *Peer) Identifier() identity.Identifier {
	return p.identifier
}

func (p *Peer) SetIdentifier(identifier identity.Identifier) {
	p.identifier = identifier
}

func (p *Peer) Address() []byte {
	return p.address
}

func (p *Peer) SetAddress(address []byte) {
	p.address = address
}

func (p *Peer) Port() int {
	return p.port
}

func (p *Peer) SetPort(port int) {
	p.port = port
}

func (p *Peer) FullNode() bool {
	return p.fullNode
}

func (p *Peer) QueueTimestamp() int64 {
	return p.queueTimestamp
}

func (p *Peer) SetQueueTimestamp(queueTimestamp int64) {
	p.queueTimestamp = queueTimestamp
}

// Copy returns a detached copy of the peer. The registry hands out copies
// to snapshot callers so later merges never race with snapshot reads.
func (p *Peer) Copy() *Peer {
	c := *p
	return &c
}
