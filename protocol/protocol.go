// Package protocol defines the CBOR messages exchanged between mesh nodes.
// Identifiers and addresses travel as raw byte slices; the registry is the
// validation point, so malformed fields are dropped there rather than
// rejected at decode time.
package protocol

// Message types carried in the meshwire request header.
const (
	MessageJoin          uint8 = 1
	MessageMeshRequest   uint8 = 2
	MessageStatusRequest uint8 = 3
)

// JoinMessage is broadcast by a node announcing itself to the mesh. It
// deliberately carries no address: the receiver anchors the announcement to
// the address observed on the connection.
type JoinMessage struct {
	Identifier []byte `cbor:"1,keyasint,omitempty"` // Announcing verifier
	Port       int    `cbor:"2,keyasint,omitempty"` // Port the announcer listens on
	FullNode   bool   `cbor:"3,keyasint,omitempty"` // Whether the announcer accepts inbound connections
}

// JoinResponse lets the announcer register the responder in return.
type JoinResponse struct {
	Identifier []byte `cbor:"1,keyasint,omitempty"`
	Port       int    `cbor:"2,keyasint,omitempty"`
	FullNode   bool   `cbor:"3,keyasint,omitempty"`
}

// PeerEntry is one peer in a mesh-list response. QueueTimestamp preserves
// the arrival order recorded by the responder so importers can keep it.
type PeerEntry struct {
	Identifier     []byte `cbor:"1,keyasint,omitempty"`
	Address        []byte `cbor:"2,keyasint,omitempty"`
	Port           int    `cbor:"3,keyasint,omitempty"`
	FullNode       bool   `cbor:"4,keyasint,omitempty"`
	QueueTimestamp int64  `cbor:"5,keyasint,omitempty"`
}

type MeshRequest struct{}

type MeshResponse struct {
	Identifier []byte       `cbor:"1,keyasint,omitempty"` // Responding verifier
	Entries    []*PeerEntry `cbor:"2,keyasint,omitempty"`
}

type StatusRequest struct{}

type StatusResponse struct {
	Identifier []byte `cbor:"1,keyasint,omitempty"`
	MeshSize   int    `cbor:"2,keyasint,omitempty"`
	Connected  bool   `cbor:"3,keyasint,omitempty"`
}
