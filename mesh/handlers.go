package mesh

import (
	"context"
	"net"

	"verimesh/net/meshwire"
	"verimesh/protocol"

	log "github.com/sirupsen/logrus"
)

// Handlers implements the server side of the mesh protocol.
type Handlers struct {
	node *Node
}

func (n *Node) registerHandlers() error {
	h := &Handlers{node: n}

	if err := n.server.Register(protocol.MessageJoin, meshwire.Handler{
		New:    func() any { return &protocol.JoinMessage{} },
		Handle: h.Join,
	}); err != nil {
		return err
	}
	if err := n.server.Register(protocol.MessageMeshRequest, meshwire.Handler{
		New:    func() any { return &protocol.MeshRequest{} },
		Handle: h.MeshList,
	}); err != nil {
		return err
	}
	return n.server.Register(protocol.MessageStatusRequest, meshwire.Handler{
		New:    func() any { return &protocol.StatusRequest{} },
		Handle: h.Status,
	})
}

// Join registers the announcer under the address observed on the
// connection; the payload never carries an address.
func (h *Handlers) Join(remote net.IP, req any) (any, error) {
	msg := req.(*protocol.JoinMessage)
	log.Infof("Handlers.Join from %s, port: %d, full: %t", remote, msg.Port, msg.FullNode)

	if remote4 := remote.To4(); remote4 != nil {
		h.node.registry.Update(msg.Identifier, remote4, msg.Port, msg.FullNode)
	}

	// A join while we cannot see the mesh yet means someone out there knows
	// us; bootstrap from the entry points without holding up the reply.
	if !h.node.registry.ConnectedToMesh() {
		go h.node.fetchMesh(context.Background())
	}

	return &protocol.JoinResponse{
		Identifier: h.node.identifier.Bytes(),
		Port:       h.node.port,
		FullNode:   h.node.fullNode,
	}, nil
}

func (h *Handlers) MeshList(remote net.IP, req any) (any, error) {
	log.Infof("Handlers.MeshList from %s", remote)

	return &protocol.MeshResponse{
		Identifier: h.node.identifier.Bytes(),
		Entries:    meshEntries(h.node.registry.Mesh()),
	}, nil
}

func (h *Handlers) Status(remote net.IP, req any) (any, error) {
	mesh := h.node.registry.Mesh()
	return &protocol.StatusResponse{
		Identifier: h.node.identifier.Bytes(),
		MeshSize:   len(mesh),
		Connected:  len(mesh) > 1,
	}, nil
}
