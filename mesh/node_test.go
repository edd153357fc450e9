package mesh

import (
	"context"
	"net"
	"testing"
	"time"

	"verimesh/net/meshwire"
	"verimesh/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEntryPoint serves a fixed mesh list on a loopback port.
func startEntryPoint(t *testing.T, entries []*protocol.PeerEntry) net.Addr {
	t.Helper()

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)

	srv := meshwire.NewServer(listener)
	require.NoError(t, srv.Register(protocol.MessageMeshRequest, meshwire.Handler{
		New: func() any { return &protocol.MeshRequest{} },
		Handle: func(remote net.IP, req any) (any, error) {
			return &protocol.MeshResponse{Identifier: testID(9), Entries: entries}, nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)

	return srv.Addr()
}

func TestJoinWhileIsolatedTriggersMeshFetch(t *testing.T) {
	entries := []*protocol.PeerEntry{
		{Identifier: testID(1), Address: testAddr(1), Port: 9000, FullNode: true, QueueTimestamp: 11},
		{Identifier: testID(2), Address: testAddr(2), Port: 9001, FullNode: true, QueueTimestamp: 22},
	}
	addr := startEntryPoint(t, entries)

	n := newTestNode(t)
	n.entryPoints = []string{addr.String()}
	h := &Handlers{node: n}

	// The first inbound join of an isolated node kicks off a bootstrap from
	// the entry points in the background.
	_, err := h.Join(net.IPv4(10, 0, 0, 5), &protocol.JoinMessage{
		Identifier: testID(5),
		Port:       9100,
		FullNode:   true,
	})
	require.NoError(t, err)

	// Joiner, the two imported peers, and the entry point itself.
	require.Eventually(t, func() bool {
		return len(n.registry.Mesh()) == 4
	}, 5*time.Second, 10*time.Millisecond)

	id, ok := n.registry.IdentifierForAddress("10.0.0.1")
	require.True(t, ok)
	assert.Equal(t, testID(1), id.Bytes())

	id, ok = n.registry.IdentifierForAddress("127.0.0.1")
	require.True(t, ok)
	assert.Equal(t, testID(9), id.Bytes())
}
