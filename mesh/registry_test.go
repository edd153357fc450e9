package mesh

import (
	"testing"

	"verimesh/identity"
	"verimesh/iputil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testID(b byte) []byte {
	id := make([]byte, identity.Size)
	id[0] = b
	return id
}

func testAddr(b byte) []byte {
	return []byte{10, 0, 0, b}
}

// checkInvariants verifies that every pooled peer is indexed exactly once
// by its current address and identifier, and that no stale index entries
// remain.
func checkInvariants(t *testing.T, r *Registry) {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	require.Len(t, r.byAddress, len(r.pool))
	require.Len(t, r.byIdentifier, len(r.pool))
	for _, p := range r.pool {
		require.Same(t, p, r.byAddress[iputil.AsUint32(p.Address())])
		require.Same(t, p, r.byIdentifier[p.Identifier()])
	}
}

func TestRegistryAddAndRepublish(t *testing.T) {
	r := NewRegistry()

	r.Update(testID(1), testAddr(1), 9000, true)
	r.Update(testID(1), testAddr(1), 9001, true)

	mesh := r.Mesh()
	require.Len(t, mesh, 1)
	assert.Equal(t, 9001, mesh[0].Port())
	assert.Equal(t, testAddr(1), mesh[0].Address())
	checkInvariants(t, r)
}

func TestRegistryRebindIdentifier(t *testing.T) {
	r := NewRegistry()

	// The peer at this address re-announces under a new identifier.
	r.Update(testID(1), testAddr(1), 9000, true)
	r.Update(testID(2), testAddr(1), 9002, true)

	mesh := r.Mesh()
	require.Len(t, mesh, 1)
	assert.Equal(t, testID(2), mesh[0].Identifier().Bytes())
	assert.Equal(t, 9002, mesh[0].Port())

	// The old identifier entry is gone.
	oldID, err := identity.FromBytes(testID(1))
	require.NoError(t, err)
	r.mu.Lock()
	_, stale := r.byIdentifier[oldID]
	r.mu.Unlock()
	assert.False(t, stale)
	checkInvariants(t, r)
}

func TestRegistryRebindAddress(t *testing.T) {
	r := NewRegistry()

	// The same verifier shows up at a new address.
	r.Update(testID(1), testAddr(1), 9000, true)
	r.Update(testID(1), testAddr(2), 9003, true)

	mesh := r.Mesh()
	require.Len(t, mesh, 1)
	assert.Equal(t, testAddr(2), mesh[0].Address())
	assert.Equal(t, 9003, mesh[0].Port())

	// The old address is free again.
	_, ok := r.IdentifierForAddress("10.0.0.1")
	assert.False(t, ok)
	checkInvariants(t, r)
}

func TestRegistryCollisionOlderAddressPeerSurvives(t *testing.T) {
	r := NewRegistry()

	// X anchors the address and is older, Y anchors the identifier.
	r.UpdateWithTimestamp(testID(1), testAddr(1), 9000, true, 10) // X
	r.UpdateWithTimestamp(testID(2), testAddr(2), 9000, true, 20) // Y
	require.Len(t, r.Mesh(), 2)

	r.Update(testID(2), testAddr(1), 9007, true)

	mesh := r.Mesh()
	require.Len(t, mesh, 1)
	survivor := mesh[0]
	assert.Equal(t, int64(10), survivor.QueueTimestamp())
	assert.Equal(t, testAddr(1), survivor.Address())
	assert.Equal(t, 9007, survivor.Port())

	id, ok := r.IdentifierForAddress("10.0.0.1")
	require.True(t, ok)
	assert.Equal(t, testID(2), id.Bytes())
	checkInvariants(t, r)
}

func TestRegistryCollisionIdentifierPeerSurvives(t *testing.T) {
	r := NewRegistry()

	// The address-anchored peer is the newer one, so the
	// identifier-anchored peer wins and takes over the address.
	r.UpdateWithTimestamp(testID(1), testAddr(1), 9000, true, 20) // X
	r.UpdateWithTimestamp(testID(2), testAddr(2), 9000, true, 10) // Y

	r.Update(testID(2), testAddr(1), 9008, true)

	mesh := r.Mesh()
	require.Len(t, mesh, 1)
	survivor := mesh[0]
	assert.Equal(t, int64(10), survivor.QueueTimestamp())
	assert.Equal(t, testAddr(1), survivor.Address())
	assert.Equal(t, 9008, survivor.Port())

	// The identifier-anchored peer's old address is released.
	_, ok := r.IdentifierForAddress("10.0.0.2")
	assert.False(t, ok)
	checkInvariants(t, r)
}

func TestRegistryCollisionEqualTimestamps(t *testing.T) {
	r := NewRegistry()

	// On a tie the identifier-anchored peer survives.
	r.UpdateWithTimestamp(testID(1), testAddr(1), 9000, true, 10) // X
	r.UpdateWithTimestamp(testID(2), testAddr(2), 9000, true, 10) // Y

	r.Update(testID(2), testAddr(1), 9009, true)

	mesh := r.Mesh()
	require.Len(t, mesh, 1)
	assert.Equal(t, testID(2), mesh[0].Identifier().Bytes())
	checkInvariants(t, r)
}

func TestRegistryRejectsMalformedInput(t *testing.T) {
	r := NewRegistry()
	r.Update(testID(1), testAddr(1), 9000, true)

	r.Update(testID(2)[:16], testAddr(2), 9000, true)            // short identifier
	r.Update(append(testID(2), 0), testAddr(2), 9000, true)      // long identifier
	r.Update(testID(2), []byte{10, 0, 0}, 9000, true)            // short address
	r.Update(nil, testAddr(2), 9000, true)                       // nil identifier
	r.UpdateWithTimestamp(testID(2), nil, 9000, true, 10)        // nil address
	r.Update(testID(2), []byte{10, 0, 0, 2, 2}, 9000, true)      // long address

	require.Len(t, r.Mesh(), 1)
	checkInvariants(t, r)
}

func TestRegistryMeshSnapshotIsDetached(t *testing.T) {
	r := NewRegistry()
	r.Update(testID(1), testAddr(1), 9000, true)
	r.Update(testID(2), testAddr(2), 9000, false)

	mesh := r.Mesh()
	require.Len(t, mesh, 2)

	// Insertion order is preserved.
	assert.Equal(t, testAddr(1), mesh[0].Address())
	assert.Equal(t, testAddr(2), mesh[1].Address())

	// Mutating the snapshot does not touch the registry.
	mesh[0] = nil
	mesh = mesh[:1]
	again := r.Mesh()
	require.Len(t, again, 2)
	assert.NotNil(t, again[0])

	// Neither does mutating a snapshotted peer.
	again[0].SetPort(1)
	assert.Equal(t, 9000, r.Mesh()[0].Port())
}

func TestRegistryMeshSnapshotSafeDuringMerges(t *testing.T) {
	r := NewRegistry()
	for b := byte(1); b <= 8; b++ {
		r.Update(testID(b), testAddr(b), 9000, true)
	}

	// One goroutine keeps merging announcements that republish ports and
	// rebind addresses while the other reads fields off snapshots. Run with
	// -race to make this meaningful.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			b := byte(i%8) + 1
			r.Update(testID(b), testAddr(b), 9000+i, true)
			r.Update(testID(b), testAddr(b+100), 9000+i, true)
		}
	}()

	for i := 0; i < 500; i++ {
		for _, p := range r.Mesh() {
			_ = p.Identifier()
			_ = p.Port()
			require.Len(t, p.Address(), iputil.AddressSize)
		}
	}

	<-done
	require.Len(t, r.Mesh(), 8)
	checkInvariants(t, r)
}

func TestRegistryConnectedToMesh(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.ConnectedToMesh())

	r.Update(testID(1), testAddr(1), 9000, true)
	assert.False(t, r.ConnectedToMesh())

	r.Update(testID(2), testAddr(2), 9000, true)
	assert.True(t, r.ConnectedToMesh())
}

func TestRegistryIdentifierForAddress(t *testing.T) {
	r := NewRegistry()
	r.Update(testID(7), testAddr(7), 9000, true)

	id, ok := r.IdentifierForAddress("10.0.0.7")
	require.True(t, ok)
	assert.Equal(t, testID(7), id.Bytes())

	_, ok = r.IdentifierForAddress("10.0.0.8")
	assert.False(t, ok)

	// Parse failures are soft.
	_, ok = r.IdentifierForAddress("not an address")
	assert.False(t, ok)
}

func TestRegistryRemoveByHost(t *testing.T) {
	r := NewRegistry()
	r.Update(testID(1), testAddr(1), 9000, true)
	r.Update(testID(2), testAddr(2), 9000, true)

	r.RemoveByHost("10.0.0.1")
	require.Len(t, r.Mesh(), 1)
	_, ok := r.IdentifierForAddress("10.0.0.1")
	assert.False(t, ok)
	checkInvariants(t, r)

	// Unknown address and unparsable text are no-ops.
	r.RemoveByHost("10.0.0.9")
	r.RemoveByHost("not an address")
	require.Len(t, r.Mesh(), 1)
	checkInvariants(t, r)
}

func TestRegistryBatchImportKeepsTimestamps(t *testing.T) {
	r := NewRegistry()

	// A remote mesh list arrives with original queue timestamps.
	r.UpdateWithTimestamp(testID(1), testAddr(1), 9000, true, 42)
	mesh := r.Mesh()
	require.Len(t, mesh, 1)
	assert.Equal(t, int64(42), mesh[0].QueueTimestamp())

	// A later import must not override the timestamp of an existing peer.
	r.UpdateWithTimestamp(testID(1), testAddr(1), 9001, true, 99)
	mesh = r.Mesh()
	require.Len(t, mesh, 1)
	assert.Equal(t, int64(42), mesh[0].QueueTimestamp())
	assert.Equal(t, 9001, mesh[0].Port())
}
