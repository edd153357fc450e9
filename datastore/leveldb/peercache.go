package leveldb

import (
	"fmt"

	"verimesh/iputil"
	"verimesh/protocol"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	keyPrefixPeer = "PER" // Peer entry keyed by address. Followed by the zero-padded hex address key
)

// PeerCache persists the last known mesh so a restarted node can warm its
// registry before the first mesh exchange. One entry per address, mirroring
// the registry's own uniqueness rule.
type PeerCache struct {
	LevelDB
}

func NewPeerCache(path string) (*PeerCache, error) {
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	return &PeerCache{
		LevelDB: LevelDB{
			path: path,
			db:   ldb,
		},
	}, nil
}

func keyFromAddress(address []byte) []byte {
	return fmt.Appendf([]byte(keyPrefixPeer), "%08x", iputil.AsUint32(address))
}

func (l *PeerCache) Put(entry *protocol.PeerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := cbor.Marshal(entry)
	if err != nil {
		return err
	}

	return l.db.Put(keyFromAddress(entry.Address), raw, nil)
}

func (l *PeerCache) Enumerate() ([]*protocol.PeerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var results []*protocol.PeerEntry

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixPeer)), nil)
	defer iter.Release()

	for iter.Next() {
		entry := &protocol.PeerEntry{}
		if err := cbor.Unmarshal(iter.Value(), entry); err != nil {
			return nil, err
		}
		results = append(results, entry)
	}

	return results, iter.Error()
}

// Rewrite replaces the cache contents with the given snapshot in one batch,
// so evicted peers do not come back after a restart.
func (l *PeerCache) Rewrite(entries []*protocol.PeerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := new(leveldb.Batch)

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixPeer)), nil)
	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}

	for _, entry := range entries {
		raw, err := cbor.Marshal(entry)
		if err != nil {
			return err
		}
		batch.Put(keyFromAddress(entry.Address), raw)
	}

	return l.db.Write(batch, nil)
}
