package commands

import (
	"context"
	"time"

	"verimesh/config"
	"verimesh/datastore/leveldb"
	"verimesh/identity"
	"verimesh/iputil"

	log "github.com/sirupsen/logrus"
)

// RunInfo prints the node identity and the cached mesh.
func RunInfo(ctx context.Context, cfg *config.Config) {
	keypair, err := identity.Load(cfg.Node.IdentityFile)
	if err != nil {
		log.Errorf("Failed to load identity: %v", err)
	} else {
		log.Infof("Verifier: %s", keypair.Identifier().String())
	}

	if cfg.Mesh.PeerCachePath == "" {
		log.Info("No peer cache configured")
		return
	}

	cache, err := leveldb.NewPeerCache(cfg.Mesh.PeerCachePath)
	if err != nil {
		log.Fatalf("Failed to open peer cache: %v", err)
	}
	defer cache.Close()

	entries, err := cache.Enumerate()
	if err != nil {
		log.Fatalf("Failed to enumerate peer cache: %v", err)
	}

	log.Infof("Peer cache: %d peers known", len(entries))
	for _, e := range entries {
		id, err := identity.FromBytes(e.Identifier)
		if err != nil {
			log.Errorf("Cached peer at %s has a malformed identifier", iputil.String(e.Address))
			continue
		}
		log.Infof("Peer: %s, addr: %s:%d, full: %t, queued: %v",
			id.Short(), iputil.String(e.Address), e.Port, e.FullNode, time.UnixMilli(e.QueueTimestamp))
	}
}
