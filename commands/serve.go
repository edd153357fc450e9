package commands

import (
	"context"
	"net"

	"verimesh/config"
	"verimesh/datastore/leveldb"
	"verimesh/discovery"
	"verimesh/identity"
	"verimesh/mesh"
	"verimesh/net/meshwire"

	log "github.com/sirupsen/logrus"
)

// RunServe builds the node from the config and runs it until the context is
// cancelled.
func RunServe(ctx context.Context, cfg *config.Config) {
	keypair, err := identity.Load(cfg.Node.IdentityFile)
	if err != nil {
		log.Fatalf("Failed to load identity (run init first?): %v", err)
	}

	registry := mesh.NewRegistry()
	health := mesh.NewHealthTracker(registry, cfg.Mesh.FailureThreshold)

	var cache *leveldb.PeerCache
	if cfg.Mesh.PeerCachePath != "" {
		cache, err = leveldb.NewPeerCache(cfg.Mesh.PeerCachePath)
		if err != nil {
			log.Fatalf("Failed to open peer cache: %v", err)
		}
		defer cache.Close()
	}

	listener, err := net.Listen("tcp4", cfg.Network.ListenAddress)
	if err != nil {
		log.Fatalf("Failed to create mesh listener: %v", err)
	}

	server := meshwire.NewServer(listener)

	var mcast *discovery.Multicast
	if cfg.Discovery.UseMulticast {
		mcast, err = discovery.New(cfg.Discovery.Group)
		if err != nil {
			log.Fatalf("Failed to join discovery group: %v", err)
		}
		defer mcast.Close()
	}

	node, err := mesh.NewNode(cfg, keypair, registry, health, cache, server, mcast)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}

	node.WarmFromCache()

	if err := node.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Node stopped: %v", err)
	}
}
