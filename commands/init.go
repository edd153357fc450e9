package commands

import (
	"context"
	"os"
	"path/filepath"

	"verimesh/config"
	"verimesh/identity"

	log "github.com/sirupsen/logrus"
)

// RunInit writes a default config and generates the node identity.
func RunInit(ctx context.Context, cfg *config.Config) {
	if err := os.MkdirAll(filepath.Dir(cfg.Node.IdentityFile), 0700); err != nil {
		log.Fatalf("Failed to create identity directory: %v", err)
	}

	keypair, err := identity.Generate()
	if err != nil {
		log.Fatalf("Failed to generate identity: %v", err)
	}
	if err := keypair.Save(cfg.Node.IdentityFile); err != nil {
		log.Fatalf("Failed to save identity: %v", err)
	}

	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}

	log.Infof("Initialized verifier %s", keypair.Identifier().String())
}
