package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/swissborg/academic-certs/config"
	"github.com/swissborg/academic-certs/internal/api"
	"github.com/swissborg/academic-certs/internal/issuance"
	"github.com/swissborg/academic-certs/internal/journal"
	"github.com/swissborg/academic-certs/internal/keys"
	"github.com/swissborg/academic-certs/internal/ledger"
	"github.com/swissborg/academic-certs/internal/reanchor"
	"github.com/swissborg/academic-certs/internal/registry"
	"github.com/swissborg/academic-certs/internal/store"
	"github.com/swissborg/academic-certs/internal/verification"
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})

	log.Info("api service init...")
	defer log.Info("api service stop")

	ctx, cancelCancel := context.WithCancel(context.Background())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	if err := godotenv.Load(".env"); err != nil {
		var pathError *fs.PathError
		if !errors.As(err, &pathError) {
			log.Fatalf("parsing .env file: %v", err)
		}
	}

	configPath := os.Getenv("CONFIG_PATH")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg.Ledger.OwnerPrivateKey = os.Getenv("CHAIN_OWNER_PRIVATE_KEY")

	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatalf("failed to open database %v", err)
	}
	defer store.Close(db)
	st := store.New(db)

	anchors, err := journal.Open(cfg.Journal)
	if err != nil {
		log.Fatalf("failed to open badger %v", err)
	}
	defer anchors.Close()

	var (
		gateway ledger.Gateway = ledger.Disabled{}
		chain   api.ConnectionChecker
	)
	if cfg.Ledger.Enabled {
		eth, err := ledger.Dial(ctx, cfg.Ledger, ownerKey(cfg.Ledger.OwnerPrivateKey))
		if err != nil {
			log.Fatalf("failed to connect to ledger %v", err)
		}
		defer eth.Close()
		if err := eth.CheckConnection(ctx); err != nil {
			log.WithError(err).Warn("ledger not reachable at startup")
		}
		gateway, chain = eth, eth
	} else {
		log.Warn("ledger disabled: certificates will not be anchored")
	}

	issuer := issuance.NewService(st, gateway, anchors, issuance.Options{LedgerEnabled: cfg.Ledger.Enabled})
	verifier := verification.NewService(st, gateway, verification.Options{LedgerEnabled: cfg.Ledger.Enabled})

	if cfg.Ledger.Enabled && cfg.Reanchor.Enabled {
		sweeper := reanchor.New(cfg.Reanchor, cfg.Ledger, anchors, st, gateway, issuer)
		if err := sweeper.Start(); err != nil {
			log.Fatalf("failed to start re-anchoring %v", err)
		}
		defer sweeper.Stop()
	}

	server := api.NewServer(api.Deps{
		Store:    st,
		Journal:  anchors,
		Registry: registry.NewService(st),
		Issuer:   issuer,
		Verifier: verifier,
		Chain:    chain,
	})

	go func() {
		if err := server.Start(cfg.APIConf); err != nil && (!errors.Is(err, http.ErrServerClosed)) {
			log.WithError(err).Fatal("shutting down the server")
		}
	}()

	waiting := make(chan struct{})
	go func() {
		defer close(waiting)
		select {
		case <-quit:
			log.Info("Gracefully stopping…")
			cancelCancel()

			if err := server.Stop(); err != nil {
				log.WithError(err).Fatal()
			}
		case <-ctx.Done():
			return
		}
	}()
	<-waiting
	log.Info("🏁 finished.")
}

// ownerKey parses the contract owner key. Without it institution
// authorization fails with ledger.ErrOwnerKeyMissing; anchoring still works.
func ownerKey(hexKey string) *ecdsa.PrivateKey {
	if hexKey == "" {
		return nil
	}
	key, err := keys.ParseLedgerKey(hexKey)
	if err != nil {
		log.Fatalf("CHAIN_OWNER_PRIVATE_KEY: %v", err)
	}
	return key
}
