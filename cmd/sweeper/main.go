// Sweeper walks the session keyspace on an interval and flips expired ACTIVE
// sessions to EXPIRED. Set REDIS_ADDR, SWEEP_INTERVAL and the encryption key
// settings; broker endpoints are not needed.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/config"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/secrets"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/security/cipher"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/session/manager"
	sessionstore "github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/session/store"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/telemetry"
)

const encryptionKeyPath = "broker-auth/encryption-key"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := sessionstore.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPoolSize)
	defer store.Close()

	var secretStore secrets.Store
	if cfg.SecretStoreURL != "" {
		secretStore = secrets.NewHTTPStore(cfg.SecretStoreURL, cfg.SecretStoreToken)
	} else {
		static := secrets.NewStatic(nil)
		path := fmt.Sprintf("%s#v%d", encryptionKeyPath, cfg.EncryptionKeyVersion)
		if err := static.Put(ctx, path, cfg.EncryptionKey); err != nil {
			log.Fatalf("secrets: %v", err)
		}
		secretStore = static
	}
	credCipher := cipher.New(secretStore, encryptionKeyPath, cfg.EncryptionKeyVersion)

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}

	// The sweeper never talks to brokers; no refresher is wired.
	sessions := manager.New(store, credCipher, nil, metrics, cfg.SessionCap, cfg.RefreshThreshold(), nil)

	interval := cfg.SweepEvery()
	log.Printf("sweeper: sweeping every %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("sweeper: stopped")
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, interval)
			swept, err := sessions.SweepExpired(sweepCtx)
			cancel()
			if err != nil {
				log.Printf("sweeper: sweep failed: %v", err)
				continue
			}
			if swept > 0 {
				log.Printf("sweeper: expired %d sessions", swept)
			}
		}
	}
}
