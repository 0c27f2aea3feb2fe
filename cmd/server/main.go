package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/audit"
	auditrepo "github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/audit/repository"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/broker/adapter"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/broker/registry"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/config"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/secrets"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/security/cipher"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/security/facade"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/security/mediator"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/security/risk"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/session/manager"
	sessionstore "github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/session/store"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/telemetry"
)

// encryptionKeyPath is where the credential cipher key material lives in the
// secret store.
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

	secretStore, err := buildSecretStore(ctx, cfg)
	if err != nil {
		log.Fatalf("secrets: %v", err)
	}
	credCipher := cipher.New(secretStore, encryptionKeyPath, cfg.EncryptionKeyVersion)

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}

	adapters := []adapter.Adapter{
		adapter.NewZerodha(adapter.ZerodhaConfig{
			BaseURL:   cfg.ZerodhaBaseURL,
			APIKey:    cfg.ZerodhaAPIKey,
			APISecret: cfg.ZerodhaAPISecret,
		}),
		adapter.NewUpstox(adapter.UpstoxConfig{
			BaseURL:      cfg.UpstoxBaseURL,
			ClientID:     cfg.UpstoxClientID,
			ClientSecret: cfg.UpstoxClientSecret,
			RedirectURI:  cfg.UpstoxRedirectURI,
		}),
		adapter.NewAngelOne(adapter.AngelOneConfig{
			BaseURL: cfg.AngelOneBaseURL,
			APIKey:  cfg.AngelOneAPIKey,
		}),
		adapter.NewDhan(adapter.DhanConfig{
			BaseURL: cfg.DhanBaseURL,
		}),
	}
	reg := registry.New(adapters, nil, registry.DefaultBreakerConfig, metrics)

	var repo auditrepo.Repository
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("audit db: %v", err)
		}
		defer pool.Close()
		repo = auditrepo.NewPostgresRepository(pool)
	}
	emitter := audit.NewKafkaEmitter(cfg.KafkaBrokersList(), cfg.AuditKafkaTopic)
	defer emitter.Close()
	recorder := audit.NewRecorder(repo, emitter)

	scorer := risk.NewScorer(cfg.RiskBlockThreshold, cfg.RiskFlagThreshold)
	med, err := mediator.New(scorer, metrics, recorder, cfg.Deadline())
	if err != nil {
		log.Fatalf("mediator: %v", err)
	}

	sessions := manager.New(store, credCipher, reg, metrics, cfg.SessionCap, cfg.RefreshThreshold(), nil)
	svc := facade.New(med, reg, sessions, recorder)

	if err := svc.HealthCheck(ctx); err != nil {
		log.Printf("startup health check: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := svc.HealthCheck(checkCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		log.Printf("broker-auth listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("shutting down broker-auth...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("broker-auth stopped")
}

// buildSecretStore returns the HTTP store when configured, otherwise a
// static store seeded with the configured key material.
func buildSecretStore(ctx context.Context, cfg *config.Config) (secrets.Store, error) {
	if cfg.SecretStoreURL != "" {
		return secrets.NewHTTPStore(cfg.SecretStoreURL, cfg.SecretStoreToken), nil
	}
	static := secrets.NewStatic(nil)
	path := fmt.Sprintf("%s#v%d", encryptionKeyPath, cfg.EncryptionKeyVersion)
	if err := static.Put(ctx, path, cfg.EncryptionKey); err != nil {
		return nil, err
	}
	return static, nil
}
