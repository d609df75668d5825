// Command authgated is the reference daemon: Redis-backed engine, the full
// HTTP surface, and a Prometheus scrape endpoint. Account storage uses the
// in-memory provider, so it is a demo and integration-test target rather
// than a production deployment.
//
// Configuration comes from the environment (a .env file is loaded when
// present):
//
//	LISTEN_ADDR        listen address, default :8080
//	REDIS_ADDR         redis address, default 127.0.0.1:6379
//	REDIS_PASSWORD     optional
//	JWT_PRIVATE_KEY    base64 ed25519 private key; generated when unset
//	JWT_PUBLIC_KEY     base64 ed25519 public key
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/karwick/authgate"
	"github.com/karwick/authgate/httpapi"
	"github.com/karwick/authgate/memprovider"
	promexport "github.com/karwick/authgate/metrics/export/prometheus"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("dotenv: %v", err)
	}

	cfg := authgate.DefaultConfig()
	priv, pub, err := loadKeys()
	if err != nil {
		log.Fatalf("jwt keys: %v", err)
	}
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub

	rdb := redis.NewClient(&redis.Options{
		Addr:     envOr("REDIS_ADDR", "127.0.0.1:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	engine, err := authgate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountProvider(memprovider.New()).
		WithAuditSink(authgate.NewJSONWriterSink(os.Stdout)).
		Build()
	if err != nil {
		log.Fatalf("engine build: %v", err)
	}
	defer engine.Close()

	mux := http.NewServeMux()
	mux.Handle("/", httpapi.NewRouter(engine, httpapi.Options{
		BackstopRPS:   50,
		BackstopBurst: 100,
	}))
	mux.Handle("/metrics", promexport.NewPrometheusExporter(engine).Handler())

	srv := &http.Server{
		Addr:         envOr("LISTEN_ADDR", ":8080"),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

func loadKeys() (priv, pub []byte, err error) {
	privEnv := os.Getenv("JWT_PRIVATE_KEY")
	pubEnv := os.Getenv("JWT_PUBLIC_KEY")
	if privEnv != "" && pubEnv != "" {
		priv, err = base64.StdEncoding.DecodeString(privEnv)
		if err != nil {
			return nil, nil, err
		}
		pub, err = base64.StdEncoding.DecodeString(pubEnv)
		if err != nil {
			return nil, nil, err
		}
		return priv, pub, nil
	}

	// Ephemeral keys: issued sessions do not survive a restart.
	log.Println("JWT keys not configured, generating ephemeral ed25519 pair")
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return privKey, pubKey, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
