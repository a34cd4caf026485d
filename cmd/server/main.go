package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/star-supply/internal/auth"
	"github.com/example/star-supply/internal/game"
	srv "github.com/example/star-supply/internal/server"
	"github.com/example/star-supply/internal/store"
)

// tickInterval reads TICK_INTERVAL as a Go duration ("15s") or a plain
// number of seconds.
func tickInterval() time.Duration {
	raw := os.Getenv("TICK_INTERVAL")
	if raw == "" {
		return 15 * time.Second
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	log.Printf("Invalid TICK_INTERVAL %q, using 15s", raw)
	return 15 * time.Second
}

func loadRoster(path string) (*game.Roster, error) {
	if path == "" {
		path = os.Getenv("ROSTER_PATH")
	}
	if path == "" {
		return game.DefaultRoster()
	}
	log.Printf("Loading roster from %s", path)
	return game.LoadRoster(path)
}

func main() {
	// Load environment variables from .env file if it exists
	_ = godotenv.Load()

	var (
		httpPort   = flag.String("http-port", "8080", "HTTP port")
		certFile   = flag.String("cert", "", "Path to certificate file")
		keyFile    = flag.String("key", "", "Path to private key file")
		rosterFile = flag.String("roster", "", "Path to a roster YAML file (default: built-in)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	roster, err := loadRoster(*rosterFile)
	if err != nil {
		log.Fatalf("Roster: %v", err)
	}

	st, err := store.OpenFromEnv(ctx)
	if err != nil {
		log.Fatalf("Store: %v", err)
	}
	defer st.Close()

	verifier := auth.NewVerifierFromEnv()
	if len(verifier.Secret) == 0 && verifier.JWKSEndpoint == "" {
		log.Printf("Neither JWT_SECRET nor JWKS_URL is set; every /api request will be rejected")
	}

	hub := srv.NewHub(verifier)
	defer hub.Close()
	gs := srv.NewGameServer(st, roster, srv.WithNotifier(hub))
	router := srv.NewRouter(gs, hub, verifier, srv.NewRateLimiterFromEnv())

	go gs.Run(ctx, tickInterval())

	server := &http.Server{
		Addr:              ":" + *httpPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	useTLS := false
	if *certFile != "" && *keyFile != "" {
		if _, err := os.Stat(*certFile); err != nil {
			log.Printf("Certificate file not found at %s, falling back to HTTP", *certFile)
		} else if _, err := os.Stat(*keyFile); err != nil {
			log.Printf("Private key file not found at %s, falling back to HTTP", *keyFile)
		} else {
			useTLS = true
			server.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
				CipherSuites: []uint16{
					tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
					tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
					tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
				},
			}
		}
	}

	go func() {
		var err error
		if useTLS {
			log.Printf("Star Supply backend (HTTPS) listening on %s", server.Addr)
			err = server.ListenAndServeTLS(*certFile, *keyFile)
		} else {
			log.Printf("Star Supply backend (HTTP) listening on %s", server.Addr)
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown: %v", err)
	}
}
