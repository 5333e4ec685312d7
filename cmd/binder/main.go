package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matthewgall/binder/internal/config"
	"github.com/matthewgall/binder/internal/http/server"
	buildinfo "github.com/matthewgall/binder/internal/version"
)

var (
	configFile        = flag.String("config", "config.yaml", "Path to configuration file")
	version           = flag.Bool("version", false, "Show version information")
	serverAddress     = flag.String("address", "", "Server address (host:port)")
	serverHost        = flag.String("host", "", "Server host")
	serverPort        = flag.Int("port", 0, "Server port")
	databasePath      = flag.String("db-path", "", "Database path")
	authSecret        = flag.String("auth-secret", "", "Auth session secret")
	authBcryptCost    = flag.Int("auth-bcrypt-cost", 0, "Auth bcrypt cost")
	authMinDisplay    = flag.Duration("auth-min-display", 0, "Minimum time the loading screen stays up after sign in")
	uploadsMethod     = flag.String("uploads-method", "", "Uploads storage (local, s3)")
	uploadsDir        = flag.String("uploads-dir", "", "Uploads directory")
	appNameFlag       = flag.String("app-name", "", "Application name")
	embedAssets       = flag.Bool("embed-assets", true, "Embed templates and static assets")
	searchDebounce    = flag.Duration("search-debounce", 0, "Quiet period before search text is applied")
	pokeAPIBaseURL    = flag.String("pokeapi-base-url", "", "PokeAPI base URL")
	pokeAPILimit      = flag.Int("pokeapi-limit", 0, "Number of catalog entries to load")
	cacheProvider     = flag.String("cache-provider", "", "Cache provider (sqlite, redis)")
	cacheDefaultTTL   = flag.Duration("cache-ttl-default", 0, "Cache default TTL")
	cacheRemoteTTL    = flag.Duration("cache-ttl-remote", 0, "Cache remote provider TTL")
	cacheDir          = flag.String("cache-dir", "", "Cache directory")
	ownershipProvider = flag.String("ownership-provider", "", "Ownership store (sqlite, redis)")
	spritesMirror     = flag.Bool("sprites-mirror", false, "Mirror sprites into uploads storage")
)

const appName = "Binder"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s %s\n", appName, buildinfo.Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	overrides := config.Overrides{}
	if *serverAddress != "" {
		overrides.ServerAddress = serverAddress
	} else if *serverHost != "" || *serverPort != 0 {
		host, port := splitAddress(cfg.Server.Address)
		if *serverHost != "" {
			host = *serverHost
		}
		if *serverPort != 0 {
			port = fmt.Sprintf("%d", *serverPort)
		}
		if host == "" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		address := net.JoinHostPort(host, port)
		overrides.ServerAddress = &address
	}
	if *databasePath != "" {
		overrides.DatabasePath = databasePath
	}
	if *authSecret != "" {
		overrides.AuthSessionSecret = authSecret
	}
	if *authBcryptCost != 0 {
		overrides.AuthBcryptCost = authBcryptCost
	}
	if setFlags["auth-min-display"] {
		overrides.AuthMinDisplay = authMinDisplay
	}
	if *uploadsMethod != "" {
		overrides.UploadsMethod = uploadsMethod
	}
	if *uploadsDir != "" {
		overrides.UploadsLocalDir = uploadsDir
	}
	if *appNameFlag != "" {
		overrides.AppName = appNameFlag
	}
	if setFlags["embed-assets"] {
		overrides.AppEmbedAssets = embedAssets
	}
	if *searchDebounce != 0 {
		overrides.AppSearchDebounce = searchDebounce
	}
	if *pokeAPIBaseURL != "" {
		overrides.PokeAPIBaseURL = pokeAPIBaseURL
	}
	if *pokeAPILimit != 0 {
		overrides.PokeAPILimit = pokeAPILimit
	}
	if *cacheProvider != "" {
		overrides.CacheProvider = cacheProvider
	}
	if *cacheDefaultTTL != 0 {
		overrides.CacheTTLDefault = cacheDefaultTTL
	}
	if *cacheRemoteTTL != 0 {
		overrides.CacheTTLRemote = cacheRemoteTTL
	}
	if *cacheDir != "" {
		overrides.CacheDirectory = cacheDir
	}
	if *ownershipProvider != "" {
		overrides.OwnershipProvider = ownershipProvider
	}
	if setFlags["sprites-mirror"] {
		overrides.SpritesMirror = spritesMirror
	}

	if err := cfg.ApplyOverrides(overrides); err != nil {
		log.Fatalf("Failed to apply overrides: %v", err)
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			log.Printf("Warning: failed to close server resources: %v", err)
		}
	}()

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Starting %s %s on %s", cfg.App.Name, buildinfo.Version, cfg.Server.Address)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func splitAddress(address string) (string, string) {
	if address == "" {
		return "", ""
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", ""
	}
	return host, port
}
