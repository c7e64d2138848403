package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"ritual/api/internal/app"
	"ritual/api/internal/archive"
	"ritual/api/internal/blob"
	"ritual/api/internal/compendium"
	"ritual/api/internal/config"
	"ritual/api/internal/docstore"
	"ritual/api/internal/identity"
)

func main() {
	cfg := config.Default()
	if err := newCmd(&cfg).Execute(); err != nil {
		log.Fatalf("ritual: %v", err)
	}
}

func newCmd(cfg *config.Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("RITUAL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "ritual-api",
		Short:         "Session-state server for shared tabletop sessions: maps, tokens, sheets, and sanity loss.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "address to listen on (env: RITUAL_ADDR)")
	fs.StringVar(&cfg.CORSOrigin, "cors-origin", cfg.CORSOrigin, "allowed CORS origin (env: RITUAL_CORS_ORIGIN)")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "document store backend: sqlite, postgres, or redis (env: RITUAL_BACKEND)")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "sqlite database path (env: RITUAL_SQLITE_PATH)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "postgres connection url (env: RITUAL_DATABASE_URL)")
	fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "redis connection url (env: RITUAL_REDIS_URL)")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "subscription poll interval for SQL backends (env: RITUAL_POLL_INTERVAL)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "identity token signing secret (env: RITUAL_JWT_SECRET)")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "identity token lifetime (env: RITUAL_TOKEN_TTL)")
	fs.StringVar(&cfg.ArchiveDir, "archive-dir", cfg.ArchiveDir, "directory for session checkpoint repositories (env: RITUAL_ARCHIVE_DIR)")
	fs.StringVar(&cfg.MeiliURL, "meili-url", cfg.MeiliURL, "meilisearch url, empty disables it (env: RITUAL_MEILI_URL)")
	fs.StringVar(&cfg.MeiliMasterKey, "meili-master-key", cfg.MeiliMasterKey, "meilisearch master key (env: RITUAL_MEILI_MASTER_KEY)")
	fs.StringVar(&cfg.MinioEndpoint, "minio-endpoint", cfg.MinioEndpoint, "object storage endpoint, empty keeps maps inline (env: RITUAL_MINIO_ENDPOINT)")
	fs.StringVar(&cfg.MinioAccessKey, "minio-access-key", cfg.MinioAccessKey, "object storage access key (env: RITUAL_MINIO_ACCESS_KEY)")
	fs.StringVar(&cfg.MinioSecretKey, "minio-secret-key", cfg.MinioSecretKey, "object storage secret key (env: RITUAL_MINIO_SECRET_KEY)")
	fs.StringVar(&cfg.MinioBucket, "minio-bucket", cfg.MinioBucket, "object storage bucket (env: RITUAL_MINIO_BUCKET)")
	fs.BoolVar(&cfg.MinioUseSSL, "minio-use-ssl", cfg.MinioUseSSL, "use TLS for object storage (env: RITUAL_MINIO_USE_SSL)")
	fs.StringVar(&cfg.MinioPublicURL, "minio-public-url", cfg.MinioPublicURL, "public base url for offloaded objects (env: RITUAL_MINIO_PUBLIC_URL)")
	fs.StringVar(&cfg.PublicBaseURL, "public-base-url", cfg.PublicBaseURL, "base url join QR codes point at (env: RITUAL_PUBLIC_BASE_URL)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("document store: %w", err)
	}

	idp := identity.NewProvider(cfg.JWTSecret, cfg.TokenTTL)

	entries, err := compendium.Seed()
	if err != nil {
		return err
	}
	var meiliClient *compendium.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = compendium.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, entries)
	}
	comp := compendium.NewService(meiliClient, compendium.NewMemory(entries))

	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	arch := archive.New(cfg.ArchiveDir)

	blobStore, err := blob.New(ctx, blob.Config{
		Endpoint:      cfg.MinioEndpoint,
		AccessKey:     cfg.MinioAccessKey,
		SecretKey:     cfg.MinioSecretKey,
		Bucket:        cfg.MinioBucket,
		UseSSL:        cfg.MinioUseSSL,
		PublicBaseURL: cfg.MinioPublicURL,
	})
	if err != nil {
		return fmt.Errorf("object storage: %w", err)
	}
	if blobStore.Enabled() {
		log.Printf("Offloading map images to %s/%s", cfg.MinioEndpoint, cfg.MinioBucket)
	}

	service := app.New(store, idp, comp, arch, blobStore)
	defer service.Close()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.PublicBaseURL)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Ritual API listening on %s (backend: %s)", cfg.Addr, cfg.Backend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (docstore.Store, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		return docstore.NewRedisStore(cfg.RedisURL)
	case config.BackendPostgres:
		return docstore.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.PollInterval)
	default:
		return docstore.NewSQLiteStore(cfg.SQLitePath, cfg.PollInterval)
	}
}
