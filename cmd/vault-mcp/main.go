// vault-mcp serves a directory of markdown notes to AI agents over the MCP
// Streamable HTTP transport.
//
// Configuration comes from the environment (and a .env file when present),
// then from flags. User settings such as the port and auth token live in the
// persisted snapshot; see the --store flag.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ggoodman/mcp-vault-server/access"
	"github.com/ggoodman/mcp-vault-server/auth"
	"github.com/ggoodman/mcp-vault-server/config"
	"github.com/ggoodman/mcp-vault-server/sessions"
	"github.com/ggoodman/mcp-vault-server/storage"
	"github.com/ggoodman/mcp-vault-server/storage/file"
	"github.com/ggoodman/mcp-vault-server/storage/memory"
	"github.com/ggoodman/mcp-vault-server/storage/redis"
	"github.com/ggoodman/mcp-vault-server/storage/sqlite"
	"github.com/ggoodman/mcp-vault-server/streaminghttp"
	"github.com/ggoodman/mcp-vault-server/usage"
	"github.com/ggoodman/mcp-vault-server/vault"
	"github.com/ggoodman/mcp-vault-server/vaultserver"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var printToken bool
	flagSet := pflag.NewFlagSet("vault-mcp", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.VaultDir, "vault", cfg.VaultDir, "vault directory to serve (env VAULT_DIR)")
	flagSet.IntVar(&cfg.Port, "port", cfg.Port, "port to listen on, overriding the saved setting (env PORT)")
	flagSet.StringVar(&cfg.ListenAddress, "listen", cfg.ListenAddress, "listen address, 127.0.0.1 or 0.0.0.0 (env LISTEN_ADDRESS)")
	flagSet.StringVar(&cfg.StoreKind, "store", cfg.StoreKind, "snapshot store: file, memory, redis or sqlite (env STORE_KIND)")
	flagSet.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json (env LOG_FORMAT)")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error (env LOG_LEVEL)")
	flagSet.BoolVar(&printToken, "print-token", false, "print the auth token and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	levelVar := new(slog.LevelVar)
	if err := levelVar.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	log := newLogger(cfg.LogFormat, levelVar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer sessions.BestEffort(log, "store.close", store.Close)

	snap, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	snap.Settings = cfg.Apply(snap.Settings)
	generated, err := snap.Settings.EnsureToken()
	if err != nil {
		return err
	}
	if generated {
		if err := store.Save(ctx, snap); err != nil {
			return fmt.Errorf("save generated token: %w", err)
		}
		log.Info("auth.token.generated")
	}
	if printToken {
		fmt.Println(snap.Settings.AuthToken)
		return nil
	}

	rules := access.New(snap.Settings.Blacklist)
	registry := sessions.NewRegistry(
		sessions.WithCapacity(cfg.MaxSessions),
		sessions.WithTTL(cfg.SessionTTL),
		sessions.WithSweepInterval(cfg.SweepInterval),
		sessions.WithLogger(log),
	)

	vaultOpts := []vault.Option{vault.WithLogger(log)}
	if cfg.VaultName != "" {
		vaultOpts = append(vaultOpts, vault.WithName(cfg.VaultName))
	}
	if cfg.DailyFolder != "" {
		vaultOpts = append(vaultOpts, vault.WithDailyFolder(cfg.DailyFolder))
	}
	if cfg.AttachmentFolder != "" {
		vaultOpts = append(vaultOpts, vault.WithAttachmentFolder(cfg.AttachmentFolder))
	}
	dir, err := vault.Open(cfg.VaultDir, vaultOpts...)
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}
	watcher := vault.NewWatcher(dir, vault.WithWatcherLogger(log))
	subs := vaultserver.NewSubscriptions(rules, log)
	watcher.Subscribe(subs.Handle)

	// The saver reads the facade's settings, so it is bound after the facade
	// exists; no save can fire before the first tool call.
	var facade *vaultserver.Facade
	tracker := usage.NewTracker(
		func(ctx context.Context, l usage.Ledger) error {
			return store.Save(ctx, storage.Snapshot{Settings: facade.Settings(), ToolStats: l})
		},
		usage.WithInitial(snap.ToolStats),
		usage.WithDebounce(cfg.StatsDebounce),
		usage.WithLogger(log),
	)
	tracker.SetListener(registry.RecordToolCall)

	facade = vaultserver.New(dir, rules,
		vaultserver.WithTracker(tracker),
		vaultserver.WithSessions(registry),
		vaultserver.WithSettings(snap.Settings),
		vaultserver.WithSubscriptions(subs),
		vaultserver.WithVersion(version),
		vaultserver.WithLogLevel(levelVar),
		vaultserver.WithLogger(log),
	)

	authenticator, err := newAuthenticator(ctx, cfg, facade)
	if err != nil {
		return err
	}

	handler, err := streaminghttp.New(registry, facade, authenticator, streaminghttp.WithLogger(log))
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	srv := &http.Server{
		Addr:              snap.Settings.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	go registry.Run(bgCtx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if err := watcher.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("vault.watch.fail", slog.String("err", err.Error()))
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http.listen.start",
			slog.String("addr", srv.Addr),
			slog.String("vault", dir.Root()),
			slog.String("store", cfg.StoreKind),
			slog.String("version", version),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown.start")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Open event streams only end once their sessions close.
	registry.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http.shutdown.fail", slog.String("err", err.Error()))
	}
	cancelBg()
	<-watchDone
	if err := tracker.Flush(shutdownCtx); err != nil {
		log.Error("stats.save.fail", slog.String("err", err.Error()))
	}
	log.Info("shutdown.ok")
	return nil
}

func newLogger(format string, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.StoreKind {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreRedis:
		return redis.New(ctx, redis.Config{Addr: cfg.RedisAddr, Key: cfg.RedisKey})
	case config.StoreSQLite:
		return sqlite.New(ctx, cfg.SQLitePath)
	default:
		return file.New(cfg.StorePath), nil
	}
}

// newAuthenticator picks OIDC-issued JWTs when an issuer is configured and
// the persisted static token otherwise.
func newAuthenticator(ctx context.Context, cfg config.Config, facade *vaultserver.Facade) (auth.Authenticator, error) {
	if cfg.AuthIssuer == "" {
		return auth.NewStaticTokenFunc(func() string { return facade.Settings().AuthToken }), nil
	}
	var opts []auth.AccessTokenAuthOption
	if cfg.AuthJWKSURL != "" {
		opts = append(opts, auth.WithJWKSURL(cfg.AuthJWKSURL))
	}
	if scopes := strings.Fields(strings.ReplaceAll(cfg.AuthScopes, ",", " ")); len(scopes) > 0 {
		opts = append(opts, auth.WithRequiredScopes(scopes...))
	}
	a, err := auth.NewFromDiscovery(ctx, cfg.AuthIssuer, cfg.AuthAudience, opts...)
	if err != nil {
		return nil, fmt.Errorf("configure OIDC authentication: %w", err)
	}
	return a, nil
}
