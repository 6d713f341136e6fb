package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"hrgate.org/internal/audit"
	"hrgate.org/internal/auth"
	"hrgate.org/internal/config"
	"hrgate.org/internal/directory"
	"hrgate.org/internal/httpapi"
	"hrgate.org/internal/obs"
	"hrgate.org/internal/store/pg"
	"hrgate.org/internal/store/redisrevoke"
	"hrgate.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = ""
)

func main() {
	configPath := flag.String("config", os.Getenv("HRGATE_CONFIG"), "Path to YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		obs.Logger().Error("hrgate-api stopped", "error", err)
		os.Exit(1)
	}
}

type closer func() error

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	obs.SetLogger(obs.NewLogger(os.Stdout, cfg.Logging.Level))
	build := obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}()

	hasher, err := auth.NewHasher(cfg.Auth.HashCost)
	if err != nil {
		return err
	}
	codec, err := auth.NewCodec([]byte(cfg.Auth.Secret), auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return err
	}

	proxies, err := cfg.TrustedProxies()
	if err != nil {
		return err
	}

	probe := httpapi.ReadyProbe{}
	svcOpts := []auth.ServiceOption{auth.WithTokenTTL(cfg.Auth.TokenTTL)}
	switch cfg.Revocation.Backend {
	case config.RevocationMemory:
		svcOpts = append(svcOpts, auth.WithRevoker(auth.NewMemoryRevoker(nil)))
	case config.RevocationRedis:
		rv, err := redisrevoke.New(redisrevoke.Options{
			Addr:     cfg.Revocation.RedisAddr,
			Password: cfg.Revocation.RedisPassword,
			DB:       cfg.Revocation.RedisDB,
		}, nil)
		if err != nil {
			return err
		}
		closers = append(closers, rv.Close)
		probe.Revoker = rv
		svcOpts = append(svcOpts, auth.WithRevoker(rv))
	}

	feed := stream.New()
	mirror := []audit.Option{audit.WithMirror(feed)}
	var (
		creds   auth.CredentialStore
		dir     directory.Store
		sink    audit.Sink
		records audit.Reader
		tx      audit.Transactor
	)
	switch cfg.Database.Store {
	case config.StorePostgres:
		store, err := pg.Open(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		closers = append(closers, store.Close)
		probe.DB = store
		creds, dir, sink, records, tx = store, store, store, store, store
		mirror = append(mirror, audit.WithMirror(audit.NewLogSink()))
	default:
		mem := auth.NewMemoryStore()
		if err := bootstrapAdmin(mem, hasher); err != nil {
			return err
		}
		memDir := directory.NewMemoryStore(nil)
		memSink := audit.NewMemorySink()
		creds, dir, sink, records = mem, memDir, memSink, memSink
		tx = audit.Chain(mem, memDir)
		log.Warn("using in-memory stores; data is lost on restart")
	}

	svc, err := auth.NewService(creds, hasher, codec, svcOpts...)
	if err != nil {
		return err
	}
	writer, err := audit.NewWriter(sink, append(mirror, audit.WithPolicy(cfg.AuditPolicy()))...)
	if err != nil {
		return err
	}

	api, err := httpapi.New(httpapi.Deps{
		Auth:      svc,
		Directory: dir,
		Audit:     writer,
		Records:   records,
		Tx:        tx,
		Ready:     probe,
		Feed:      feed,
	}, version,
		httpapi.WithLoginRateLimit(cfg.RateLimit.LoginPerMinute, cfg.RateLimit.LoginBurst),
		httpapi.WithCORSOrigins(cfg.HTTP.CORSOrigins...),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		httpapi.WithSessionPolicy(cfg.SessionPolicy()),
		httpapi.WithTrustedProxies(proxies...),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", "addr", srv.Addr, "version", build.Version, "commit", build.Commit, "store", cfg.Database.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http listen: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	var authGRPC *httpapi.GRPCServer
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer()
		authGRPC = httpapi.NewGRPCServer(svc.Authenticator(), probe)
		authGRPC.Register(grpcSrv)
		authGRPC.UpdateReadiness(ctx)
		go watchReadiness(ctx, authGRPC)
		go func() {
			log.Info("grpc listening", "addr", cfg.GRPC.Addr)
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if authGRPC != nil {
		authGRPC.Shutdown()
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info("stopped")
	return nil
}

// watchReadiness keeps the gRPC health status in step with the readiness probe.
func watchReadiness(ctx context.Context, s *httpapi.GRPCServer) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.UpdateReadiness(ctx)
		}
	}
}

// bootstrapAdmin seeds an admin into the in-memory store from
// HRGATE_BOOTSTRAP_ADMIN_EMAIL and HRGATE_BOOTSTRAP_ADMIN_PASSWORD.
func bootstrapAdmin(store *auth.MemoryStore, hasher *auth.Hasher) error {
	email := os.Getenv("HRGATE_BOOTSTRAP_ADMIN_EMAIL")
	password := os.Getenv("HRGATE_BOOTSTRAP_ADMIN_PASSWORD")
	if email == "" || password == "" {
		return nil
	}
	digest, err := hasher.Hash(password)
	if err != nil {
		return err
	}
	return store.PutPrincipal(auth.Principal{
		ID:           "usr_bootstrap_admin",
		Email:        email,
		Role:         auth.RoleAdmin,
		PasswordHash: digest,
		Active:       true,
	})
}
