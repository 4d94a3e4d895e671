package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cwrk-planet/meeting-service/config"
	"github.com/cwrk-planet/meeting-service/internal/asr"
	"github.com/cwrk-planet/meeting-service/internal/meeting"
	"github.com/cwrk-planet/meeting-service/internal/postgres"
	"github.com/cwrk-planet/meeting-service/internal/ratelimit"
	"github.com/cwrk-planet/meeting-service/internal/service"
	"github.com/cwrk-planet/meeting-service/internal/storage"
	"github.com/cwrk-planet/meeting-service/internal/storage/memory"
	grpcx "github.com/cwrk-planet/meeting-service/internal/transport/grpc"
	httpx "github.com/cwrk-planet/meeting-service/internal/transport/http"
	"github.com/cwrk-planet/meeting-service/internal/transport/origin"
	"github.com/cwrk-planet/meeting-service/internal/transport/ws"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket server (and gRPC health when configured)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// openStore prefers PostgreSQL with the memory store as per-call fallback.
// Without a database, or when it cannot be reached at startup, memory only.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, func()) {
	mem := memory.New()
	if !cfg.HasDatabase() {
		slog.Info("storage: memory only")
		return mem, func() {}
	}

	pool, err := postgres.NewPool(ctx, postgres.Config{
		DSN:             cfg.Postgres.DSN,
		MaxConns:        cfg.Postgres.MaxConns,
		ApplicationName: cfg.Logging.Service,
	})
	if err != nil {
		slog.Warn("storage: postgres unavailable, using memory", "err", err)
		return mem, func() {}
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Warn("storage: migrate failed", "err", err)
	}
	slog.Info("storage: postgres with memory fallback")
	return storage.NewGateway(postgres.NewStore(pool), mem), pool.Close
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting meeting-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "asr_mode", cfg.ASR.Mode)

	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	// --- services ---
	roomSvc := service.NewRoomService(store)
	memberSvc := service.NewMemberService(store)
	memberSvc.SetStaleAfter(cfg.Limits.StaleAfterD)
	chatSvc := service.NewChatService(store)
	chatSvc.SetRetention(cfg.Limits.RetentionD)

	// --- WS hub, transcription, coordinator ---
	hub := ws.NewHub()
	asrMgr := asr.NewManager(asr.Config{
		Mode:          cfg.ASR.Mode,
		AppID:         cfg.ASR.AppID,
		APIKey:        cfg.ASR.APIKey,
		APISecret:     cfg.ASR.APISecret,
		IATURL:        cfg.ASR.IATURL,
		RTASRURL:      cfg.ASR.RTASRURL,
		RetryCooldown: cfg.ASR.RetryCooldownD,
	}, asr.NewWSDialer(asr.DefaultDialTimeout), meeting.TranscriptSink(hub))
	defer asrMgr.Close()
	if !asrMgr.Enabled() {
		slog.Warn("asr: credentials missing, transcription disabled", "mode", asrMgr.Mode())
	}

	coord := meeting.New(meeting.Deps{
		Rooms:       roomSvc,
		Members:     memberSvc,
		Chat:        chatSvc,
		Transcriber: asrMgr,
		Transport:   hub,
	})

	limiter := ratelimit.New(cfg.Limits.Events, cfg.Limits.WindowD)
	streamLimiter := ratelimit.New(cfg.Limits.StreamEvents, cfg.Limits.StreamWindowD)
	origins := origin.NewMatcher(cfg.HTTP.AllowedOrigins)
	wsServer := ws.NewServer(hub, coord, ws.Options{
		Origins:       origins,
		Limiter:       limiter,
		StreamEvents:  meeting.StreamEvents,
		StreamLimiter: streamLimiter,
		PingEvery:     cfg.HTTP.PingEveryD,
	})

	// --- HTTP ---
	router := httpx.NewRouter(httpx.RouterDeps{
		Handler: httpx.NewHandler(roomSvc, memberSvc, chatSvc, store),
		WS:      wsServer.HandleWS,
		Origins: origins,
	})
	httpSrv := httpx.NewServer(httpx.ServerConfig{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeoutD,
		IdleTimeout:     cfg.HTTP.IdleTimeoutD,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeoutD,
	}, router)

	sweeper := service.NewSweeper(memberSvc, chatSvc, cfg.Limits.SweepIntervalD)
	sweeper.OnDemoted = coord.StaleDemoted

	// --- run ---
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return limiter.Run(gctx) })
	g.Go(func() error { return streamLimiter.Run(gctx) })
	if cfg.GRPC.Addr != "" {
		grpcSrv := grpcx.NewServer(grpcx.Config{Addr: cfg.GRPC.Addr}, store)
		g.Go(func() error { return grpcSrv.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		// hijacked WS connections survive http.Server.Shutdown
		hub.CloseAll()
		wsServer.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	slog.Info("stopped")
	return nil
}
