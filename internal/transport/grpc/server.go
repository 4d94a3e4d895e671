package grpcx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// StorageService is the health service name that follows the durable store.
const StorageService = "meeting.storage"

type StoreProbe interface {
	Name() string
	Ping(ctx context.Context) error
}

type Config struct {
	Addr          string
	CheckInterval time.Duration
}

type Server struct {
	cfg    Config
	grpc   *grpc.Server
	health *health.Server
	probe  StoreProbe
}

func NewServer(cfg Config, probe StoreProbe) *Server {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 15 * time.Second
	}
	s := &Server{
		cfg: cfg,
		grpc: grpc.NewServer(
			grpc.ChainUnaryInterceptor(UnaryServerInterceptor()),
			grpc.ChainStreamInterceptor(StreamServerInterceptor()),
		),
		health: health.NewServer(),
		probe:  probe,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return s
}

// GRPC exposes the underlying server for extra registrations and tests.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// Refresh sets the storage service status from one probe.
func (s *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if s.probe != nil {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.probe.Ping(pctx)
		cancel()
		if err != nil {
			slog.WarnContext(ctx, "grpc: storage unhealthy", "store", s.probe.Name(), "err", err)
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus(StorageService, st)
	return st
}

// Serve runs on an existing listener until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(lis) }()

	s.Refresh(ctx)
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Refresh(ctx)
		case err := <-errCh:
			if errors.Is(err, grpc.ErrServerStopped) {
				return nil
			}
			return err
		case <-ctx.Done():
			s.health.Shutdown()
			s.grpc.GracefulStop()
			return nil
		}
	}
}

// Run listens on cfg.Addr.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.cfg.Addr, err)
	}
	slog.Info("grpc: listening", "addr", s.cfg.Addr)
	return s.Serve(ctx, lis)
}
