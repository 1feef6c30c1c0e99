package watcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	api "github.com/oshokin/distroget/internal/api/grpc/status"
	httpapi "github.com/oshokin/distroget/internal/api/http"
	"github.com/oshokin/distroget/internal/config"
	"github.com/oshokin/distroget/internal/domain/release"
	"github.com/oshokin/distroget/internal/logger"
	pb "github.com/oshokin/distroget/internal/pb/v1"
	"github.com/oshokin/distroget/internal/repository/report"
	"github.com/oshokin/distroget/internal/service/download"
	"github.com/oshokin/distroget/internal/service/updater"
)

// Options controls the watch daemon.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// Enabled forces runs even if the configuration does not enable auto-update.
	Enabled bool
	// GRPCAddress overrides the configured status service address.
	GRPCAddress string
	// HTTPAddress overrides the configured HTTP address.
	HTTPAddress string
	// Interval overrides the configured period between runs.
	Interval time.Duration
	// RunOnStart performs a run as soon as the daemon starts.
	RunOnStart bool
	// Sources overrides the built-in source registry.
	Sources updater.SourceLookup
	// ManagerOptions are passed to every worker pool.
	ManagerOptions []download.Option
	// Ready, when set, receives the bound addresses once both listeners are open.
	Ready func(grpcAddress, httpAddress string)
}

// shutdownTimeout bounds the HTTP server shutdown.
const shutdownTimeout = 5 * time.Second

// ErrNoListenAddress indicates a missing listen address.
var ErrNoListenAddress = errors.New("no listen address configured")

// Run starts the scheduler, the gRPC status service and the HTTP endpoints
// and blocks until ctx is canceled or one of them fails.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "watcher")

	if opts == nil {
		opts = new(Options)
	}

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	grpcAddress, err := resolveListenAddress(settings.Watch.GRPCAddress, opts.GRPCAddress)
	if err != nil {
		return fmt.Errorf("resolve gRPC address: %w", err)
	}

	httpAddress, err := resolveListenAddress(settings.Watch.HTTPAddress, opts.HTTPAddress)
	if err != nil {
		return fmt.Errorf("resolve HTTP address: %w", err)
	}

	interval := settings.Watch.Interval
	if opts.Interval > 0 {
		interval = opts.Interval
	}

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigFilename
	}

	var (
		monitor = updater.NewMonitor()
		repo    = report.NewFileRepository(updater.ReportPath(configPath, settings.ReportFile))
		run     = func(ctx context.Context, trigger string) (*release.Report, error) {
			return updater.Run(ctx, &updater.Options{
				ConfigPath:     configPath,
				Enabled:        opts.Enabled,
				Monitor:        monitor,
				Sources:        opts.Sources,
				ManagerOptions: opts.ManagerOptions,
				Trigger:        trigger,
			})
		}
	)

	svc, err := newService(ctx, repo, monitor, run, interval)
	if err != nil {
		return fmt.Errorf("initialise service: %w", err)
	}

	lc := net.ListenConfig{}

	grpcListener, err := lc.Listen(ctx, "tcp", grpcAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", grpcAddress, err)
	}

	httpListener, err := lc.Listen(ctx, "tcp", httpAddress)
	if err != nil {
		_ = grpcListener.Close()

		return fmt.Errorf("listen on %s: %w", httpAddress, err)
	}

	grpcServer := grpc.NewServer()
	pb.RegisterStatusServiceServer(grpcServer, api.NewServer(monitor))

	httpServer := &http.Server{
		Handler:           httpapi.NewRouter(monitor, svc.Trigger),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	logger.InfoKV(ctx, "Watcher listening",
		"grpc_address", grpcListener.Addr().String(),
		"http_address", httpListener.Addr().String(),
		"report_file", repo.Path(),
		"interval", interval)

	if opts.Ready != nil {
		opts.Ready(grpcListener.Addr().String(), httpListener.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.loop(gctx, opts.RunOnStart)
	})

	g.Go(func() error {
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve HTTP: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info(ctx, "Shutting down servers")
		grpcServer.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown HTTP: %w", err)
		}

		return nil
	})

	err = g.Wait()

	logger.Info(ctx, "Watcher stopped")

	return err
}

// resolveListenAddress picks the override or the configured address and
// checks that it has a port.
func resolveListenAddress(configured, override string) (string, error) {
	address := configured
	if override != "" {
		address = override
	}

	if address == "" {
		return "", ErrNoListenAddress
	}

	if _, _, err := net.SplitHostPort(address); err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", address, err)
	}

	return address, nil
}
