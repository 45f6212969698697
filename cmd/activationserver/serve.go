package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	"github.com/AppsFlyer/go-sundheit/checks"
	gosundheithttp "github.com/AppsFlyer/go-sundheit/http"
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/powerauth/activationserver/internal/activation"
	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/callback"
	"github.com/powerauth/activationserver/internal/config"
	"github.com/powerauth/activationserver/internal/keyvault"
	"github.com/powerauth/activationserver/internal/metrics"
	"github.com/powerauth/activationserver/internal/recovery"
	"github.com/powerauth/activationserver/internal/rpc"
	"github.com/powerauth/activationserver/internal/signature"
	"github.com/powerauth/activationserver/internal/store"
	"github.com/powerauth/activationserver/internal/store/memstore"
	"github.com/powerauth/activationserver/internal/store/sqlstore"
	"github.com/powerauth/activationserver/internal/token"
)

type serveOptions struct {
	config   string
	grpcAddr string
	telemetryAddr string
}

func commandServe() *cobra.Command {
	options := serveOptions{}

	cmd := &cobra.Command{
		Use:     "serve [flags] [config file]",
		Short:   "Launch the activation server",
		Example: "activationserver serve config.yaml",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true
			options.config = args[0]
			return runServe(options)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&options.grpcAddr, "grpc-addr", "", "gRPC health/reflection address")
	flags.StringVar(&options.telemetryAddr, "telemetry-addr", "", "Telemetry and RPC address")

	return cmd
}

func applyConfigOverrides(options serveOptions, c *config.Config) {
	if options.grpcAddr != "" {
		c.GRPC.Addr = options.grpcAddr
	}
	if options.telemetryAddr != "" {
		c.Telemetry.Addr = options.telemetryAddr
	}
}

func runServe(options serveOptions) error {
	c, err := config.Load(options.config)
	if err != nil {
		return err
	}
	applyConfigOverrides(options, &c)

	logger, err := newLogger(c.Logger.Level, c.Logger.Format)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	logger.Info("config loaded", "storage_driver", c.Storage.Driver, "grpc_addr", c.GRPC.Addr)

	masterSecret, err := config.ResolveMasterSecret(c.MasterSecret)
	if err != nil {
		return err
	}

	s, err := openStorage(context.Background(), c.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer s.Close()

	prometheusRegistry := prometheus.NewRegistry()
	if err := prometheusRegistry.Register(prometheus.NewGoCollector()); err != nil {
		return fmt.Errorf("failed to register go runtime metrics: %w", err)
	}
	if err := prometheusRegistry.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{})); err != nil {
		return fmt.Errorf("failed to register process metrics: %w", err)
	}
	grpcMetrics := grpcprometheus.NewServerMetrics()
	if err := prometheusRegistry.Register(grpcMetrics); err != nil {
		return fmt.Errorf("failed to register grpc server metrics: %w", err)
	}
	appMetrics := metrics.New(prometheusRegistry)

	codec := keyvault.New(masterSecret, keyvault.AESHMAC)

	dispatcher, err := callback.New(callback.StoreLister{Store: s}, callback.Config{
		HTTPTimeout: c.Callbacks.HTTPTimeout,
		QueueSize:   c.Callbacks.QueueSize,
		Workers:     c.Callbacks.Workers,
		Proxy:       toProxyConfig(c.Callbacks.Proxy),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize callback dispatcher: %w", err)
	}
	dispatcher = dispatcher.WithMetrics(appMetrics)

	activationSvc := activation.New(s, codec, c.Activation, dispatcher)
	tokenSvc := token.New(s, c.Activation)
	recoverySvc := recovery.New(s, codec, activationSvc)
	sigVerifier := signature.New(c.Activation.SignatureValidationLookahead)

	facade := rpc.New(s, activationSvc, tokenSvc, recoverySvc, sigVerifier, c.Activation)

	healthChecker := gosundheit.New()
	healthChecker.RegisterCheck(&gosundheit.Config{
		Check: &checks.CustomCheck{
			CheckName: "storage",
			CheckFunc: func(ctx context.Context) (interface{}, error) {
				_, err := s.GarbageCollect(ctx, time.Now())
				return nil, err
			},
		},
		ExecutionPeriod:  15 * time.Second,
		InitiallyPassing: true,
	})

	var gr run.Group

	// gRPC listener: health checks, reflection, and server-side metrics
	// instrumentation, mirroring the teacher's grpc.Server wiring. The
	// activation RPC surface itself has no generated .proto service (out
	// of scope per spec.md §1), so it rides the telemetry mux below
	// instead of a registered grpc.ServiceDesc.
	if c.GRPC.Addr != "" {
		grpcListener, err := net.Listen("tcp", c.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("listening (grpc) on %s: %w", c.GRPC.Addr, err)
		}
		grpcSrv := grpc.NewServer(
			grpc.StreamInterceptor(grpcMetrics.StreamServerInterceptor()),
			grpc.UnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		)
		healthSrv := health.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, healthSrv)
		grpcMetrics.InitializeMetrics(grpcSrv)
		reflection.Register(grpcSrv)

		gr.Add(func() error {
			logger.Info("listening", "transport", "grpc", "addr", c.GRPC.Addr)
			return grpcSrv.Serve(grpcListener)
		}, func(err error) {
			logger.Debug("shutting down", "transport", "grpc")
			grpcSrv.GracefulStop()
		})
	}

	if c.Telemetry.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(prometheusRegistry, promhttp.HandlerOpts{}))
		healthHandler := gosundheithttp.HandleHealthJSON(healthChecker)
		mux.Handle("/healthz", healthHandler)
		mux.HandleFunc("/healthz/live", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ok"))
		})
		mux.Handle("/healthz/ready", healthHandler)
		registerRPCRoutes(mux, facade, logger, appMetrics)

		telemetrySrv := &http.Server{Addr: c.Telemetry.Addr, Handler: mux}
		telemetryListener, err := net.Listen("tcp", c.Telemetry.Addr)
		if err != nil {
			return fmt.Errorf("listening (telemetry) on %s: %w", c.Telemetry.Addr, err)
		}
		gr.Add(func() error {
			logger.Info("listening", "transport", "http", "addr", c.Telemetry.Addr)
			return telemetrySrv.Serve(telemetryListener)
		}, func(err error) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			logger.Debug("shutting down", "transport", "http")
			_ = telemetrySrv.Shutdown(ctx)
		})
	}

	// Periodic garbage collection sweep, mirroring the teacher's
	// storage GC loop in cmd/dex/serve.go's storage.Config.Open path.
	gcCtx, gcCancel := context.WithCancel(context.Background())
	gr.Add(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gcCtx.Done():
				return nil
			case <-ticker.C:
				res, err := s.GarbageCollect(gcCtx, time.Now())
				if err != nil {
					logger.Warn("garbage collect failed", "error", err)
					continue
				}
				if res.ExpiredActivations > 0 || res.ExpiredTokens > 0 {
					logger.Info("garbage collect", "expired_activations", res.ExpiredActivations, "expired_tokens", res.ExpiredTokens)
				}
			}
		}
	}, func(err error) {
		gcCancel()
	})

	dispatcherCtx, dispatcherCancel := context.WithCancel(context.Background())
	gr.Add(func() error {
		return dispatcher.Run(dispatcherCtx)
	}, func(err error) {
		dispatcherCancel()
	})

	gr.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))
	if err := gr.Run(); err != nil {
		if _, ok := err.(run.SignalError); !ok {
			return fmt.Errorf("run groups: %w", err)
		}
		logger.Info("shutdown signal received", "signal", err)
	}
	return nil
}

func openStorage(ctx context.Context, c config.Storage) (store.Storage, error) {
	switch c.Driver {
	case "memory", "":
		return memstore.New(), nil
	case "postgres":
		return sqlstore.Open(ctx, c.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", c.Driver)
	}
}

func toProxyConfig(p *config.Proxy) *callback.ProxyConfig {
	if p == nil {
		return nil
	}
	return &callback.ProxyConfig{Host: p.Host, Port: p.Port, Username: p.Username, Password: p.Password}
}

// writeJSONError renders an apierror-shaped failure as the facade's
// JSON error envelope; the trusted back-end consuming this RPC surface
// is expected to branch on "error_code" the same way it would on a
// wire-level gRPC status code.
func writeJSONError(w http.ResponseWriter, err error) {
	code := string(apierror.UnknownError)
	var aerr *apierror.Error
	if errors.As(err, &aerr) {
		code = string(aerr.Kind)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "error_code": code})
}
