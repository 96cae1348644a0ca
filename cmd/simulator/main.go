package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/nodesim/core"
	"github.com/signalsfoundry/nodesim/internal/asm"
	"github.com/signalsfoundry/nodesim/internal/datalog"
	"github.com/signalsfoundry/nodesim/internal/debug"
	"github.com/signalsfoundry/nodesim/internal/logging"
	"github.com/signalsfoundry/nodesim/internal/observability"
)

const healthService = "nodesim.Emulator"

type options struct {
	programs    []string
	scenario    string
	trace       bool
	monitor     bool
	timestamps  bool
	arith       bool
	profile     uint
	idleLimit   uint64
	stackSize   uint
	metricsAddr string
	grpcAddr    string
	logs        bool
	logFile     string
	linger      time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// listFlag collects comma separated values across repeated flags.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			*l = append(*l, p)
		}
	}
	return nil
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	def := core.DefaultConfig()
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.Var((*listFlag)(&opts.programs), "program", "Comma separated list of .dasm programs to load (repeatable)")
	fs.StringVar(&opts.scenario, "scenario", "", "Path to the JSON scenario (nodes, links, log channels)")
	fs.BoolVar(&opts.trace, "trace", false, "Print every executed instruction")
	fs.BoolVar(&opts.monitor, "monitor", false, "Print every delivered packet")
	fs.BoolVar(&opts.timestamps, "timestamps", false, "Prefix program output with the node clock")
	fs.BoolVar(&opts.arith, "ar", false, "Enable fixed-point arithmetic checking")
	fs.UintVar(&opts.profile, "profile", 0, "Profile the given node")
	fs.Uint64Var(&opts.idleLimit, "idle-limit", def.IdleLimit, "Stop after this many consecutive idle node steps")
	fs.UintVar(&opts.stackSize, "stack", uint(def.StackSize), "Stack size in words for new processes")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics (disabled when empty)")
	fs.StringVar(&opts.grpcAddr, "grpc-addr", "", "TCP address for the gRPC health service (disabled when empty)")
	fs.BoolVar(&opts.logs, "logs", false, "Write scenario log channels to files")
	fs.StringVar(&opts.logFile, "log-file", "", "Also write JSON logs to this file")
	fs.DurationVar(&opts.linger, "linger", 0, "Keep serving metrics and health for this long after the run")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	opts.programs = append(opts.programs, fs.Args()...)
	if len(opts.programs) == 0 {
		return opts, errors.New("at least one -program is required")
	}
	if opts.scenario == "" {
		return opts, errors.New("-scenario is required")
	}
	return opts, nil
}

// run executes one emulation and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, "simulator:", err)
		}
		return 2
	}

	var extra []slog.Handler
	if opts.logFile != "" {
		f, err := os.Create(opts.logFile)
		if err != nil {
			fmt.Fprintln(stderr, "simulator:", err)
			return 1
		}
		defer f.Close()
		extra = append(extra, logging.FileHandler(f, "debug"))
	}
	ctx, log := logging.WithRunLogger(ctx, logging.NewFromEnv(extra...))

	tcfg := observability.TracingConfigFromEnv()
	tcfg.Writer = stderr
	tracing, err := observability.InitTracing(ctx, tcfg, observability.RunInfo{
		Scenario:  opts.scenario,
		Programs:  opts.programs,
		Tickrate:  core.DefaultConfig().Tickrate,
		IdleLimit: opts.idleLimit,
	}, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		return 1
	}
	defer tracing.Shutdown(context.Background())

	collector, err := observability.NewEmulatorCollector(prometheus.NewRegistry())
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.Err(err))
		return 1
	}
	metricsSrv := serveMetrics(ctx, opts.metricsAddr, collector)
	healthSrv := health.NewServer()
	grpcSrv, err := serveHealth(ctx, opts.grpcAddr, healthSrv, collector, tracing.Provider())
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", opts.grpcAddr), logging.Err(err))
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	res, err := emulate(ctx, opts, collector, healthSrv, tracing.Tracer(), stdout)
	healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
	res.Stats.Report(stdout)
	if opts.linger > 0 && (metricsSrv != nil || grpcSrv != nil) {
		select {
		case <-ctx.Done():
		case <-time.After(opts.linger):
		}
	}
	if err != nil {
		var rt *core.Error
		if errors.As(err, &rt) {
			log.Error(ctx, "emulation aborted", logging.Int("code", rt.Code), logging.Uint32("node", rt.Node))
		} else {
			log.Error(ctx, "emulation failed", logging.Err(err))
		}
		return 1
	}
	return 0
}

// emulate assembles the programs, loads the scenario and runs it to
// completion. Everything logs through the run logger carried by ctx.
func emulate(ctx context.Context, opts options, collector *observability.EmulatorCollector, healthSrv *health.Server, tracer trace.Tracer, stdout io.Writer) (core.Result, error) {
	log := runLogger(ctx)
	cfg := core.DefaultConfig()
	cfg.IdleLimit = opts.idleLimit
	cfg.StackSize = uint32(opts.stackSize)
	cfg.ArithmeticChecking = opts.arith
	cfg.Monitor = opts.monitor
	cfg.TimeStamps = opts.timestamps
	cfg.ProfileNode = uint32(opts.profile)

	base := strings.TrimSuffix(opts.scenario, filepath.Ext(opts.scenario))
	logs := datalog.NewSet(base, opts.logs, log)

	emuOpts := []core.Option{
		core.WithLogger(log),
		core.WithMetrics(collector),
		core.WithOutput(stdout),
		core.WithTracer(tracer),
		core.WithDataLogger(logs),
	}
	if opts.trace {
		d := debug.New()
		d.SetTrace(stdout)
		emuOpts = append(emuOpts, core.WithHook(d))
	}
	if opts.profile != 0 {
		name := fmt.Sprintf("%s_%d.pr", base, opts.profile)
		f, err := os.Create(name)
		if err != nil {
			return core.Result{}, errors.Wrapf(err, "unable to open profile file %s", name)
		}
		emuOpts = append(emuOpts, core.WithProfile(f))
	}

	e := core.New(cfg, emuOpts...)
	defer func() {
		if err := e.Close(); err != nil {
			log.Warn(ctx, "failed to close emulator outputs", logging.Err(err))
		}
	}()

	for _, path := range opts.programs {
		p, err := asm.ParseFile(path)
		if err != nil {
			return core.Result{}, err
		}
		if err := e.AddPrototype(p); err != nil {
			return core.Result{}, errors.Wrapf(err, "load %s", path)
		}
		log.Debug(ctx, "program loaded",
			logging.String("path", path),
			logging.String("prototype", p.Name),
			logging.Uint32("size", p.ProgramSize()))
	}

	f, err := os.Open(opts.scenario)
	if err != nil {
		return core.Result{}, errors.Wrap(err, "open scenario")
	}
	sc, err := core.LoadScenario(e, f)
	f.Close()
	if err != nil {
		return core.Result{}, err
	}
	for _, ch := range sc.Channels {
		if _, err := logs.Open(datalog.Spec(ch)); err != nil {
			return core.Result{}, err
		}
	}
	log.Info(ctx, "scenario loaded",
		logging.String("scenario", opts.scenario),
		logging.Int("nodes", len(sc.NodeIDs)),
		logging.Int("links", sc.Links),
		logging.Int("vector_links", sc.VectorLinks),
		logging.Int("sources", len(sc.Sources)),
		logging.Int("channels", len(sc.Channels)))

	healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	start := time.Now()
	res, err := e.Run(ctx)
	collector.ObserveRun(time.Since(start))
	return res, err
}

// runLogger returns the run logger stored on ctx by run.
func runLogger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return logging.Noop()
}

func serveMetrics(ctx context.Context, addr string, collector *observability.EmulatorCollector) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	log := runLogger(ctx)
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(ctx, "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(ctx, "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

// serveHealth exposes the standard gRPC health service. The emulator
// service reports SERVING while a run is in progress. Server spans go to tp.
func serveHealth(ctx context.Context, addr string, hs *health.Server, collector *observability.EmulatorCollector, tp trace.TracerProvider) (*grpc.Server, error) {
	hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
	if addr == "" {
		return nil, nil
	}
	log := runLogger(ctx)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler(otelgrpc.WithTracerProvider(tp))),
		grpc.ChainUnaryInterceptor(
			collector.UnaryServerInterceptor(),
		),
	)
	healthpb.RegisterHealthServer(server, hs)

	log.Info(ctx, "starting gRPC health server", logging.String("addr", lis.Addr().String()))
	go func() {
		if err := server.Serve(lis); err != nil {
			log.Error(ctx, "gRPC server exited", logging.Err(err))
		}
	}()
	return server, nil
}
