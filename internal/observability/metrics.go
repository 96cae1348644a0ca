package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// EmulatorCollector bundles Prometheus metrics for emulator runs. It
// satisfies core.MetricsRecorder and provides helpers to wire the gRPC
// surface and the /metrics handler.
type EmulatorCollector struct {
	gatherer prometheus.Gatherer

	Instructions    prometheus.Counter
	Ticks           prometheus.Counter
	Packets         prometheus.Counter
	Interrupts      *prometheus.CounterVec
	Rewinds         prometheus.Counter
	BarrierReleases prometheus.Counter
	Warnings        *prometheus.CounterVec

	LiveNodes     prometheus.Gauge
	LiveProcesses prometheus.Gauge
	SearchLength  prometheus.Gauge

	RunDuration prometheus.Histogram

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewEmulatorCollector registers emulator metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewEmulatorCollector(reg prometheus.Registerer) (*EmulatorCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &EmulatorCollector{gatherer: gatherer}
	var err error

	counters := []struct {
		dst  *prometheus.Counter
		name string
		help string
	}{
		{&c.Instructions, "nodesim_instructions_total", "Bytecode instructions executed across all nodes."},
		{&c.Ticks, "nodesim_processing_ticks_total", "Node clock ticks spent executing instructions."},
		{&c.Packets, "nodesim_packets_delivered_total", "Packets delivered to destination nodes."},
		{&c.Rewinds, "nodesim_clock_rewinds_total", "Node clocks pulled back by packet delivery or barrier release."},
		{&c.BarrierReleases, "nodesim_barrier_releases_total", "Completed all-node synchronization barriers."},
	}
	for _, spec := range counters {
		*spec.dst, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: spec.name,
			Help: spec.help,
		}), spec.name)
		if err != nil {
			return nil, err
		}
	}

	c.Interrupts, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nodesim_interrupts_total",
		Help: "Interrupt handler processes started, labeled by kind (clock or packet).",
	}, []string{"kind"}), "nodesim_interrupts_total")
	if err != nil {
		return nil, err
	}
	c.Warnings, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nodesim_runtime_warnings_total",
		Help: "Non-fatal runtime diagnostics, labeled by code.",
	}, []string{"code"}), "nodesim_runtime_warnings_total")
	if err != nil {
		return nil, err
	}

	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.LiveNodes, "nodesim_live_nodes", "Nodes that have not exited."},
		{&c.LiveProcesses, "nodesim_live_processes", "Processes alive across all nodes."},
		{&c.SearchLength, "nodesim_queue_search_length", "Average buckets visited per time queue reorder."},
	}
	for _, spec := range gauges {
		*spec.dst, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: spec.name,
			Help: spec.help,
		}), spec.name)
		if err != nil {
			return nil, err
		}
	}

	c.RunDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "nodesim_run_duration_seconds",
		Help:    "Wall-clock duration of emulator runs.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}), "nodesim_run_duration_seconds")
	if err != nil {
		return nil, err
	}

	c.RPCRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nodesim_grpc_requests_total",
		Help: "Total number of handled RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "nodesim_grpc_requests_total")
	if err != nil {
		return nil, err
	}
	c.RPCDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nodesim_grpc_request_duration_seconds",
		Help:    "RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "nodesim_grpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *EmulatorCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EmulatorCollector) Handler() http.Handler {
	var gatherer prometheus.Gatherer
	if c != nil {
		gatherer = c.gatherer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// AddInstructions records a batch of executed instructions and their ticks.
func (c *EmulatorCollector) AddInstructions(instructions, ticks uint64) {
	if c == nil {
		return
	}
	c.Instructions.Add(float64(instructions))
	c.Ticks.Add(float64(ticks))
}

func (c *EmulatorCollector) IncPacket() {
	if c == nil {
		return
	}
	c.Packets.Inc()
}

func (c *EmulatorCollector) IncInterrupt(clock bool) {
	if c == nil {
		return
	}
	kind := "packet"
	if clock {
		kind = "clock"
	}
	c.Interrupts.WithLabelValues(kind).Inc()
}

func (c *EmulatorCollector) IncRewind() {
	if c == nil {
		return
	}
	c.Rewinds.Inc()
}

func (c *EmulatorCollector) IncBarrierRelease() {
	if c == nil {
		return
	}
	c.BarrierReleases.Inc()
}

func (c *EmulatorCollector) IncWarning(code int) {
	if c == nil {
		return
	}
	c.Warnings.WithLabelValues(strconv.Itoa(code)).Inc()
}

// SetLive updates the live node and process gauges.
func (c *EmulatorCollector) SetLive(nodes, processes int) {
	if c == nil {
		return
	}
	c.LiveNodes.Set(float64(nodes))
	c.LiveProcesses.Set(float64(processes))
}

func (c *EmulatorCollector) SetSearchLength(avg float64) {
	if c == nil {
		return
	}
	c.SearchLength.Set(avg)
}

// ObserveRun records the wall-clock duration of a finished run.
func (c *EmulatorCollector) ObserveRun(d time.Duration) {
	if c == nil {
		return
	}
	c.RunDuration.Observe(d.Seconds())
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *EmulatorCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		c.RPCRequests.WithLabelValues(service, method, code).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())

		return resp, err
	}
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
