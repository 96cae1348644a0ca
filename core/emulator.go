// core/emulator.go
package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/signalsfoundry/nodesim/internal/logging"
	"github.com/signalsfoundry/nodesim/kb"
	"github.com/signalsfoundry/nodesim/model"
	"github.com/signalsfoundry/nodesim/timectrl"
)

// Config holds the tunables of an emulator run. Zero fields take the
// defaults of DefaultConfig.
type Config struct {
	// StackSize is the stack of the main process and of interrupt handlers, in words.
	StackSize uint32
	// MaxProcesses bounds the live processes of one node.
	MaxProcesses int
	// IdleLimit is the number of consecutive idle iterations that end the
	// run with a timeout.
	IdleLimit uint64
	// Tickrate is the initial clock interrupt period of every node.
	Tickrate uint64

	ArithmeticChecking bool
	Monitor            bool
	TimeStamps         bool

	// ProfileNode selects the node whose procedures are profiled; 0 disables it.
	ProfileNode uint32
	// MetricsInterval is the number of instructions between metric flushes.
	MetricsInterval uint64
}

// DefaultConfig returns the settings of the reference machine.
func DefaultConfig() Config {
	return Config{
		StackSize:       10000,
		MaxProcesses:    10000,
		IdleLimit:       1_000_000,
		Tickrate:        timectrl.DefaultTickrate,
		MetricsInterval: 4096,
	}
}

// ApplyDefaults fills zero fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.StackSize == 0 {
		c.StackSize = def.StackSize
	}
	if c.MaxProcesses <= 0 {
		c.MaxProcesses = def.MaxProcesses
	}
	if c.IdleLimit == 0 {
		c.IdleLimit = def.IdleLimit
	}
	if c.Tickrate == 0 {
		c.Tickrate = def.Tickrate
	}
	if c.MetricsInterval == 0 {
		c.MetricsInterval = def.MetricsInterval
	}
}

// Hook lets a debugger observe and intercept execution.
type Hook interface {
	// BeforeInstruction is called before every instruction is executed.
	BeforeInstruction(n *Node, pc uint32)
	// Breakpoint is called when a DEBUG instruction is reached and returns
	// the instruction it replaced, which is then executed.
	Breakpoint(n *Node, pc uint32) (model.Instruction, error)
}

// DataLogger samples node globals into output channels.
type DataLogger interface {
	// Update is called at every periodic tick (periodic true) and before
	// every packet send (periodic false).
	Update(node uint32, ticks uint64, globals []int32, periodic bool)
	Close() error
}

// MetricsRecorder receives counters from the emulator.
// observability.EmulatorCollector satisfies it.
type MetricsRecorder interface {
	AddInstructions(instructions, ticks uint64)
	IncPacket()
	IncInterrupt(clock bool)
	IncRewind()
	IncBarrierRelease()
	IncWarning(code int)
	SetLive(nodes, processes int)
	SetSearchLength(avg float64)
}

type noopMetrics struct{}

func (noopMetrics) AddInstructions(uint64, uint64) {}
func (noopMetrics) IncPacket()                     {}
func (noopMetrics) IncInterrupt(bool)              {}
func (noopMetrics) IncRewind()                     {}
func (noopMetrics) IncBarrierRelease()             {}
func (noopMetrics) IncWarning(int)                 {}
func (noopMetrics) SetLive(int, int)               {}
func (noopMetrics) SetSearchLength(float64)        {}

// Option customises an Emulator.
type Option func(*Emulator)

// WithLogger sets the structured logger. Without it, Run uses the logger
// carried by its context, if any.
func WithLogger(l logging.Logger) Option {
	return func(e *Emulator) {
		if l != nil {
			e.log = l
			e.logSet = true
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Emulator) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithHook installs a debugger hook.
func WithHook(h Hook) Option {
	return func(e *Emulator) { e.hook = h }
}

// WithOutput redirects program output, which defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(e *Emulator) {
		if w != nil {
			e.out = w
		}
	}
}

// WithTracer sets the OpenTelemetry tracer used by Run.
func WithTracer(t trace.Tracer) Option {
	return func(e *Emulator) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithDataLogger attaches output channels.
func WithDataLogger(d DataLogger) Option {
	return func(e *Emulator) { e.datalog = d }
}

// WithProfile writes the profile of Config.ProfileNode to w.
func WithProfile(w io.Writer) Option {
	return func(e *Emulator) { e.profileOut = w }
}

// State describes the outcome of a Step.
type State int

const (
	StateRunning State = iota
	StateFinished
	StateTimedOut
)

// Result summarises a completed run.
type Result struct {
	TimedOut bool
	Stats    Stats
}

// Emulator is the simulation context: the registered prototypes and nodes,
// the time queue and the run statistics. It is not safe for concurrent use.
type Emulator struct {
	cfg Config

	log        logging.Logger
	logSet     bool
	metrics    MetricsRecorder
	hook       Hook
	datalog    DataLogger
	tracer     trace.Tracer
	out        io.Writer
	profileOut io.Writer

	ctx  context.Context
	span trace.Span

	prototypes map[string]*prototype
	pending    []*Node
	nodes      *table[Node]
	topo       *kb.Topology

	queue     timeQueue
	current   *Node
	liveNodes int
	liveProcs int
	syncCount int
	idle      uint64

	started  bool
	finished bool
	closed   bool
	timedOut bool

	stats     Stats
	startWall time.Time
	profile   *profiler

	unflushedInstr uint64
	unflushedTicks uint64
}

// New constructs an emulator.
func New(cfg Config, opts ...Option) *Emulator {
	cfg.ApplyDefaults()
	e := &Emulator{
		cfg:        cfg,
		log:        logging.Noop(),
		metrics:    noopMetrics{},
		tracer:     noop.NewTracerProvider().Tracer("nodesim"),
		out:        os.Stdout,
		ctx:        context.Background(),
		span:       trace.SpanFromContext(context.Background()),
		prototypes: make(map[string]*prototype),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Emulator) Config() Config { return e.cfg }

// AddPrototype validates and registers a program image.
func (e *Emulator) AddPrototype(p *model.Prototype) error {
	if e.started {
		return ErrStarted
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if _, exists := e.prototypes[p.Name]; exists {
		return fmt.Errorf("prototype %q: %w", p.Name, ErrPrototypeExists)
	}
	e.prototypes[p.Name] = &prototype{Prototype: p}
	return nil
}

// AddNode clones the named prototype as node id with the given interrupt
// vectors. Nodes join the time queue in registration order.
func (e *Emulator) AddNode(id uint32, protoName string, vectors []model.InterruptVector) error {
	if e.started {
		return ErrStarted
	}
	if id == 0 {
		return ErrInvalidNodeID
	}
	for _, n := range e.pending {
		if n.id == id {
			return fmt.Errorf("node %d: %w", id, ErrNodeExists)
		}
	}
	proto, ok := e.prototypes[protoName]
	if !ok {
		return fmt.Errorf("node %d: %w %q", id, ErrUnknownPrototype, protoName)
	}
	for _, v := range vectors {
		if v.Address < 1 || v.Address > proto.ProgramSize() {
			return fmt.Errorf("node %d: vector for source %d: %w", id, v.Source, model.ErrInvalidLabel)
		}
	}
	n, err := newNode(id, proto, vectors, e.cfg.Tickrate, 2*e.cfg.MaxProcesses)
	if err != nil {
		return err
	}
	proto.copies++
	e.pending = append(e.pending, n)
	return nil
}

// SetTopology installs the packet routing graph.
func (e *Emulator) SetTopology(t *kb.Topology) error {
	if e.started {
		return ErrStarted
	}
	e.topo = t
	return nil
}

// FindNode returns the live node with the given id, or nil.
func (e *Emulator) FindNode(id uint32) *Node {
	if e.nodes == nil {
		for _, n := range e.pending {
			if n.id == id {
				return n
			}
		}
		return nil
	}
	return e.nodes.find(id)
}

// Nodes returns the live nodes in time-queue order.
func (e *Emulator) Nodes() []*Node {
	if !e.started {
		return append([]*Node(nil), e.pending...)
	}
	return e.queue.nodes()
}

// LiveNodes returns the number of nodes that have not exited.
func (e *Emulator) LiveNodes() int { return e.liveNodes }

// Finished reports whether the run has ended.
func (e *Emulator) Finished() bool { return e.finished }

// Start builds the node table, creates the main process of every node and
// fills the time queue. Step calls it on first use.
func (e *Emulator) Start() error {
	if e.started {
		return nil
	}
	if len(e.pending) == 0 {
		return ErrNoNodes
	}
	size := 10
	if len(e.pending) >= 5 {
		size = 2 * len(e.pending)
	}
	e.nodes = newTable(size, nodeKey)

	var err error
	e.guard(func() {
		for _, n := range e.pending {
			if !e.nodes.insert(n) {
				fatalf(CodeNodeTableFull, "node hash table overflow (%d)", size)
			}
			p := e.createProcess(n, n.pc, e.cfg.StackSize, PriorityProcess)
			n.restore(p)
			n.push(0) // frame pointer of main's caller
			n.push(0) // return address; returning from main ends the process
		}
	}, &err)
	if err != nil {
		e.finished = true
		return err
	}

	if e.cfg.ProfileNode != 0 {
		if n := e.FindNode(e.cfg.ProfileNode); n != nil {
			e.profile = newProfiler(n, e.profileOut)
		}
	}

	e.queue.reset(e.pending)
	e.liveNodes = len(e.pending)
	e.pending = nil
	e.started = true
	e.startWall = time.Now()
	e.metrics.SetLive(e.liveNodes, e.liveProcs)
	e.log.Info(e.ctx, "emulation started",
		logging.Int("nodes", e.liveNodes),
		logging.Int("links", e.topo.LinkCount()))
	return nil
}

// Step performs one iteration of the main loop: the periodic tick and DMA
// countdown of the earliest node, then either one instruction of its
// current process or an idle skip to its next tick. Fatal runtime errors
// are returned as *Error and end the run.
func (e *Emulator) Step() (State, error) {
	if !e.started {
		if err := e.Start(); err != nil {
			return StateFinished, err
		}
	}
	if e.finished {
		if e.timedOut {
			return StateTimedOut, ErrFinished
		}
		return StateFinished, ErrFinished
	}

	var (
		state State
		err   error
	)
	e.guard(func() { state = e.step() }, &err)
	if err != nil {
		e.finished = true
		e.flushMetrics()
		return StateFinished, err
	}
	if state != StateRunning {
		e.finished = true
		e.timedOut = state == StateTimedOut
		e.finish()
	}
	return state, nil
}

func (e *Emulator) step() State {
	n := e.queue.front()
	e.current = n

	if n.ticks >= n.lastClock+n.tickrate {
		if !n.syncWait {
			for p := n.procs; p != nil; p = p.next {
				if p.status == Delaying && p.dticks > 0 {
					p.dticks--
				}
			}
			e.updateLogs(n, true)
			e.Interrupt(n, 0, 0)
			e.Reschedule(n)
		}
		n.lastClock += n.tickrate
	}

	if n.dmaTicks > 0 {
		n.dmaTicks--
		if n.dmaTicks == 0 && !n.syncWait {
			e.Reschedule(n)
		}
	}

	if n.current == nil {
		if n.dmaTicks == 0 {
			n.ticks = n.lastClock + n.tickrate
			e.queue.reorder(n)
		}
		e.idle++
		if e.idle > e.cfg.IdleLimit {
			return StateTimedOut
		}
		return StateRunning
	}
	e.idle = 0

	if n.pc < 1 || int(n.pc) >= len(n.code) {
		fatalf(CodePCOutOfRange, "PC out of range node=%d PC=%d", n.id, n.pc)
	}
	ins := n.code[n.pc]
	cost := ins.Op.Cost()
	n.ticks += cost
	e.stats.ProcessingTicks += cost
	e.stats.Instructions++
	e.unflushedInstr++
	e.unflushedTicks += cost
	if e.profile != nil && e.profile.node == n.id {
		e.profile.charge(n.pc, cost)
	}
	if e.hook != nil {
		e.hook.BeforeInstruction(n, n.pc)
	}

	if removed := e.execute(n, ins); !removed {
		e.queue.reorder(n)
	}

	if e.unflushedInstr >= e.cfg.MetricsInterval {
		e.flushMetrics()
	}
	if e.liveNodes == 0 {
		return StateFinished
	}
	return StateRunning
}

// guard runs fn and converts a raised runtime fault into *err.
func (e *Emulator) guard(fn func(), err *error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		re, ok := r.(*Error)
		if !ok {
			panic(r)
		}
		if n := e.current; n != nil && re.Node == 0 {
			re.Node, re.PC, re.Line = n.id, n.pc, n.line(n.pc)
		}
		fmt.Fprintln(e.out, re.Error())
		e.log.Error(e.ctx, "runtime error",
			logging.Int("code", re.Code),
			logging.Uint32("node", re.Node),
			logging.Uint32("pc", re.PC),
			logging.String("msg", re.Msg))
		e.span.RecordError(re)
		e.span.SetStatus(codes.Error, re.Msg)
		*err = re
	}()
	fn()
}

// fatalf raises a runtime fault; Step recovers it and ends the run.
func fatalf(code int, format string, args ...any) {
	panic(&Error{Code: code, Msg: fmt.Sprintf(format, args...)})
}

// warnf reports a non-fatal runtime condition and continues.
func (e *Emulator) warnf(n *Node, code int, format string, args ...any) {
	w := &Error{Code: code, Node: n.id, PC: n.pc, Line: n.line(n.pc), Msg: fmt.Sprintf(format, args...)}
	fmt.Fprintln(e.out, w.Error())
	e.log.Warn(e.ctx, "runtime warning",
		logging.Int("code", code),
		logging.Uint32("node", n.id),
		logging.Uint32("pc", n.pc),
		logging.String("msg", w.Msg))
	e.stats.Warnings++
	e.metrics.IncWarning(code)
}

func (e *Emulator) updateLogs(n *Node, periodic bool) {
	if e.datalog != nil {
		e.datalog.Update(n.id, n.ticks, n.globals, periodic)
	}
}

func (e *Emulator) flushMetrics() {
	e.metrics.AddInstructions(e.unflushedInstr, e.unflushedTicks)
	e.unflushedInstr, e.unflushedTicks = 0, 0
	e.metrics.SetLive(e.liveNodes, e.liveProcs)
	e.metrics.SetSearchLength(e.queue.avgSearches)
}

// finish collects the statistics of a completed run.
func (e *Emulator) finish() {
	e.flushMetrics()
	if e.timedOut {
		fmt.Fprintln(e.out, "Timeout:")
		e.span.AddEvent("timeout")
		// Nodes still alive contribute their clocks to the total.
		for _, n := range e.queue.nodes() {
			e.stats.TotalTicks += n.ticks
		}
	}
	if e.profile != nil && !e.profile.closed {
		if n := e.FindNode(e.profile.node); n != nil {
			e.closeProfile(n)
		}
	}
	e.stats.AverageSearch = e.queue.avgSearches
	e.stats.Wall = time.Since(e.startWall)
	e.log.Info(e.ctx, "emulation finished",
		logging.Any("timed_out", e.timedOut),
		logging.Uint64("instructions", e.stats.Instructions),
		logging.Uint64("processing_ticks", e.stats.ProcessingTicks))
}

// Stats returns the statistics gathered so far.
func (e *Emulator) Stats() Stats {
	s := e.stats
	s.AverageSearch = e.queue.avgSearches
	return s
}

// Run steps until every node has exited, the idle limit is reached, a fatal
// error occurs or ctx is cancelled.
func (e *Emulator) Run(ctx context.Context) (Result, error) {
	if !e.logSet {
		if l := logging.LoggerFromContext(ctx); l != nil {
			e.log = l
		}
	}
	ctx, span := e.tracer.Start(ctx, "emulator.run")
	defer span.End()
	e.ctx, e.span = ctx, span
	defer func() {
		e.ctx = context.Background()
		e.span = trace.SpanFromContext(e.ctx)
	}()

	if err := e.Start(); err != nil {
		return Result{}, err
	}
	span.SetAttributes(
		attribute.Int("nodes", e.liveNodes),
		attribute.Int("links", e.topo.LinkCount()),
	)

	for i := 0; ; i++ {
		if i&1023 == 0 {
			if err := ctx.Err(); err != nil {
				e.flushMetrics()
				return Result{Stats: e.Stats()}, err
			}
		}
		state, err := e.Step()
		if err != nil {
			return Result{Stats: e.Stats()}, err
		}
		switch state {
		case StateTimedOut:
			return Result{TimedOut: true, Stats: e.Stats()}, nil
		case StateFinished:
			return Result{Stats: e.Stats()}, nil
		}
	}
}

// Close releases the profile writer and output channels. It is safe to call
// on every exit path.
func (e *Emulator) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	var first error
	if e.profile != nil && !e.profile.closed {
		if n := e.FindNode(e.profile.node); n != nil {
			e.closeProfile(n)
		}
	}
	if c, ok := e.profileOut.(io.Closer); ok {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	if e.datalog != nil {
		if err := e.datalog.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
