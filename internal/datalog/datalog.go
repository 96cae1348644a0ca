// Package datalog records node globals into named output channels. A
// channel samples a fixed list of global words through a printf format,
// either at periodic clock ticks or just before each packet the node sends.
package datalog

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/signalsfoundry/nodesim/internal/cfmt"
	"github.com/signalsfoundry/nodesim/internal/logging"
)

const (
	MaxChannels = 1000
	MaxOffsets  = 1000
)

// Spec describes one channel. Times are in ticks.
type Spec struct {
	Node      uint32
	Prototype string
	Name      string
	Format    string
	Start     uint64
	Stop      uint64
	Interval  uint64
	// Periodic channels sample on clock ticks, event channels on sends.
	Periodic bool
	Offsets  []uint32
}

// FileName returns the file a channel is written to under base.
func FileName(base string, s Spec) string {
	return fmt.Sprintf("%s_%s_%d_%s.dat", base, s.Prototype, s.Node, s.Name)
}

// Channel is one open output channel.
type Channel struct {
	spec    Spec
	w       io.Writer
	closer  io.Closer
	lastLog uint64
	samples uint64
}

// AddOffset appends a global word to the sampled list.
func (c *Channel) AddOffset(off uint32) error {
	if len(c.spec.Offsets) >= MaxOffsets {
		return fmt.Errorf("datalog: channel %s: too many offsets (%d)", c.spec.Name, MaxOffsets)
	}
	c.spec.Offsets = append(c.spec.Offsets, off)
	return nil
}

// Samples returns the number of lines written so far.
func (c *Channel) Samples() uint64 { return c.samples }

// Set is the collection of channels of a run. It implements the emulator's
// data logger and, like the emulator, is used from one goroutine.
type Set struct {
	base   string
	files  bool
	log    logging.Logger
	byNode map[uint32][]*Channel
	all    []*Channel
	err    error
}

// NewSet returns an empty set. With files enabled, Open creates one file
// per channel named by FileName; otherwise channels opened without a
// writer discard their output.
func NewSet(base string, files bool, log logging.Logger) *Set {
	if log == nil {
		log = logging.Noop()
	}
	return &Set{
		base:   base,
		files:  files,
		log:    log,
		byNode: make(map[uint32][]*Channel),
	}
}

// Open adds a channel writing to its own file, or to io.Discard when the
// set was created without files.
func (s *Set) Open(spec Spec) (*Channel, error) {
	if !s.files {
		return s.OpenWriter(spec, io.Discard)
	}
	name := FileName(s.base, spec)
	f, err := os.Create(name)
	if err != nil {
		return nil, fmt.Errorf("datalog: unable to open log file %s: %w", name, err)
	}
	c, err := s.OpenWriter(spec, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	c.closer = f
	return c, nil
}

// OpenWriter adds a channel writing to w.
func (s *Set) OpenWriter(spec Spec, w io.Writer) (*Channel, error) {
	if len(s.all) >= MaxChannels {
		return nil, fmt.Errorf("datalog: too many log files (%d)", MaxChannels)
	}
	if len(spec.Offsets) > MaxOffsets {
		return nil, fmt.Errorf("datalog: channel %s: too many offsets (%d)", spec.Name, len(spec.Offsets))
	}
	spec.Offsets = append([]uint32(nil), spec.Offsets...)
	c := &Channel{spec: spec, w: w}
	s.all = append(s.all, c)
	s.byNode[spec.Node] = append(s.byNode[spec.Node], c)
	s.log.Debug(context.Background(), "log channel opened",
		logging.String("channel", spec.Name),
		logging.Uint32("node", spec.Node),
		logging.Any("periodic", spec.Periodic))
	return c, nil
}

// Channels returns the open channels in opening order.
func (s *Set) Channels() []*Channel { return s.all }

// Update samples every channel of node whose mode matches periodic, whose
// window contains ticks and, for periodic channels, whose interval has
// elapsed since the previous sample.
func (s *Set) Update(node uint32, ticks uint64, globals []int32, periodic bool) {
	for _, c := range s.byNode[node] {
		sp := &c.spec
		if sp.Periodic != periodic || ticks < sp.Start || ticks > sp.Stop {
			continue
		}
		if periodic && ticks < c.lastLog+sp.Interval {
			continue
		}
		args := make([]int32, len(sp.Offsets))
		for i, off := range sp.Offsets {
			if int(off) < len(globals) {
				args[i] = globals[off]
			}
		}
		if err := cfmt.Fprintf(c.w, sp.Format, args, nil); err != nil && s.err == nil {
			s.err = err
			s.log.Warn(context.Background(), "log channel write failed",
				logging.String("channel", sp.Name),
				logging.Err(err))
		}
		c.lastLog = ticks
		c.samples++
	}
}

// Close closes every channel file and reports the first write or close
// error.
func (s *Set) Close() error {
	first := s.err
	for _, c := range s.all {
		if c.closer == nil {
			continue
		}
		if err := c.closer.Close(); err != nil && first == nil {
			first = err
		}
		c.closer = nil
	}
	return first
}
