// Package control serializes every machine transition. Timer ticks, coin
// events and remote set commands all converge on the same output write,
// persist and publish sequence, run under a single mutex.
package control

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/coin-relay/internal/logic"
	"github.com/sweeney/coin-relay/internal/status"
)

// Output is the logical relay output.
type Output interface {
	Set(on bool) error
	Get() (bool, error)
}

// StateStore persists the machine state.
type StateStore interface {
	Save(s logic.MachineState) error
}

// Publisher sends outward status reports.
type Publisher interface {
	PublishStatus(r status.Report) error
}

// Core owns the machine and its side effects.
type Core struct {
	mu        sync.Mutex
	machine   *logic.Machine
	out       Output
	store     StateStore
	pub       Publisher
	loc       *time.Location
	now       func() time.Time
	log       *zap.Logger
	observers []func(logic.Transition)
}

// New creates a Core. pub may be nil when nothing is published.
func New(machine *logic.Machine, out Output, store StateStore, pub Publisher, loc *time.Location, log *zap.Logger) *Core {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Core{
		machine: machine,
		out:     out,
		store:   store,
		pub:     pub,
		loc:     loc,
		now:     time.Now,
		log:     log.Named("control"),
	}
}

// Observe registers fn to be called after every committed transition.
// Observers run with the core locked and must not call back into it.
func (c *Core) Observe(fn func(logic.Transition)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// State returns the committed machine state.
func (c *Core) State() logic.MachineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.State()
}

// Window returns the activation window.
func (c *Core) Window() logic.TimeWindow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Window()
}

// SetWindow replaces the activation window. The next Tick uses it.
func (c *Core) SetWindow(w logic.TimeWindow) {
	c.mu.Lock()
	c.machine.SetWindow(w)
	c.mu.Unlock()
	c.log.Info("window updated", zap.Stringer("window", w))
}

// SetLocation changes the zone used for the window and report timestamps.
func (c *Core) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	c.mu.Lock()
	c.loc = loc
	c.mu.Unlock()
	c.log.Info("timezone updated", zap.String("timezone", loc.String()))
}

func (c *Core) clock() time.Time {
	return c.now().In(c.loc)
}

// Start drives the output to the restored state. Nothing is persisted.
func (c *Core) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.machine.State()
	if err := c.out.Set(s.On); err != nil {
		return fmt.Errorf("restore output %s: %w", logic.StateString(s.On), err)
	}
	c.log.Info("output restored",
		zap.String("machine", logic.StateString(s.On)),
		zap.Float64("total", s.Counter),
		zap.String("policy", string(c.machine.Policy())),
	)
	return nil
}

// Tick evaluates the schedule. Unchanged ticks cause no I/O.
func (c *Core) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	tr, ok := c.machine.Tick(c.clock())
	if !ok {
		return
	}
	if _, err := c.commitLocked(tr); err != nil {
		c.log.Error("schedule transition failed", zap.Error(err))
	}
}

// Coin handles one accepted coin insertion: the counter grows by one and the
// on/off bit flips. If the output cannot be written the coin is still counted.
func (c *Core) Coin() logic.Transition {
	c.mu.Lock()
	defer c.mu.Unlock()

	tr, err := c.commitLocked(c.machine.Coin(c.clock()))
	if err != nil {
		c.log.Error("coin transition failed", zap.Error(err))
	}
	return tr
}

// SetMachineOn sets the on/off bit to an explicit value. The output and the
// state file are updated before it returns.
func (c *Core) SetMachineOn(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.commitLocked(c.machine.Set(on, c.clock()))
	return err
}

// Report persists the current state and publishes it.
func (c *Core) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	s := c.machine.Touch(now)
	c.persistLocked(s)
	c.publishLocked(s, now)
}

// commitLocked writes the output, commits the machine, persists, publishes
// and notifies observers, in that order. When the output write fails the
// on/off bit keeps its previous value; if nothing else changed the transition
// is dropped. A failed save keeps the committed state in memory and is
// returned alongside any output error.
func (c *Core) commitLocked(tr logic.Transition) (logic.Transition, error) {
	var outErr error
	if err := c.out.Set(tr.To.On); err != nil {
		outErr = fmt.Errorf("write output: %w", err)
		tr.To.On = tr.From.On
		if tr.To.Counter == tr.From.Counter {
			return tr, outErr
		}
	}

	c.machine.Commit(tr)
	saveErr := c.persistLocked(tr.To)
	c.publishLocked(tr.To, tr.Time)

	c.log.Info("transition",
		zap.String("cause", string(tr.Cause)),
		zap.String("from", logic.StateString(tr.From.On)),
		zap.String("to", logic.StateString(tr.To.On)),
		zap.Float64("total", tr.To.Counter),
	)
	for _, fn := range c.observers {
		fn(tr)
	}
	if saveErr != nil {
		return tr, errors.Join(outErr, fmt.Errorf("save state: %w", saveErr))
	}
	return tr, outErr
}

func (c *Core) persistLocked(s logic.MachineState) error {
	err := c.store.Save(s)
	if err != nil {
		c.log.Error("persist state", zap.Error(err))
	}
	return err
}

func (c *Core) publishLocked(s logic.MachineState, now time.Time) {
	if c.pub == nil {
		return
	}
	if err := c.pub.PublishStatus(status.NewReport(s, now)); err != nil {
		c.log.Warn("publish status", zap.Error(err))
	}
}
