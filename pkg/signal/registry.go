// Package signal holds the table of sampled drivetrain signals.
//
// A Registry is built once while the drivetrain initialises: each sensor
// backend registers a Producer per physical quantity and gets back a bounded
// queue that the odometry sampler fills.  Once the sampler starts the
// registry is sealed and further registration is a programming error.
package signal

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edaniels/golog"
)

// Producer returns the current value of one physical quantity.
type Producer func() float64

// StatusSignal is a hardware signal that is refreshed in bulk by the
// hardware backend before each sampling pass.
type StatusSignal interface {
	Name() string
	// Value returns the value cached by the last bulk refresh.
	Value() float64
	// SetUpdateFrequency asks the device to publish the signal at hz, with
	// reads older than timeout considered stale.
	SetUpdateFrequency(hz float64, timeout time.Duration) error
}

type Options struct {
	Capacity       int
	UpdateRate     float64
	RefreshTimeout time.Duration
}

type input struct {
	name     string
	producer Producer
	queue    *Queue
}

type Registry struct {
	logger golog.Logger
	opts   Options

	// odometryLock is held by the sampler while it writes a pass and by the
	// consumer for the whole of a drain.
	odometryLock sync.Mutex

	regLock       sync.Mutex
	sealed        atomic.Bool
	inputs        []*input
	byName        map[string]*input
	statusSignals []StatusSignal
	timestamps    *Queue
}

func NewRegistry(opts Options, logger golog.Logger) *Registry {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	return &Registry{
		logger:     logger,
		opts:       opts,
		byName:     map[string]*input{},
		timestamps: NewQueue(opts.Capacity),
	}
}

// Register adds a producer and returns the queue its samples land in.
// Panics if the registry is sealed or the name is already taken.
func (r *Registry) Register(name string, producer Producer) Reader {
	r.regLock.Lock()
	defer r.regLock.Unlock()
	return r.registerLocked(name, producer)
}

// RegisterStatusSignal registers a hardware signal.  The signal also takes
// part in the backend's bulk refresh.
func (r *Registry) RegisterStatusSignal(s StatusSignal) Reader {
	r.regLock.Lock()
	defer r.regLock.Unlock()

	q := r.registerLocked(s.Name(), s.Value)
	if r.opts.UpdateRate > 0 {
		if err := s.SetUpdateFrequency(r.opts.UpdateRate, r.opts.RefreshTimeout); err != nil {
			r.logger.Warnw("failed to set signal update frequency; using device default",
				"signal", s.Name(), "error", err)
		}
	}
	r.statusSignals = append(r.statusSignals, s)
	return q
}

func (r *Registry) registerLocked(name string, producer Producer) *Queue {
	if r.sealed.Load() {
		panic(fmt.Sprintf("signal: %q registered after sampling started", name))
	}
	if producer == nil {
		panic(fmt.Sprintf("signal: %q registered with nil producer", name))
	}
	if _, ok := r.byName[name]; ok {
		panic(fmt.Sprintf("signal: %q registered twice", name))
	}
	in := &input{
		name:     name,
		producer: producer,
		queue:    NewQueue(r.opts.Capacity),
	}
	r.inputs = append(r.inputs, in)
	r.byName[name] = in
	r.logger.Debugw("registered signal", "signal", name, "capacity", r.opts.Capacity)
	return in.queue
}

// Seal ends the registration phase.  It is called by the sampler on start.
func (r *Registry) Seal() {
	r.regLock.Lock()
	defer r.regLock.Unlock()
	r.sealed.Store(true)
}

func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

func (r *Registry) StatusSignals() []StatusSignal {
	r.regLock.Lock()
	defer r.regLock.Unlock()
	return append([]StatusSignal(nil), r.statusSignals...)
}

// Names returns the registered signal names in sorted order.
func (r *Registry) Names() []string {
	r.regLock.Lock()
	defer r.regLock.Unlock()
	names := make([]string, 0, len(r.inputs))
	for _, in := range r.inputs {
		names = append(names, in.name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Queue(name string) (Reader, bool) {
	r.regLock.Lock()
	defer r.regLock.Unlock()
	in, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return in.queue, true
}

// Timestamps is the queue of sampling-pass times, aligned with the signal
// queues.
func (r *Registry) Timestamps() Reader {
	return r.timestamps
}

func (r *Registry) LockOdometry() {
	r.odometryLock.Lock()
}

func (r *Registry) UnlockOdometry() {
	r.odometryLock.Unlock()
}

// Sample performs one sampling pass: every producer is called once and its
// value queued, then the pass time is queued.
func (r *Registry) Sample(timestampSecs float64) {
	r.LockOdometry()
	defer r.UnlockOdometry()
	r.SampleLocked(timestampSecs)
}

// SampleLocked is Sample for callers already holding the odometry lock.
func (r *Registry) SampleLocked(timestampSecs float64) {
	r.SampleSignalsLocked()
	r.timestamps.Push(timestampSecs)
}

// SampleSignalsLocked queues one value from every producer without recording
// a pass time.  Used where timestamps are synthesised by the sampler.  Every
// producer is read before anything is queued, so a producer that panics
// leaves all the queues untouched.
func (r *Registry) SampleSignalsLocked() {
	values := make([]float64, len(r.inputs))
	for i, in := range r.inputs {
		values[i] = in.producer()
	}
	for i, in := range r.inputs {
		in.queue.Push(values[i])
	}
}

// DrainSignalsLocked drains every signal queue.  The caller must hold the
// odometry lock so that the result lines up with the drained timestamps.
func (r *Registry) DrainSignalsLocked() map[string][]float64 {
	out := make(map[string][]float64, len(r.inputs))
	for _, in := range r.inputs {
		out[in.name] = in.queue.Drain()
	}
	return out
}
