// Package canmodule talks to the swerve module motor controllers over
// SocketCAN.
//
// Each controller answers a SYNC frame with one status frame carrying its
// rotor position and velocity, which is what RefreshAll relies on to take a
// coherent snapshot of every motor in one round trip.  Controllers can also
// be asked to stream status frames at a fixed rate.
package canmodule

import (
	"context"
	"encoding/binary"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// Frame IDs.  The low seven bits of status, command and config frames carry
// the controller's node ID.
const (
	SyncID      = 0x080
	StatusBase  = 0x180
	CommandBase = 0x200
	ConfigBase  = 0x600

	functionMask = 0x780
	nodeMask     = 0x07f
)

const configStatusPeriod = 0x01

// Socket is the subset of *canbus.Socket the bus needs.
type Socket interface {
	Send(canbus.Frame) (int, error)
	Recv() (canbus.Frame, error)
	Close() error
}

// Open binds a raw CAN socket to channel (e.g. "can0"), only receiving
// status frames.
func Open(channel string) (*canbus.Socket, error) {
	sock, err := canbus.New()
	if err != nil {
		return nil, errors.Wrap(err, "creating CAN socket")
	}
	if err := sock.Bind(channel); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "binding CAN socket to %s", channel), sock.Close())
	}
	if err := sock.SetFilters([]unix.CanFilter{{Id: StatusBase, Mask: functionMask}}); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "setting CAN status filter"), sock.Close())
	}
	return sock, nil
}

type Bus struct {
	sock   Socket
	clock  clock.Clock
	logger golog.Logger

	lock    sync.Mutex
	motors  map[uint8]*Motor
	epoch   uint64
	updated chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBus(sock Socket, clk clock.Clock, logger golog.Logger) *Bus {
	if clk == nil {
		clk = clock.New()
	}
	return &Bus{
		sock:    sock,
		clock:   clk,
		logger:  logger,
		motors:  map[uint8]*Motor{},
		updated: make(chan struct{}),
	}
}

// Motor returns the controller with the given node ID, creating it on first
// use.
func (b *Bus) Motor(id uint8, name string) *Motor {
	b.lock.Lock()
	defer b.lock.Unlock()
	if m, ok := b.motors[id&nodeMask]; ok {
		return m
	}
	m := &Motor{bus: b, id: id & nodeMask, name: name}
	b.motors[m.id] = m
	return m
}

// Start runs the receive loop until ctx is done or the bus is closed.
func (b *Bus) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.recvLoop(ctx)
	}()
}

func (b *Bus) recvLoop(ctx context.Context) {
	var lastWarning time.Time
	for ctx.Err() == nil {
		f, err := b.sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if b.clock.Since(lastWarning) > time.Second {
				b.logger.Warnw("CAN receive failed", "error", err)
				lastWarning = b.clock.Now()
			}
			b.clock.Sleep(10 * time.Millisecond)
			continue
		}
		b.handleFrame(f)
	}
}

func (b *Bus) handleFrame(f canbus.Frame) {
	if f.Kind != canbus.SFF || f.ID&functionMask != StatusBase {
		return
	}
	if len(f.Data) < 8 {
		b.logger.Debugw("short status frame", "id", f.ID, "len", len(f.Data))
		return
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	m, ok := b.motors[uint8(f.ID&nodeMask)]
	if !ok {
		return
	}
	m.position = float64(math.Float32frombits(binary.LittleEndian.Uint32(f.Data[0:4])))
	m.velocity = float64(math.Float32frombits(binary.LittleEndian.Uint32(f.Data[4:8])))
	m.epoch = b.epoch
	m.lastUpdate = b.clock.Now()
	close(b.updated)
	b.updated = make(chan struct{})
}

// RefreshAll sends a SYNC and waits until every motor has reported since,
// or timeout passes.  On timeout the error names each motor that stayed
// silent; the others are still fresh.
func (b *Bus) RefreshAll(timeout time.Duration) error {
	b.lock.Lock()
	b.epoch++
	epoch := b.epoch
	b.lock.Unlock()

	sync := canbus.Frame{ID: SyncID, Data: []byte{byte(epoch)}, Kind: canbus.SFF}
	if _, err := b.sock.Send(sync); err != nil {
		return errors.Wrap(err, "sending SYNC")
	}

	timer := b.clock.Timer(timeout)
	defer timer.Stop()
	for {
		b.lock.Lock()
		stale := b.staleLocked(epoch)
		updated := b.updated
		b.lock.Unlock()
		if len(stale) == 0 {
			return nil
		}
		select {
		case <-updated:
		case <-timer.C:
			var err error
			for _, m := range stale {
				err = multierr.Append(err, errors.Errorf("%s (node %d) silent for %v", m.name, m.id, timeout))
			}
			return err
		}
	}
}

func (b *Bus) staleLocked(epoch uint64) []*Motor {
	var stale []*Motor
	for _, m := range b.motors {
		if m.epoch < epoch {
			stale = append(stale, m)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].id < stale[j].id })
	return stale
}

func (b *Bus) send(f canbus.Frame) error {
	_, err := b.sock.Send(f)
	return err
}

// Close stops the receive loop and closes the socket.
func (b *Bus) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	err := b.sock.Close()
	b.wg.Wait()
	return err
}
