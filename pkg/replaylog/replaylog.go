// Package replaylog records odometry frames as a stream of YAML documents and
// plays them back into the REPLAY odometry sampler.
//
// The first document is a Header; every following document is one
// drivetrain.OdometryFrame.
package replaylog

import (
	"io"
	"os"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/drivetrain"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/odometry"
)

const Version = 1

type Header struct {
	Version int      `yaml:"version"`
	Mode    string   `yaml:"mode"`
	Signals []string `yaml:"signals"`
}

// Writer appends frames to a log.  Safe for concurrent use.
type Writer struct {
	lock   sync.Mutex
	enc    *yaml.Encoder
	closer io.Closer
	frames int
}

var _ drivetrain.Recorder = (*Writer)(nil)

// Create truncates path and writes the header.
func Create(path string, header Header) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "creating replay log")
	}
	w, err := NewWriter(f, header)
	if err != nil {
		return nil, multierr.Combine(err, f.Close())
	}
	w.closer = f
	return w, nil
}

func NewWriter(out io.Writer, header Header) (*Writer, error) {
	header.Version = Version
	w := &Writer{enc: yaml.NewEncoder(out)}
	if err := w.enc.Encode(header); err != nil {
		return nil, errors.Wrap(err, "writing replay log header")
	}
	return w, nil
}

func (w *Writer) Write(frame drivetrain.OdometryFrame) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.enc == nil {
		return errors.New("replay log is closed")
	}
	if err := w.enc.Encode(frame); err != nil {
		return errors.Wrapf(err, "writing replay frame %d", w.frames)
	}
	w.frames++
	return nil
}

// Frames is the number of frames written so far.
func (w *Writer) Frames() int {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.frames
}

func (w *Writer) Close() error {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.enc == nil {
		return nil
	}
	err := w.enc.Close()
	w.enc = nil
	if w.closer != nil {
		err = multierr.Append(err, w.closer.Close())
	}
	return err
}

// Reader plays a log back.  NextBatch and ReplayedSignals are called in
// pairs by the control loop, inside the odometry lock.
type Reader struct {
	header Header
	dec    *yaml.Decoder
	closer io.Closer
	logger golog.Logger

	pending map[string][]float64
	frames  int
	done    bool
}

var (
	_ odometry.ReplaySource   = (*Reader)(nil)
	_ drivetrain.SignalReplay = (*Reader)(nil)
)

func Open(path string, logger golog.Logger) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening replay log")
	}
	r, err := NewReader(f, logger)
	if err != nil {
		return nil, multierr.Combine(err, f.Close())
	}
	r.closer = f
	return r, nil
}

// NewReader reads and checks the header.
func NewReader(in io.Reader, logger golog.Logger) (*Reader, error) {
	r := &Reader{dec: yaml.NewDecoder(in), logger: logger}
	if err := r.dec.Decode(&r.header); err != nil {
		return nil, errors.Wrap(err, "reading replay log header")
	}
	if r.header.Version != Version {
		return nil, errors.Errorf("unsupported replay log version %d", r.header.Version)
	}
	return r, nil
}

func (r *Reader) Header() Header {
	return r.header
}

// NextBatch decodes the next frame.  A truncated or corrupt tail ends the
// replay rather than failing it.
func (r *Reader) NextBatch() (odometry.Batch, bool) {
	r.pending = nil
	if r.done {
		return odometry.Batch{}, false
	}
	var frame drivetrain.OdometryFrame
	if err := r.dec.Decode(&frame); err != nil {
		r.done = true
		if err != io.EOF {
			r.logger.Warnw("replay log ended early", "frames", r.frames, "error", err)
		}
		return odometry.Batch{}, false
	}
	r.frames++
	r.pending = frame.Signals
	return odometry.Batch{Timestamps: frame.Timestamps, Degraded: frame.Degraded}, true
}

// ReplayedSignals returns the signals recorded with the batch NextBatch
// last returned.
func (r *Reader) ReplayedSignals() map[string][]float64 {
	s := r.pending
	r.pending = nil
	return s
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
