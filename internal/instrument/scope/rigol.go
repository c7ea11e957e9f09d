// Package scope reads measurements from a Rigol oscilloscope over SCPI on a
// raw TCP socket (port 5555 on DS1000Z and newer models).
package scope

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/specsweep/internal/errors"
	"codeberg.org/mutker/specsweep/internal/logger"
	"codeberg.org/mutker/specsweep/internal/sweep"
)

const (
	DefaultPort    = 5555
	DefaultTimeout = 5 * time.Second

	// The scope answers 9.9E37 when a measurement cannot be made, e.g. with
	// no signal on the channel.
	invalidReading = 9.9e37
)

// Rigol is an oscilloscope reachable over SCPI/TCP.
type Rigol struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
	mu      sync.Mutex
	logger  logger.Logger

	// Set when an exchange failed and a late reply may still be in flight.
	dirty bool
	// Number of *OPC? probes whose "1" has not been read back yet.
	pending int
}

// Dial connects to addr ("host" or "host:port").
func Dial(ctx context.Context, addr string, timeout time.Duration, log logger.Logger) (*Rigol, error) {
	errFactory := errors.New()
	if log == nil {
		log = logger.Nop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInstrumentOpen, fmt.Errorf("oscilloscope at %s: %w", addr, err))
	}

	r := &Rigol{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: timeout,
		logger:  log,
	}

	if idn, err := r.Identify(ctx); err == nil {
		log.Info().Str("address", addr).Str("idn", idn).Msg("Oscilloscope connected")
	} else {
		log.Warn().Err(err).Str("address", addr).Msg("Oscilloscope did not identify")
	}

	return r, nil
}

// Identify returns the *IDN? string.
func (r *Rigol) Identify(ctx context.Context) (string, error) {
	return r.query(ctx, "*IDN?")
}

// Start autoscales the display, sets the acquisition running and logs the
// resulting vertical scale of ch.
func (r *Rigol) Start(ctx context.Context, ch sweep.Channel) error {
	if err := r.write(ctx, ":AUToscale"); err != nil {
		return err
	}
	if err := r.write(ctx, ":RUN"); err != nil {
		return err
	}

	scale, err := r.VerticalScale(ctx, ch)
	if err != nil {
		r.logger.Warn().Err(err).Str("channel", string(ch)).Msg("Could not read vertical scale")
		return nil
	}
	r.logger.Info().Str("channel", string(ch)).Float64("volts_per_div", scale).Msg("Oscilloscope running")

	return nil
}

// VerticalScale returns the channel's volts per division.
func (r *Rigol) VerticalScale(ctx context.Context, ch sweep.Channel) (float64, error) {
	n, err := channelIndex(ch)
	if err != nil {
		return 0, err
	}

	return r.queryFloat(ctx, fmt.Sprintf(":CHANnel%d:SCALe?", n))
}

func (r *Rigol) ReadAvg(ctx context.Context, ch sweep.Channel) (float64, error) {
	return r.measure(ctx, "VAVG", ch)
}

func (r *Rigol) ReadMin(ctx context.Context, ch sweep.Channel) (float64, error) {
	return r.measure(ctx, "VMIN", ch)
}

func (r *Rigol) ReadMax(ctx context.Context, ch sweep.Channel) (float64, error) {
	return r.measure(ctx, "VMAX", ch)
}

func (r *Rigol) measure(ctx context.Context, item string, ch sweep.Channel) (float64, error) {
	n, err := channelIndex(ch)
	if err != nil {
		return 0, err
	}

	v, err := r.queryFloat(ctx, fmt.Sprintf(":MEASure:ITEM? %s,CHANnel%d", item, n))
	if err != nil {
		return 0, err
	}
	if v >= invalidReading {
		return 0, fmt.Errorf("%s on %s: no valid measurement", item, ch)
	}

	return v, nil
}

func channelIndex(ch sweep.Channel) (int, error) {
	n := ch.Index()
	if n == 0 {
		return 0, errors.New().WithData(errors.ErrInvalidChannel, ch)
	}

	return n, nil
}

func (r *Rigol) queryFloat(ctx context.Context, q string) (float64, error) {
	reply, err := r.query(ctx, q)
	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseFloat(reply, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: unexpected reply %q", q, reply)
	}

	return v, nil
}

func (r *Rigol) query(ctx context.Context, q string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dirty {
		if err := r.resync(ctx); err != nil {
			return "", fmt.Errorf("%s: link out of sync: %w", q, err)
		}
	}

	if err := r.send(ctx, q); err != nil {
		r.dirty = true
		return "", err
	}

	reply, err := r.reader.ReadString('\n')
	if err != nil {
		r.dirty = true
		return "", fmt.Errorf("%s: %w", q, err)
	}

	return strings.TrimSpace(reply), nil
}

// resync discards replies to earlier queries that timed out. The scope
// answers in order, so every line up to the answer of our own *OPC? probe is
// stale. Measurements are formatted like 1.000000e+00, never a bare "1".
func (r *Rigol) resync(ctx context.Context) error {
	if err := r.send(ctx, "*CLS;*OPC?"); err != nil {
		return err
	}
	r.pending++

	for r.pending > 0 {
		line, err := r.reader.ReadString('\n')
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) == "1" {
			r.pending--
			continue
		}
		r.logger.Debug().Str("reply", strings.TrimSpace(line)).Msg("Discarded stale reply")
	}

	r.dirty = false
	r.logger.Debug().Msg("Link resynchronized")

	return nil
}

func (r *Rigol) write(ctx context.Context, cmd string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.send(ctx, cmd)
}

func (r *Rigol) send(ctx context.Context, cmd string) error {
	deadline := time.Now().Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := r.conn.SetDeadline(deadline); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(r.conn, "%s\n", cmd); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}

	return nil
}

// Close drops the connection.
func (r *Rigol) Close() error {
	if err := r.conn.Close(); err != nil {
		return errors.New().Wrap(errors.ErrInstrumentClose, err)
	}

	return nil
}
