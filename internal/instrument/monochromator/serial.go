// Package monochromator drives a monochromator over a serial line.
//
// The controller speaks a line protocol: one move command per wavelength,
// answered by a single acknowledgement line once the grating has settled.
// Both the command template and the acknowledgement are configurable so the
// adapter can follow the firmware of the attached unit.
package monochromator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/specsweep/internal/errors"
	"codeberg.org/mutker/specsweep/internal/logger"
	"github.com/tarm/serial"
)

const (
	DefaultBaud        = 19200
	DefaultMoveCommand = "GOTO %.3f"
	DefaultAck         = "OK"
	DefaultTimeout     = 30 * time.Second
)

// Config describes the serial link.
type Config struct {
	Port        string
	Baud        int
	MoveCommand string
	Ack         string
	Timeout     time.Duration
}

// DefaultConfig returns the link settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Baud:        DefaultBaud,
		MoveCommand: DefaultMoveCommand,
		Ack:         DefaultAck,
		Timeout:     DefaultTimeout,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Baud <= 0 {
		c.Baud = def.Baud
	}
	if c.MoveCommand == "" {
		c.MoveCommand = def.MoveCommand
	}
	if c.Ack == "" {
		c.Ack = def.Ack
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}

	return c
}

// Serial is a monochromator on a serial port.
type Serial struct {
	cfg    Config
	port   io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex
	logger logger.Logger

	// Acknowledgements still expected for moves whose reply timed out.
	owed int
}

// makeSerConf builds the 8N1 port configuration.
func makeSerConf(cfg Config) *serial.Config {
	return &serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: cfg.Timeout,
	}
}

// Open opens the serial port described by cfg.
func Open(cfg Config, log logger.Logger) (*Serial, error) {
	errFactory := errors.New()
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.Nop()
	}

	if cfg.Port == "" {
		return nil, errFactory.WithMessage(errors.ErrInvalidConfig, "monochromator port is not set")
	}

	port, err := serial.OpenPort(makeSerConf(cfg))
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInstrumentOpen, fmt.Errorf("monochromator on %s: %w", cfg.Port, err))
	}

	log.Info().Str("port", cfg.Port).Int("baud", cfg.Baud).Msg("Monochromator connected")

	return NewWithPort(port, cfg, log), nil
}

// NewWithPort wraps an already opened link.
func NewWithPort(port io.ReadWriteCloser, cfg Config, log logger.Logger) *Serial {
	if log == nil {
		log = logger.Nop()
	}

	return &Serial{
		cfg:    cfg.withDefaults(),
		port:   port,
		reader: bufio.NewReader(port),
		logger: log,
	}
}

// MoveTo commands a move and waits for the acknowledgement.
func (s *Serial) MoveTo(ctx context.Context, wavelength float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.drain()

	cmd := fmt.Sprintf(s.cfg.MoveCommand, wavelength)
	if _, err := io.WriteString(s.port, cmd+"\r\n"); err != nil {
		return fmt.Errorf("write %q: %w", cmd, err)
	}

	reply, err := s.reader.ReadString('\n')
	if err != nil {
		s.owed++
		return fmt.Errorf("await ack for %q: %w", cmd, err)
	}

	reply = strings.TrimSpace(reply)
	if !strings.EqualFold(reply, s.cfg.Ack) {
		return fmt.Errorf("move to %.3f nm rejected: %q", wavelength, reply)
	}

	s.logger.Debug().Float64("wavelength", wavelength).Msg("Monochromator moved")

	return nil
}

// drain consumes late replies to moves that timed out, so they are not taken
// for the acknowledgement of the next move. A unit that stays silent for a
// whole timeout is assumed to have dropped them.
func (s *Serial) drain() {
	for s.owed > 0 {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.logger.Warn().Err(err).Int("owed", s.owed).Msg("Late acknowledgement never arrived")
			s.owed = 0
			return
		}
		s.owed--
		s.logger.Debug().Str("reply", strings.TrimSpace(line)).Msg("Discarded late reply")
	}
}

// Close releases the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.port.Close(); err != nil {
		return errors.New().Wrap(errors.ErrInstrumentClose, err)
	}

	return nil
}
