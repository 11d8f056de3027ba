package transport

import (
	"bufio"
	"context"
	"sync"
	"unicode/utf8"

	"github.com/mysensors/gwproxy/internal/protocol"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Serial connects to a local serial device, 8N1, at a fixed baud rate.
type Serial struct {
	Port string
	Baud int
	Log  *zap.Logger

	mu   sync.Mutex
	port serial.Port
}

func (s *Serial) open() (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: s.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(s.Port, mode)
}

func (s *Serial) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log.With(zap.String("transport", "serial"), zap.String("port", s.Port))
}

// ReadLoop produces one LineMessage per well-formed \n-terminated line,
// reconnecting with bounded backoff on I/O failure.
func (s *Serial) ReadLoop(ctx context.Context, out chan<- protocol.LineMessage) {
	log := s.log()
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		port, err := s.open()
		if err != nil {
			log.Warn("serial open failed, retrying", zap.Error(err))
			bo.wait(ctx)
			continue
		}
		s.mu.Lock()
		s.port = port
		s.mu.Unlock()
		bo.reset()

		scanner := bufio.NewScanner(port)
		for scanner.Scan() {
			line := scanner.Bytes()
			if !utf8.Valid(line) {
				log.Warn("skipping non-UTF-8 line")
				continue
			}
			msg, err := protocol.Parse(string(line))
			if err != nil {
				log.Warn("dropping malformed frame", zap.Error(err))
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				port.Close()
				return
			}
		}
		port.Close()

		if ctx.Err() != nil {
			return
		}
		log.Warn("serial read loop ended, reconnecting")
		bo.wait(ctx)
	}
}

// WriteLoop writes each message from in to the serial port, reconnecting
// with bounded backoff if the port is unavailable.
func (s *Serial) WriteLoop(ctx context.Context, in <-chan protocol.LineMessage) {
	log := s.log()
	bo := newBackoff()

	for {
		s.mu.Lock()
		port := s.port
		s.mu.Unlock()

		if port == nil {
			var err error
			port, err = s.open()
			if err != nil {
				log.Warn("serial open failed for writer, retrying", zap.Error(err))
				bo.wait(ctx)
				continue
			}
			s.mu.Lock()
			s.port = port
			s.mu.Unlock()
		}
		bo.reset()
		break
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			s.mu.Lock()
			port := s.port
			s.mu.Unlock()
			if port == nil {
				continue
			}
			if _, err := port.Write([]byte(msg.Serialize())); err != nil {
				log.Warn("serial write failed", zap.Error(err))
			}
		}
	}
}

// Close closes the underlying serial port, if open.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return s.port.Close()
	}
	return nil
}
