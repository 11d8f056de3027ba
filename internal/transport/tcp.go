package transport

import (
	"bufio"
	"context"
	"net"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mysensors/gwproxy/internal/protocol"
	"go.uber.org/zap"
)

// TCPClient dials a remote TCP peer, reconnecting with bounded backoff on
// disconnect.
type TCPClient struct {
	Addr string
	Log  *zap.Logger

	mu   sync.Mutex
	conn net.Conn
}

func (c *TCPClient) log() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log.With(zap.String("transport", "tcp_client"), zap.String("addr", c.Addr))
}

func (c *TCPClient) setConn(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *TCPClient) getConn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *TCPClient) dial(ctx context.Context, bo *backoff, log *zap.Logger) net.Conn {
	for {
		if ctx.Err() != nil {
			return nil
		}
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", c.Addr)
		if err != nil {
			log.Warn("dial failed, retrying", zap.Error(err))
			bo.wait(ctx)
			continue
		}
		bo.reset()
		return conn
	}
}

// ReadLoop reads newline-framed messages from the connection, redialing on
// disconnect.
func (c *TCPClient) ReadLoop(ctx context.Context, out chan<- protocol.LineMessage) {
	log := c.log()
	bo := newBackoff()

	for {
		conn := c.dial(ctx, bo, log)
		if conn == nil {
			return
		}
		c.setConn(conn)

		scanner := bufio.NewScanner(conn)
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
				conn.Close()
				return
			}
		}
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		log.Warn("connection lost, reconnecting")
	}
}

// WriteLoop writes every message from in to the current connection,
// waiting for ReadLoop to establish one if necessary.
func (c *TCPClient) WriteLoop(ctx context.Context, in <-chan protocol.LineMessage) {
	log := c.log()
	bo := newBackoff()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			conn := c.getConn()
			for conn == nil {
				bo.wait(ctx)
				if ctx.Err() != nil {
					return
				}
				conn = c.getConn()
			}
			if _, err := conn.Write([]byte(msg.Serialize())); err != nil {
				log.Warn("write failed", zap.Error(err))
			}
		}
	}
}

// Close closes the active connection, if any.
func (c *TCPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// TCPServer accepts a single client connection at a time; a new incoming
// connection replaces whatever client is currently attached.
type TCPServer struct {
	Addr string
	Log  *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
}

func (s *TCPServer) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log.With(zap.String("transport", "tcp_server"), zap.String("addr", s.Addr))
}

func (s *TCPServer) listen(ctx context.Context, bo *backoff, log *zap.Logger) net.Listener {
	s.mu.Lock()
	if s.listener != nil {
		l := s.listener
		s.mu.Unlock()
		return l
	}
	s.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return nil
		}
		l, err := net.Listen("tcp", s.Addr)
		if err != nil {
			log.Warn("listen failed, retrying", zap.Error(err))
			bo.wait(ctx)
			continue
		}
		s.mu.Lock()
		s.listener = l
		s.mu.Unlock()
		bo.reset()
		return l
	}
}

func (s *TCPServer) setConn(conn net.Conn) {
	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (s *TCPServer) getConn() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// ReadLoop accepts clients forever, replacing the current client whenever
// a new one connects, and forwards newline-framed messages from whichever
// client is active.
func (s *TCPServer) ReadLoop(ctx context.Context, out chan<- protocol.LineMessage) {
	log := s.log()
	bo := newBackoff()

	l := s.listen(ctx, bo, log)
	if l == nil {
		return
	}

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("accept failed, retrying", zap.Error(err))
			bo.wait(ctx)
			continue
		}
		bo.reset()
		s.setConn(conn)
		sessionID := uuid.New().String()
		log.Info("client connected", zap.String("session", sessionID), zap.String("remote", conn.RemoteAddr().String()))
		go s.serveClient(ctx, conn, out, log.With(zap.String("session", sessionID)))
	}
}

func (s *TCPServer) serveClient(ctx context.Context, conn net.Conn, out chan<- protocol.LineMessage, log *zap.Logger) {
	defer log.Info("client disconnected")
	scanner := bufio.NewScanner(conn)
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
			return
		}
	}
}

// WriteLoop writes every message from in to whichever client is currently
// connected; messages are dropped while no client is attached.
func (s *TCPServer) WriteLoop(ctx context.Context, in <-chan protocol.LineMessage) {
	log := s.log()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			conn := s.getConn()
			if conn == nil {
				continue
			}
			if _, err := conn.Write([]byte(msg.Serialize())); err != nil {
				log.Warn("write failed", zap.Error(err))
			}
		}
	}
}

// Close closes the listener and the active client connection, if any.
func (s *TCPServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
