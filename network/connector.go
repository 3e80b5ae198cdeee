package network

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = logrus.WithField("package", "network")

// Connector owns one TCP socket and moves length-prefixed frames between it
// and a pair of FIFO queues. A Sender and a Receiver worker run for as long
// as the socket is healthy.
type Connector struct {
	cfg    Config
	log    *logrus.Entry
	preset net.Listener

	mu   sync.Mutex
	link *link
	// non-nil while a Connect is in flight, closed when it finishes
	connecting chan struct{}
	connectErr error
	abort      context.CancelFunc
	closed     bool
}

// link is one established socket and the workers serving it.
type link struct {
	conn   net.Conn
	send   *queue
	recv   *queue
	cancel context.CancelFunc
	done   chan struct{}

	senderRunning   atomic.Bool
	receiverRunning atomic.Bool
}

func (l *link) alive() bool {
	return l.senderRunning.Load() && l.receiverRunning.Load()
}

// NewConnector creates an idle connector. Nothing touches the network until
// Connect is called.
func NewConnector(cfg Config) *Connector {
	cfg = cfg.withDefaults()
	preset := cfg.Listener
	cfg.Listener = nil
	return &Connector{
		cfg:    cfg,
		log:    log.WithField("role", cfg.Role.String()),
		preset: preset,
	}
}

// Config returns the connector's effective configuration.
func (c *Connector) Config() Config {
	return c.cfg
}

// Connect establishes the socket and starts the workers. A Responder binds,
// listens and accepts exactly one client; an Initiator dials, retrying on
// refusal. Calling Connect on a live connector does nothing, concurrent
// calls share one attempt, and a closed connector can't be reconnected.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	if wait := c.connecting; wait != nil {
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.link != nil && c.link.alive() {
			return nil
		}
		if c.connectErr != nil {
			return c.connectErr
		}
		return ErrConnectionDead
	}
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionDead
	}
	if c.link != nil && c.link.alive() {
		c.mu.Unlock()
		return nil
	}
	wait := make(chan struct{})
	ctx, abort := context.WithCancel(ctx)
	defer abort()
	c.connecting = wait
	c.connectErr = nil
	c.abort = abort
	c.mu.Unlock()

	conn, err := c.establish(ctx)
	if err == nil {
		err = applySocketOptions(conn, &c.cfg)
		if err != nil {
			c.log.WithError(err).Warn("could not set socket options")
			err = nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(wait)
	c.connecting = nil
	c.abort = nil

	if err == nil && c.closed {
		conn.Close()
		err = ErrConnectionDead
	}
	c.connectErr = err
	if err != nil {
		return err
	}
	c.link = c.start(conn)
	return nil
}

func (c *Connector) establish(ctx context.Context) (net.Conn, error) {
	if c.cfg.Role == Responder {
		return c.accept(ctx)
	}
	return c.dial(ctx)
}

// start spawns both workers on conn. c.mu must be held.
func (c *Connector) start(conn net.Conn) *link {
	ctx, cancel := context.WithCancel(context.Background())
	l := &link{
		conn:   conn,
		send:   newQueue(),
		recv:   newQueue(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	l.senderRunning.Store(true)
	l.receiverRunning.Store(true)

	g, gctx := errgroup.WithContext(ctx)
	// unblock the receiver whenever either worker gives up
	context.AfterFunc(gctx, func() { conn.SetReadDeadline(time.Now()) })
	g.Go(func() error {
		defer l.senderRunning.Store(false)
		return c.sender(gctx, conn, l.send)
	})
	g.Go(func() error {
		defer l.receiverRunning.Store(false)
		return c.receiver(gctx, conn, l.recv)
	})

	go func() {
		err := g.Wait()
		if err != nil {
			c.log.WithError(err).Info("connection closed")
		}
		conn.Close()
		close(l.done)
	}()

	c.log.WithFields(logrus.Fields{
		"local":  conn.LocalAddr().String(),
		"remote": conn.RemoteAddr().String(),
	}).Info("connection established")
	return l
}

// current returns the active link, if any.
func (c *Connector) current() *link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

func (c *Connector) accept(ctx context.Context) (net.Conn, error) {
	ln := c.preset
	c.preset = nil
	if ln == nil {
		host := c.cfg.Host
		if host == "" {
			ip, err := DefaultIP()
			if err != nil {
				c.log.WithError(err).Warn("could not resolve local address, listening on all interfaces")
			} else {
				host = ip.String()
			}
		}
		cfg := c.cfg
		cfg.Host = host

		var lc net.ListenConfig
		var err error
		ln, err = lc.Listen(ctx, "tcp", cfg.Address())
		if err != nil {
			return nil, err
		}
	}
	defer ln.Close()

	c.log.WithField("addr", ln.Addr().String()).Info("waiting for peer")

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}

func (c *Connector) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	addr := c.cfg.Address()

	var err error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		var conn net.Conn
		conn, err = d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, syscall.ECONNREFUSED) {
			return nil, err
		}

		c.log.WithFields(logrus.Fields{
			"addr":    addr,
			"attempt": attempt,
		}).Debug("connection refused")

		if attempt == c.cfg.MaxRetries {
			break
		}
		select {
		case <-time.After(c.cfg.RetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrRetriesExceeded, err)
}

// Send queues packet for transmission. It never blocks on the network.
func (c *Connector) Send(packet []byte) error {
	if len(packet) == 0 || len(packet) > c.cfg.MaxMessageSize {
		return ErrFrameSize
	}

	l := c.current()
	if l == nil || !l.alive() {
		return ErrConnectionDead
	}
	l.send.push(append([]byte(nil), packet...))
	return nil
}

// Receive pops the next received message without blocking. It returns nil
// and no error when nothing is waiting, and ErrConnectionDead once the queue
// is drained and the workers have stopped.
func (c *Connector) Receive() ([]byte, error) {
	l := c.current()
	if l == nil {
		return nil, ErrConnectionDead
	}
	if b, ok := l.recv.pop(); ok {
		return b, nil
	}
	if !l.alive() {
		return nil, ErrConnectionDead
	}
	return nil, nil
}

// ReceiveWait blocks until a message arrives, the connection dies, or ctx
// is done. A passed deadline is reported as ErrTimeout.
func (c *Connector) ReceiveWait(ctx context.Context) ([]byte, error) {
	l := c.current()
	if l == nil {
		return nil, ErrConnectionDead
	}

	for {
		if b, ok := l.recv.pop(); ok {
			return b, nil
		}
		select {
		case <-l.recv.ready():
		case <-l.done:
			// one last look, the receiver may have queued before exiting
			if b, ok := l.recv.pop(); ok {
				return b, nil
			}
			return nil, ErrConnectionDead
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
			}
			return nil, ctx.Err()
		}
	}
}

// IsAlive reports whether both workers are running.
func (c *Connector) IsAlive() bool {
	l := c.current()
	return l != nil && l.alive()
}

// Pending returns the number of messages waiting to be sent. After Close it
// is the number that were discarded.
func (c *Connector) Pending() int {
	l := c.current()
	if l == nil {
		return 0
	}
	return l.send.len()
}

// LocalAddr returns the local end of the socket, or nil before Connect.
func (c *Connector) LocalAddr() net.Addr {
	l := c.current()
	if l == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// RemoteAddr returns the peer's end of the socket, or nil before Connect.
func (c *Connector) RemoteAddr() net.Addr {
	l := c.current()
	if l == nil {
		return nil
	}
	return l.conn.RemoteAddr()
}

// Close stops both workers, waits for them to exit and closes the socket.
// A write already in progress is given closeGrace to finish; queued messages
// behind it are dropped. Close is safe to call more than once and aborts a
// Connect still dialing or accepting.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.abort != nil {
		c.abort()
	}
	l := c.link
	c.mu.Unlock()

	if l == nil {
		return nil
	}

	l.conn.SetWriteDeadline(time.Now().Add(closeGrace))
	l.cancel()
	<-l.done

	c.log.Debug("connector closed")
	return nil
}

// sender writes queued messages to the socket, one frame per write.
func (c *Connector) sender(ctx context.Context, conn net.Conn, q *queue) error {
	for {
		for ctx.Err() == nil {
			packet, ok := q.pop()
			if !ok {
				break
			}
			frame := make([]byte, headerSize+len(packet))
			binary.BigEndian.PutUint32(frame, uint32(len(packet)))
			copy(frame[headerSize:], packet)

			_, err := conn.Write(frame)
			if err != nil {
				c.log.WithError(err).Debug("sender stopped")
				return err
			}
			c.log.WithField("bytes", len(packet)).Debug("sent")
		}

		select {
		case <-q.ready():
		case <-ctx.Done():
			return nil
		}
	}
}

// receiver reads one frame at a time from the socket into q.
func (c *Connector) receiver(ctx context.Context, conn net.Conn, q *queue) error {
	header := make([]byte, headerSize)
	for {
		_, err := io.ReadFull(conn, header)
		if err != nil {
			return c.receiveError(ctx, err)
		}

		n := binary.BigEndian.Uint32(header)
		if n == 0 || n > uint32(c.cfg.MaxMessageSize) {
			c.log.WithField("bytes", n).Warn("peer sent an invalid frame")
			return ErrFrameSize
		}

		packet := make([]byte, n)
		_, err = io.ReadFull(conn, packet)
		if err != nil {
			return c.receiveError(ctx, err)
		}
		c.log.WithField("bytes", n).Debug("received")
		q.push(packet)
	}
}

func (c *Connector) receiveError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		c.log.Info("peer closed the connection")
		return ErrConnectionDead
	}
	c.log.WithError(err).Debug("receiver stopped")
	return err
}
