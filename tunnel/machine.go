package tunnel

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/malcolmseyd/dhtunnel/antireplay"
	"github.com/malcolmseyd/dhtunnel/crypto"
	"github.com/malcolmseyd/dhtunnel/kex"
	"github.com/malcolmseyd/dhtunnel/network"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("package", "tunnel")

// handshakeTask is one background connection attempt. sess and err are set
// before done is closed.
type handshakeTask struct {
	done   chan struct{}
	cancel context.CancelFunc
	conn   *network.Connector
	sess   *session
	err    error
}

// abandon stops the attempt and discards whatever it produces.
func (t *handshakeTask) abandon() {
	t.cancel()
	t.conn.Close()
	go func() {
		<-t.done
		if t.sess != nil {
			t.sess.close()
		}
	}()
}

// Machine drives one tunnel endpoint through Disconnected, Connecting and
// Connected. All methods are safe for concurrent use.
type Machine struct {
	mu    sync.Mutex
	state State
	log   *logrus.Entry

	// set while Connecting
	task *handshakeTask

	// set while Connected
	sess *session

	sent     atomic.Uint64
	received atomic.Uint64
	dropped  atomic.Uint64
}

// NewMachine returns a Disconnected machine.
func NewMachine() *Machine {
	return &Machine{log: log}
}

// State returns the current state without advancing the machine.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns the message counters for the current or last session.
func (m *Machine) Stats() Stats {
	return Stats{
		Sent:     m.sent.Load(),
		Received: m.received.Load(),
		Dropped:  m.dropped.Load(),
	}
}

// Connect starts the connector and the handshake in the background and moves
// the machine to Connecting. Use Poll or WaitConnected to learn the outcome.
// Connecting while already Connecting or Connected is a no-op.
func (m *Machine) Connect(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Disconnected {
		m.log.Info("already connected")
		return nil
	}

	longTerm := crypto.LongTermKey(cfg.Secret)
	keys := crypto.Keys{MAC: crypto.MACKey(longTerm)}

	var ctx context.Context
	var cancel context.CancelFunc
	if cfg.HandshakeTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), cfg.HandshakeTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	task := &handshakeTask{
		done:   make(chan struct{}),
		cancel: cancel,
		conn:   network.NewConnector(cfg.Network),
	}

	m.log = log.WithField("role", cfg.Network.Role.String())
	m.sent.Store(0)
	m.received.Store(0)
	m.dropped.Store(0)

	m.task = task
	m.state = Connecting
	m.log.Info("connecting")

	go func() {
		defer close(task.done)
		defer cancel()
		sess, err := handshake(ctx, task.conn, longTerm, keys)
		if err != nil {
			task.conn.Close()
			keys.Zero()
			task.err = fmt.Errorf("%w: %w", ErrHandshake, err)
			return
		}
		sess.replay = antireplay.NewFilter(cfg.ReplayWindow)
		task.sess = sess
	}()
	return nil
}

// handshake brings up the socket and runs the key exchange for our role.
func handshake(ctx context.Context, conn *network.Connector, longTerm crypto.Key, keys crypto.Keys) (*session, error) {
	err := conn.Connect(ctx)
	if err != nil {
		return nil, err
	}

	p := kex.Params{
		LongTerm: longTerm,
		Local:    kex.Identity(network.Identity(conn.LocalAddr())),
		Remote:   kex.Identity(network.Identity(conn.RemoteAddr())),
	}

	var secret *big.Int
	if conn.Config().Role == network.Responder {
		secret, err = kex.Respond(ctx, conn, &p)
	} else {
		secret, err = kex.Initiate(ctx, conn, &p)
	}
	p.LongTerm = crypto.Key{}
	if err != nil {
		return nil, err
	}

	encoded := kex.Encode(secret)
	kex.Erase(secret)
	keys.Session, err = crypto.SessionKey(encoded)
	crypto.Zero(encoded)
	if err != nil {
		return nil, err
	}
	return &session{keys: keys, conn: conn}, nil
}

// Poll advances the machine without blocking. While Connecting it checks
// whether the handshake finished; while Connected it checks that the
// connector is still alive. It returns the resulting state.
func (m *Machine) Poll() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Connecting:
		m.tryFinish()
	case Connected:
		m.checkAlive()
	}
	return m.state
}

// WaitConnected blocks until the handshake finishes or ctx is done. It
// returns nil once Connected and the handshake's error otherwise.
func (m *Machine) WaitConnected(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case Connected:
		m.mu.Unlock()
		return nil
	case Disconnected:
		m.mu.Unlock()
		return ErrNotConnected
	}
	task := m.task
	m.mu.Unlock()

	select {
	case <-task.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.task == task {
		m.finish()
	}
	// someone else may have applied the result first
	if task.err != nil {
		return task.err
	}
	if m.state != Connected {
		return ErrNotConnected
	}
	return nil
}

// tryFinish applies the handshake result if it is ready. m.mu must be held.
func (m *Machine) tryFinish() {
	select {
	case <-m.task.done:
		m.finish()
	default:
	}
}

// finish moves out of Connecting once the task is done. m.mu must be held.
func (m *Machine) finish() {
	task := m.task
	m.task = nil

	if task.err != nil {
		m.state = Disconnected
		m.log.WithError(task.err).Error("handshake failed")
		return
	}

	m.sess = task.sess
	m.state = Connected
	m.log.WithFields(logrus.Fields{
		"peer":        m.sess.conn.RemoteAddr().String(),
		"fingerprint": crypto.Fingerprint(m.sess.keys.Session[:]),
	}).Info("connected")
}

// checkAlive drops a session whose connector died. m.mu must be held.
func (m *Machine) checkAlive() bool {
	if m.sess.conn.IsAlive() {
		return true
	}
	m.log.Info("connection lost")
	m.sess.close()
	m.sess = nil
	m.state = Disconnected
	return false
}

// Send encrypts and authenticates plaintext and queues it for the peer.
func (m *Machine) Send(plaintext []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Connected || !m.checkAlive() {
		return ErrNotConnected
	}
	err := m.sess.seal(plaintext)
	if err != nil {
		if errors.Is(err, network.ErrConnectionDead) {
			m.checkAlive()
			return ErrNotConnected
		}
		return err
	}
	m.sent.Add(1)
	m.log.WithField("bytes", len(plaintext)).Debug("message sent")
	return nil
}

// Receive advances the machine like Poll and then tries to take one verified
// message from the peer. It returns false when nothing is waiting or the
// next message was dropped.
func (m *Machine) Receive() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Connecting:
		m.tryFinish()
		return nil, false
	case Disconnected:
		return nil, false
	}

	if !m.checkAlive() {
		return nil, false
	}

	packet, err := m.sess.conn.Receive()
	if err != nil {
		m.checkAlive()
		return nil, false
	}
	if packet == nil {
		return nil, false
	}

	plaintext, err := m.sess.open(packet)
	if err != nil {
		m.dropped.Add(1)
		m.log.WithError(err).WithField("bytes", len(packet)).Warn("dropped message")
		return nil, false
	}
	m.received.Add(1)
	m.log.WithField("bytes", len(plaintext)).Debug("message received")
	return plaintext, true
}

// IsAlive reports whether the machine is Connected with a live connector.
func (m *Machine) IsAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Connected && m.sess.conn.IsAlive()
}

// Close tears down the session or abandons a handshake in progress and
// returns the machine to Disconnected.
func (m *Machine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Connecting:
		m.task.abandon()
		m.task = nil
	case Connected:
		m.sess.close()
		m.sess = nil
	default:
		return nil
	}
	m.state = Disconnected
	m.log.Info("disconnected")
	return nil
}
