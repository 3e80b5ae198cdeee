package tunnel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/malcolmseyd/dhtunnel/crypto"
	"github.com/malcolmseyd/dhtunnel/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 10 * time.Second

// configs returns matching initiator and responder configs on a loopback
// listener.
func configs(t *testing.T, initSecret, respSecret string) (Config, Config) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(ln.Addr().(*net.TCPAddr).Port)

	ini := Config{
		Network: network.Config{
			Role:       network.Initiator,
			Host:       "127.0.0.1",
			Port:       port,
			RetryDelay: 10 * time.Millisecond,
		},
		Secret:           initSecret,
		HandshakeTimeout: waitFor,
	}
	resp := Config{
		Network: network.Config{
			Role:     network.Responder,
			Listener: ln,
		},
		Secret:           respSecret,
		HandshakeTimeout: waitFor,
	}
	return ini, resp
}

// start connects both machines and waits for both handshakes to finish.
func start(t *testing.T, initSecret, respSecret string) (*Machine, *Machine, error, error) {
	iniCfg, respCfg := configs(t, initSecret, respSecret)
	a, b := NewMachine(), NewMachine()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	require.NoError(t, b.Connect(respCfg))
	require.NoError(t, a.Connect(iniCfg))
	assert.Equal(t, Connecting, a.State())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	errA := a.WaitConnected(ctx)
	errB := b.WaitConnected(ctx)
	return a, b, errA, errB
}

// receive polls m until a message arrives.
func receive(t *testing.T, m *Machine) []byte {
	var got []byte
	require.Eventually(t, func() bool {
		b, ok := m.Receive()
		got = b
		return ok
	}, waitFor, 5*time.Millisecond)
	return got
}

func TestTunnel(t *testing.T) {
	a, b, errA, errB := start(t, "correcthorse", "correcthorse")
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, Connected, a.Poll())
	assert.Equal(t, Connected, b.Poll())
	assert.True(t, a.IsAlive())
	assert.True(t, b.IsAlive())

	assert.Equal(t, a.sess.keys.Session, b.sess.keys.Session)
	assert.Equal(t, a.sess.keys.MAC, b.sess.keys.MAC)

	require.NoError(t, a.Send([]byte("hello")))
	assert.Equal(t, "hello", string(receive(t, b)))

	require.NoError(t, b.Send([]byte("hi there")))
	require.NoError(t, b.Send([]byte("second")))
	assert.Equal(t, "hi there", string(receive(t, a)))
	assert.Equal(t, "second", string(receive(t, a)))

	assert.Equal(t, Stats{Sent: 1, Received: 2}, a.Stats())
	assert.Equal(t, Stats{Sent: 2, Received: 1}, b.Stats())

	// nothing waiting
	_, ok := b.Receive()
	assert.False(t, ok)
}

func TestWrongSecret(t *testing.T) {
	a, b, errA, errB := start(t, "correcthorse", "wrongsecret")
	assert.ErrorIs(t, errA, ErrHandshake)
	assert.ErrorIs(t, errB, ErrHandshake)

	assert.Equal(t, Disconnected, a.Poll())
	assert.Equal(t, Disconnected, b.Poll())
	assert.False(t, a.IsAlive())
	assert.ErrorIs(t, a.Send([]byte("hello")), ErrNotConnected)
}

func TestConnectIdempotent(t *testing.T) {
	_, respCfg := configs(t, "correcthorse", "correcthorse")
	m := NewMachine()
	defer m.Close()

	require.NoError(t, m.Connect(respCfg))
	task := m.task
	require.NoError(t, m.Connect(respCfg))
	assert.Equal(t, Connecting, m.Poll())
	assert.Same(t, task, m.task, "second connect should not start a new handshake")

	require.NoError(t, m.Close())
	assert.Equal(t, Disconnected, m.State())
	assert.NoError(t, m.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, m.WaitConnected(ctx), ErrNotConnected)
}

func TestDroppedMessages(t *testing.T) {
	a, b, errA, errB := start(t, "correcthorse", "correcthorse")
	require.NoError(t, errA)
	require.NoError(t, errB)

	packet, err := crypto.SealMessage([]byte("once"), &a.sess.keys)
	require.NoError(t, err)

	// replayed
	require.NoError(t, a.sess.conn.Send(packet))
	require.NoError(t, a.sess.conn.Send(packet))
	assert.Equal(t, "once", string(receive(t, b)))

	// tampered
	packet, err = crypto.SealMessage([]byte("twice"), &a.sess.keys)
	require.NoError(t, err)
	packet[0] ^= 1
	require.NoError(t, a.sess.conn.Send(packet))

	require.Eventually(t, func() bool {
		b.Receive()
		return b.Stats().Dropped == 2
	}, waitFor, 5*time.Millisecond)

	// still usable afterwards
	require.NoError(t, a.Send([]byte("after")))
	assert.Equal(t, "after", string(receive(t, b)))
	assert.Equal(t, uint64(2), b.Stats().Received)
}

func TestPeerDisconnect(t *testing.T) {
	a, b, errA, errB := start(t, "correcthorse", "correcthorse")
	require.NoError(t, errA)
	require.NoError(t, errB)

	require.NoError(t, a.Close())
	assert.Equal(t, Disconnected, a.State())
	assert.ErrorIs(t, a.Send([]byte("late")), ErrNotConnected)

	require.Eventually(t, func() bool {
		return b.Poll() == Disconnected
	}, waitFor, 5*time.Millisecond)
	assert.False(t, b.IsAlive())
}

func TestHandshakeTimeout(t *testing.T) {
	_, respCfg := configs(t, "correcthorse", "correcthorse")
	respCfg.HandshakeTimeout = 50 * time.Millisecond
	m := NewMachine()
	defer m.Close()

	require.NoError(t, m.Connect(respCfg))
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	err := m.WaitConnected(ctx)
	assert.ErrorIs(t, err, ErrHandshake)
	assert.Equal(t, Disconnected, m.State())
}
