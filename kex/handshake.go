package kex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/malcolmseyd/dhtunnel/crypto"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("package", "kex")

// Conn is the message transport a handshake runs over. ReceiveWait blocks
// until one whole message is available.
type Conn interface {
	Send(packet []byte) error
	ReceiveWait(ctx context.Context) ([]byte, error)
}

// Params holds the inputs both sides need for the authenticated exchange.
// Local and Remote are the identities of this end and the peer as seen on
// the connection.
type Params struct {
	LongTerm crypto.Key
	Local    Identity
	Remote   Identity
}

func newNonce() (n Nonce, err error) {
	b, err := crypto.RandBytes(NonceSize)
	if err != nil {
		return
	}
	copy(n[:], b)
	return
}

// Initiate runs the initiator side of the handshake and returns the shared
// session secret. On any failure the returned error wraps ErrAuthentication,
// ErrInvalidSessionKey, ErrMalformed, or a transport error.
func Initiate(ctx context.Context, conn Conn, p *Params) (*big.Int, error) {
	trigger := Trigger{Identity: p.Local}
	var err error
	trigger.Nonce, err = newNonce()
	if err != nil {
		return nil, err
	}

	log.WithField("identity", fmt.Sprint(p.Local[:])).Debug("sending handshake trigger")
	err = conn.Send(ConstructTrigger(&trigger))
	if err != nil {
		return nil, fmt.Errorf("send trigger: %w", err)
	}

	packet, err := conn.ReceiveWait(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for response: %w", err)
	}
	resp, err := ParseResponse(packet)
	if err != nil {
		return nil, err
	}

	// our own value is bound to our identity and the responder's nonce
	sealed, exponent, err := genPublicTransport(true, p.LongTerm, finalAuth(p.Local, resp.Nonce))
	if err != nil {
		return nil, err
	}
	defer Erase(exponent)

	key, err := genSessionKey(resp.Public, exponent, true, p.LongTerm, responseAuth(p.Remote, trigger.Nonce))
	Erase(exponent)
	if err != nil {
		return nil, err
	}
	log.Debug("responder authenticated")

	err = conn.Send(ConstructFinal(&Final{Public: sealed}))
	if err != nil {
		return nil, fmt.Errorf("send final: %w", err)
	}
	return key, nil
}

// Respond runs the responder side of the handshake and returns the shared
// session secret.
func Respond(ctx context.Context, conn Conn, p *Params) (*big.Int, error) {
	packet, err := conn.ReceiveWait(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for trigger: %w", err)
	}
	trigger, err := ParseTrigger(packet)
	if err != nil {
		return nil, err
	}
	if p.Remote != (Identity{}) && trigger.Identity != p.Remote {
		log.WithFields(logrus.Fields{
			"claimed":  fmt.Sprint(trigger.Identity[:]),
			"observed": fmt.Sprint(p.Remote[:]),
		}).Warn("trigger identity does not match peer address")
		return nil, ErrAuthentication
	}

	resp := Response{}
	resp.Nonce, err = newNonce()
	if err != nil {
		return nil, err
	}
	sealed, exponent, err := genPublicTransport(true, p.LongTerm, responseAuth(p.Local, trigger.Nonce))
	if err != nil {
		return nil, err
	}
	defer Erase(exponent)
	resp.Public = sealed

	log.Debug("sending handshake response")
	err = conn.Send(ConstructResponse(&resp))
	if err != nil {
		return nil, fmt.Errorf("send response: %w", err)
	}

	packet, err = conn.ReceiveWait(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for final: %w", err)
	}
	final, err := ParseFinal(packet)
	if err != nil {
		return nil, err
	}

	key, err := genSessionKey(final.Public, exponent, true, p.LongTerm, finalAuth(trigger.Identity, resp.Nonce))
	Erase(exponent)
	if err != nil {
		return nil, err
	}
	log.Debug("initiator authenticated")
	return key, nil
}
