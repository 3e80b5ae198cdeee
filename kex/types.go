package kex

import (
	"errors"

	"github.com/malcolmseyd/dhtunnel/crypto"
)

const (
	// NonceSize is the size of a handshake nonce.
	NonceSize = 16
	// IdentitySize is the size of an identity marker (IPv4 octets).
	IdentitySize = 4

	// nonce + identity
	triggerSize = NonceSize + IdentitySize

	// identity + trigger nonce tail, exactly one block
	responseAuthSize = IdentitySize + NonceSize - IdentitySize
	// identity + full responder nonce
	finalAuthSize = IdentitySize + NonceSize

	// nonce + sealed(auth + public)
	responseSize = NonceSize + crypto.IVSize + (responseAuthSize+PublicSize)/crypto.BlockSize*crypto.BlockSize + crypto.BlockSize
	// sealed(auth + public)
	finalSize = crypto.IVSize + (finalAuthSize+PublicSize)/crypto.BlockSize*crypto.BlockSize + crypto.BlockSize
)

var (
	// ErrAuthentication is returned when the peer did not prove knowledge of
	// the long-term key, or bound the wrong identity or nonce.
	ErrAuthentication = errors.New("dhtunnel/kex: handshake authentication failed")
	// ErrInvalidSessionKey is returned when the derived session key is the
	// invalid sentinel.
	ErrInvalidSessionKey = errors.New("dhtunnel/kex: invalid session key")
	// ErrMalformed occurs on a handshake message of the wrong size
	ErrMalformed = errors.New("dhtunnel/kex: malformed handshake message")
)

// Nonce is a per-handshake random value.
type Nonce [NonceSize]byte

// Identity is the 4-octet address marker a peer binds into the handshake.
type Identity [IdentitySize]byte

// Trigger is the initiator's first message.
type Trigger struct {
	Nonce    Nonce
	Identity Identity
}

// Response is the responder's reply to a Trigger.
type Response struct {
	Nonce  Nonce
	Public []byte
}

// Final is the initiator's last message.
type Final struct {
	Public []byte
}
