package crypto

import (
	"crypto/aes"
	"errors"
)

const (
	// BlockSize is the AES block size, which is also the IV and MAC tag size.
	BlockSize = aes.BlockSize
	// KeySize is the size of every symmetric key used by the tunnel (AES-128).
	KeySize = 16

	// MACSize is the size of a CBC-MAC tag.
	MACSize = BlockSize
	// IVSize is the size of a CBC initialisation vector.
	IVSize = BlockSize

	// trailer is mac_iv + mac_tag appended to every steady-state message
	trailerSize = IVSize + MACSize
	// iv + one padded block
	minCipherSize = IVSize + BlockSize

	// DataMinSize is the smallest wire message that can possibly be valid.
	DataMinSize = minCipherSize + trailerSize
)

var (
	// ErrPadding represents all padding errors found while decrypting
	ErrPadding = errors.New("dhtunnel/crypto: invalid padding")
	// ErrMalformed occurs when ciphertext or a wire message has an invalid length
	ErrMalformed = errors.New("dhtunnel/crypto: malformed message")
	// ErrMAC occurs when a message fails CBC-MAC verification
	ErrMAC = errors.New("dhtunnel/crypto: mac verification failed")
)

// Key is a 16 byte symmetric key.
type Key [KeySize]byte

// IV is a 16 byte CBC initialisation vector.
type IV [IVSize]byte

// Tag is a 16 byte CBC-MAC tag.
type Tag [MACSize]byte
