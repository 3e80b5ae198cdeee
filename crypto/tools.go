package crypto

import (
	"crypto/rand"
	"encoding/hex"
	hashLib "hash"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/hkdf"
)

var sessionInfo = []byte("session")

// LongTermKey derives the long-term key from the shared passphrase.
func LongTermKey(secret string) Key {
	return hash([]byte(secret))
}

// MACKey derives the MAC key from the long-term key.
func MACKey(longTerm Key) Key {
	return hash(longTerm[:])
}

// SessionKey turns the raw Diffie-Hellman secret into the AES key used for
// application traffic.
func SessionKey(secret []byte) (Key, error) {
	var key Key
	err := deriveKey(secret, nil, key[:])
	return key, err
}

// Fingerprint returns a short printable digest of b. It is safe to log.
func Fingerprint(b []byte) string {
	sum := hash(b)
	return hex.EncodeToString(sum[:4])
}

// NewIV returns a random IV.
func NewIV() (*IV, error) {
	var iv IV
	_, err := io.ReadFull(rand.Reader, iv[:])
	if err != nil {
		return nil, err
	}
	return &iv, nil
}

// RandBytes returns n bytes from the system CSPRNG.
func RandBytes(n int) ([]byte, error) {
	out := make([]byte, n)
	_, err := io.ReadFull(rand.Reader, out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Zero fills all slices passed in with zeros.
func Zero(keys ...[]byte) {
	zeroBytes(keys...)
}

func zeroBytes(keys ...[]byte) {
	for _, key := range keys {
		for i := range key {
			key[i] = 0
		}
	}
}

// blake2b-128 unkeyed hash (16 bytes)
func hash(b []byte) (sum Key) {
	// can't fail with a nil key and a valid size
	h, _ := blake2b.New(KeySize, nil)
	h.Write(b)
	copy(sum[:], h.Sum(nil))
	return sum
}

// deriveKey uses a blake2s-based HKDF to fill out.
func deriveKey(secret, salt, out []byte) error {
	keyReader := hkdf.New(blake2s256Unkeyed, secret, salt, sessionInfo)
	_, err := io.ReadFull(keyReader, out)
	return err
}

// blake2s hash for the HKDF function
func blake2s256Unkeyed() hashLib.Hash {
	// this can't return an error if key is nil
	h, _ := blake2s.New256(nil)
	return h
}
