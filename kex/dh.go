package kex

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"

	"github.com/malcolmseyd/dhtunnel/crypto"
)

var exponentLimit = new(big.Int).Lsh(big.NewInt(1), ExponentBits)

// GenPublicTransport draws a fresh ephemeral exponent x and returns g^x mod p
// along with x. When authenticate is set the public value is encrypted under
// longTerm before being returned.
func GenPublicTransport(authenticate bool, longTerm crypto.Key) ([]byte, *big.Int, error) {
	return genPublicTransport(authenticate, longTerm, nil)
}

// GenSessionKey computes peer^exponent mod p. When authenticate is set the
// peer value is first decrypted under longTerm. A zero result is never
// returned alongside a nil error.
func GenSessionKey(peer []byte, exponent *big.Int, authenticate bool, longTerm crypto.Key) (*big.Int, error) {
	return genSessionKey(peer, exponent, authenticate, longTerm, nil)
}

// Erase overwrites the exponent's backing words and sets it to zero. It must
// be called as soon as the session key has been derived.
func Erase(exponent *big.Int) {
	if exponent == nil {
		return
	}
	words := exponent.Bits()
	for i := range words {
		words[i] = 0
	}
	exponent.SetInt64(0)
}

// IsInvalid reports whether key is the sentinel for a failed exchange.
func IsInvalid(key *big.Int) bool {
	return key == nil || key.Sign() == 0
}

func newExponent() (*big.Int, error) {
	for {
		x, err := rand.Int(rand.Reader, exponentLimit)
		if err != nil {
			return nil, err
		}
		// 0 and 1 give a public value an observer can recognise
		if x.Cmp(big.NewInt(1)) > 0 {
			return x, nil
		}
	}
}

// genPublicTransport optionally binds payload in front of the public value
// inside the same ciphertext.
func genPublicTransport(authenticate bool, longTerm crypto.Key, payload []byte) ([]byte, *big.Int, error) {
	x, err := newExponent()
	if err != nil {
		return nil, nil, err
	}

	pub := Encode(new(big.Int).Exp(generator, x, prime))
	if !authenticate {
		return pub, x, nil
	}

	plaintext := make([]byte, 0, len(payload)+PublicSize)
	plaintext = append(plaintext, payload...)
	plaintext = append(plaintext, pub...)
	sealed, err := crypto.Encrypt(plaintext, longTerm, nil)
	crypto.Zero(plaintext)
	if err != nil {
		Erase(x)
		return nil, nil, err
	}
	return sealed, x, nil
}

// genSessionKey decrypts peer under longTerm when authenticate is set and
// checks that it starts with expected before using the public value.
func genSessionKey(peer []byte, exponent *big.Int, authenticate bool, longTerm crypto.Key, expected []byte) (*big.Int, error) {
	invalid := new(big.Int)

	if exponent == nil || exponent.Sign() == 0 {
		return invalid, ErrInvalidSessionKey
	}

	var y *big.Int
	if authenticate {
		plaintext, err := crypto.Decrypt(peer, longTerm)
		if err != nil {
			return invalid, ErrAuthentication
		}
		y, err = openPublic(plaintext, expected)
		if err != nil {
			return invalid, err
		}
	} else if len(peer) != PublicSize {
		return invalid, ErrMalformed
	} else {
		y = Decode(peer)
	}

	if !validPublic(y) {
		return invalid, ErrInvalidSessionKey
	}

	key := new(big.Int).Exp(y, exponent, prime)
	if key.Cmp(big.NewInt(1)) <= 0 {
		return invalid, ErrInvalidSessionKey
	}
	return key, nil
}

// openPublic checks that plaintext is expected ++ public value and decodes
// the value. plaintext is wiped before returning.
func openPublic(plaintext, expected []byte) (*big.Int, error) {
	defer crypto.Zero(plaintext)

	if len(plaintext) != len(expected)+PublicSize {
		return nil, ErrAuthentication
	}
	if subtle.ConstantTimeCompare(plaintext[:len(expected)], expected) != 1 {
		return nil, ErrAuthentication
	}
	return Decode(plaintext[len(expected):]), nil
}
