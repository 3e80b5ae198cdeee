package kex

import "math/big"

// The 1536-bit MODP group from RFC 3526, section 2. The group is fixed and
// never negotiated.
const primeHex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
	"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
	"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
	"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
	"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
	"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA237327FFFFFFFFFFFFFFFF"

const (
	// PublicSize is the size of an encoded group element.
	PublicSize = 1536 / 8
	// ExponentBits is the number of random bits in an ephemeral exponent.
	ExponentBits = 128
)

var (
	prime     = mustHex(primeHex)
	generator = big.NewInt(2)

	// p - 2, the largest acceptable peer value
	maxPublic = new(big.Int).Sub(prime, big.NewInt(2))
	minPublic = big.NewInt(2)
)

func mustHex(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("kex: bad group constant")
	}
	return n
}

// Encode writes x as a fixed-size big-endian group element.
func Encode(x *big.Int) []byte {
	return x.FillBytes(make([]byte, PublicSize))
}

// Decode parses a big-endian group element.
func Decode(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// validPublic reports whether y is usable as a peer's public value. 0, 1 and
// p-1 would force the shared secret into a trivial subgroup.
func validPublic(y *big.Int) bool {
	return y.Cmp(minPublic) >= 0 && y.Cmp(maxPublic) <= 0
}
