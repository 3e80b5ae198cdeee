package crypto

import (
	"bytes"
	"io"
	"testing"

	"golang.org/x/crypto/hkdf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	key := LongTermKey("correcthorse")

	testCases := []struct {
		desc      string
		plaintext []byte
	}{
		{desc: "empty", plaintext: []byte{}},
		{desc: "short", plaintext: []byte("hello")},
		{desc: "one block", plaintext: bytes.Repeat([]byte{'a'}, BlockSize)},
		{desc: "block plus one", plaintext: bytes.Repeat([]byte{'b'}, BlockSize+1)},
		{desc: "dh public value", plaintext: bytes.Repeat([]byte{0xff}, 192)},
	}
	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			ciphertext, err := Encrypt(tC.plaintext, key, nil)
			require.NoError(t, err)

			if len(ciphertext)%BlockSize != 0 {
				t.Fatal("Ciphertext is not block aligned:", len(ciphertext))
			}
			// iv + at least one full padding block
			assert.GreaterOrEqual(t, len(ciphertext), IVSize+len(tC.plaintext)+1)

			decrypted, err := Decrypt(ciphertext, key)
			require.NoError(t, err)
			assert.Equal(t, tC.plaintext, decrypted)
		})
	}
}

func TestEncryptFixedIV(t *testing.T) {
	key := LongTermKey("correcthorse")
	iv := IV{1, 2, 3}

	a, err := Encrypt([]byte("same"), key, &iv)
	require.NoError(t, err)
	b, err := Encrypt([]byte("same"), key, &iv)
	require.NoError(t, err)
	assert.Equal(t, a, b, "encryption with a fixed iv should be deterministic")
	assert.Equal(t, iv[:], a[:IVSize])

	c, err := Encrypt([]byte("same"), key, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestDecryptErrors(t *testing.T) {
	key := LongTermKey("correcthorse")
	wrong := LongTermKey("wrongsecret")

	_, err := Decrypt(make([]byte, BlockSize), key)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decrypt(make([]byte, 2*BlockSize+3), key)
	assert.ErrorIs(t, err, ErrMalformed)

	// a wrong key almost always breaks the padding, never returns the message
	ciphertext, err := Encrypt([]byte("attack at dawn"), key, nil)
	require.NoError(t, err)
	decrypted, err := Decrypt(ciphertext, wrong)
	if err == nil {
		assert.NotEqual(t, []byte("attack at dawn"), decrypted)
	} else {
		assert.ErrorIs(t, err, ErrPadding)
	}
}

func TestKeyDerivation(t *testing.T) {
	a := LongTermKey("correcthorse")
	b := LongTermKey("correcthorse")
	c := LongTermKey("wrongsecret")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, MACKey(a), "mac key must differ from the long-term key")
	assert.Equal(t, MACKey(a), MACKey(b))

	s1, err := SessionKey([]byte{1, 2, 3})
	require.NoError(t, err)
	s2, err := SessionKey([]byte{1, 2, 3})
	require.NoError(t, err)
	s3, err := SessionKey([]byte{1, 2, 4})
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
	assert.NotEqual(t, s1, s3)
	assert.Len(t, Fingerprint(s1[:]), 8)
}

func TestSessionKeyInfo(t *testing.T) {
	secret := bytes.Repeat([]byte{0xab}, 192)

	var want Key
	_, err := io.ReadFull(hkdf.New(blake2s256Unkeyed, secret, nil, []byte("session")), want[:])
	require.NoError(t, err)

	got, err := SessionKey(secret)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRandBytes(t *testing.T) {
	a, err := RandBytes(16)
	require.NoError(t, err)
	b, err := RandBytes(16)
	require.NoError(t, err)
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
}

func TestMAC(t *testing.T) {
	macKey := MACKey(LongTermKey("correcthorse"))
	message := []byte("Testing, testing.")

	iv, tag, err := GetMAC(message, macKey, nil)
	require.NoError(t, err)
	assert.True(t, CheckMAC(message, tag, macKey, iv))

	// same iv gives same tag
	iv2, tag2, err := GetMAC(message, macKey, &iv)
	require.NoError(t, err)
	assert.Equal(t, iv, iv2)
	assert.Equal(t, tag, tag2)

	assert.False(t, CheckMAC(message, tag, MACKey(LongTermKey("wrongsecret")), iv))

	for i := 0; i < len(message)*8; i++ {
		flipped := append([]byte(nil), message...)
		flipped[i/8] ^= 1 << (i % 8)
		if CheckMAC(flipped, tag, macKey, iv) {
			t.Fatal("MAC still valid after flipping bit", i)
		}
	}

	badTag := tag
	badTag[0] ^= 0x80
	assert.False(t, CheckMAC(message, badTag, macKey, iv))
}

func TestDataExchange(t *testing.T) {
	keys := &Keys{
		Session: LongTermKey("session"),
		MAC:     MACKey(LongTermKey("correcthorse")),
	}
	message := []byte("hello")

	packet, err := SealMessage(message, keys)
	require.NoError(t, err)

	if len(packet) != IVSize+BlockSize+trailerSize {
		t.Fatal("Packet is the wrong length:", len(packet))
	}

	decrypted, iv, err := OpenMessage(packet, keys)
	require.NoError(t, err)
	assert.Equal(t, message, decrypted)
	assert.Equal(t, packet[len(packet)-trailerSize:len(packet)-MACSize], iv[:])

	for i := 0; i < (len(packet)-trailerSize)*8; i++ {
		flipped := append([]byte(nil), packet...)
		flipped[i/8] ^= 1 << (i % 8)
		if _, _, err := OpenMessage(flipped, keys); err == nil {
			t.Fatal("Message still accepted after flipping ciphertext bit", i)
		}
	}
}

func TestOpenMessageErrors(t *testing.T) {
	keys := &Keys{Session: LongTermKey("a"), MAC: LongTermKey("b")}

	_, _, err := OpenMessage(make([]byte, DataMinSize-1), keys)
	assert.ErrorIs(t, err, ErrMalformed)

	packet, err := SealMessage([]byte("hello"), keys)
	require.NoError(t, err)

	other := &Keys{Session: keys.Session, MAC: LongTermKey("c")}
	_, _, err = OpenMessage(packet, other)
	assert.ErrorIs(t, err, ErrMAC)
}

func TestZero(t *testing.T) {
	a := []byte{1, 2, 3}
	b := []byte{4, 5}
	Zero(a, b)
	assert.Equal(t, []byte{0, 0, 0}, a)
	assert.Equal(t, []byte{0, 0}, b)

	keys := Keys{Session: Key{1}, MAC: Key{2}}
	keys.Zero()
	assert.Equal(t, Keys{}, keys)
}
