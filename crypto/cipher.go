package crypto

import (
	"crypto/aes"
	"crypto/cipher"
)

// Encrypt pads plaintext with PKCS#7 and encrypts it with AES-128-CBC.
// The IV is prepended to the output, so the result is always a whole
// number of blocks. If iv is nil a fresh random IV is drawn.
func Encrypt(plaintext []byte, key Key, iv *IV) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	if iv == nil {
		iv, err = NewIV()
		if err != nil {
			return nil, err
		}
	}

	padded := pad(plaintext)
	out := make([]byte, IVSize+len(padded))
	copy(out, iv[:])
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(out[IVSize:], padded)
	zeroBytes(padded)
	return out, nil
}

// Decrypt reverses Encrypt. The IV is read from the first block.
func Decrypt(ciphertext []byte, key Key) ([]byte, error) {
	if len(ciphertext) < minCipherSize || len(ciphertext)%BlockSize != 0 {
		return nil, ErrMalformed
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	iv := ciphertext[:IVSize]
	body := ciphertext[IVSize:]
	padded := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, body)

	plaintext, err := unpad(padded)
	if err != nil {
		zeroBytes(padded)
		return nil, err
	}
	return plaintext, nil
}

// pad returns a copy of b with PKCS#7 padding applied
func pad(b []byte) []byte {
	n := BlockSize - len(b)%BlockSize
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 || len(b)%BlockSize != 0 {
		return nil, ErrPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > BlockSize {
		return nil, ErrPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrPadding
		}
	}
	return b[:len(b)-n], nil
}
