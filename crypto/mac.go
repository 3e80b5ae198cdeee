package crypto

import "crypto/subtle"

// GetMAC computes a CBC-MAC over plaintext: the final block of encrypting it
// under macKey. When iv is nil a fresh one is generated. The IV actually used
// is returned alongside the tag so the receiver can recompute it.
//
// NOTE: CBC-MAC with a sender-chosen IV that travels in the clear is not a
// secure MAC for variable-length messages. Peers depend on this exact
// construction, so changing it is a protocol change.
func GetMAC(plaintext []byte, macKey Key, iv *IV) (IV, Tag, error) {
	var tag Tag

	if iv == nil {
		var err error
		iv, err = NewIV()
		if err != nil {
			return IV{}, tag, err
		}
	}

	out, err := Encrypt(plaintext, macKey, iv)
	if err != nil {
		return IV{}, tag, err
	}
	copy(tag[:], out[len(out)-MACSize:])
	zeroBytes(out)
	return *iv, tag, nil
}

// CheckMAC recomputes the tag for plaintext with the given IV and compares it
// to tag in constant time.
func CheckMAC(plaintext []byte, tag Tag, macKey Key, iv IV) bool {
	_, expected, err := GetMAC(plaintext, macKey, &iv)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(expected[:], tag[:]) == 1
}
