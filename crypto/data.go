package crypto

// Keys is the key material protecting one connection's application data.
type Keys struct {
	Session Key
	MAC     Key
}

// Zero wipes both keys.
func (k *Keys) Zero() {
	zeroBytes(k.Session[:], k.MAC[:])
}

// SealMessage encrypts plaintext under the session key and appends the
// CBC-MAC IV and tag: cipher ++ mac_iv ++ mac_tag.
func SealMessage(plaintext []byte, keys *Keys) ([]byte, error) {
	cipher, err := Encrypt(plaintext, keys.Session, nil)
	if err != nil {
		return nil, err
	}

	iv, tag, err := GetMAC(plaintext, keys.MAC, nil)
	if err != nil {
		return nil, err
	}

	packet := make([]byte, 0, len(cipher)+trailerSize)
	packet = append(packet, cipher...)
	packet = append(packet, iv[:]...)
	packet = append(packet, tag[:]...)
	return packet, nil
}

// SplitMessage separates a wire message into its ciphertext, MAC IV and tag.
func SplitMessage(packet []byte) (cipher []byte, iv IV, tag Tag, err error) {
	if len(packet) < DataMinSize {
		err = ErrMalformed
		return
	}
	macOffset := len(packet) - MACSize
	ivOffset := macOffset - IVSize

	cipher = packet[:ivOffset]
	copy(iv[:], packet[ivOffset:macOffset])
	copy(tag[:], packet[macOffset:])
	return
}

// OpenMessage decrypts a wire message and verifies its MAC. The MAC IV is
// returned so callers can track replays.
func OpenMessage(packet []byte, keys *Keys) ([]byte, IV, error) {
	cipher, iv, tag, err := SplitMessage(packet)
	if err != nil {
		return nil, iv, err
	}

	plaintext, err := Decrypt(cipher, keys.Session)
	if err != nil {
		return nil, iv, err
	}

	// we know that the packet is authentic after this
	if !CheckMAC(plaintext, tag, keys.MAC, iv) {
		zeroBytes(plaintext)
		return nil, iv, ErrMAC
	}
	return plaintext, iv, nil
}
