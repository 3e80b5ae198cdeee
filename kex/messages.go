package kex

// ConstructTrigger serialises a trigger: nonce ++ identity.
func ConstructTrigger(t *Trigger) []byte {
	packet := make([]byte, 0, triggerSize)
	packet = append(packet, t.Nonce[:]...)
	packet = append(packet, t.Identity[:]...)
	return packet
}

// ParseTrigger parses a trigger packet.
func ParseTrigger(packet []byte) (*Trigger, error) {
	if len(packet) != triggerSize {
		return nil, ErrMalformed
	}
	var t Trigger
	copy(t.Nonce[:], packet[:NonceSize])
	copy(t.Identity[:], packet[NonceSize:])
	return &t, nil
}

// ConstructResponse serialises a response: nonce ++ encrypted public value.
func ConstructResponse(r *Response) []byte {
	packet := make([]byte, 0, NonceSize+len(r.Public))
	packet = append(packet, r.Nonce[:]...)
	packet = append(packet, r.Public...)
	return packet
}

// ParseResponse parses a response packet.
func ParseResponse(packet []byte) (*Response, error) {
	if len(packet) != responseSize {
		return nil, ErrMalformed
	}
	var r Response
	copy(r.Nonce[:], packet[:NonceSize])
	r.Public = append([]byte(nil), packet[NonceSize:]...)
	return &r, nil
}

// ConstructFinal serialises a final message, which is only the encrypted
// public value.
func ConstructFinal(f *Final) []byte {
	return append([]byte(nil), f.Public...)
}

// ParseFinal parses a final packet.
func ParseFinal(packet []byte) (*Final, error) {
	if len(packet) != finalSize {
		return nil, ErrMalformed
	}
	return &Final{Public: append([]byte(nil), packet...)}, nil
}

// responseAuth is what the responder binds to its public value: its own
// identity followed by the tail of the initiator's nonce.
func responseAuth(responder Identity, trigger Nonce) []byte {
	out := make([]byte, 0, responseAuthSize)
	out = append(out, responder[:]...)
	out = append(out, trigger[IdentitySize:]...)
	return out
}

// finalAuth is what the initiator binds to its public value.
func finalAuth(initiator Identity, response Nonce) []byte {
	out := make([]byte, 0, finalAuthSize)
	out = append(out, initiator[:]...)
	out = append(out, response[:]...)
	return out
}
