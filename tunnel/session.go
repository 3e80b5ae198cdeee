package tunnel

import (
	"github.com/malcolmseyd/dhtunnel/antireplay"
	"github.com/malcolmseyd/dhtunnel/crypto"
	"github.com/malcolmseyd/dhtunnel/network"
)

// session is everything a Connected machine needs to move messages. It is
// owned by the Machine and handed to the crypto envelope on every call.
type session struct {
	keys   crypto.Keys
	conn   *network.Connector
	replay *antireplay.Filter
}

func (s *session) seal(plaintext []byte) error {
	packet, err := crypto.SealMessage(plaintext, &s.keys)
	if err != nil {
		return err
	}
	return s.conn.Send(packet)
}

// open verifies packet and rejects IVs seen recently.
func (s *session) open(packet []byte) ([]byte, error) {
	plaintext, iv, err := crypto.OpenMessage(packet, &s.keys)
	if err != nil {
		return nil, err
	}
	if !s.replay.Check(iv) {
		return nil, errReplay
	}
	return plaintext, nil
}

func (s *session) close() {
	s.conn.Close()
	s.keys.Zero()
}
