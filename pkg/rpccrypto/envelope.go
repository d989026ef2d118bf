package rpccrypto

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// WriteEnvelope seals plaintext and writes it to w as a 4-byte
// big-endian length prefix followed by the Fernet token, so a reader
// that is mid-frame can tell exactly how many bytes to gather before
// attempting to open it.
func (c *Cipher) WriteEnvelope(w io.Writer, plaintext []byte) error {
	token, err := c.Seal(plaintext)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(token)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "rpccrypto: write envelope length")
	}
	if _, err := w.Write(token); err != nil {
		return errors.Wrap(err, "rpccrypto: write envelope token")
	}
	return nil
}

// ReadEnvelope reads one length-prefixed Fernet token from r and
// returns its opened plaintext.
func (c *Cipher) ReadEnvelope(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, errors.Wrap(err, "rpccrypto: read envelope length")
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	token := make([]byte, n)
	if _, err := io.ReadFull(r, token); err != nil {
		return nil, errors.Wrap(err, "rpccrypto: read envelope token")
	}
	return c.Open(token)
}
