package rpc

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/ronrpc/ronrpc/pkg/rpccrypto"
)

// The handshake runs over the raw socket before any wire.Packet
// framing or encryption exists, so messages are simple length-prefixed
// blobs rather than full frames.

func writeLengthPrefixed(w io.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if err := writeFull(w, lenBuf[:]); err != nil {
		return err
	}
	return writeFull(w, b)
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// handshakeClient runs the client role of the hybrid handshake (§4.5):
// generate an ephemeral RSA keypair, send the public half, receive the
// server's Fernet session key wrapped under it, then wait for the
// server's one-byte ack. The
// exchange always consumes exactly two correlation stack slots so the
// first ordinary call's ids still line up across both peers even
// though no FunctionCall/DataReturn frames carried the handshake.
func (c *Conn) handshakeClient() error {
	kp, err := rpccrypto.GenerateKeyPair()
	if err != nil {
		return err
	}

	c.corr.reserveHandshakeSlot()
	pubPEM, err := kp.PublicKeyPEM()
	if err != nil {
		c.corr.releaseHandshakeSlot()
		return err
	}
	if err := writeLengthPrefixed(c.netConn, pubPEM); err != nil {
		c.corr.releaseHandshakeSlot()
		return errors.Wrap(rpccrypto.ErrHandshakeFailure, err.Error())
	}
	wrapped, err := readLengthPrefixed(c.netConn)
	if err != nil {
		c.corr.releaseHandshakeSlot()
		return errors.Wrap(rpccrypto.ErrHandshakeFailure, err.Error())
	}
	if _, _, err := c.corr.releaseHandshakeSlot(); err != nil {
		return err
	}

	key, err := rpccrypto.UnwrapSessionKey(kp.Private, wrapped)
	if err != nil {
		return err
	}

	c.corr.reserveHandshakeSlot()
	ack, err := readLengthPrefixed(c.netConn)
	if err != nil || len(ack) != 1 || ack[0] != handshakeAckByte {
		c.corr.releaseHandshakeSlot()
		return errors.Wrap(rpccrypto.ErrHandshakeFailure, "missing server ack")
	}
	if _, _, err := c.corr.releaseHandshakeSlot(); err != nil {
		return err
	}

	c.cipher = rpccrypto.NewCipher(key)
	return nil
}

// handshakeServer runs the server role: receive the client's public
// key, mint a fresh session key, wrap it, and send it back before
// acking.
func (c *Conn) handshakeServer() error {
	c.corr.reserveHandshakeSlot()
	pubPEM, err := readLengthPrefixed(c.netConn)
	if err != nil {
		c.corr.releaseHandshakeSlot()
		return errors.Wrap(rpccrypto.ErrHandshakeFailure, err.Error())
	}
	pub, err := rpccrypto.ParsePublicKeyPEM(pubPEM)
	if err != nil {
		c.corr.releaseHandshakeSlot()
		return err
	}

	key, err := rpccrypto.GenerateSessionKey()
	if err != nil {
		c.corr.releaseHandshakeSlot()
		return err
	}
	wrapped, err := rpccrypto.WrapSessionKey(pub, key)
	if err != nil {
		c.corr.releaseHandshakeSlot()
		return err
	}
	if err := writeLengthPrefixed(c.netConn, wrapped); err != nil {
		c.corr.releaseHandshakeSlot()
		return errors.Wrap(rpccrypto.ErrHandshakeFailure, err.Error())
	}
	if _, _, err := c.corr.releaseHandshakeSlot(); err != nil {
		return err
	}

	c.corr.reserveHandshakeSlot()
	if err := writeLengthPrefixed(c.netConn, []byte{handshakeAckByte}); err != nil {
		c.corr.releaseHandshakeSlot()
		return errors.Wrap(rpccrypto.ErrHandshakeFailure, err.Error())
	}
	if _, _, err := c.corr.releaseHandshakeSlot(); err != nil {
		return err
	}

	c.cipher = rpccrypto.NewCipher(key)
	return nil
}

const handshakeAckByte = 0xA5
