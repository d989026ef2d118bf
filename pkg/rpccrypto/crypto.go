// Package rpccrypto implements the optional hybrid RSA/Fernet handshake
// and the bulk frame encryption that follows it: an RSA-2048/OAEP
// key exchange carries a one-time Fernet key, after which every byte of
// the connection (headers included) is wrapped in a Fernet token.
package rpccrypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/pkg/errors"
)

// ErrHandshakeFailure wraps any RSA/Fernet operation failure during the
// handshake; per the error table this is always fatal to the
// connection.
var ErrHandshakeFailure = errors.New("rpccrypto: handshake failure")

// RSAKeySize is the modulus size used for the client-role keypair.
const RSAKeySize = 2048

// KeyPair is the client-role side's ephemeral RSA keypair, generated
// fresh for every handshake.
type KeyPair struct {
	Private *rsa.PrivateKey
}

// GenerateKeyPair creates a new RSA-2048 keypair with public exponent
// 65537 (Go's crypto/rsa always uses 65537).
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, RSAKeySize)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeFailure, err.Error())
	}
	return &KeyPair{Private: priv}, nil
}

// PublicKeyPEM returns the PEM-encoded SubjectPublicKeyInfo for the
// keypair's public half, sent to the peer as the first handshake
// message.
func (k *KeyPair) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&k.Private.PublicKey)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeFailure, err.Error())
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return pem.EncodeToMemory(block), nil
}

// ParsePublicKeyPEM decodes a peer-supplied PEM SubjectPublicKeyInfo.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.Wrap(ErrHandshakeFailure, "no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeFailure, err.Error())
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.Wrap(ErrHandshakeFailure, "peer public key is not RSA")
	}
	return rsaPub, nil
}

// GenerateSessionKey creates a fresh 32-byte Fernet key for the server
// role of the handshake. The key is returned as raw bytes, and
// WrapSessionKey encrypts those 32 raw bytes, not their URL-safe
// base64 text.
func GenerateSessionKey() (*fernet.Key, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return nil, errors.Wrap(ErrHandshakeFailure, err.Error())
	}
	return &k, nil
}

// WrapSessionKey encrypts a Fernet key under the peer's RSA public key
// with OAEP (MGF1+SHA-256, SHA-256 hash, no label), the server role's
// second handshake message.
func WrapSessionKey(pub *rsa.PublicKey, key *fernet.Key) ([]byte, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key[:], nil)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeFailure, err.Error())
	}
	return ct, nil
}

// UnwrapSessionKey decrypts the ciphertext produced by WrapSessionKey
// using the client role's private key.
func UnwrapSessionKey(priv *rsa.PrivateKey, ciphertext []byte) (*fernet.Key, error) {
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeFailure, err.Error())
	}
	var k fernet.Key
	if len(pt) != len(k) {
		return nil, errors.Wrap(ErrHandshakeFailure, "decrypted session key has wrong length")
	}
	copy(k[:], pt)
	return &k, nil
}

// MaxTokenAge bounds how stale a Fernet token may be before
// VerifyAndDecrypt rejects it. Long enough to tolerate clock skew and
// network latency across a long-lived connection without ever
// re-keying.
const MaxTokenAge = 365 * 24 * time.Hour

// Cipher wraps a negotiated session key and turns it into a
// frame-by-frame Fernet encrypt/decrypt pair used by the connection
// engine once the handshake completes.
type Cipher struct {
	keys []*fernet.Key
}

// NewCipher builds a Cipher around a single session key.
func NewCipher(key *fernet.Key) *Cipher {
	return &Cipher{keys: []*fernet.Key{key}}
}

// Seal encrypts plaintext into a Fernet token.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	tok, err := fernet.EncryptAndSign(plaintext, c.keys[0])
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeFailure, err.Error())
	}
	return tok, nil
}

// Open decrypts and verifies a Fernet token. Failure here is always
// fatal to the connection per the error table.
func (c *Cipher) Open(token []byte) ([]byte, error) {
	pt := fernet.VerifyAndDecrypt(token, MaxTokenAge, c.keys)
	if pt == nil {
		return nil, errors.Wrap(ErrHandshakeFailure, "fernet token verification failed")
	}
	return pt, nil
}
