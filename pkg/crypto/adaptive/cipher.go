package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the key length accepted by New.
const KeySize = 32

// Algorithm identifies an AEAD.
type Algorithm byte

const (
	AESGCM   Algorithm = 1
	ChaCha20 Algorithm = 2
)

func (a Algorithm) String() string {
	switch a {
	case AESGCM:
		return "aes-256-gcm"
	case ChaCha20:
		return "chacha20-poly1305"
	default:
		return fmt.Sprintf("algorithm(%d)", byte(a))
	}
}

var (
	ErrShortPayload     = errors.New("adaptive: sealed payload too short")
	ErrUnknownAlgorithm = errors.New("adaptive: unknown algorithm")
)

// Cipher seals with its preferred algorithm and opens either.
type Cipher struct {
	preferred Algorithm
	aeads     map[Algorithm]cipher.AEAD
}

// New creates a cipher that prefers AES-GCM on amd64 and arm64.
func New(key []byte) (*Cipher, error) {
	return NewWithAlgorithm(key, preferred())
}

// NewWithAlgorithm creates a cipher that seals with alg.
func NewWithAlgorithm(key []byte, alg Algorithm) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("adaptive: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	chacha, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	c := &Cipher{
		preferred: alg,
		aeads:     map[Algorithm]cipher.AEAD{AESGCM: gcm, ChaCha20: chacha},
	}
	if _, ok := c.aeads[alg]; !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownAlgorithm, alg)
	}
	return c, nil
}

// Go's AES uses hardware instructions on these architectures.
func preferred() Algorithm {
	switch runtime.GOARCH {
	case "amd64", "arm64", "s390x":
		return AESGCM
	default:
		return ChaCha20
	}
}

// Algorithm returns the algorithm Seal uses.
func (c *Cipher) Algorithm() Algorithm {
	return c.preferred
}

// Seal encrypts plaintext and binds it to ad.
func (c *Cipher) Seal(plaintext, ad []byte) ([]byte, error) {
	aead := c.aeads[c.preferred]
	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out[0] = byte(c.preferred)
	nonce := out[1:]
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(out, nonce, plaintext, ad), nil
}

// Open decrypts a payload produced by Seal with the same key and ad.
func (c *Cipher) Open(sealed, ad []byte) ([]byte, error) {
	if len(sealed) < 1 {
		return nil, ErrShortPayload
	}
	aead, ok := c.aeads[Algorithm(sealed[0])]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownAlgorithm, Algorithm(sealed[0]))
	}
	body := sealed[1:]
	if len(body) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrShortPayload
	}
	n := aead.NonceSize()
	return aead.Open(nil, body[:n], body[n:], ad)
}
