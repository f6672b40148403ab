// Package adaptive seals byte payloads with AES-256-GCM or
// ChaCha20-Poly1305, picking AES where the CPU accelerates it.
//
// Sealed payloads start with an algorithm byte, so a payload written on
// one machine opens on any other holding the same key:
//
//	alg(1) nonce ciphertext+tag
//
// Usage:
//
//	c, err := adaptive.New(key)
//	sealed, err := c.Seal(plaintext, aad)
//	plaintext, err := c.Open(sealed, aad)
package adaptive
