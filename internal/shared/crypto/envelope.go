package cryptohelper

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
)

// Envelope carries the three parts of an AES-256-GCM encrypted payload as they
// are stored at rest.
type Envelope struct {
	Ciphertext []byte
	Nonce      []byte
	Tag        []byte
}

// ErrDecrypt is returned when authentication fails during Decrypt. Callers
// distinguish it from delivery errors when escalating.
var ErrDecrypt = errors.New("decryption failed")

// Encrypt seals plaintext with AES-256-GCM under key. The aad parameter is
// used as Additional Authenticated Data and must be supplied unchanged to
// Decrypt; passing the owning record's id binds the ciphertext to its row.
func Encrypt(key, plaintext, aad []byte) (Envelope, error) {
	blk, err := aes.NewCipher(key)
	if err != nil {
		return Envelope{}, err
	}
	gcm, err := cipher.NewGCM(blk)
	if err != nil {
		return Envelope{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, aad)
	// gcm.Seal appends the tag to the ciphertext
	split := len(sealed) - gcm.Overhead()
	return Envelope{
		Ciphertext: sealed[:split],
		Nonce:      nonce,
		Tag:        sealed[split:],
	}, nil
}

// Decrypt opens an Envelope produced by Encrypt using the same key and aad.
// A tampered ciphertext, nonce, tag or aad yields ErrDecrypt.
func Decrypt(key []byte, env Envelope, aad []byte) ([]byte, error) {
	blk, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(blk)
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != gcm.NonceSize() {
		return nil, ErrDecrypt
	}
	sealed := make([]byte, 0, len(env.Ciphertext)+len(env.Tag))
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)
	plain, err := gcm.Open(nil, env.Nonce, sealed, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}
