// Package cryptoops implements the opaque symmetric cipher and its
// key-exchange handshake that spec.md §1 names as an external
// collaborator. The construction (X25519 + HKDF-SHA256 to derive an
// AES-256-GCM key, per direction) is the same shape as
// relaydns/core/cryptoops/handshaker.go, retargeted from
// ChaCha20-Poly1305 to AES-256-GCM per spec §3's Cipher State.
package cryptoops

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM standard nonce length in bytes.
	NonceSize = 12

	clientKeyInfo = "WIREMESH_KEY_CLIENT"
	serverKeyInfo = "WIREMESH_KEY_SERVER"
)

var (
	ErrKeyExchange  = errors.New("cryptoops: key exchange failed")
	ErrAEADSetup    = errors.New("cryptoops: AEAD setup failed")
	ErrSeal         = errors.New("cryptoops: seal failed")
	ErrOpen         = errors.New("cryptoops: open failed (authentication failure)")
	ErrNonceReuse   = errors.New("cryptoops: nonce counter exhausted")
)

// KeyPair is an ephemeral X25519 key pair used once per handshake.
type KeyPair struct {
	Private []byte
	Public  []byte
}

// GenerateKeyPair creates a fresh ephemeral X25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return KeyPair{}, err
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, ErrKeyExchange
	}
	return KeyPair{Private: priv, Public: pub}, nil
}

// RandomNonceSeed returns a fresh random send-nonce seed, used as the
// HKDF salt contribution and as the initial GCM nonce value.
func RandomNonceSeed() ([]byte, error) {
	seed := make([]byte, NonceSize)
	_, err := rand.Read(seed)
	return seed, err
}

// deriveKey runs HKDF-SHA256 over the shared secret with the given salt
// and info string, producing a KeySize-byte AES-256 key.
func deriveKey(sharedSecret, salt, info []byte) ([]byte, error) {
	kdf := hkdf.New(sha256.New, sharedSecret, salt, info)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveClientKeys derives the client's (encrypt, decrypt) AES-256 keys
// from its own ephemeral key pair, the server's public key, and both
// sides' nonce seeds. The server calls DeriveServerKeys with the same
// inputs in swapped roles and arrives at the same pair of keys.
func DeriveClientKeys(client KeyPair, serverPub, clientNonce, serverNonce []byte) (encryptKey, decryptKey []byte, err error) {
	shared, err := curve25519.X25519(client.Private, serverPub)
	if err != nil {
		return nil, nil, ErrKeyExchange
	}
	encryptKey, err = deriveKey(shared, concat(clientNonce, serverNonce), []byte(clientKeyInfo))
	if err != nil {
		return nil, nil, err
	}
	decryptKey, err = deriveKey(shared, concat(serverNonce, clientNonce), []byte(serverKeyInfo))
	if err != nil {
		return nil, nil, err
	}
	return encryptKey, decryptKey, nil
}

// DeriveServerKeys is the server-side mirror of DeriveClientKeys.
func DeriveServerKeys(server KeyPair, clientPub, clientNonce, serverNonce []byte) (encryptKey, decryptKey []byte, err error) {
	shared, err := curve25519.X25519(server.Private, clientPub)
	if err != nil {
		return nil, nil, ErrKeyExchange
	}
	encryptKey, err = deriveKey(shared, concat(serverNonce, clientNonce), []byte(serverKeyInfo))
	if err != nil {
		return nil, nil, err
	}
	decryptKey, err = deriveKey(shared, concat(clientNonce, serverNonce), []byte(clientKeyInfo))
	if err != nil {
		return nil, nil, err
	}
	return encryptKey, decryptKey, nil
}

func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

// AEAD wraps one direction's AES-256-GCM instance plus a monotonically
// incremented nonce counter, matching spec §3's
// "Aes256Gcm{key, nonce-counter-send, nonce-counter-recv}" cipher state
// — one AEAD instance per direction, never shared.
type AEAD struct {
	aead  cipher.AEAD
	nonce []byte
}

// NewAEAD builds an AES-256-GCM AEAD seeded with the given starting
// nonce (the handshake nonce contributed by the side that receives in
// that direction, so sender and receiver start from the same value).
func NewAEAD(key, startNonce []byte) (*AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrAEADSetup
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrAEADSetup
	}
	if len(startNonce) != NonceSize {
		return nil, ErrAEADSetup
	}
	nonce := make([]byte, NonceSize)
	copy(nonce, startNonce)
	return &AEAD{aead: gcm, nonce: nonce}, nil
}

// Seal encrypts plaintext under the next nonce in sequence, returning a
// newly allocated ciphertext; plaintext is left unchanged.
func (a *AEAD) Seal(plaintext []byte) ([]byte, error) {
	a.increment()
	return a.aead.Seal(nil, a.nonce, plaintext, nil), nil
}

// Open decrypts ciphertext produced by the peer's matching Seal call.
// The peer's nonce sequence is driven independently by its own Seal
// calls, so Open advances its own counter in lockstep on every call —
// out-of-order frames are not supported (matches spec's single-reader,
// totally-ordered recv guarantee).
func (a *AEAD) Open(ciphertext []byte) ([]byte, error) {
	a.increment()
	pt, err := a.aead.Open(nil, a.nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrOpen
	}
	return pt, nil
}

func (a *AEAD) increment() {
	for i := len(a.nonce) - 1; i >= 0; i-- {
		a.nonce[i]++
		if a.nonce[i] != 0 {
			return
		}
	}
}
