package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/smallbiznis/ocpilink/internal/config"
	"go.uber.org/fx"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrKeyMissing        = errors.New("encryption_key_missing")
	ErrInvalidCiphertext = errors.New("invalid_ciphertext")
)

var hkdfSalt = []byte("ocpilink-peer-tokens")

var Module = fx.Module("secret",
	fx.Provide(NewFromConfig),
)

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Cipher seals peer tokens at rest with AES-256-GCM.
type Cipher struct {
	aead cipher.AEAD
}

func NewFromConfig(cfg config.Config) (*Cipher, error) {
	return NewCipher(cfg.TokenSecret)
}

// NewCipher derives the AES key from secret with HKDF-SHA256.
func NewCipher(secret string) (*Cipher, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrKeyMissing
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), hkdfSalt, []byte("token-encryption")), key); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt returns a JSON envelope holding nonce and ciphertext. Empty input stays empty.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	out, err := json.Marshal(encryptedPayload{
		Version:    1,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (c *Cipher) Decrypt(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}

	var payload encryptedPayload
	if err := json.Unmarshal([]byte(stored), &payload); err != nil || payload.Version != 1 {
		return "", ErrInvalidCiphertext
	}
	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	sealed, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plain), nil
}
