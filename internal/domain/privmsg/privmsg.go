// Package privmsg seals and opens point-to-point direct message content.
//
// The symmetric key is the 32-byte affine x-coordinate of the ECDH point
// between the local private scalar and the remote x-only public key (lifted
// with even Y). The x-coordinate is used as-is, never hashed. Both Seal and
// Open go through sharedKey, so the convention cannot diverge between them.
//
// Content is AES-256-CBC with PKCS#7 padding and a fresh 16-byte IV, framed
// as base64(ciphertext) + "?iv=" + base64(iv). CBC is not authenticated: a
// tampered envelope may open to garbage without an error.
package privmsg

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/okian/askbot/internal/domain/identity"
)

const (
	ivSeparator = "?iv="
	ivLen       = aes.BlockSize
)

// randReader is swapped in tests.
var randReader io.Reader = rand.Reader

// Seal encrypts plaintext for remotePub.
func Seal(priv *btcec.PrivateKey, remotePub, plaintext string) (string, error) {
	key, err := sharedKey(priv, remotePub)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes: %w", err)
	}

	iv := make([]byte, ivLen)
	if _, err := io.ReadFull(randReader, iv); err != nil {
		return "", fmt.Errorf("read iv: %w", err)
	}

	padded := pad([]byte(plaintext))
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return base64.StdEncoding.EncodeToString(ct) + ivSeparator + base64.StdEncoding.EncodeToString(iv), nil
}

// Open decrypts an envelope sent by remotePub.
func Open(priv *btcec.PrivateKey, remotePub, envelope string) (string, error) {
	ctB64, ivB64, ok := strings.Cut(envelope, ivSeparator)
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrMalformedEnvelope, ivSeparator)
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return "", fmt.Errorf("%w: iv: %v", ErrMalformedEnvelope, err)
	}
	if len(iv) != ivLen {
		return "", fmt.Errorf("%w: iv is %d bytes", ErrMalformedEnvelope, len(iv))
	}
	ct, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %v", ErrMalformedEnvelope, err)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d", ErrMalformedEnvelope, len(ct))
	}

	key, err := sharedKey(priv, remotePub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailure, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailure, err)
	}

	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)
	pt, err = unpad(pt)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(pt) {
		return "", fmt.Errorf("%w: plaintext is not utf-8", ErrDecryptFailure)
	}
	return string(pt), nil
}

func sharedKey(priv *btcec.PrivateKey, remotePub string) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil private key", identity.ErrInvalidKey)
	}
	pub, err := identity.ParsePublicKey(remotePub)
	if err != nil {
		return nil, err
	}
	return btcec.GenerateSharedSecret(priv, pub), nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryptFailure)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrDecryptFailure)
		}
	}
	return b[:len(b)-n], nil
}
