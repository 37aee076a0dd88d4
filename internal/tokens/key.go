package tokens

import (
	"encoding/base64"
	"fmt"
)

const minKeyLen = 32

// Key is the HMAC-SHA256 signing key. It is immutable once built.
type Key struct {
	secret []byte
}

func NewKey(secret []byte) (Key, error) {
	if len(secret) < minKeyLen {
		return Key{}, fmt.Errorf("signing key must be at least %d bytes, got %d", minKeyLen, len(secret))
	}
	b := make([]byte, len(secret))
	copy(b, secret)
	return Key{secret: b}, nil
}

func KeyFromBase64(encoded string) (Key, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Key{}, fmt.Errorf("decode signing key: %w", err)
	}
	return NewKey(raw)
}

func (k Key) bytes() []byte { return k.secret }
