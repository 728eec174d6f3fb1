package security

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// MinHMACSecretLen is the shortest HMAC secret accepted for HS256.
const MinHMACSecretLen = 32

var (
	// ErrInvalidKey is returned when PEM content, key type or secret is unusable.
	ErrInvalidKey = errors.New("invalid key")
	// ErrKeyMismatch is returned when a private key does not belong to the given public key.
	ErrKeyMismatch = errors.New("private and public key do not match")
)

// SigningKey is the material for one token kind: HS256 with a shared secret, or
// RS256/ES256 with a key pair.
type SigningKey struct {
	method jwt.SigningMethod
	sign   any
	verify any
}

// Alg returns the JWS algorithm name, or "" for the zero value.
func (k SigningKey) Alg() string {
	if k.method == nil {
		return ""
	}
	return k.method.Alg()
}

// NewHMACKey returns an HS256 signing key.
func NewHMACKey(secret []byte) (SigningKey, error) {
	if len(secret) < MinHMACSecretLen {
		return SigningKey{}, ErrInvalidKey
	}
	s := bytes.Clone(secret)
	return SigningKey{method: jwt.SigningMethodHS256, sign: s, verify: s}, nil
}

// NewAsymmetricKey returns an RS256 or ES256 (P-256) signing key. pub must be the public half of priv.
func NewAsymmetricKey(priv crypto.Signer, pub crypto.PublicKey) (SigningKey, error) {
	if priv == nil || pub == nil {
		return SigningKey{}, ErrInvalidKey
	}
	var method jwt.SigningMethod
	switch KeyAlg(pub) {
	case "RS256":
		method = jwt.SigningMethodRS256
	case "ES256":
		method = jwt.SigningMethodES256
	default:
		return SigningKey{}, ErrInvalidKey
	}
	eq, ok := priv.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !eq.Equal(pub) {
		return SigningKey{}, ErrKeyMismatch
	}
	return SigningKey{method: method, sign: priv, verify: pub}, nil
}

// LoadSigningKey builds a key from configuration. When privateKey is set, it and publicKey
// (inline PEM or file paths) are used; otherwise secret is used for HS256.
func LoadSigningKey(secret, privateKey, publicKey string) (SigningKey, error) {
	if strings.TrimSpace(privateKey) == "" {
		return NewHMACKey([]byte(secret))
	}
	priv, err := ParsePrivateKey(privateKey)
	if err != nil {
		return SigningKey{}, err
	}
	var pub crypto.PublicKey = priv.Public()
	if strings.TrimSpace(publicKey) != "" {
		if pub, err = ParsePublicKey(publicKey); err != nil {
			return SigningKey{}, err
		}
	}
	return NewAsymmetricKey(priv, pub)
}

// sameMaterial reports whether two keys would verify each other's signatures.
func (k SigningKey) sameMaterial(o SigningKey) bool {
	if k.Alg() != o.Alg() {
		return false
	}
	if a, ok := k.verify.([]byte); ok {
		b, _ := o.verify.([]byte)
		return bytes.Equal(a, b)
	}
	eq, ok := k.verify.(interface{ Equal(crypto.PublicKey) bool })
	return ok && eq.Equal(o.verify)
}

// LoadPEM returns s when it is inline PEM and otherwise reads s as a file path.
// Literal "\n" sequences in inline PEM (common in env vars) become newlines.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(strings.ReplaceAll(s, `\n`, "\n")), nil
	}
	return os.ReadFile(s)
}

// ParsePrivateKey parses a PEM-encoded RSA or ECDSA private key, inline or from a file.
func ParsePrivateKey(s string) (crypto.Signer, error) {
	block, err := decodePEM(s)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, ErrInvalidKey
		}
		return signer, nil
	default:
		return nil, ErrInvalidKey
	}
}

// ParsePublicKey parses a PEM-encoded RSA or ECDSA public key, inline or from a file.
func ParsePublicKey(s string) (crypto.PublicKey, error) {
	block, err := decodePEM(s)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}

func decodePEM(s string) (*pem.Block, error) {
	raw, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, ErrInvalidKey
	}
	return block, nil
}

// KeyAlg returns "RS256" for RSA, "ES256" for ECDSA P-256 and "" otherwise.
func KeyAlg(pub crypto.PublicKey) string {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return "RS256"
	case *ecdsa.PublicKey:
		if k.Curve == elliptic.P256() {
			return "ES256"
		}
	}
	return ""
}
