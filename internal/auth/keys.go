package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// KeyPair is the process-held signing key and the id it is published under
type KeyPair struct {
	Private *rsa.PrivateKey
	KeyID   string
}

// LoadOrGenerateKey parses an RSA private key from PEM (PKCS#1 or PKCS#8).
// An empty PEM generates a fresh 2048-bit key; generated reports which path ran.
func LoadOrGenerateKey(privatePEM, keyID string) (kp *KeyPair, generated bool, err error) {
	if keyID == "" {
		return nil, false, errors.New("key id is required")
	}
	if privatePEM == "" {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, false, fmt.Errorf("generate rsa key: %w", err)
		}
		return &KeyPair{Private: key, KeyID: keyID}, true, nil
	}

	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, false, errors.New("failed to decode PEM private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &KeyPair{Private: key, KeyID: keyID}, false, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, false, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, false, errors.New("private key is not RSA")
	}
	return &KeyPair{Private: key, KeyID: keyID}, false, nil
}

// EncodePrivateKeyPEM renders the key as a PKCS#1 PEM block
func EncodePrivateKeyPEM(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

// PublicSet builds the JWKS document advertising the public half of kp
func (kp *KeyPair) PublicSet() (jwk.Set, error) {
	key, err := jwk.Import(&kp.Private.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("import public key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, kp.KeyID); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256()); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
		return nil, err
	}

	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, fmt.Errorf("add key: %w", err)
	}
	return set, nil
}

// JWKSHandler serves set at /.well-known/jwks.json
func JWKSHandler(set jwk.Set) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=300")
		_ = json.NewEncoder(w).Encode(set)
	}
}
