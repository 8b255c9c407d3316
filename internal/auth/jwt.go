package auth

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// Claim carrying the hex SHA-256 of the pushed body
const BodyHashClaim = "request_body_sha256"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrUnknownKey   = errors.New("unknown signing key")
	ErrStaleToken   = errors.New("token issued outside the accepted window")
	ErrBodyMismatch = errors.New("body hash does not match token")
)

// BodyHash returns the hex SHA-256 of body
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Signer produces the bearer JWT attached to every push
type Signer struct {
	key *KeyPair
	now func() time.Time
}

// NewSigner returns a signer for kp
func NewSigner(kp *KeyPair) *Signer {
	return &Signer{key: kp, now: time.Now}
}

// Sign returns an RS256 JWT binding the issue time to body's hash
func (s *Signer) Sign(body []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iat":         s.now().Unix(),
		"jti":         uuid.NewString(),
		BodyHashClaim: BodyHash(body),
	})
	token.Header["kid"] = s.key.KeyID

	signed, err := token.SignedString(s.key.Private)
	if err != nil {
		return "", fmt.Errorf("sign push token: %w", err)
	}
	return signed, nil
}

// PushVerifier checks pushes on the receiving side against the sender's JWKS
type PushVerifier struct {
	jwksURL string
	leeway  time.Duration
	client  *http.Client
	now     func() time.Time

	mu   sync.Mutex
	keys jwk.Set
}

// NewPushVerifier verifies against the JWKS at jwksURL. leeway bounds how far
// iat may drift from the receiver's clock.
func NewPushVerifier(jwksURL string, leeway time.Duration) *PushVerifier {
	return &PushVerifier{
		jwksURL: jwksURL,
		leeway:  leeway,
		client:  &http.Client{Timeout: 5 * time.Second},
		now:     time.Now,
	}
}

// lookup finds kid in the cached set, refetching once on a miss so rotated keys are picked up
func (v *PushVerifier) lookup(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		if v.keys == nil || attempt == 1 {
			set, err := jwk.Fetch(ctx, v.jwksURL, jwk.WithHTTPClient(v.client))
			if err != nil {
				return nil, fmt.Errorf("fetch jwks: %w", err)
			}
			v.keys = set
		}
		if key, ok := v.keys.LookupKeyID(kid); ok {
			var pub rsa.PublicKey
			if err := jwk.Export(key, &pub); err != nil {
				return nil, fmt.Errorf("export key %s: %w", kid, err)
			}
			return &pub, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
}

// Verify checks the Authorization header value of a push against its body
func (v *PushVerifier) Verify(ctx context.Context, authorization string, body []byte) error {
	raw, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || raw == "" {
		return ErrMissingToken
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: no kid header", ErrUnknownKey)
		}
		return v.lookup(ctx, kid)
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		return fmt.Errorf("verify push token: %w", err)
	}

	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return fmt.Errorf("%w: missing iat", ErrStaleToken)
	}
	if d := v.now().Sub(iat.Time); d > v.leeway || d < -v.leeway {
		return ErrStaleToken
	}

	want, _ := claims[BodyHashClaim].(string)
	if subtle.ConstantTimeCompare([]byte(want), []byte(BodyHash(body))) != 1 {
		return ErrBodyMismatch
	}
	return nil
}

// Middleware rejects requests whose push token does not verify. The body is
// buffered and handed on unchanged.
func (v *PushVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		if err := v.Verify(r.Context(), r.Header.Get("Authorization"), body); err != nil {
			http.Error(w, fmt.Sprintf("invalid push token: %v", err), http.StatusUnauthorized)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}
