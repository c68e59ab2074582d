package identity

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
)

// DefaultTokenTTL applies when Issue is called without a ttl.
const DefaultTokenTTL = time.Hour

type tokenClaims struct {
	Subject   string         `json:"sub"`
	Email     string         `json:"email"`
	Claims    map[string]any `json:"claims,omitempty"`
	IssuedAt  int64          `json:"iat"`
	ExpiresAt int64          `json:"exp"`
	KeyID     string         `json:"kid"`
}

// Signer issues tokens of the form b64url(canonical claims).b64url(signature).
type Signer struct {
	priv ed25519.PrivateKey
	kid  string
	now  func() time.Time
}

func NewSigner(priv ed25519.PrivateKey) *Signer {
	return &Signer{
		priv: priv,
		kid:  KeyID(priv.Public().(ed25519.PublicKey)),
		now:  time.Now,
	}
}

// Issue signs a token for the user carrying the user's current claims.
func (s *Signer) Issue(user *User, ttl time.Duration) (string, error) {
	if s == nil || len(s.priv) == 0 {
		return "", fmt.Errorf("signer not configured")
	}
	if user == nil || strings.TrimSpace(user.UID) == "" {
		return "", fmt.Errorf("user uid required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := s.now().UTC()
	payload, err := json.Marshal(tokenClaims{
		Subject:   user.UID,
		Email:     user.Email,
		Claims:    user.Claims,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		KeyID:     s.kid,
	})
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize claims: %w", err)
	}
	sig := ed25519.Sign(s.priv, canonical)
	return base64.RawURLEncoding.EncodeToString(canonical) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Verifier checks token signatures and expiry.
type Verifier struct {
	pub ed25519.PublicKey
	kid string
	now func() time.Time
}

func NewVerifier(pub ed25519.PublicKey) *Verifier {
	return &Verifier{pub: pub, kid: KeyID(pub), now: time.Now}
}

// VerifyToken validates the token and returns the identity it carries.
func (v *Verifier) VerifyToken(_ context.Context, token string) (*Identity, error) {
	if v == nil || len(v.pub) == 0 {
		return nil, fmt.Errorf("verifier not configured")
	}
	token = strings.TrimSpace(token)
	payloadPart, sigPart, ok := strings.Cut(token, ".")
	if !ok || payloadPart == "" || sigPart == "" {
		return nil, fmt.Errorf("%w: malformed", ErrInvalidToken)
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return nil, fmt.Errorf("%w: decode claims", ErrInvalidToken)
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: decode signature", ErrInvalidToken)
	}
	if !ed25519.Verify(v.pub, payload, sig) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	}
	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: parse claims", ErrInvalidToken)
	}
	if claims.KeyID != "" && claims.KeyID != v.kid {
		return nil, fmt.Errorf("%w: key id mismatch", ErrInvalidToken)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	expires := time.Unix(claims.ExpiresAt, 0).UTC()
	if !v.now().Before(expires) {
		return nil, fmt.Errorf("%w: expired", ErrInvalidToken)
	}
	return &Identity{
		UID:       claims.Subject,
		Email:     claims.Email,
		Claims:    claims.Claims,
		ExpiresAt: expires,
	}, nil
}
