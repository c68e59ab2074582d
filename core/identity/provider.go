package identity

import (
	"context"
	"fmt"
)

// TokenVerifier checks bearer tokens.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*Identity, error)
}

// DirectoryProvider joins a token verifier with the Redis directory.
type DirectoryProvider struct {
	verifier  TokenVerifier
	directory *Directory
}

func NewProvider(verifier TokenVerifier, directory *Directory) *DirectoryProvider {
	return &DirectoryProvider{verifier: verifier, directory: directory}
}

func (p *DirectoryProvider) VerifyToken(ctx context.Context, token string) (*Identity, error) {
	if p == nil || p.verifier == nil {
		return nil, fmt.Errorf("token verifier not configured")
	}
	return p.verifier.VerifyToken(ctx, token)
}

func (p *DirectoryProvider) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return p.directory.GetUserByEmail(ctx, email)
}

func (p *DirectoryProvider) MergeCustomClaims(ctx context.Context, uid string, updates map[string]any) (*User, error) {
	return p.directory.MergeCustomClaims(ctx, uid, updates)
}
