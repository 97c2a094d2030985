package ecommerce

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/marketsync/backend/internal/domain/integration"
)

// oauthFlow wraps the authorization-code grant for one provider
type oauthFlow struct {
	marketplace integration.Marketplace
	conf        *oauth2.Config
	client      *http.Client
}

func newOAuthFlow(m integration.Marketplace, cfg ProviderConfig, authURL, tokenURL string, client *http.Client) *oauthFlow {
	return &oauthFlow{
		marketplace: m,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: client,
	}
}

// authCodeURL builds the consent URL; pkce may be nil for providers without PKCE
func (f *oauthFlow) authCodeURL(state string, pkce *integration.PKCEChallenge, extra ...oauth2.AuthCodeOption) string {
	opts := append([]oauth2.AuthCodeOption{}, extra...)
	if pkce != nil {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", pkce.Challenge),
			oauth2.SetAuthURLParam("code_challenge_method", pkce.Method),
		)
	}
	return f.conf.AuthCodeURL(state, opts...)
}

// exchange trades a code for a token
func (f *oauthFlow) exchange(ctx context.Context, req integration.CodeExchange, extra ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	opts := append([]oauth2.AuthCodeOption{}, extra...)
	if req.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(req.CodeVerifier))
	}
	conf := *f.conf
	if req.RedirectURL != "" {
		conf.RedirectURL = req.RedirectURL
	}
	tok, err := conf.Exchange(f.withClient(ctx), req.Code, opts...)
	if err != nil {
		return nil, f.classify("exchange", err)
	}
	return tok, nil
}

// refresh redeems a refresh token.
// The returned set carries an empty RefreshToken when the provider did not rotate it.
func (f *oauthFlow) refresh(ctx context.Context, refreshToken string) (*integration.TokenSet, error) {
	if refreshToken == "" {
		return nil, integration.NewCredentialError("refresh", false, integration.ErrNoRefreshToken)
	}
	tok, err := f.conf.TokenSource(f.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, f.classify("refresh", err)
	}
	set := tokenSetFrom(tok)
	if set.RefreshToken == refreshToken {
		set.RefreshToken = ""
	}
	return set, nil
}

func (f *oauthFlow) withClient(ctx context.Context) context.Context {
	if f.client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, f.client)
}

// classify separates rejected grants from provider outages
func (f *oauthFlow) classify(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if re.ErrorCode == "invalid_grant" || (status >= 400 && status < 500 && status != http.StatusTooManyRequests) {
			return integration.NewCredentialError(op, false,
				fmt.Errorf("%w: %s: %s", integration.ErrPlatformAuthFailed, f.marketplace, firstNonEmpty(re.ErrorCode, http.StatusText(status))))
		}
		return integration.NewCredentialError(op, true, statusError(f.marketplace, status))
	}
	return integration.NewCredentialError(op, true, fmt.Errorf("%w: %s: %v", integration.ErrPlatformUnavailable, f.marketplace, err))
}

// tokenSetFrom converts an oauth2 token, reading the scope extra when present
func tokenSetFrom(tok *oauth2.Token) *integration.TokenSet {
	set := &integration.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		set.ExpiresAt = &exp
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		set.Scopes = strings.FieldsFunc(scope, func(r rune) bool { return r == ' ' || r == ',' })
	}
	return set
}

// NewPKCEChallenge generates a fresh S256 verifier and challenge
func NewPKCEChallenge() *integration.PKCEChallenge {
	verifier := oauth2.GenerateVerifier()
	return &integration.PKCEChallenge{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
		Method:    "S256",
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
