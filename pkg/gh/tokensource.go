/*
Copyright 2025 Infra Bits
SPDX-License-Identifier: MIT
*/

package gh

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/chainguard-dev/clog"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/go-github/v75/github"
	"golang.org/x/oauth2"
)

// StaticTokenSource wraps a pre-supplied personal access token. It is
// the pass-through credential variant: no exchange, no expiry handling.
func StaticTokenSource(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
}

// appTokenSource exchanges a GitHub App identity for an installation
// token scoped to one repository.
type appTokenSource struct {
	itr *ghinstallation.Transport

	// The token is fetched once and cached for the rest of the run.
	// It is not refreshed, and will expire eventually.
	once sync.Once
	tok  *oauth2.Token
	err  error
}

// NewAppTokenSource builds a token source for a GitHub App installed on
// owner/repo. encodedKey is the base64-encoded PEM private key of the
// app. The installation is resolved once, here, so a bad identity fails
// at construction rather than on the first repository call.
func NewAppTokenSource(ctx context.Context, appID int64, encodedKey, owner, repo string) (oauth2.TokenSource, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, &AuthError{Err: fmt.Errorf("decoding app key: %w", err)}
	}

	rsaKey, err := jwt.ParseRSAPrivateKeyFromPEM(key)
	if err != nil {
		return nil, &AuthError{Err: fmt.Errorf("parsing app key: %w", err)}
	}

	signer := ghinstallation.NewRSASigner(jwt.SigningMethodRS256, rsaKey)
	atr, err := ghinstallation.NewAppsTransportWithOptions(
		http.DefaultTransport, appID, ghinstallation.WithSigner(signer))
	if err != nil {
		return nil, &AuthError{Err: fmt.Errorf("creating apps transport: %w", err)}
	}

	// App JWTs can only query app endpoints; find the installation for
	// the target repository to scope the token.
	appClient := github.NewClient(&http.Client{Transport: atr})
	inst, _, err := appClient.Apps.FindRepositoryInstallation(ctx, owner, repo)
	if err != nil {
		return nil, &AuthError{Err: fmt.Errorf("finding installation for %s/%s: %w", owner, repo, err)}
	}

	clog.FromContext(ctx).With(
		"app_id", appID,
		"installation_id", inst.GetID(),
	).Debug("Resolved app installation")

	return &appTokenSource{
		itr: ghinstallation.NewFromAppsTransport(atr, inst.GetID()),
	}, nil
}

// Token implements oauth2.TokenSource.
func (ts *appTokenSource) Token() (*oauth2.Token, error) {
	ts.once.Do(func() {
		tok, err := ts.itr.Token(context.Background())
		if err != nil {
			ts.err = &AuthError{Err: fmt.Errorf("exchanging installation token: %w", err)}
			return
		}
		ts.tok = &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}
	})
	return ts.tok, ts.err
}
