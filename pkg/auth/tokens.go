package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/crypto"
	"github.com/beam-cloud/synopsis/pkg/repository"
	"github.com/beam-cloud/synopsis/pkg/types"
)

const mailboxTokenField = "mailbox_token"

var mailboxScopes = []string{"https://www.googleapis.com/auth/gmail.readonly"}

// TokenStore keeps each owner's mailbox OAuth token encrypted at rest and
// refreshes it when it has expired
type TokenStore struct {
	repo   repository.MailboxTokenRepository
	cipher *crypto.FieldCipher
	oauth  *oauth2.Config
	clock  common.Clock
}

type TokenStoreOption func(*TokenStore)

// WithOAuthEndpoint overrides the Google endpoint
func WithOAuthEndpoint(endpoint oauth2.Endpoint) TokenStoreOption {
	return func(s *TokenStore) {
		s.oauth.Endpoint = endpoint
	}
}

func NewTokenStore(repo repository.MailboxTokenRepository, cipher *crypto.FieldCipher, cfg types.AuthConfig, clock common.Clock, opts ...TokenStoreOption) *TokenStore {
	s := &TokenStore{
		repo:   repo,
		cipher: cipher,
		clock:  clock,
		oauth: &oauth2.Config{
			ClientID:     cfg.GoogleClientId,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Scopes:       mailboxScopes,
			Endpoint:     google.Endpoint,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsConfigured returns true if the OAuth client can exchange and refresh tokens
func (s *TokenStore) IsConfigured() bool {
	return s.oauth.ClientID != "" && s.oauth.ClientSecret != ""
}

// AuthorizeURL returns the consent URL for connecting a mailbox
func (s *TokenStore) AuthorizeURL(state string) string {
	// offline access and forced consent so a refresh token is always issued
	return s.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Connect exchanges an authorization code and stores the resulting token
func (s *TokenStore) Connect(ctx context.Context, ownerId, code string) error {
	if !s.IsConfigured() {
		return errors.New("mailbox oauth is not configured")
	}
	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return &types.AuthError{Service: "gmail", Message: fmt.Sprintf("code exchange failed: %v", err)}
	}
	return s.Save(ctx, ownerId, token)
}

// Save encrypts and stores token for ownerId
func (s *TokenStore) Save(ctx context.Context, ownerId string, token *oauth2.Token) error {
	field, err := s.cipher.EncryptJSON(mailboxTokenField, token)
	if err != nil {
		return err
	}
	if err := s.repo.SaveToken(ctx, ownerId, field); err != nil {
		return &types.StoreError{Op: "save_token", Err: err}
	}
	return nil
}

// Disconnect removes the stored token
func (s *TokenStore) Disconnect(ctx context.Context, ownerId string) error {
	return s.repo.DeleteToken(ctx, ownerId)
}

// AccessToken returns a valid access token for ownerId, refreshing and
// storing a new one when the current token has expired
func (s *TokenStore) AccessToken(ctx context.Context, ownerId string) (string, error) {
	field, err := s.repo.GetToken(ctx, ownerId)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return "", &types.AuthError{Service: "gmail", Message: "no mailbox connected"}
	}
	if err != nil {
		return "", &types.StoreError{Op: "get_token", Err: err}
	}

	var token oauth2.Token
	if err := s.cipher.DecryptJSON(mailboxTokenField, field, &token); err != nil {
		return "", &types.StoreError{Op: "decrypt_token", Err: err}
	}

	if !token.Expiry.IsZero() && !token.Expiry.After(s.clock.Now()) {
		if token.RefreshToken == "" || !s.IsConfigured() {
			return "", &types.AuthError{Service: "gmail", Message: "mailbox token expired"}
		}

		// the refresher only needs the refresh token; expiry is judged by our clock
		refreshed, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: token.RefreshToken}).Token()
		if err != nil {
			return "", &types.AuthError{Service: "gmail", Message: fmt.Sprintf("token refresh failed: %v", err)}
		}
		if refreshed.RefreshToken == "" {
			refreshed.RefreshToken = token.RefreshToken
		}
		if err := s.Save(ctx, ownerId, refreshed); err != nil {
			log.Warn().Str("owner_id", ownerId).Err(err).Msg("failed to store refreshed mailbox token")
		}
		log.Debug().Str("owner_id", ownerId).Msg("refreshed mailbox token")
		return refreshed.AccessToken, nil
	}

	return token.AccessToken, nil
}
