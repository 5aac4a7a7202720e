package auth

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/synopsis/pkg/types"
)

// AccessTokenSource returns a usable mailbox access token for an owner
type AccessTokenSource interface {
	AccessToken(ctx context.Context, ownerId string) (string, error)
}

// Identity resolves the caller behind a session token
type Identity struct {
	sessions *SessionManager
	tokens   AccessTokenSource
}

func NewIdentity(sessions *SessionManager, tokens AccessTokenSource) *Identity {
	return &Identity{sessions: sessions, tokens: tokens}
}

// CurrentUser validates sessionToken and loads the owner's mailbox token.
// Returns UnauthenticatedError when there is no valid session.
func (i *Identity) CurrentUser(ctx context.Context, sessionToken string) (*types.Identity, error) {
	if sessionToken == "" {
		return nil, &types.UnauthenticatedError{Reason: "no session"}
	}

	claims, err := i.sessions.Validate(sessionToken)
	if err != nil {
		log.Debug().Err(err).Msg("invalid session")
		return nil, &types.UnauthenticatedError{Reason: "invalid session"}
	}

	mailboxToken, err := i.tokens.AccessToken(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}

	return &types.Identity{
		Id:           claims.Subject,
		Email:        claims.Email,
		MailboxToken: mailboxToken,
	}, nil
}
