package synopsis

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/llm"
	"github.com/beam-cloud/synopsis/pkg/types"
)

// Persister stores a synopsis before it is reported as processed
type Persister interface {
	Persist(ctx context.Context, ownerId string, msg *types.NormalizedMessage, synopsis *types.SynopsisResult) error
}

// Generator produces and persists one synopsis per message
type Generator struct {
	model  llm.Generator
	writer Persister
	cfg    types.SynopsisConfig
	clock  common.Clock
}

func NewGenerator(model llm.Generator, writer Persister, cfg types.SynopsisConfig, clock common.Clock) *Generator {
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = 4
	}
	if cfg.RawLogTruncation <= 0 {
		cfg.RawLogTruncation = 500
	}
	return &Generator{model: model, writer: writer, cfg: cfg, clock: clock}
}

// Generate returns the persisted synopsis for msg. A nil result with a nil
// error means the message was skipped: it was too large, or the response
// could not be parsed.
func (g *Generator) Generate(ctx context.Context, ownerId string, msg *types.NormalizedMessage) (*types.SynopsisResult, error) {
	if err := g.checkSize(msg); err != nil {
		log.Warn().Str("message_id", msg.Id).Err(err).Msg("skipping oversized message")
		return nil, nil
	}

	raw, err := g.model.Generate(ctx, BuildPrompt(msg, g.cfg.MaxBodyChars))
	if err != nil {
		return nil, classifyError(err, g.clock.Now())
	}

	result, err := ParseResponse(raw)
	if err != nil {
		parseErr := &types.ParseError{
			MessageId: msg.Id,
			Raw:       truncateRunes(raw, g.cfg.RawLogTruncation),
			Err:       err,
		}
		log.Warn().Str("message_id", msg.Id).Str("raw", parseErr.Raw).Err(parseErr).Msg("skipping unparseable synopsis")
		return nil, nil
	}

	if err := g.writer.Persist(ctx, ownerId, msg, result); err != nil {
		var storeErr *types.StoreError
		if errors.As(err, &storeErr) {
			return nil, err
		}
		return nil, &types.StoreError{Op: "persist", MessageId: msg.Id, Err: err}
	}

	log.Debug().
		Str("message_id", msg.Id).
		Str("owner_id", ownerId).
		Int("urgency_score", result.UrgencyScore).
		Str("classification", result.Classification).
		Msg("synopsis generated")

	return result, nil
}

func (g *Generator) checkSize(msg *types.NormalizedMessage) error {
	if g.cfg.MaxInputTokens <= 0 {
		return nil
	}
	estimated := len(msg.Body) / g.cfg.CharsPerToken
	if estimated > g.cfg.MaxInputTokens {
		return &types.TokenLimitExceededError{
			MessageId:       msg.Id,
			EstimatedTokens: estimated,
			MaxTokens:       g.cfg.MaxInputTokens,
		}
	}
	return nil
}
