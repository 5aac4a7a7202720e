package synopsis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/llm"
	"github.com/beam-cloud/synopsis/pkg/types"
)

type fakeModel struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
}

func (m *fakeModel) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	return m.reply, m.err
}

type recordingPersister struct {
	mu     sync.Mutex
	stored map[string]*types.SynopsisResult
	err    error
}

func newRecordingPersister() *recordingPersister {
	return &recordingPersister{stored: map[string]*types.SynopsisResult{}}
}

func (p *recordingPersister) Persist(ctx context.Context, ownerId string, msg *types.NormalizedMessage, s *types.SynopsisResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.stored[msg.Id] = s
	return nil
}

func testMessage(id, body string) *types.NormalizedMessage {
	return &types.NormalizedMessage{
		Id:              id,
		Subject:         "Contract",
		Body:            body,
		Sender:          "Alice <alice@example.com>",
		Recipients:      []string{"bob@example.com"},
		DateReceived:    time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		AttachmentNames: []string{"contract.pdf"},
		UnsubscribeLink: "https://example.com/unsub",
	}
}

func newTestGenerator(model llm.Generator, writer Persister) *Generator {
	return NewGenerator(model, writer, types.SynopsisConfig{
		MaxInputTokens:   100,
		CharsPerToken:    4,
		MaxBodyChars:     1000,
		RawLogTruncation: 50,
	}, common.NewFakeClock(time.Now()))
}

func TestGenerateWritesThenReturns(t *testing.T) {
	model := &fakeModel{reply: wellFormedResponse}
	writer := newRecordingPersister()
	g := newTestGenerator(model, writer)

	result, err := g.Generate(context.Background(), "owner-1", testMessage("m1", "please sign"))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 82, result.UrgencyScore)
	assert.Same(t, result, writer.stored["m1"])

	require.Len(t, model.prompts, 1)
	prompt := model.prompts[0]
	assert.Contains(t, prompt, "From: Alice <alice@example.com>")
	assert.Contains(t, prompt, "To: bob@example.com")
	assert.Contains(t, prompt, "Attachments: contract.pdf")
	assert.Contains(t, prompt, "Unsubscribe link: present")
	assert.Contains(t, prompt, "Monday, March 2, 2026")
	assert.Contains(t, prompt, "please sign")
}

func TestGenerateSkipsOversizedMessage(t *testing.T) {
	model := &fakeModel{reply: wellFormedResponse}
	writer := newRecordingPersister()
	g := newTestGenerator(model, writer)

	result, err := g.Generate(context.Background(), "owner-1", testMessage("big", strings.Repeat("x", 404)))
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.Empty(t, model.prompts)
	assert.Empty(t, writer.stored)
}

func TestGenerateSkipsUnparseableResponse(t *testing.T) {
	model := &fakeModel{reply: "Sorry, I can't do that."}
	writer := newRecordingPersister()
	g := newTestGenerator(model, writer)

	result, err := g.Generate(context.Background(), "owner-1", testMessage("m1", "hi"))
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.Empty(t, writer.stored)
}

func TestGenerateClassifiesModelErrors(t *testing.T) {
	model := &fakeModel{err: &llm.APIError{StatusCode: 429, Body: []byte(structuredQuotaBody)}}
	g := newTestGenerator(model, newRecordingPersister())

	_, err := g.Generate(context.Background(), "owner-1", testMessage("m1", "hi"))
	rl, ok := types.AsRateLimited(err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, rl.RetryAfter)
}

func TestGenerateWrapsStoreFailure(t *testing.T) {
	writer := newRecordingPersister()
	writer.err = errors.New("disk full")
	g := newTestGenerator(&fakeModel{reply: wellFormedResponse}, writer)

	result, err := g.Generate(context.Background(), "owner-1", testMessage("m1", "hi"))
	assert.Nil(t, result)

	var storeErr *types.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "m1", storeErr.MessageId)
}

func TestBuildPromptTruncatesBody(t *testing.T) {
	msg := testMessage("m1", strings.Repeat("é", 20))
	msg.UnsubscribeLink = ""
	msg.AttachmentNames = nil

	prompt := BuildPrompt(msg, 5)
	assert.Contains(t, prompt, "\n"+strings.Repeat("é", 5)+"\n--- END EMAIL ---")
	assert.Contains(t, prompt, "Unsubscribe link: none")
	assert.Contains(t, prompt, "Attachments: none")
}
