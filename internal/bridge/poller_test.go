package bridge

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"instabridge/internal/models"
	"instabridge/internal/normalize"
	"instabridge/internal/store"
)

type fakeSource struct {
	conversations []models.Conversation
	messages      map[string][]models.RawMessage
	fetchErr      error
}

func (f *fakeSource) FetchRecentConversations(_ context.Context, _ int) ([]models.Conversation, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.conversations, nil
}

func (f *fakeSource) FetchRecentMessages(_ context.Context, conversationID string, _ int) ([]models.RawMessage, error) {
	return f.messages[conversationID], nil
}

type fakeNotifier struct {
	notices []string
}

func (f *fakeNotifier) NotifyError(_ context.Context, text string) {
	f.notices = append(f.notices, text)
}

type pathFetcher struct{}

func (pathFetcher) Fetch(_ context.Context, url, ext string) (string, error) {
	return "/nonexistent/" + filepath.Base(url) + "." + ext, nil
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func textMessage(conversationID, id, body string) models.RawMessage {
	return models.RawMessage{
		ID:             id,
		ConversationID: conversationID,
		SenderHandle:   "alice",
		Timestamp:      time.Now(),
		Item:           models.Text{Body: body},
	}
}

func newTestPoller(src Source, st *store.Store, relay *fakeRelay, notifier Notifier, cfg PollerConfig) *Poller {
	if cfg.ConversationLimit == 0 {
		cfg.ConversationLimit = 10
	}
	if cfg.MessageLimit == 0 {
		cfg.MessageLimit = 5
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Second
	}
	return NewPoller(src, normalize.New(pathFetcher{}), NewPublisher(relay), st, notifier, cfg)
}

func TestEndToEndForward(t *testing.T) {
	src := &fakeSource{
		conversations: []models.Conversation{{ID: "T1", SenderHandle: "alice"}},
		messages:      map[string][]models.RawMessage{"T1": {textMessage("T1", "M1", "hi")}},
	}
	st := testStore(t)
	relay := &fakeRelay{}
	p := newTestPoller(src, st, relay, nil, PollerConfig{})

	p.RunCycle(context.Background())

	assert.Equal(t, 1, relay.textCalls)
	assert.Contains(t, relay.lastText, "hi")
	assert.Equal(t, int64(1), p.Forwarded())

	m, err := st.LookupByRelayRef(context.Background(), 7, 555)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "T1", m.ConversationID)
	assert.Equal(t, "M1", m.SourceMessageID)
	assert.Equal(t, "alice", m.SenderHandle)
}

func TestUnchangedBatchPublishesOnce(t *testing.T) {
	src := &fakeSource{
		conversations: []models.Conversation{{ID: "T1", SenderHandle: "alice"}},
		messages: map[string][]models.RawMessage{"T1": {
			textMessage("T1", "M1", "one"),
			textMessage("T1", "M2", "two"),
		}},
	}
	st := testStore(t)
	relay := &fakeRelay{}
	p := newTestPoller(src, st, relay, nil, PollerConfig{})

	p.RunCycle(context.Background())
	p.RunCycle(context.Background())

	assert.Equal(t, 2, relay.textCalls, "each message forwarded exactly once")
}

func TestWhitelistSkipsWithoutClaiming(t *testing.T) {
	src := &fakeSource{
		conversations: []models.Conversation{{ID: "T1", SenderHandle: "alice"}},
		messages:      map[string][]models.RawMessage{"T1": {textMessage("T1", "M1", "hi")}},
	}
	st := testStore(t)

	relay := &fakeRelay{}
	blocked := newTestPoller(src, st, relay, nil, PollerConfig{AllowedSenders: []string{"carol"}})
	blocked.RunCycle(context.Background())
	assert.Zero(t, relay.textCalls)

	// A live whitelist change picks the message up on the next cycle
	// because skipped messages were never claimed.
	allowed := newTestPoller(src, st, relay, nil, PollerConfig{AllowedSenders: []string{"alice"}})
	allowed.RunCycle(context.Background())
	assert.Equal(t, 1, relay.textCalls)
}

func TestOwnMessagesIgnored(t *testing.T) {
	msg := textMessage("T1", "M1", "me")
	msg.FromSelf = true
	src := &fakeSource{
		conversations: []models.Conversation{{ID: "T1", SenderHandle: "alice"}},
		messages:      map[string][]models.RawMessage{"T1": {msg}},
	}
	st := testStore(t)
	relay := &fakeRelay{}
	p := newTestPoller(src, st, relay, nil, PollerConfig{})

	p.RunCycle(context.Background())
	assert.Zero(t, relay.textCalls)
}

func TestEmptyContentDroppedAndNotRetried(t *testing.T) {
	src := &fakeSource{
		conversations: []models.Conversation{{ID: "T1", SenderHandle: "alice"}},
		messages:      map[string][]models.RawMessage{"T1": {textMessage("T1", "M1", "")}},
	}
	st := testStore(t)
	relay := &fakeRelay{}
	p := newTestPoller(src, st, relay, nil, PollerConfig{})

	p.RunCycle(context.Background())
	p.RunCycle(context.Background())

	assert.Zero(t, relay.textCalls)

	seen, err := st.HasSeen(context.Background(), "M1")
	require.NoError(t, err)
	assert.True(t, seen, "dropped event still consumes its seen slot")
}

func TestPublishFailureSkipsMappingAndIsNotRetried(t *testing.T) {
	src := &fakeSource{
		conversations: []models.Conversation{{ID: "T1", SenderHandle: "alice"}},
		messages:      map[string][]models.RawMessage{"T1": {textMessage("T1", "M1", "hi")}},
	}
	st := testStore(t)
	relay := &fakeRelay{err: errors.New("relay down")}
	notifier := &fakeNotifier{}
	p := newTestPoller(src, st, relay, notifier, PollerConfig{})

	p.RunCycle(context.Background())

	m, err := st.LookupByRelayRef(context.Background(), 7, 555)
	require.NoError(t, err)
	assert.Nil(t, m, "no mapping without a successful publish")
	assert.NotEmpty(t, notifier.notices)

	// Claim happened before the publish, so the message is not retried.
	relay.err = nil
	p.RunCycle(context.Background())
	assert.Equal(t, 1, relay.textCalls, "claim precedes side effect: no second attempt")
}

// mediaFailRelay fails media sends but still delivers text.
type mediaFailRelay struct {
	inner *fakeRelay
	err   error
}

func (m *mediaFailRelay) SendMediaGroup(_ context.Context, _ []models.MediaItem) (models.RelayMessageRef, error) {
	return models.RelayMessageRef{}, m.err
}

func (m *mediaFailRelay) SendMedia(_ context.Context, _ models.MediaItem) (models.RelayMessageRef, error) {
	return models.RelayMessageRef{}, m.err
}

func (m *mediaFailRelay) SendText(ctx context.Context, text string) (models.RelayMessageRef, error) {
	return m.inner.SendText(ctx, text)
}

func TestMediaFailureFallsBackToSourceLink(t *testing.T) {
	msg := models.RawMessage{
		ID:             "M1",
		ConversationID: "T1",
		SenderHandle:   "alice",
		Timestamp:      time.Now(),
		Item: models.SharedPost{
			Code:  "abc",
			Media: models.MediaRef{Kind: models.MediaPhoto, URL: "https://cdn/p.jpg"},
		},
	}
	src := &fakeSource{
		conversations: []models.Conversation{{ID: "T1", SenderHandle: "alice"}},
		messages:      map[string][]models.RawMessage{"T1": {msg}},
	}
	st := testStore(t)
	relay := &fakeRelay{}
	notifier := &fakeNotifier{}
	p := newTestPoller(src, st, relay, notifier, PollerConfig{})
	p.pub = NewPublisher(&mediaFailRelay{inner: relay, err: errors.New("upload timeout")})

	p.RunCycle(context.Background())

	assert.Equal(t, 1, relay.textCalls, "degraded delivery as a link-only message")
	assert.Contains(t, relay.lastText, `<a href="https://instagram.com/p/abc/">Source</a>`)
	assert.Equal(t, int64(1), p.Forwarded())

	m, err := st.LookupByRelayRef(context.Background(), 7, 555)
	require.NoError(t, err)
	require.NotNil(t, m, "fallback delivery still records the mapping")
	assert.Equal(t, "M1", m.SourceMessageID)

	p.RunCycle(context.Background())
	assert.Equal(t, 1, relay.textCalls, "claim consumed, no second delivery")
}

func TestFetchFailureNotifiesAndContinues(t *testing.T) {
	src := &fakeSource{fetchErr: errors.New("login expired")}
	st := testStore(t)
	notifier := &fakeNotifier{}
	p := newTestPoller(src, st, &fakeRelay{}, notifier, PollerConfig{})

	p.RunCycle(context.Background())

	require.Len(t, notifier.notices, 1)
	assert.Contains(t, notifier.notices[0], "inbox fetch failed")
}

func TestPerMessageFailureDoesNotAbortBatch(t *testing.T) {
	src := &fakeSource{
		conversations: []models.Conversation{{ID: "T1", SenderHandle: "alice"}},
		messages: map[string][]models.RawMessage{"T1": {
			textMessage("T1", "M1", "first"),
			textMessage("T1", "M2", "second"),
		}},
	}
	st := testStore(t)
	relay := &fakeRelay{}
	p := newTestPoller(src, st, relay, &fakeNotifier{}, PollerConfig{})

	// Fail only the first send.
	p.pub = NewPublisher(&flakyRelay{inner: relay})

	p.RunCycle(context.Background())
	assert.Equal(t, 1, relay.textCalls, "second message still processed")
}

// flakyRelay fails the first text send, then delegates.
type flakyRelay struct {
	inner  *fakeRelay
	failed bool
}

func (f *flakyRelay) SendMediaGroup(ctx context.Context, items []models.MediaItem) (models.RelayMessageRef, error) {
	return f.inner.SendMediaGroup(ctx, items)
}

func (f *flakyRelay) SendMedia(ctx context.Context, item models.MediaItem) (models.RelayMessageRef, error) {
	return f.inner.SendMedia(ctx, item)
}

func (f *flakyRelay) SendText(ctx context.Context, text string) (models.RelayMessageRef, error) {
	if !f.failed {
		f.failed = true
		return models.RelayMessageRef{}, errors.New("flaky")
	}
	return f.inner.SendText(ctx, text)
}

type countingHook struct {
	calls    int
	lastRef  models.MessageMapping
	lastText string
}

func (h *countingHook) MessageForwarded(_ context.Context, m models.MessageMapping, c models.InboundContent) {
	h.calls++
	h.lastRef = m
	h.lastText = c.Text
}

func TestForwardHooksRunAfterMappingSaved(t *testing.T) {
	src := &fakeSource{
		conversations: []models.Conversation{{ID: "T1", SenderHandle: "alice"}},
		messages:      map[string][]models.RawMessage{"T1": {textMessage("T1", "M1", "hi")}},
	}
	st := testStore(t)
	hook := &countingHook{}
	p := NewPoller(src, normalize.New(pathFetcher{}), NewPublisher(&fakeRelay{}), st, nil,
		PollerConfig{Interval: time.Second, ConversationLimit: 10, MessageLimit: 5}, hook)

	p.RunCycle(context.Background())

	assert.Equal(t, 1, hook.calls)
	assert.Equal(t, "M1", hook.lastRef.SourceMessageID)
	assert.Equal(t, "hi", hook.lastText)
}
