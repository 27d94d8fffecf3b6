package normalize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"instabridge/internal/media"
	"instabridge/internal/models"
)

// fakeFetcher maps URLs to local paths without touching the network.
type fakeFetcher struct {
	calls []string
	fail  map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, url, ext string) (string, error) {
	f.calls = append(f.calls, url)
	if err, ok := f.fail[url]; ok {
		return "", err
	}
	return "/tmp/" + strings.TrimPrefix(url, "https://cdn.example/") + "." + ext, nil
}

func rawMessage(item models.RawItem) models.RawMessage {
	return models.RawMessage{
		ID:             "M1",
		ConversationID: "T1",
		SenderHandle:   "alice",
		Item:           item,
	}
}

func TestNormalizeText(t *testing.T) {
	n := New(&fakeFetcher{})

	r, err := n.Normalize(context.Background(), rawMessage(models.Text{Body: "hi"}))
	require.NoError(t, err)
	assert.False(t, r.Skipped)
	assert.Equal(t, "hi", r.Content.Text)
	assert.Empty(t, r.Content.Media)
}

func TestNormalizeLinkAppendsToText(t *testing.T) {
	n := New(&fakeFetcher{})

	r, err := n.Normalize(context.Background(), rawMessage(models.Link{
		Text: "check this",
		URL:  "https://example.com/post",
	}))
	require.NoError(t, err)
	assert.Equal(t, "check this\nhttps://example.com/post", r.Content.Text)

	r, err = n.Normalize(context.Background(), rawMessage(models.Link{URL: "https://example.com"}))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", r.Content.Text)
}

func TestNormalizeSharedPost(t *testing.T) {
	n := New(&fakeFetcher{})

	r, err := n.Normalize(context.Background(), rawMessage(models.SharedPost{
		Code:    "abc123",
		Caption: "a caption",
		Media:   models.MediaRef{Kind: models.MediaPhoto, URL: "https://cdn.example/p1"},
	}))
	require.NoError(t, err)
	assert.False(t, r.Skipped)
	assert.Equal(t, "https://instagram.com/p/abc123/", r.Content.SourceURL)
	require.Len(t, r.Content.Media, 1)
	assert.Equal(t, models.MediaPhoto, r.Content.Media[0].Kind)
	assert.Equal(t, "a caption", r.Content.Media[0].Caption)
}

func TestNormalizeSharedPostCaptionTruncated(t *testing.T) {
	n := New(&fakeFetcher{})

	long := strings.Repeat("я", 300)
	r, err := n.Normalize(context.Background(), rawMessage(models.SharedPost{
		Code:    "abc",
		Caption: long,
		Media:   models.MediaRef{Kind: models.MediaPhoto, URL: "https://cdn.example/p1"},
	}))
	require.NoError(t, err)
	require.Len(t, r.Content.Media, 1)
	assert.Equal(t, 200, len([]rune(r.Content.Media[0].Caption)))
}

func TestNormalizeCarouselOrderAndCaption(t *testing.T) {
	n := New(&fakeFetcher{})

	r, err := n.Normalize(context.Background(), rawMessage(models.Carousel{
		Code:    "car1",
		Caption: "first only",
		Items: []models.MediaRef{
			{Kind: models.MediaPhoto, URL: "https://cdn.example/1"},
			{Kind: models.MediaVideo, URL: "https://cdn.example/2"},
			{Kind: models.MediaPhoto, URL: "https://cdn.example/3"},
		},
	}))
	require.NoError(t, err)
	require.Len(t, r.Content.Media, 3)

	kinds := []models.MediaKind{r.Content.Media[0].Kind, r.Content.Media[1].Kind, r.Content.Media[2].Kind}
	assert.Equal(t, []models.MediaKind{models.MediaPhoto, models.MediaVideo, models.MediaPhoto}, kinds)

	assert.Equal(t, "first only", r.Content.Media[0].Caption)
	assert.Empty(t, r.Content.Media[1].Caption)
	assert.Empty(t, r.Content.Media[2].Caption)
}

func TestNormalizeStorySynthesizesAttribution(t *testing.T) {
	n := New(&fakeFetcher{})

	r, err := n.Normalize(context.Background(), rawMessage(models.Story{
		AuthorHandle: "bob",
		Media:        models.MediaRef{Kind: models.MediaVideo, URL: "https://cdn.example/s1"},
	}))
	require.NoError(t, err)
	require.Len(t, r.Content.Media, 1)
	assert.Equal(t, "Story from @bob", r.Content.Media[0].Caption)
	assert.Equal(t, models.MediaVideo, r.Content.Media[0].Kind)
}

func TestNormalizeVoiceIsAudio(t *testing.T) {
	n := New(&fakeFetcher{})

	r, err := n.Normalize(context.Background(), rawMessage(models.Voice{URL: "https://cdn.example/v1"}))
	require.NoError(t, err)
	require.Len(t, r.Content.Media, 1)
	assert.Equal(t, models.MediaAudio, r.Content.Media[0].Kind)
	assert.Equal(t, "Voice message", r.Content.Media[0].Caption)
}

func TestNormalizeVisualNoteIsVideo(t *testing.T) {
	n := New(&fakeFetcher{})

	r, err := n.Normalize(context.Background(), rawMessage(models.VisualNote{URL: "https://cdn.example/n1"}))
	require.NoError(t, err)
	require.Len(t, r.Content.Media, 1)
	assert.Equal(t, models.MediaVideo, r.Content.Media[0].Kind)
}

func TestNormalizePartialDownloadFailure(t *testing.T) {
	f := &fakeFetcher{fail: map[string]error{
		"https://cdn.example/2": fmt.Errorf("connection reset"),
	}}
	n := New(f)

	r, err := n.Normalize(context.Background(), rawMessage(models.Carousel{
		Code: "car1",
		Items: []models.MediaRef{
			{Kind: models.MediaPhoto, URL: "https://cdn.example/1"},
			{Kind: models.MediaPhoto, URL: "https://cdn.example/2"},
			{Kind: models.MediaPhoto, URL: "https://cdn.example/3"},
		},
	}))
	require.NoError(t, err)
	assert.False(t, r.Skipped, "remaining items still forwarded")
	assert.Len(t, r.Content.Media, 2)
}

func TestNormalizeAllDownloadsFailedIsSkipped(t *testing.T) {
	f := &fakeFetcher{fail: map[string]error{
		"https://cdn.example/1": errors.New("timeout"),
	}}
	n := New(f)

	r, err := n.Normalize(context.Background(), rawMessage(models.SharedPost{
		Code:  "abc",
		Media: models.MediaRef{Kind: models.MediaPhoto, URL: "https://cdn.example/1"},
	}))
	require.NoError(t, err)
	assert.True(t, r.Skipped)
	assert.NotEmpty(t, r.Reason)
}

func TestNormalizeOversizedItemAddsNotice(t *testing.T) {
	f := &fakeFetcher{fail: map[string]error{
		"https://cdn.example/big": media.ErrTooLarge,
	}}
	n := New(f)

	r, err := n.Normalize(context.Background(), rawMessage(models.DirectMedia{
		Media: models.MediaRef{Kind: models.MediaVideo, URL: "https://cdn.example/big"},
	}))
	require.NoError(t, err)
	assert.True(t, r.Skipped)
	require.Len(t, r.Notices, 1)
	assert.Contains(t, r.Notices[0], "size limit")
}

func TestNormalizeUnknownItemSkipped(t *testing.T) {
	n := New(&fakeFetcher{})

	r, err := n.Normalize(context.Background(), models.RawMessage{ID: "M9"})
	require.NoError(t, err)
	assert.True(t, r.Skipped)
}
