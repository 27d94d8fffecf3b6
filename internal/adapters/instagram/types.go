package instagram

import (
	"time"

	"instabridge/internal/models"
)

// Wire types for the private direct-message API. Only the fields the bridge
// reads are declared.

type wireUser struct {
	ID       int64  `json:"pk"`
	Username string `json:"username"`
}

type wireImage struct {
	URL string `json:"url"`
}

type wireVideo struct {
	URL string `json:"url"`
}

type wireCaption struct {
	Text string `json:"text"`
}

type wireMedia struct {
	MediaType      int          `json:"media_type"` // 1 photo, 2 video, 8 carousel
	Code           string       `json:"code"`
	User           wireUser     `json:"user"`
	Caption        *wireCaption `json:"caption"`
	ImageVersions2 struct {
		Candidates []wireImage `json:"candidates"`
	} `json:"image_versions2"`
	VideoVersions []wireVideo `json:"video_versions"`
	CarouselMedia []wireMedia `json:"carousel_media"`
}

type wireLink struct {
	Text        string `json:"text"`
	LinkContext struct {
		LinkURL string `json:"link_url"`
	} `json:"link_context"`
}

type wireStoryShare struct {
	Media *wireMedia `json:"media"`
}

type wireVoiceMedia struct {
	Media struct {
		Audio struct {
			AudioSrc string `json:"audio_src"`
		} `json:"audio"`
	} `json:"media"`
}

type wireItem struct {
	ItemID      string          `json:"item_id"`
	UserID      int64           `json:"user_id"`
	Timestamp   int64           `json:"timestamp"` // microseconds
	ItemType    string          `json:"item_type"`
	Text        string          `json:"text"`
	Link        *wireLink       `json:"link"`
	MediaShare  *wireMedia      `json:"media_share"`
	Clip        *wireMedia      `json:"clip"`
	StoryShare  *wireStoryShare `json:"story_share"`
	VoiceMedia  *wireVoiceMedia `json:"voice_media"`
	VisualMedia *wireMedia      `json:"visual_media"`
	Media       *wireMedia      `json:"media"`
}

type wireThread struct {
	ThreadID string     `json:"thread_id"`
	Users    []wireUser `json:"users"`
	Items    []wireItem `json:"items"`
}

type inboxResponse struct {
	Inbox struct {
		Threads []wireThread `json:"threads"`
	} `json:"inbox"`
}

type threadResponse struct {
	Thread wireThread `json:"thread"`
}

type loginResponse struct {
	SessionToken string   `json:"session_token"`
	LoggedInUser wireUser `json:"logged_in_user"`
}

type currentUserResponse struct {
	User wireUser `json:"user"`
}

// mediaRef picks the best asset URL for a media object: video when present,
// largest image candidate otherwise.
func mediaRef(m wireMedia) models.MediaRef {
	if m.MediaType == 2 && len(m.VideoVersions) > 0 {
		return models.MediaRef{Kind: models.MediaVideo, URL: m.VideoVersions[0].URL}
	}
	if len(m.ImageVersions2.Candidates) > 0 {
		return models.MediaRef{Kind: models.MediaPhoto, URL: m.ImageVersions2.Candidates[0].URL}
	}
	return models.MediaRef{}
}

func captionText(m wireMedia) string {
	if m.Caption == nil {
		return ""
	}
	return m.Caption.Text
}

// toRawItem maps one wire item to its normalized variant. Unknown item types
// map to nil and are skipped downstream.
func toRawItem(it wireItem) models.RawItem {
	switch it.ItemType {
	case "text":
		return models.Text{Body: it.Text}

	case "link":
		if it.Link == nil {
			return models.Text{Body: it.Text}
		}
		return models.Link{Text: it.Link.Text, URL: it.Link.LinkContext.LinkURL}

	case "media_share", "clip":
		m := it.MediaShare
		if it.ItemType == "clip" {
			m = it.Clip
		}
		if m == nil {
			return nil
		}
		if len(m.CarouselMedia) > 0 {
			refs := make([]models.MediaRef, 0, len(m.CarouselMedia))
			for _, cm := range m.CarouselMedia {
				if ref := mediaRef(cm); ref.URL != "" {
					refs = append(refs, ref)
				}
			}
			return models.Carousel{Code: m.Code, Caption: captionText(*m), Items: refs}
		}
		return models.SharedPost{Code: m.Code, Caption: captionText(*m), Media: mediaRef(*m)}

	case "story_share":
		if it.StoryShare == nil || it.StoryShare.Media == nil {
			return nil
		}
		return models.Story{
			AuthorHandle: it.StoryShare.Media.User.Username,
			Media:        mediaRef(*it.StoryShare.Media),
		}

	case "voice_media":
		if it.VoiceMedia == nil {
			return nil
		}
		return models.Voice{URL: it.VoiceMedia.Media.Audio.AudioSrc}

	case "raven_media":
		if it.VisualMedia == nil {
			return nil
		}
		ref := mediaRef(*it.VisualMedia)
		if ref.Kind == models.MediaVideo {
			return models.VisualNote{URL: ref.URL}
		}
		return models.DirectMedia{Media: ref}

	case "media":
		if it.Media == nil {
			return nil
		}
		return models.DirectMedia{Media: mediaRef(*it.Media)}

	default:
		return nil
	}
}

// toRawMessage converts a wire item into the normalized message envelope.
func toRawMessage(threadID string, it wireItem, usersByID map[int64]string, viewerID int64) models.RawMessage {
	return models.RawMessage{
		ID:             it.ItemID,
		ConversationID: threadID,
		SenderHandle:   usersByID[it.UserID],
		FromSelf:       it.UserID == viewerID,
		Timestamp:      time.UnixMicro(it.Timestamp),
		Item:           toRawItem(it),
	}
}
