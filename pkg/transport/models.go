package transport

import (
	"encoding/json"
	"strings"
	"time"

	"harvester/pkg/models"
)

// searchResponse is the gateway's search payload
type searchResponse struct {
	Posts      []json.RawMessage `json:"posts"`
	NextCursor string            `json:"next_cursor"`
	HasMore    bool              `json:"has_more"`
}

// wirePost is one post as the gateway encodes it
type wirePost struct {
	ID           flexID    `json:"id"`
	Text         string    `json:"text"`
	User         wireUser  `json:"user"`
	CreatedAt    time.Time `json:"created_at"`
	LikeCount    int64     `json:"like_count"`
	RepostCount  int64     `json:"retweet_count"`
	ReplyCount   int64     `json:"reply_count"`
	ViewCount    *int64    `json:"view_count"`
	Lang         string    `json:"lang"`
	Hashtags     []string  `json:"hashtags"`
	ParentPostID flexID    `json:"in_reply_to_id"`
}

// flexID accepts ids encoded as JSON strings or numbers
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	*f = flexID(b)
	return nil
}

type wireUser struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

func (w wirePost) toRaw(raw json.RawMessage) models.RawPost {
	author := w.User.Username
	if author == "" {
		author = "unknown"
	}
	var views int64
	if w.ViewCount != nil {
		views = *w.ViewCount
	}
	return models.RawPost{
		ID:         string(w.ID),
		Author:     author,
		AuthorName: w.User.DisplayName,
		Text:       w.Text,
		CreatedAt:  w.CreatedAt.UTC(),
		Likes:      w.LikeCount,
		Reposts:    w.RepostCount,
		Replies:    w.ReplyCount,
		Views:      views,
		Language:   w.Lang,
		Hashtags:   w.Hashtags,
		IsRepost:   strings.HasPrefix(w.Text, "RT @"),
		ParentID:   string(w.ParentPostID),
		Raw:        raw,
	}
}
