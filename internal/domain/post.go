package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// PostID identifies a post within its source endpoint. Remote payloads carry
// ids as numbers or strings; both decode to the same string form, which is
// also the form stored in read markers.
type PostID string

func (id *PostID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to decode post id: %w", err)
		}
		*id = PostID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("failed to decode post id: %w", err)
	}
	*id = PostID(n.String())
	return nil
}

func (id PostID) String() string {
	return string(id)
}

type Summary struct {
	Short string `json:"short"`
	Full  string `json:"full"`
}

type Post struct {
	ID       PostID     `json:"id"`
	Title    string     `json:"title"`
	URL      string     `json:"url"`
	PostDate *time.Time `json:"post_date,omitempty"`
	Summary  *Summary   `json:"summary,omitempty"`
}

func (p *Post) Validate() error {
	if p.ID == "" {
		return ErrInvalidPostID
	}
	return nil
}

// PostsEntry is the cached outcome of fetching one endpoint. Once settled,
// exactly one of Posts (non-nil, possibly empty) or Error is set.
// SourceTitle holds a title the endpoint embedded in its payload, if any.
type PostsEntry struct {
	Posts       []Post `json:"posts"`
	Error       string `json:"error,omitempty"`
	SourceTitle string `json:"source_title,omitempty"`
}

func (e PostsEntry) Failed() bool {
	return e.Error != ""
}

// TitleEntry is the cached outcome of a title lookup.
type TitleEntry struct {
	Title string `json:"title,omitempty"`
	Error string `json:"error,omitempty"`
}

// Recommendation is a candidate endpoint suggested from a source newsletter.
type Recommendation struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
}
