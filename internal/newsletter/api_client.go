package newsletter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"newsletter-reader/internal/domain"
	"newsletter-reader/pkg/datetime"
)

// Page is the decoded result of a posts request. Posts is non-nil.
type Page struct {
	Title string
	Posts []domain.Post
}

// APIClient calls the newsletter backend:
//
//	POST {base}/api/posts/           newsletter_url=<url>
//	POST {base}/api/get_title/       url=<url>
//	POST {base}/api/recommendations/ newsletter_url=<url>
type APIClient struct {
	baseURL string
	t       *transport
	dates   *datetime.Formatter
}

func NewAPIClient(baseURL string, opts Options) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		t:       newTransport(opts),
		dates:   datetime.NewFormatter(),
	}
}

type wirePost struct {
	ID       domain.PostID   `json:"id"`
	Title    string          `json:"title"`
	URL      string          `json:"url"`
	PostDate json.RawMessage `json:"post_date"`
	Summary  *domain.Summary `json:"summary"`
}

type wirePage struct {
	Title string     `json:"title"`
	Posts []wirePost `json:"posts"`
	Error string     `json:"error"`
}

func (c *APIClient) FetchPosts(ctx context.Context, newsletterURL string) (*Page, error) {
	body, err := c.t.postForm(ctx, c.baseURL+"/api/posts/", url.Values{"newsletter_url": {newsletterURL}})
	if err != nil {
		return nil, err
	}
	return decodePage(body, c.dates)
}

func decodePage(body []byte, dates *datetime.Formatter) (*Page, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty response")
	}

	var wp wirePage
	if body[0] == '[' {
		if err := json.Unmarshal(body, &wp.Posts); err != nil {
			return nil, fmt.Errorf("decode posts: %w", err)
		}
	} else {
		if err := json.Unmarshal(body, &wp); err != nil {
			return nil, fmt.Errorf("decode posts: %w", err)
		}
		if wp.Error != "" {
			return nil, &APIError{Message: wp.Error}
		}
	}

	page := &Page{Title: strings.TrimSpace(wp.Title), Posts: make([]domain.Post, 0, len(wp.Posts))}
	for _, p := range wp.Posts {
		page.Posts = append(page.Posts, domain.Post{
			ID:       p.ID,
			Title:    p.Title,
			URL:      p.URL,
			PostDate: parsePostDate(p.PostDate, dates),
			Summary:  p.Summary,
		})
	}
	return page, nil
}

// parsePostDate accepts a date string or a unix timestamp in seconds.
func parsePostDate(raw json.RawMessage, dates *datetime.Formatter) *time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return dates.ParseOptional(s)
	}

	var secs float64
	if err := json.Unmarshal(raw, &secs); err == nil && secs > 0 {
		t := time.Unix(int64(secs), 0).UTC()
		return &t
	}
	return nil
}

type wireTitle struct {
	Title *string `json:"title"`
	Error string  `json:"error"`
}

func (c *APIClient) FetchTitle(ctx context.Context, pageURL string) (string, error) {
	body, err := c.t.postForm(ctx, c.baseURL+"/api/get_title/", url.Values{"url": {pageURL}})
	if err != nil {
		return "", err
	}

	var wt wireTitle
	if err := json.Unmarshal(body, &wt); err != nil {
		return "", fmt.Errorf("decode title: %w", err)
	}
	if wt.Error != "" {
		return "", &APIError{Message: wt.Error}
	}
	if wt.Title == nil {
		return "", nil
	}
	return strings.TrimSpace(*wt.Title), nil
}

func (c *APIClient) FetchRecommendations(ctx context.Context, sourceURL string) ([]domain.Recommendation, error) {
	body, err := c.t.postForm(ctx, c.baseURL+"/api/recommendations/", url.Values{"newsletter_url": {sourceURL}})
	if err != nil {
		return nil, err
	}
	return decodeRecommendations(body)
}

type wireRecommendation struct {
	URL      *string `json:"url"`
	Title    *string `json:"title"`
	Name     *string `json:"name"`
	Subtitle *string `json:"subtitle"`
}

// decodeRecommendations accepts either a bare array or
// {"recommendations": [...]}. Items may be URL strings or objects; items
// without a URL are dropped.
func decodeRecommendations(body []byte) ([]domain.Recommendation, error) {
	body = bytes.TrimSpace(body)

	var items []json.RawMessage
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decode recommendations: %w", err)
		}
	} else {
		var wrapped struct {
			Recommendations []json.RawMessage `json:"recommendations"`
			Error           string            `json:"error"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("decode recommendations: %w", err)
		}
		if wrapped.Error != "" {
			return nil, &APIError{Message: wrapped.Error}
		}
		items = wrapped.Recommendations
	}

	recs := make([]domain.Recommendation, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || bytes.Equal(item, []byte("null")) {
			continue
		}

		if item[0] == '"' {
			var u string
			if err := json.Unmarshal(item, &u); err != nil || u == "" {
				continue
			}
			recs = append(recs, domain.Recommendation{URL: u, Title: u})
			continue
		}

		var w wireRecommendation
		if err := json.Unmarshal(item, &w); err != nil || w.URL == nil || *w.URL == "" {
			continue
		}
		rec := domain.Recommendation{URL: *w.URL, Title: *w.URL}
		switch {
		case w.Title != nil:
			rec.Title = *w.Title
		case w.Name != nil:
			rec.Title = *w.Name
		}
		if w.Subtitle != nil {
			rec.Subtitle = *w.Subtitle
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
