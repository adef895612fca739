package newsletter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"newsletter-reader/internal/domain"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// ErrRecommendationsUnavailable is returned by clients that have no
// recommendation source.
var ErrRecommendationsUnavailable = errors.New("recommendations are not available without a newsletter API")

const shortSummaryLimit = 280

// DirectClient reads endpoints without the newsletter API: posts from the
// endpoint's RSS/Atom feed and titles from the page's HTML head.
type DirectClient struct {
	t      *transport
	parser *gofeed.Parser
}

func NewDirectClient(opts Options) *DirectClient {
	return &DirectClient{
		t:      newTransport(opts),
		parser: gofeed.NewParser(),
	}
}

func (c *DirectClient) FetchPosts(ctx context.Context, newsletterURL string) (*Page, error) {
	body, err := c.t.get(ctx, feedURL(newsletterURL))
	if err != nil {
		return nil, err
	}

	feed, err := c.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	page := &Page{Title: strings.TrimSpace(feed.Title), Posts: make([]domain.Post, 0, len(feed.Items))}
	for _, item := range feed.Items {
		page.Posts = append(page.Posts, postFromItem(item))
	}
	return page, nil
}

// feedURL maps a publication URL to its feed. Substack-style publications
// serve the feed at /feed; anything already pointing at a feed is kept.
func feedURL(newsletterURL string) string {
	lower := strings.ToLower(newsletterURL)
	if strings.Contains(lower, "/feed") || strings.HasSuffix(lower, ".xml") || strings.Contains(lower, "rss") {
		return newsletterURL
	}
	return strings.TrimRight(newsletterURL, "/") + "/feed"
}

func postFromItem(item *gofeed.Item) domain.Post {
	id := item.GUID
	if id == "" {
		id = item.Link
	}

	post := domain.Post{
		ID:    domain.PostID(id),
		Title: strings.TrimSpace(item.Title),
		URL:   item.Link,
	}

	switch {
	case item.PublishedParsed != nil:
		t := item.PublishedParsed.UTC()
		post.PostDate = &t
	case item.UpdatedParsed != nil:
		t := item.UpdatedParsed.UTC()
		post.PostDate = &t
	}

	full := StripHTML(item.Content)
	desc := StripHTML(item.Description)
	if full == "" {
		full = desc
	}
	if desc == "" {
		desc = full
	}
	if full != "" {
		post.Summary = &domain.Summary{Short: truncate(desc, shortSummaryLimit), Full: full}
	}
	return post
}

func (c *DirectClient) FetchTitle(ctx context.Context, pageURL string) (string, error) {
	body, err := c.t.get(ctx, pageURL)
	if err != nil {
		return "", err
	}
	return pageTitle(body)
}

// pageTitle prefers og:title and falls back to the <title> element.
func pageTitle(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if og = strings.TrimSpace(og); og != "" {
			return og, nil
		}
	}
	return strings.TrimSpace(doc.Find("head title").First().Text()), nil
}

func (c *DirectClient) FetchRecommendations(ctx context.Context, sourceURL string) ([]domain.Recommendation, error) {
	return nil, ErrRecommendationsUnavailable
}

// StripHTML returns the whitespace-collapsed text content of an HTML
// fragment.
func StripHTML(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}

	text := doc.Text()
	return strings.TrimSpace(strings.Join(strings.Fields(text), " "))
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit])) + "..."
}
