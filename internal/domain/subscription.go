package domain

import (
	"net/url"
	"strings"
	"time"
)

// Subscription is one newsletter endpoint the user follows. Rows are kept in
// ascending CreatedAt order, which is the canonical list order.
type Subscription struct {
	ID        int       `json:"id"`
	URL       string    `json:"url"`
	UserID    int       `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Subscription) Validate() error {
	if strings.TrimSpace(s.URL) == "" {
		return ErrURLRequired
	}
	if s.UserID <= 0 {
		return ErrInvalidUserID
	}
	return nil
}

// ValidateURL trims raw and checks that it is an absolute http(s) URL.
// The trimmed value is returned on success.
func ValidateURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrURLRequired
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidURL
	}
	if u.Host == "" {
		return "", ErrInvalidURL
	}

	return trimmed, nil
}

// Label derives a display name from an endpoint URL: the host with a leading
// "www." removed, or the raw string when it does not parse.
func Label(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
