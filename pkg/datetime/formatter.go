package datetime

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

type Formatter struct {
	now func() time.Time
}

func NewFormatter() *Formatter {
	return &Formatter{now: time.Now}
}

var postDateFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.000-07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05 -07:00",
	"2006-01-02 15:04:05",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"02 Jan 2006 15:04:05 GMT",
	"January 2, 2006 15:04:05",
	"Jan 2, 2006 15:04:05",
	"Jan 2, 2006",
	"2006/01/02 15:04:05",
	"2006-01-02",
}

// Parse reads a post date in any of the formats newsletter platforms emit.
// The result is in UTC.
func (f *Formatter) Parse(dateStr string) (time.Time, error) {
	dateStr = strings.TrimSpace(dateStr)
	if dateStr == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	for _, format := range postDateFormats {
		if parsedTime, err := time.Parse(format, dateStr); err == nil {
			return parsedTime.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized date format %q", dateStr)
}

// ParseOptional is Parse for optional fields: unparseable input yields nil.
func (f *Formatter) ParseOptional(dateStr string) *time.Time {
	t, err := f.Parse(dateStr)
	if err != nil {
		return nil
	}
	return &t
}

// FormatArticleDate renders a post date the way the reader shows it,
// e.g. "Mar 4, 2025". A nil time renders as "".
func (f *Formatter) FormatArticleDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Local().Format("Jan 2, 2006")
}

// Relative renders how long ago t was, e.g. "3 days ago".
func (f *Formatter) Relative(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return humanize.RelTime(*t, f.now(), "ago", "from now")
}

func (f *Formatter) NormalizeToUTC(t time.Time) time.Time {
	return t.UTC()
}
