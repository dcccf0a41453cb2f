package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// QueuedURL is one row of the exported URL sheet.
type QueuedURL struct {
	URL       string
	AddedDate time.Time
	DocID     string
}

var addedDateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006",
}

// ReadURLSheet returns the last n rows of the sheet at path, oldest first,
// keeping only the newest row for each URL. n <= 0 returns every row.
// Rows with an unparseable added_date get now.
func ReadURLSheet(path string, n int, now time.Time) ([]QueuedURL, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("url sheet: open %q: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("url sheet: read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	urlCol, ok := cols["url"]
	if !ok {
		return nil, fmt.Errorf("url sheet: no url column in %q", path)
	}

	var rows []QueuedURL
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("url sheet: read: %w", err)
		}
		u := cell(rec, urlCol)
		if u == "" {
			continue
		}
		q := QueuedURL{URL: u, AddedDate: now}
		if i, ok := cols["added_date"]; ok {
			if t, ok := parseAddedDate(cell(rec, i)); ok {
				q.AddedDate = t
			}
		}
		if i, ok := cols["docid"]; ok {
			q.DocID = cell(rec, i)
		}
		rows = append(rows, q)
	}

	if n > 0 && len(rows) > n {
		rows = rows[len(rows)-n:]
	}
	return dedupeURLs(rows), nil
}

// dedupeURLs keeps the last occurrence of each URL in its position.
func dedupeURLs(rows []QueuedURL) []QueuedURL {
	last := make(map[string]int, len(rows))
	for i, q := range rows {
		last[q.URL] = i
	}
	out := make([]QueuedURL, 0, len(last))
	for i, q := range rows {
		if last[q.URL] == i {
			out = append(out, q)
		}
	}
	return out
}

func cell(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseAddedDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range addedDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
