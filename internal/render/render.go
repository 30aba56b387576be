// Package render turns search results into ranked, scored entries and the
// Markdown/HTML shown in the UI.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/rjadr/historymemes/internal/models"
)

// RedditBaseURL prefixes record permalinks.
const RedditBaseURL = "https://www.reddit.com/"

// Result is one rendered neighbor.
type Result struct {
	Rank      int     `json:"rank"`
	RowIdx    int     `json:"rowIdx"`
	Title     string  `json:"title"`
	Permalink string  `json:"permalink"`
	URL       string  `json:"url"`
	ImageURL  string  `json:"imageUrl"`
	Distance  float64 `json:"distance"`
	Score     int     `json:"score"`
}

// ImageURLFunc returns the URL the browser loads a record's image from.
type ImageURLFunc func(m *models.Meme) string

// Scores min-max normalizes distances into integer percentages:
// int((1 - (d-min)/(max-min)) * 100), truncated. The closest result scores 100 and the
// farthest 0. When all distances are equal every score is 100.
func Scores(distances []float64) []int {
	scores := make([]int, len(distances))
	if len(distances) == 0 {
		return scores
	}

	lo, hi := distances[0], distances[0]
	for _, d := range distances[1:] {
		lo = min(lo, d)
		hi = max(hi, d)
	}

	spread := hi - lo
	for i, d := range distances {
		if spread == 0 {
			scores[i] = 100

			continue
		}

		scores[i] = int((1 - (d-lo)/spread) * 100)
	}

	return scores
}

// RedditURL returns the absolute URL of a permalink. A leading slash is dropped so the
// result has a single slash after the host.
func RedditURL(permalink string) string {
	return RedditBaseURL + strings.TrimPrefix(permalink, "/")
}

// Results ranks the neighbors of set (1-based, distance order) and attaches scores and URLs.
// A nil set yields nil.
func Results(set *models.ResultSet, imageURL ImageURLFunc) []Result {
	if set == nil {
		return nil
	}

	scores := Scores(set.Distances())
	out := make([]Result, len(set.Neighbors))

	for i, n := range set.Neighbors {
		r := Result{
			Rank:      i + 1,
			RowIdx:    n.Meme.RowIdx,
			Title:     n.Meme.Title,
			Permalink: n.Meme.Permalink,
			URL:       RedditURL(n.Meme.Permalink),
			Distance:  n.Distance,
			Score:     scores[i],
		}
		if imageURL != nil {
			r.ImageURL = imageURL(n.Meme)
		}

		out[i] = r
	}

	return out
}

// mdEscaper escapes the Markdown punctuation that could change how a title renders.
var mdEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", `*`, `\*`, `_`, `\_`, `[`, `\[`, `]`, `\]`,
	`<`, `\<`, `>`, `\>`, `#`, `\#`, `!`, `\!`, `~`, `\~`, `&`, `\&`,
)

// Markdown renders results under a "## Results" heading, one block per result
// followed by a horizontal rule.
func Markdown(results []Result) string {
	var b strings.Builder

	b.WriteString("## Results\n\n")

	for _, r := range results {
		title := mdEscaper.Replace(r.Title)

		fmt.Fprintf(&b, "### %d: %s\n\n", r.Rank, title)
		fmt.Fprintf(&b, "**Score:** %d %%\n\n", r.Score)
		fmt.Fprintf(&b, "**Url:** [%s](<%s>)\n\n", r.URL, r.URL)

		if r.ImageURL != "" {
			fmt.Fprintf(&b, "![%s](<%s>)\n\n", title, r.ImageURL)
		}

		b.WriteString("---\n\n")
	}

	return b.String()
}

var (
	markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))
	policy   = bluemonday.UGCPolicy()
)

// HTML converts Markdown to sanitized HTML.
func HTML(md string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}

	//nolint:gosec // output of the UGC policy
	return template.HTML(policy.SanitizeBytes(buf.Bytes())), nil
}

// Page renders a result set straight to sanitized HTML. A nil set renders nothing.
func Page(set *models.ResultSet, imageURL ImageURLFunc) (template.HTML, error) {
	if set == nil {
		return "", nil
	}

	return HTML(Markdown(Results(set, imageURL)))
}
