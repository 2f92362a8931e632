package retrieve

import (
	"net/url"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// Extraction is the structured record an Extractor produces for one URL:
// the article text plus heading-keyed sections and an optional infobox.
type Extraction struct {
	Text     string
	Sections map[string]string // keyed by normalizeTitle(headingText), body text
	Titles   map[string]string // same key, original (un-normalized) heading text
	// Order preserves the heading encounter order; SelectSections iterates
	// this instead of ranging Sections directly so "first maxN" fallback is
	// deterministic.
	Order   []string
	Infobox map[string]string
}

// Extractor is a pure function from parsed HTML to a structured record.
// Extractors never make further network calls.
type Extractor interface {
	Extract(rawHTML string, sourceURL string) (*Extraction, error)
}

// Registry dispatches a host to a specialized Extractor. Hosts with no entry
// fall through to DefaultExtractor.
type Registry map[string]Extractor

// DefaultRegistry routes known wiki hosts to WikiExtractor, which extracts
// their infoboxes alongside the default section discovery.
func DefaultRegistry() Registry {
	return Registry{
		"wikipedia.org": WikiExtractor,
		"fandom.com":    WikiExtractor,
		"wikia.org":     WikiExtractor,
	}
}

// forHost resolves host against the registry: exact entries first, then
// parent-domain suffixes, so en.wikipedia.org hits the wikipedia.org entry.
func (r Registry) forHost(host string) Extractor {
	host = strings.ToLower(host)
	if e, ok := r[host]; ok {
		return e
	}
	for pattern, e := range r {
		if strings.HasSuffix(host, "."+pattern) {
			return e
		}
	}
	return DefaultExtractor
}

// defaultExtractor implements density-based section discovery: walk the
// readability-detected article (falling back to the whole document), start
// a section at each heading, and collect paragraph and list text until the
// next heading.
type defaultExtractor struct{}

// DefaultExtractor is the fallback extractor for unregistered hosts.
var DefaultExtractor Extractor = defaultExtractor{}

var headingTags = map[string]int{"h1": 1, "h2": 2, "h3": 3, "h4": 4, "h5": 5, "h6": 6}

func (defaultExtractor) Extract(rawHTML string, sourceURL string) (*Extraction, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}

	root := doc
	articleHTML := rawHTML
	base, _ := url.Parse(sourceURL)
	if art, rerr := readability.FromReader(strings.NewReader(rawHTML), base); rerr == nil && strings.TrimSpace(art.Content) != "" {
		articleHTML = art.Content
		if parsed, perr := html.Parse(strings.NewReader(art.Content)); perr == nil {
			root = parsed
		}
	}

	sections := make(map[string]string)
	titles := make(map[string]string)
	var order []string
	var currentTitle string
	var currentBody strings.Builder

	flush := func() {
		if currentTitle == "" {
			return
		}
		key := normalizeTitle(currentTitle)
		if key == "" {
			return
		}
		body := strings.TrimSpace(currentBody.String())
		if _, seen := sections[key]; !seen {
			order = append(order, key)
		}
		sections[key] = body
		titles[key] = strings.TrimSpace(currentTitle)
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if _, ok := headingTags[n.Data]; ok {
				flush()
				currentTitle = textOf(n)
				currentBody.Reset()
				return // heading's own text isn't body content
			}
			if n.Data == "p" || n.Data == "li" {
				if currentTitle != "" {
					text := strings.TrimSpace(textOf(n))
					if text != "" {
						currentBody.WriteString(text)
						currentBody.WriteString("\n")
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	flush()

	return &Extraction{
		Text:     articleText(articleHTML, base, root),
		Sections: sections,
		Titles:   titles,
		Order:    order,
	}, nil
}

// articleText renders the article body to Markdown, the same normalization
// pass the fetch tooling applies before text reaches a summarizer. Falls
// back to the concatenated text nodes when conversion fails.
func articleText(articleHTML string, base *url.URL, root *html.Node) string {
	var opts []converter.ConvertOptionFunc
	if base != nil && base.Host != "" {
		opts = append(opts, converter.WithDomain(base.Scheme+"://"+base.Host))
	}
	md, err := htmltomarkdown.ConvertString(articleHTML, opts...)
	if err != nil || strings.TrimSpace(md) == "" {
		return strings.TrimSpace(textOf(root))
	}
	return strings.TrimSpace(md)
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeTitle lowercases and strips non-alphanumerics, producing the
// canonical key form section titles and query terms are matched in.
func normalizeTitle(s string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "")
}
