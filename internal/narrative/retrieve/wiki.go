package retrieve

import (
	"strings"

	"golang.org/x/net/html"
)

// wikiExtractor handles wiki-style hosts. Sections come from the same
// heading walk the default extractor runs; on top of that, MediaWiki's
// <table class="infobox"> and Fandom's <aside class="portable-infobox">
// both feed Extraction.Infobox.
type wikiExtractor struct{}

// WikiExtractor is the extractor registered for wiki-like hosts.
var WikiExtractor Extractor = wikiExtractor{}

func (wikiExtractor) Extract(rawHTML string, sourceURL string) (*Extraction, error) {
	ext, err := DefaultExtractor.Extract(rawHTML, sourceURL)
	if err != nil {
		return nil, err
	}
	// The infobox is read from the full document: readability tends to
	// strip sidebar tables before the section walk ever sees them.
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}
	ext.Infobox = extractInfobox(doc)
	return ext, nil
}

// extractInfobox pulls key/value pairs out of the first infobox container
// in the document: <th>/<td> rows on MediaWiki, pi-data-label/pi-data-value
// items on Fandom wikis. Returns nil when no infobox is present.
func extractInfobox(doc *html.Node) map[string]string {
	box := findClass(doc, "infobox")
	if box == nil {
		box = findClass(doc, "portable-infobox")
	}
	if box == nil {
		return nil
	}

	info := make(map[string]string)
	add := func(k, v string) {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			return
		}
		if _, seen := info[k]; !seen {
			info[k] = v
		}
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.Data == "tr" {
				if k, v, ok := infoboxRow(n); ok {
					add(k, v)
				}
			}
			if hasClass(n, "pi-data") {
				label := findClass(n, "pi-data-label")
				value := findClass(n, "pi-data-value")
				if label != nil && value != nil {
					add(textOf(label), textOf(value))
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(box)

	if len(info) == 0 {
		return nil
	}
	return info
}

// infoboxRow reads one MediaWiki infobox row: the first <th> is the key,
// the first <td> the value. Header/spanning rows without both are skipped.
func infoboxRow(tr *html.Node) (string, string, bool) {
	var th, td *html.Node
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.Data {
		case "th":
			if th == nil {
				th = c
			}
		case "td":
			if td == nil {
				td = c
			}
		}
	}
	if th == nil || td == nil {
		return "", "", false
	}
	k := strings.TrimSpace(textOf(th))
	v := strings.TrimSpace(textOf(td))
	if k == "" || v == "" {
		return "", "", false
	}
	return k, v, true
}

func hasClass(n *html.Node, class string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func findClass(n *html.Node, class string) *html.Node {
	if hasClass(n, class) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if hit := findClass(c, class); hit != nil {
			return hit
		}
	}
	return nil
}
