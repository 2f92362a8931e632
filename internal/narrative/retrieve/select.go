package retrieve

import "strings"

// ExtractQueryTerms produces the search terms for section selection: each
// quoted phrase yields its normalized single-token form (lowercase,
// non-alphanumerics removed) followed by its individual words, then any
// unquoted words follow, all deduplicated preserving first-seen order. A
// query of `"physical appearance"` therefore yields
// ["physicalappearance", "physical", "appearance"].
func ExtractQueryTerms(query string) []string {
	var terms []string
	seen := make(map[string]struct{})
	add := func(t string) {
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}

	remaining := query
	for {
		start := strings.IndexByte(remaining, '"')
		if start == -1 {
			break
		}
		end := strings.IndexByte(remaining[start+1:], '"')
		if end == -1 {
			break
		}
		phrase := remaining[start+1 : start+1+end]
		add(normalizeTitle(phrase))
		for _, word := range strings.Fields(phrase) {
			add(normalizeTitle(word))
		}
		remaining = remaining[:start] + remaining[start+1+end+1:]
	}

	for _, word := range strings.Fields(remaining) {
		add(normalizeTitle(word))
	}

	return terms
}

// Section is a selected (title, body) pair, in the order SelectSections
// chose them.
type Section struct {
	Title string
	Body  string
}

// SelectSections picks the sections worth quoting: if terms is empty, take
// the first maxN sections in insertion order. Otherwise, a section matches
// if any term is a substring of its lowercased title or the title's
// non-alphanumeric-stripped normalized form; take up to maxN matches in
// insertion order, falling back to the first maxN if nothing matches.
func SelectSections(ext *Extraction, terms []string, maxN int) []Section {
	if ext == nil || maxN <= 0 {
		return nil
	}

	titleFor := func(key string) string {
		if t, ok := ext.Titles[key]; ok && t != "" {
			return t
		}
		return key
	}

	firstN := func() []Section {
		out := make([]Section, 0, maxN)
		for _, key := range ext.Order {
			if len(out) >= maxN {
				break
			}
			out = append(out, Section{Title: titleFor(key), Body: ext.Sections[key]})
		}
		return out
	}

	if len(terms) == 0 {
		return firstN()
	}

	var matched []Section
	for _, key := range ext.Order {
		lower := strings.ToLower(titleFor(key))
		norm := key // already the normalized form
		hit := false
		for _, term := range terms {
			if strings.Contains(lower, term) || strings.Contains(norm, term) {
				hit = true
				break
			}
		}
		if hit {
			matched = append(matched, Section{Title: titleFor(key), Body: ext.Sections[key]})
			if len(matched) >= maxN {
				break
			}
		}
	}
	if len(matched) == 0 {
		return firstN()
	}
	return matched
}
