package retrieval

import (
	"sort"
	"strings"
)

// matchedTermsAndFields tokenizes the query on ASCII alphanumerics, lowers
// case, drops single-character tokens, dedupes, and caps to
// maxMatchedTerms, then records which surviving token appears in the
// snippet ("text") and/or the note key ("key") (spec §4.3 "Matched terms /
// fields").
func matchedTermsAndFields(query, snippet string, key *string) (terms []string, fields []string) {
	tokens := tokenizeQuery(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	lowerSnippet := strings.ToLower(snippet)
	var lowerKey string
	hasKey := key != nil
	if hasKey {
		lowerKey = strings.ToLower(*key)
	}

	fieldSet := make(map[string]bool, 2)
	for _, t := range tokens {
		if strings.Contains(lowerSnippet, t) {
			fieldSet["text"] = true
		}
		if hasKey && strings.Contains(lowerKey, t) {
			fieldSet["key"] = true
		}
	}

	fields = make([]string, 0, len(fieldSet))
	for f := range fieldSet {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	return tokens, fields
}

// tokenizeQuery splits on non-ASCII-alphanumeric runs, lowercases, drops
// 1-char tokens, dedupes, and caps to maxMatchedTerms.
func tokenizeQuery(query string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, maxMatchedTerms)
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 1 {
			tok := cur.String()
			if !seen[tok] {
				seen[tok] = true
				out = append(out, tok)
			}
		}
		cur.Reset()
	}

	for _, r := range strings.ToLower(query) {
		if isASCIIAlnum(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
		if len(out) >= maxMatchedTerms {
			break
		}
	}
	if len(out) < maxMatchedTerms {
		flush()
	}

	if len(out) > maxMatchedTerms {
		out = out[:maxMatchedTerms]
	}
	return out
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}
