// Package cjk implements the English-gate check used on every ingestion
// path (spec §4.1 step 1, §7 "no language other than English"). It rejects
// any leaf string containing CJK script runes and walks arbitrary JSON
// values to locate the offending field by JSON pointer.
package cjk

import (
	"sort"
	"unicode"
)

// ContainsCJK reports whether s contains any CJK Unified Ideograph, Hiragana,
// Katakana, or Hangul rune.
func ContainsCJK(s string) bool {
	for _, r := range s {
		if isCJKRune(r) {
			return true
		}
	}
	return false
}

func isCJKRune(r rune) bool {
	switch {
	case unicode.Is(unicode.Han, r):
		return true
	case unicode.Is(unicode.Hiragana, r):
		return true
	case unicode.Is(unicode.Katakana, r):
		return true
	case unicode.Is(unicode.Hangul, r):
		return true
	default:
		return false
	}
}

// IsEnglishNaturalLanguage is the writegate's broader natural-language
// check: it reports whether s is free of CJK script. It does not test for
// empty input; writegate.Check rejects blank text before calling it. ELF does not
// attempt full language identification (spec's ingestion gate is scoped to
// rejecting CJK specifically; callers canonicalize upstream per spec §1).
func IsEnglishNaturalLanguage(s string) bool {
	return !ContainsCJK(s)
}

// FindCJKPath walks an arbitrary decoded-JSON value (map[string]any,
// []any, string, or scalar) depth-first and returns the JSON pointer of the
// first leaf string containing CJK, or "" if none is found. basePath should
// be the JSON pointer prefix for value (e.g. "$.notes[0].source_ref").
func FindCJKPath(value any, basePath string) string {
	switch v := value.(type) {
	case string:
		if ContainsCJK(v) {
			return basePath
		}
		return ""
	case []any:
		for i, item := range v {
			if path := FindCJKPath(item, basePath+"["+itoa(i)+"]"); path != "" {
				return path
			}
		}
		return ""
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if path := FindCJKPath(v[key], basePath+"[\""+escapeKey(key)+"\"]"); path != "" {
				return path
			}
		}
		return ""
	default:
		return ""
	}
}

func escapeKey(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c == '\\' || c == '"' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
