package writegate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyPolicyNilIsNoop(t *testing.T) {
	out, audit, err := ApplyPolicy("hello world", nil)
	require.NoError(t, err)
	require.Equal(t, "hello world", out)
	require.Empty(t, audit.Exclusions)
	require.Empty(t, audit.Redactions)
}

func TestApplyPolicyExclusionRemovesSpan(t *testing.T) {
	text := "my ssn is 123-45-6789 and nothing else"
	policy := &Policy{Exclusions: []Span{{Start: 10, End: 21}}}

	out, audit, err := ApplyPolicy(text, policy)
	require.NoError(t, err)
	require.Equal(t, "my ssn is  and nothing else", out)
	require.Len(t, audit.Exclusions, 1)
	require.Equal(t, Span{Start: 10, End: 21}, audit.Exclusions[0])
}

func TestApplyPolicyRedactionReplacesSpan(t *testing.T) {
	text := "call me at 555-0100 tomorrow"
	policy := &Policy{Redactions: []Redaction{
		{Span: Span{Start: 11, End: 19}, Replacement: "[REDACTED]"},
	}}

	out, audit, err := ApplyPolicy(text, policy)
	require.NoError(t, err)
	require.Equal(t, "call me at [REDACTED] tomorrow", out)
	require.Len(t, audit.Redactions, 1)
	require.Equal(t, "[REDACTED]", audit.Redactions[0].Replacement)
}

func TestApplyPolicyRedactionRemoveFlagIgnoresReplacement(t *testing.T) {
	text := "keep this but drop that part"
	policy := &Policy{Redactions: []Redaction{
		{Span: Span{Start: 14, End: 23}, Replacement: "unused", Remove: true},
	}}

	out, _, err := ApplyPolicy(text, policy)
	require.NoError(t, err)
	require.Equal(t, "keep this part", out)
}

func TestApplyPolicyAppliesMultipleNonOverlappingSpans(t *testing.T) {
	text := "aaaa bbbb cccc"
	policy := &Policy{
		Exclusions: []Span{{Start: 0, End: 4}},
		Redactions: []Redaction{{Span: Span{Start: 10, End: 14}, Replacement: "DDDD"}},
	}

	out, audit, err := ApplyPolicy(text, policy)
	require.NoError(t, err)
	require.Equal(t, " bbbb DDDD", out)
	require.Len(t, audit.Exclusions, 1)
	require.Len(t, audit.Redactions, 1)
}

func TestApplyPolicyRejectsOverlappingSpans(t *testing.T) {
	policy := &Policy{Redactions: []Redaction{
		{Span: Span{Start: 0, End: 5}},
		{Span: Span{Start: 3, End: 8}},
	}}

	_, _, err := ApplyPolicy("0123456789", policy)
	require.Error(t, err)
}

func TestApplyPolicyRejectsOutOfBoundsSpan(t *testing.T) {
	policy := &Policy{Exclusions: []Span{{Start: 0, End: 100}}}

	_, _, err := ApplyPolicy("short", policy)
	require.Error(t, err)
}

func TestApplyPolicyRejectsInvertedSpan(t *testing.T) {
	policy := &Policy{Exclusions: []Span{{Start: 5, End: 2}}}

	_, _, err := ApplyPolicy("hello world", policy)
	require.Error(t, err)
}
