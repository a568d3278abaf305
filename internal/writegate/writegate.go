// Package writegate implements the per-note admission checks from spec
// §4.1 step 2 (non-empty, English, length, type/scope, secret patterns) and
// the optional write-policy redaction pass from SPEC_FULL.md §5.4, grounded
// on original_source/packages/elf-domain/src/writegate.rs.
package writegate

import (
	"regexp"
	"sort"
	"strings"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/cjk"
	"github.com/elf-memory/elf/internal/config"
	"github.com/elf-memory/elf/internal/domain"
)

// ReasonCode is the stable per-note rejection reason surfaced to callers.
type ReasonCode string

const (
	ReasonCJK              ReasonCode = "REJECT_CJK"
	ReasonTooLong          ReasonCode = "REJECT_TOO_LONG"
	ReasonSecret           ReasonCode = "REJECT_SECRET"
	ReasonInvalidType      ReasonCode = "REJECT_INVALID_TYPE"
	ReasonScopeDenied      ReasonCode = "REJECT_SCOPE_DENIED"
	ReasonEmpty            ReasonCode = "REJECT_EMPTY"
	ReasonEvidenceMismatch ReasonCode = "REJECT_EVIDENCE_MISMATCH"
)

// Input is the subset of a candidate note the gate inspects.
type Input struct {
	Type  domain.NoteType
	Scope domain.Scope
	Text  string
}

// secretPatterns are checked in order; the first match wins. Grounded on
// original_source/packages/elf-domain/src/writegate.rs::contains_secrets,
// extended with the spec's explicit "BEGIN PRIVATE KEY" / "seed phrase"
// wording.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)-----BEGIN (RSA|OPENSSH|EC|DSA|PRIVATE) (PRIVATE )?KEY-----`),
	regexp.MustCompile(`(?i)ssh-rsa`),
	regexp.MustCompile(`(?i)sk-[a-z0-9]{20,}`),
	regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)password\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)secret\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)token\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)seed phrase`),
}

// ContainsSecret reports whether text matches any known secret pattern.
func ContainsSecret(text string) bool {
	for _, re := range secretPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Check runs the writegate against one note. cfg supplies the allowed
// scopes / write-allowed map / max_note_chars.
func Check(in Input, cfg *config.Config) (ReasonCode, bool) {
	if strings.TrimSpace(in.Text) == "" {
		return ReasonEmpty, false
	}
	if !cjk.IsEnglishNaturalLanguage(in.Text) {
		return ReasonCJK, false
	}
	if countRunes(in.Text) > cfg.Memory.MaxNoteChars {
		return ReasonTooLong, false
	}
	if !in.Type.Valid() {
		return ReasonInvalidType, false
	}
	if !scopeAllowed(cfg, in.Scope) {
		return ReasonScopeDenied, false
	}
	if !scopeWriteAllowed(cfg, in.Scope) {
		return ReasonScopeDenied, false
	}
	if ContainsSecret(in.Text) {
		return ReasonSecret, false
	}
	return "", true
}

func countRunes(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}

func scopeAllowed(cfg *config.Config, scope domain.Scope) bool {
	for _, s := range cfg.Scopes.Allowed {
		if domain.Scope(s) == scope {
			return true
		}
	}
	return false
}

func scopeWriteAllowed(cfg *config.Config, scope domain.Scope) bool {
	switch scope {
	case domain.ScopeAgentPrivate:
		return cfg.Scopes.WriteAllowed.AgentPrivate
	case domain.ScopeProjectShared:
		return cfg.Scopes.WriteAllowed.ProjectShared
	case domain.ScopeOrgShared:
		return cfg.Scopes.WriteAllowed.OrgShared
	default:
		return false
	}
}

// EvidenceCheck validates add_event's evidence-quote requirement (spec
// §4.1 step 3): the number of quotes must be within
// [min, max] inclusive, each quote at most maxChars runes, and each must
// appear verbatim (whitespace-collapsed) in the source message content.
func EvidenceCheck(quotes []string, messageContent string, min, max, maxChars int) bool {
	if len(quotes) < min || len(quotes) > max {
		return false
	}
	for _, q := range quotes {
		if !QuoteMatches(q, messageContent, maxChars) {
			return false
		}
	}
	return true
}

// QuoteMatches reports whether a single evidence quote is within maxChars
// runes and appears verbatim (whitespace-collapsed) in messageContent,
// grounded on original_source's elf_domain::evidence::evidence_matches.
func QuoteMatches(quote, messageContent string, maxChars int) bool {
	if countRunes(quote) > maxChars {
		return false
	}
	return strings.Contains(collapseWhitespace(messageContent), collapseWhitespace(quote))
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// --- Write-policy redaction (SPEC_FULL.md §5.4) ---

// Span is a half-open range of rune (character) indices into Text, so it
// always lands on character boundaries.
type Span struct {
	Start int
	End   int
}

// Redaction is either a Remove (span deleted) or a Replace (span replaced
// with Replacement).
type Redaction struct {
	Span        Span
	Replacement string // empty for Remove
	Remove      bool
}

// Policy is a caller-supplied set of pre-redaction instructions applied
// before the secret-regex gate.
type Policy struct {
	Exclusions []Span
	Redactions []Redaction
}

// Audit records what a Policy actually did, for the NoteVersion trail.
type Audit struct {
	Exclusions []Span           `json:"exclusions"`
	Redactions []RedactionAudit `json:"redactions"`
}

type RedactionAudit struct {
	Span        Span   `json:"span"`
	Replacement string `json:"replacement"`
}

type op struct {
	span        Span
	remove      bool // true: delete span; false: replace with replacement
	replacement string
}

// ApplyPolicy applies an optional write policy to text, returning the
// transformed text and an audit of what happened. A nil policy (or one
// with no exclusions/redactions) is a no-op.
func ApplyPolicy(text string, policy *Policy) (string, Audit, error) {
	if policy == nil || (len(policy.Exclusions) == 0 && len(policy.Redactions) == 0) {
		return text, Audit{}, nil
	}

	exclusions := append([]Span(nil), policy.Exclusions...)
	redactions := append([]Redaction(nil), policy.Redactions...)

	sort.Slice(exclusions, func(i, j int) bool {
		if exclusions[i].Start != exclusions[j].Start {
			return exclusions[i].Start < exclusions[j].Start
		}
		return exclusions[i].End < exclusions[j].End
	})
	sort.Slice(redactions, func(i, j int) bool {
		if redactions[i].Span.Start != redactions[j].Span.Start {
			return redactions[i].Span.Start < redactions[j].Span.Start
		}
		return redactions[i].Span.End < redactions[j].Span.End
	})

	ops := make([]op, 0, len(exclusions)+len(redactions))
	audit := Audit{}

	for _, span := range exclusions {
		if err := validateSpan(text, span); err != nil {
			return "", Audit{}, err
		}
		ops = append(ops, op{span: span, remove: true})
		audit.Exclusions = append(audit.Exclusions, span)
	}
	for _, r := range redactions {
		if err := validateSpan(text, r.Span); err != nil {
			return "", Audit{}, err
		}
		replacement := r.Replacement
		if r.Remove {
			replacement = ""
		}
		ops = append(ops, op{span: r.Span, replacement: replacement})
		audit.Redactions = append(audit.Redactions, RedactionAudit{Span: r.Span, Replacement: replacement})
	}

	sort.Slice(ops, func(i, j int) bool {
		if ops[i].span.Start != ops[j].span.Start {
			return ops[i].span.Start < ops[j].span.Start
		}
		return ops[i].span.End < ops[j].span.End
	})

	if err := validateNonOverlapping(ops); err != nil {
		return "", Audit{}, err
	}

	runes := []rune(text)
	// Apply from the end so earlier offsets stay valid.
	for i := len(ops) - 1; i >= 0; i-- {
		o := ops[i]
		replacement := []rune(o.replacement)
		tail := append([]rune(nil), runes[o.span.End:]...)
		runes = append(runes[:o.span.Start], append(replacement, tail...)...)
	}

	return string(runes), audit, nil
}

func validateSpan(text string, span Span) error {
	runeLen := countRunes(text)
	if span.End < span.Start {
		return apperr.InvalidRequest("write policy span end before start")
	}
	if span.End > runeLen {
		return apperr.InvalidRequest("write policy span out of bounds")
	}
	return nil
}

func validateNonOverlapping(ops []op) error {
	lastEnd := 0
	for _, o := range ops {
		if o.span.Start < lastEnd {
			return apperr.InvalidRequest("write policy spans overlap")
		}
		lastEnd = o.span.End
	}
	return nil
}
