package writepipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/providers"
)

// ProviderExtractor adapts a providers.Extractor's raw-JSON contract (a map
// with a "notes" array, spec §4.1) into the Extractor interface AddEvent
// depends on: marshal the transcript, call Extract, then decode the
// response's "notes" array into ExtractedNote. This is the one place the
// pipeline's typed ExtractedNote shape and the provider boundary's untyped
// JSON contract meet.
type ProviderExtractor struct {
	Provider providers.Extractor
	Cfg      providers.ExtractConfig
}

type extractedNoteWire struct {
	NoteType        string  `json:"note_type"`
	Key             *string `json:"key,omitempty"`
	Text            string  `json:"text"`
	Importance      float32 `json:"importance"`
	Confidence      float32 `json:"confidence"`
	TTLDays         *int    `json:"ttl_days,omitempty"`
	ScopeSuggestion *string `json:"scope_suggestion,omitempty"`
	Evidence        []struct {
		MessageIndex int    `json:"message_index"`
		Quote        string `json:"quote"`
	} `json:"evidence"`
}

// ExtractNotes satisfies Extractor.
func (p ProviderExtractor) ExtractNotes(ctx context.Context, messages []EventMessage, maxNotes, maxChars int) ([]ExtractedNote, error) {
	payload, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("encode extractor messages: %w", err)
	}

	result, err := p.Provider.Extract(ctx, p.Cfg, payload)
	if err != nil {
		return nil, err
	}

	rawNotes, err := json.Marshal(result["notes"])
	if err != nil {
		return nil, fmt.Errorf("re-encode extractor notes: %w", err)
	}
	var wire []extractedNoteWire
	if err := json.Unmarshal(rawNotes, &wire); err != nil {
		return nil, fmt.Errorf("decode extractor notes: %w", err)
	}

	if maxNotes > 0 && len(wire) > maxNotes {
		wire = wire[:maxNotes]
	}

	out := make([]ExtractedNote, 0, len(wire))
	for _, n := range wire {
		text := n.Text
		if maxChars > 0 && len(text) > maxChars {
			text = text[:maxChars]
		}
		note := ExtractedNote{
			NoteType:   domain.NoteType(n.NoteType),
			Key:        n.Key,
			Text:       text,
			Importance: n.Importance,
			Confidence: n.Confidence,
			TTLDays:    n.TTLDays,
		}
		if n.ScopeSuggestion != nil {
			scope := domain.Scope(*n.ScopeSuggestion)
			note.ScopeSuggestion = &scope
		}
		for _, e := range n.Evidence {
			note.Evidence = append(note.Evidence, EvidenceQuote{MessageIndex: e.MessageIndex, Quote: e.Quote})
		}
		out = append(out, note)
	}
	return out, nil
}
