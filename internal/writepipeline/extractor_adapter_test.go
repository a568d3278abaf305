package writepipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/providers"
)

type fakeRawExtractor struct {
	result map[string]any
	err    error
}

func (f fakeRawExtractor) Extract(_ context.Context, _ providers.ExtractConfig, _ []byte) (map[string]any, error) {
	return f.result, f.err
}

func TestProviderExtractorDecodesNotes(t *testing.T) {
	key := "favorite_language"
	adapter := ProviderExtractor{
		Provider: fakeRawExtractor{result: map[string]any{
			"notes": []map[string]any{
				{
					"note_type":        "preference",
					"key":              key,
					"text":             "prefers Go",
					"importance":       0.8,
					"confidence":       0.9,
					"scope_suggestion": "agent_private",
					"evidence": []map[string]any{
						{"message_index": 0, "quote": "I prefer Go"},
					},
				},
			},
		}},
	}

	notes, err := adapter.ExtractNotes(context.Background(), []EventMessage{{Role: "user", Content: "I prefer Go"}}, 10, 1000)
	require.NoError(t, err)
	require.Len(t, notes, 1)

	n := notes[0]
	require.Equal(t, domain.NoteTypePreference, n.NoteType)
	require.NotNil(t, n.Key)
	require.Equal(t, key, *n.Key)
	require.Equal(t, "prefers Go", n.Text)
	require.InDelta(t, 0.8, n.Importance, 1e-6)
	require.InDelta(t, 0.9, n.Confidence, 1e-6)
	require.NotNil(t, n.ScopeSuggestion)
	require.Equal(t, domain.ScopeAgentPrivate, *n.ScopeSuggestion)
	require.Len(t, n.Evidence, 1)
	require.Equal(t, 0, n.Evidence[0].MessageIndex)
	require.Equal(t, "I prefer Go", n.Evidence[0].Quote)
}

func TestProviderExtractorTruncatesToMaxNotesAndChars(t *testing.T) {
	adapter := ProviderExtractor{
		Provider: fakeRawExtractor{result: map[string]any{
			"notes": []map[string]any{
				{"note_type": "fact", "text": "aaaaaaaaaa"},
				{"note_type": "fact", "text": "bbbbbbbbbb"},
			},
		}},
	}

	notes, err := adapter.ExtractNotes(context.Background(), nil, 1, 5)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	require.Equal(t, "aaaaa", notes[0].Text)
}

func TestProviderExtractorPropagatesProviderError(t *testing.T) {
	adapter := ProviderExtractor{Provider: fakeRawExtractor{err: errStub}}
	_, err := adapter.ExtractNotes(context.Background(), nil, 10, 1000)
	require.ErrorIs(t, err, errStub)
}

func TestProviderExtractorHandlesMissingEvidence(t *testing.T) {
	adapter := ProviderExtractor{
		Provider: fakeRawExtractor{result: map[string]any{
			"notes": []map[string]any{
				{"note_type": "fact", "text": "no evidence here"},
			},
		}},
	}
	notes, err := adapter.ExtractNotes(context.Background(), nil, 10, 1000)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	require.Nil(t, notes[0].Evidence)
	require.Nil(t, notes[0].Key)
	require.Nil(t, notes[0].ScopeSuggestion)
}
