// Package chunking splits a note's text into overlapping, token-bounded
// chunks for embedding (spec §4.2 step 2b). Offsets are character (rune)
// boundaries; chunk_index is dense from 0, as required by the NoteChunk
// invariant in spec §3.
package chunking

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Config mirrors the chunking.* keys from spec §6.
type Config struct {
	MaxTokens     int
	OverlapTokens int
	TokenizerRepo string
}

// Chunk is one ordered slice of a note's text.
type Chunk struct {
	Index       int
	StartOffset int // rune offset, inclusive
	EndOffset   int // rune offset, exclusive
	Text        string
}

// Tokenizer wraps a tiktoken encoding so the chunker can measure and split
// text by token count rather than byte/rune count.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer loads the named tiktoken encoding (e.g. "cl100k_base").
// encodingName is config.Chunking.TokenizerRepo; ELF treats it as a
// tiktoken encoding name rather than a HuggingFace repo id, since the
// Go ecosystem's tokenizer (pkoukk/tiktoken-go) is encoding-name addressed.
func NewTokenizer(encodingName string) (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer encoding %q: %w", encodingName, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// ChunkText splits text into Chunks of at most cfg.MaxTokens tokens each,
// with cfg.OverlapTokens tokens of overlap between consecutive chunks.
// Offsets always land on rune boundaries (tiktoken operates on decoded
// runes via its BPE merge table, but chunk boundaries are re-derived from
// rune positions here so the NoteChunk invariant holds regardless of the
// underlying byte-pair merges).
func (t *Tokenizer) ChunkText(text string, cfg Config) ([]Chunk, error) {
	if cfg.MaxTokens <= 0 {
		return nil, fmt.Errorf("chunking.max_tokens must be positive")
	}
	if cfg.OverlapTokens < 0 || cfg.OverlapTokens >= cfg.MaxTokens {
		return nil, fmt.Errorf("chunking.overlap_tokens must be in [0, max_tokens)")
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	tokenIDs := t.enc.Encode(text, nil, nil)
	if len(tokenIDs) == 0 {
		return []Chunk{{Index: 0, StartOffset: 0, EndOffset: len(runes), Text: text}}, nil
	}

	// Map each token to the rune offset where its decoded text starts, by
	// progressively decoding prefixes. This keeps chunk boundaries on rune
	// boundaries even though tiktoken merges operate on UTF-8 bytes.
	tokenRuneStart := make([]int, len(tokenIDs)+1)
	decoded := ""
	for i, id := range tokenIDs {
		tokenRuneStart[i] = len([]rune(decoded))
		decoded = t.enc.Decode(tokenIDs[:i+1])
	}
	tokenRuneStart[len(tokenIDs)] = len(runes)

	var chunks []Chunk
	stride := cfg.MaxTokens - cfg.OverlapTokens
	if stride <= 0 {
		stride = cfg.MaxTokens
	}

	chunkIdx := 0
	for start := 0; start < len(tokenIDs); start += stride {
		end := start + cfg.MaxTokens
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}

		startRune := tokenRuneStart[start]
		var endRune int
		if end >= len(tokenIDs) {
			endRune = len(runes)
		} else {
			endRune = tokenRuneStart[end]
		}
		if endRune > len(runes) {
			endRune = len(runes)
		}
		if startRune >= endRune {
			break
		}

		chunks = append(chunks, Chunk{
			Index:       chunkIdx,
			StartOffset: startRune,
			EndOffset:   endRune,
			Text:        string(runes[startRune:endRune]),
		})
		chunkIdx++

		if end >= len(tokenIDs) {
			break
		}
	}

	return chunks, nil
}
