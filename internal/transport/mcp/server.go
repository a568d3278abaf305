package mcp

import (
	"github.com/elf-memory/elf/internal/retrieval"
	"github.com/elf-memory/elf/internal/session"
	"github.com/elf-memory/elf/internal/sharing"
	"github.com/elf-memory/elf/internal/writepipeline"
)

// NewDefaultRegistry registers every ELF MCP tool against the given core
// services, the narrow equivalent of the teacher's tools package wiring
// its full CRUD tool set into one registry at startup. extractor may be
// nil; add_event then always returns an internal error, matching
// httpapi.Server's Extractor-optional behavior.
func NewDefaultRegistry(wp *writepipeline.Service, retr *retrieval.Service, sess *session.Service, shr *sharing.Service, extractor writepipeline.Extractor) *Registry {
	r := NewRegistry()
	r.MustRegister(AddNoteToolDefinition, AddNoteHandler(wp))
	r.MustRegister(AddEventToolDefinition, AddEventHandler(wp, extractor))
	r.MustRegister(SearchToolDefinition, SearchHandler(retr))
	r.MustRegister(SearchSessionCreateToolDefinition, SearchSessionCreateHandler(sess))
	r.MustRegister(SearchSessionDetailsToolDefinition, SearchSessionDetailsHandler(sess))
	r.MustRegister(PublishToolDefinition, PublishHandler(shr))
	r.MustRegister(UnpublishToolDefinition, UnpublishHandler(shr))
	r.MustRegister(SpaceGrantUpsertToolDefinition, SpaceGrantUpsertHandler(shr))
	return r
}
