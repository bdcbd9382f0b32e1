package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/marrow-mcp/marrow/internal/interconnect"
	"github.com/marrow-mcp/marrow/internal/memory"
)

// defaultCategory is used when a store call gives none.
const defaultCategory = "general"

// MemoryTools exposes the persistent memory store, the consolidator, and
// the interconnect engine as tools.
type MemoryTools struct {
	store        memory.Store
	consolidator *memory.Consolidator
	engine       *interconnect.Engine
}

// NewMemoryTools wires the memory tool set.
func NewMemoryTools(store memory.Store, consolidator *memory.Consolidator, engine *interconnect.Engine) *MemoryTools {
	return &MemoryTools{store: store, consolidator: consolidator, engine: engine}
}

type memoryStoreInput struct {
	Key      string   `json:"key,omitempty" jsonschema_description:"Entry key, unique within its category. Generated when omitted."`
	Category string   `json:"category,omitempty" jsonschema_description:"Entry category (default: general)."`
	Content  string   `json:"content" jsonschema_description:"Content to remember."`
	Tags     []string `json:"tags,omitempty" jsonschema_description:"Optional tags for exact-match retrieval."`
	Session  string   `json:"session_id,omitempty" jsonschema_description:"Originating session id, kept as a weak reference."`
}

type memoryKeyInput struct {
	Key string `json:"key" jsonschema_description:"Entry key."`
}

type memoryListInput struct {
	Category string `json:"category,omitempty" jsonschema_description:"Category to list; omit for all."`
	Limit    int    `json:"limit,omitempty" jsonschema_description:"Maximum entries to return."`
}

type memorySearchInput struct {
	Query string `json:"query" jsonschema_description:"Free-text query. Exact tag matches rank highest."`
	Limit int    `json:"limit,omitempty" jsonschema_description:"Maximum results to return."`
}

type memoryRelatedInput struct {
	Key      string `json:"key" jsonschema_description:"Entry key to find associations for."`
	Category string `json:"category,omitempty" jsonschema_description:"Entry category (default: general)."`
	Limit    int    `json:"limit,omitempty" jsonschema_description:"Maximum links to return."`
}

type memoryNetworkInput struct {
	Concept string `json:"concept,omitempty" jsonschema_description:"Root concept; omit for the whole store."`
}

// Definitions returns the memory tool set.
func (m *MemoryTools) Definitions() []Definition {
	return []Definition{
		{
			Name:        "memory_store",
			Description: "Store or update a memory entry. Writing an existing key in the same category replaces its content and tags.",
			InputSchema: GenerateSchema[memoryStoreInput](),
			Handler:     m.storeEntry,
		},
		{
			Name:        "memory_retrieve",
			Description: "Retrieve a memory entry by key.",
			InputSchema: GenerateSchema[memoryKeyInput](),
			Handler:     m.retrieve,
		},
		{
			Name:        "memory_delete",
			Description: "Delete a memory entry by key.",
			InputSchema: GenerateSchema[memoryKeyInput](),
			Handler:     m.deleteEntry,
		},
		{
			Name:        "memory_list",
			Description: "List memory entries, optionally filtered by category, newest first.",
			InputSchema: GenerateSchema[memoryListInput](),
			Handler:     m.list,
		},
		{
			Name:        "memory_search",
			Description: "Search memory with ranked results: exact tag matches first, then key and content matches.",
			InputSchema: GenerateSchema[memorySearchInput](),
			Handler:     m.search,
		},
		{
			Name:        "memory_consolidate",
			Description: "Merge near-duplicate entries within each category, keeping the oldest entry and the union of tags.",
			InputSchema: GenerateSchema[struct{}](),
			Handler:     m.consolidate,
		},
		{
			Name:        "memory_related",
			Description: "Find entries associated with a given entry through shared concepts.",
			InputSchema: GenerateSchema[memoryRelatedInput](),
			Handler:     m.related,
		},
		{
			Name:        "memory_concept_network",
			Description: "Return the concept graph: concept membership and scored links between entries, optionally rooted at one concept.",
			InputSchema: GenerateSchema[memoryNetworkInput](),
			Handler:     m.conceptNetwork,
		},
		{
			Name:        "memory_stats",
			Description: "Report entry counts by category and the age range of stored memories.",
			InputSchema: GenerateSchema[struct{}](),
			Handler:     m.stats,
		},
	}
}

func (m *MemoryTools) storeEntry(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[memoryStoreInput](input)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrBadInput)
	}

	key := in.Key
	generated := false
	if key == "" {
		key = "mem:" + uuid.NewString()
		generated = true
	}
	category := in.Category
	if category == "" {
		category = defaultCategory
	}

	entry := &memory.Entry{
		Key:             key,
		Category:        category,
		Content:         in.Content,
		Tags:            in.Tags,
		SourceSessionID: in.Session,
	}
	if err := m.store.Store(ctx, entry); err != nil {
		if errors.Is(err, memory.ErrInvalidInput) {
			return nil, fmt.Errorf("%w: %v", ErrBadInput, err)
		}
		return nil, err
	}
	return map[string]any{"key": key, "category": category, "generated_key": generated}, nil
}

func (m *MemoryTools) retrieve(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[memoryKeyInput](input)
	if err != nil {
		return nil, err
	}
	if in.Key == "" {
		return nil, fmt.Errorf("%w: key is required", ErrBadInput)
	}
	entry, err := m.store.Get(ctx, in.Key)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (m *MemoryTools) deleteEntry(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[memoryKeyInput](input)
	if err != nil {
		return nil, err
	}
	if in.Key == "" {
		return nil, fmt.Errorf("%w: key is required", ErrBadInput)
	}
	if err := m.store.Delete(ctx, in.Key); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": in.Key}, nil
}

func (m *MemoryTools) list(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[memoryListInput](input)
	if err != nil {
		return nil, err
	}
	entries, err := m.store.List(ctx, in.Category, in.Limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	return map[string]any{"entries": entries, "count": len(entries)}, nil
}

func (m *MemoryTools) search(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[memorySearchInput](input)
	if err != nil {
		return nil, err
	}
	results, err := m.store.Search(ctx, in.Query, in.Limit)
	if err != nil {
		if errors.Is(err, memory.ErrInvalidInput) {
			return nil, fmt.Errorf("%w: %v", ErrBadInput, err)
		}
		return nil, err
	}
	if results == nil {
		results = []memory.SearchResult{}
	}
	return map[string]any{"results": results, "count": len(results)}, nil
}

func (m *MemoryTools) consolidate(ctx context.Context, _ json.RawMessage) (any, error) {
	report, err := m.consolidator.Run(ctx)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (m *MemoryTools) related(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[memoryRelatedInput](input)
	if err != nil {
		return nil, err
	}
	if in.Key == "" {
		return nil, fmt.Errorf("%w: key is required", ErrBadInput)
	}
	category := in.Category
	if category == "" {
		category = defaultCategory
	}
	links, err := m.engine.RelatedTo(ctx, category+":"+in.Key, in.Limit)
	if err != nil {
		if errors.Is(err, memory.ErrInvalidInput) {
			return nil, fmt.Errorf("%w: %v", ErrBadInput, err)
		}
		return nil, err
	}
	if links == nil {
		links = []interconnect.Link{}
	}
	return map[string]any{"links": links, "count": len(links)}, nil
}

func (m *MemoryTools) conceptNetwork(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[memoryNetworkInput](input)
	if err != nil {
		return nil, err
	}
	return m.engine.ConceptNetwork(ctx, in.Concept)
}

func (m *MemoryTools) stats(ctx context.Context, _ json.RawMessage) (any, error) {
	st, err := m.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	// Engines that quarantine a corrupt database at open time report that
	// here so clients learn prior state was lost.
	if r, ok := m.store.(interface{ Recovered() bool }); ok && r.Recovered() {
		return struct {
			*memory.Stats
			Recovered bool `json:"recovered"`
		}{st, true}, nil
	}
	return st, nil
}
