// Package tools implements the capabilities offered to the model: memory
// remember/recall, web search and URL fetching.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/parley/internal/agent"
	"github.com/felixgeelhaar/parley/internal/memstore"
	"github.com/felixgeelhaar/parley/internal/session"
)

const (
	actionCreate = "create"
	actionUpdate = "update"
	actionDelete = "delete"

	defaultRecallLimit = 5
	maxRecallLimit     = 50
)

func memoryNamespace(sess *session.Session) memstore.Namespace {
	return memstore.Namespace{Kind: memstore.KindMemory, UserID: sess.UserID}
}

type manageMemoryArgs struct {
	Content string `json:"content,omitempty" jsonschema:"description=The fact about the user to remember. Required unless deleting."`
	Action  string `json:"action,omitempty" jsonschema:"enum=create,enum=update,enum=delete,default=create,description=What to do with the memory"`
	ID      string `json:"id,omitempty" jsonschema:"description=Id of an existing memory to update or delete"`
}

// ManageMemory stores, replaces or removes facts about the user.
type ManageMemory struct {
	store memstore.Store
}

func NewManageMemory(s memstore.Store) *ManageMemory {
	return &ManageMemory{store: s}
}

func (m *ManageMemory) Name() string { return "manage_memory" }

func (m *ManageMemory) Description() string {
	return "Create, update or delete a long-term memory about the user. " +
		"Store any interests and topics the user talks about. Writing with an existing id replaces that memory."
}

func (m *ManageMemory) Schema() map[string]any { return agent.SchemaFor[manageMemoryArgs]() }

func (m *ManageMemory) Call(ctx context.Context, sess *session.Session, raw json.RawMessage) (any, error) {
	var args manageMemoryArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	ns := memoryNamespace(sess)

	action := strings.ToLower(strings.TrimSpace(args.Action))
	if action == "" {
		action = actionCreate
	}

	switch action {
	case actionDelete:
		if args.ID == "" {
			return nil, errors.New("id is required to delete a memory")
		}
		if err := m.store.Delete(ctx, ns, args.ID); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Deleted memory %s", args.ID), nil

	case actionCreate, actionUpdate:
		content := strings.TrimSpace(args.Content)
		if content == "" {
			return nil, errors.New("content is required")
		}
		key := args.ID
		if action == actionUpdate && key == "" {
			return nil, errors.New("id is required to update a memory")
		}
		if key == "" {
			key = uuid.NewString()
		}
		if _, err := m.store.Put(ctx, ns, key, map[string]string{"content": content}, content); err != nil {
			return nil, err
		}
		verb := "Created"
		if action == actionUpdate {
			verb = "Updated"
		}
		return fmt.Sprintf("%s memory %s", verb, key), nil
	}
	return nil, fmt.Errorf("unknown action %q", args.Action)
}

type searchMemoryArgs struct {
	Query string `json:"query" jsonschema:"required,description=What to look for in stored memories"`
	Limit int    `json:"limit,omitempty" jsonschema:"default=5,minimum=1,maximum=50,description=Maximum number of memories to return"`
}

// MemoryHit is one recalled memory.
type MemoryHit struct {
	ID        string  `json:"id"`
	Content   string  `json:"content"`
	Score     float32 `json:"score"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// SearchMemory recalls stored facts about the user by meaning.
type SearchMemory struct {
	store memstore.Store
}

func NewSearchMemory(s memstore.Store) *SearchMemory {
	return &SearchMemory{store: s}
}

func (m *SearchMemory) Name() string { return "search_memory" }

func (m *SearchMemory) Description() string {
	return "Search and recall stored information about the user, including their name, interests, " +
		"preferences and any topics they have discussed."
}

func (m *SearchMemory) Schema() map[string]any { return agent.SchemaFor[searchMemoryArgs]() }

func (m *SearchMemory) Call(ctx context.Context, sess *session.Session, raw json.RawMessage) (any, error) {
	var args searchMemoryArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, errors.New("query is required")
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultRecallLimit
	}
	if limit > maxRecallLimit {
		limit = maxRecallLimit
	}

	hits, err := m.store.Search(ctx, memoryNamespace(sess), args.Query, limit)
	if err != nil {
		return nil, err
	}

	out := make([]MemoryHit, 0, len(hits))
	for _, h := range hits {
		content := h.Record.Value["content"]
		if content == "" {
			content = h.Record.Text
		}
		out = append(out, MemoryHit{
			ID:        h.Record.Key,
			Content:   content,
			Score:     h.Score,
			CreatedAt: h.Record.CreatedAt.Format(time.RFC3339),
			UpdatedAt: h.Record.UpdatedAt.Format(time.RFC3339),
		})
	}
	return out, nil
}
