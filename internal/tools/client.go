package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rahul/intake/internal/records"
)

var errNoSession = errors.New("no client session in context")

// ClientStore is the slice of the records layer the tools need.
type ClientStore interface {
	Fields(ctx context.Context, clientID, reference string, names []string) (map[string]string, error)
	Update(ctx context.Context, clientID, reference string, updates map[string]string) ([]string, error)
}

// RegisterClientTools adds the client-record tools to r.
func RegisterClientTools(r *Registry, store ClientStore) {
	r.Register(&ListGroupsTool{})
	r.Register(&GetFieldsTool{Store: store})
	r.Register(&UpdateFieldsTool{Store: store})
}

type ListGroupsTool struct{}

func (t *ListGroupsTool) Name() string { return "list_field_groups" }

func (t *ListGroupsTool) Description() string {
	return "List the field groups of the current client's record, with the field names in each group."
}

func (t *ListGroupsTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *ListGroupsTool) Execute(ctx context.Context, input string) (string, error) {
	sess, ok := SessionFrom(ctx)
	if !ok {
		return "", errNoSession
	}
	groups, err := records.Groups(sess.Reference)
	if err != nil {
		return "", err
	}
	out := make([]map[string]any, 0, len(groups))
	for _, g := range groups {
		out = append(out, map[string]any{"group": g.Key, "title": g.Title, "fields": g.Fields})
	}
	return marshal(out)
}

type GetFieldsTool struct {
	Store ClientStore
}

func (t *GetFieldsTool) Name() string { return "get_client_fields" }

func (t *GetFieldsTool) Description() string {
	return "Read the stored values of one field group for the current client. Empty strings mean the value is not on file."
}

func (t *GetFieldsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"group": map[string]any{
				"type":        "string",
				"description": "Field group key, as returned by list_field_groups.",
			},
		},
		"required": []string{"group"},
	}
}

func (t *GetFieldsTool) Execute(ctx context.Context, input string) (string, error) {
	sess, ok := SessionFrom(ctx)
	if !ok {
		return "", errNoSession
	}
	var args struct {
		Group string `json:"group"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	g, err := records.Group(sess.Reference, args.Group)
	if err != nil {
		return "", err
	}
	values, err := t.Store.Fields(ctx, sess.ClientID, sess.Reference, g.Fields)
	if errors.Is(err, records.ErrClientNotFound) {
		values = make(map[string]string, len(g.Fields))
		for _, f := range g.Fields {
			values[f] = ""
		}
	} else if err != nil {
		return "", err
	}
	return marshal(map[string]any{"group": g.Key, "values": values})
}

type UpdateFieldsTool struct {
	Store ClientStore
}

func (t *UpdateFieldsTool) Name() string { return "update_client_fields" }

func (t *UpdateFieldsTool) Description() string {
	return "Save values the client has confirmed for the current client's record. Only pass fields the client stated explicitly."
}

func (t *UpdateFieldsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"fields": map[string]any{
				"type":                 "object",
				"description":          "Map of field name to new value.",
				"additionalProperties": map[string]any{"type": "string"},
			},
		},
		"required": []string{"fields"},
	}
}

func (t *UpdateFieldsTool) Execute(ctx context.Context, input string) (string, error) {
	sess, ok := SessionFrom(ctx)
	if !ok {
		return "", errNoSession
	}
	var args struct {
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if len(args.Fields) == 0 {
		return "", errors.New("fields must not be empty")
	}
	updates := make(map[string]string, len(args.Fields))
	for k, v := range args.Fields {
		switch val := v.(type) {
		case string:
			updates[k] = val
		case nil:
			updates[k] = ""
		default:
			updates[k] = fmt.Sprint(val)
		}
	}
	written, err := t.Store.Update(ctx, sess.ClientID, sess.Reference, updates)
	if err != nil {
		return "", err
	}
	return marshal(map[string]any{"updated": written})
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
