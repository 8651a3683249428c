package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the context of a tool call to be evaluated.
type Request struct {
	Tool      string
	Arguments string
	UserID    string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates tool calls against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine allows everything not explicitly denied.
type DefaultPolicyEngine struct {
	DeniedTools     map[string]bool
	DeniedRegex     []*regexp.Regexp
	ProtectedFields map[string]map[string]bool // tool -> field names
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedTools:     make(map[string]bool),
		DeniedRegex:     make([]*regexp.Regexp, 0),
		ProtectedFields: make(map[string]map[string]bool),
	}
}

// NewIntakePolicy returns the policy the responder runs under: the
// identity columns of a client record cannot be rewritten through tools.
func NewIntakePolicy() *DefaultPolicyEngine {
	e := NewDefaultPolicyEngine()
	e.ProtectFields("update_client_fields", "client_id", "reference")
	return e
}

func (e *DefaultPolicyEngine) DenyTool(name string) {
	e.DeniedTools[name] = true
}

func (e *DefaultPolicyEngine) DenyArguments(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

// Restrict denies every tool in tools and every argument string matching one
// of patterns. Nothing is applied if a pattern fails to compile.
func (e *DefaultPolicyEngine) Restrict(tools, patterns []string) error {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("denied pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	for _, t := range tools {
		e.DenyTool(t)
	}
	e.DeniedRegex = append(e.DeniedRegex, compiled...)
	return nil
}

// ProtectFields denies calls to tool whose "fields" argument names any of fields.
func (e *DefaultPolicyEngine) ProtectFields(tool string, fields ...string) {
	set, ok := e.ProtectedFields[tool]
	if !ok {
		set = make(map[string]bool)
		e.ProtectedFields[tool] = set
	}
	for _, f := range fields {
		set[f] = true
	}
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if e.DeniedTools[req.Tool] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Tool '%s' is restricted by system policy", req.Tool),
		}, nil
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(req.Arguments) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Arguments match restricted pattern: %s", re.String()),
			}, nil
		}
	}

	if protected := e.ProtectedFields[req.Tool]; len(protected) > 0 {
		var args struct {
			Fields map[string]any `json:"fields"`
		}
		if err := json.Unmarshal([]byte(req.Arguments), &args); err != nil {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Arguments for '%s' are not valid JSON", req.Tool),
			}, nil
		}
		for f := range args.Fields {
			if protected[f] {
				return Result{
					Effect: EffectDeny,
					Reason: fmt.Sprintf("Field '%s' is protected and cannot be changed", f),
				}, nil
			}
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}
