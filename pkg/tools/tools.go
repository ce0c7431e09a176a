// Package tools exposes the explicit memory surface an agent runtime
// calls directly: remember, recall, why, forget, and correct. Each tool
// carries a JSON schema over its input and returns a JSON-serializable
// payload.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/kittclouds/sheep/internal/store"
	"github.com/kittclouds/sheep/pkg/recall"
)

// Tool couples a schema-described input with its handler.
type Tool struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Run         func(ctx context.Context, input json.RawMessage) (any, error)
}

// Registry holds the five tools over one agent's store.
type Registry struct {
	store  *store.Store
	engine *recall.Engine
	tools  map[string]*Tool
}

// RememberInput asserts a fact directly.
type RememberInput struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence,omitempty"`
}

// RecallInput asks a question against memory.
type RecallInput struct {
	Query     string `json:"query"`
	SessionID string `json:"sessionId,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

// WhyInput asks for the causal chain behind an effect.
type WhyInput struct {
	Effect   string `json:"effect"`
	MaxDepth int    `json:"maxDepth,omitempty"`
}

// ForgetInput retracts facts by id or by subject/predicate filter.
type ForgetInput struct {
	FactID    string `json:"factId,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Predicate string `json:"predicate,omitempty"`
	Reason    string `json:"reason"`
}

// CorrectInput replaces a wrong belief with the right one.
type CorrectInput struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	OldValue  string `json:"oldValue"`
	NewValue  string `json:"newValue"`
	Reason    string `json:"reason,omitempty"`
}

// NewRegistry builds the tool surface.
func NewRegistry(s *store.Store, engine *recall.Engine) (*Registry, error) {
	r := &Registry{store: s, engine: engine, tools: map[string]*Tool{}}

	if err := register[RememberInput](r, "remember",
		"Store a fact the user explicitly asked to remember.", r.remember); err != nil {
		return nil, err
	}
	if err := register[RecallInput](r, "recall",
		"Answer a question from long-term memory.", r.recall); err != nil {
		return nil, err
	}
	if err := register[WhyInput](r, "why",
		"Explain an outcome by walking stored causal links backwards.", r.why); err != nil {
		return nil, err
	}
	if err := register[ForgetInput](r, "forget",
		"Retract remembered facts, by id or by subject/predicate filter.", r.forget); err != nil {
		return nil, err
	}
	if err := register[CorrectInput](r, "correct",
		"Replace a wrong remembered value with the correct one.", r.correct); err != nil {
		return nil, err
	}
	return r, nil
}

func register[T any](r *Registry, name, desc string, run func(ctx context.Context, in T) (any, error)) error {
	schema, err := jsonschema.For[T](&jsonschema.ForOptions{})
	if err != nil {
		return fmt.Errorf("tools: schema for %s: %w", name, err)
	}
	r.tools[name] = &Tool{
		Name:        name,
		Description: desc,
		Schema:      schema,
		Run: func(ctx context.Context, input json.RawMessage) (any, error) {
			var in T
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("tools: %s input: %w", name, err)
			}
			return run(ctx, in)
		},
	}
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns every tool.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.tools))
	for _, name := range []string{"remember", "recall", "why", "forget", "correct"} {
		out = append(out, r.tools[name])
	}
	return out
}

// Invoke runs a named tool with raw JSON input.
func (r *Registry) Invoke(ctx context.Context, name string, input json.RawMessage) (any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tools: unknown tool %q", name)
	}
	return t.Run(ctx, input)
}

func (r *Registry) remember(_ context.Context, in RememberInput) (any, error) {
	if in.Subject == "" || in.Predicate == "" || in.Object == "" {
		return nil, fmt.Errorf("tools: remember needs subject, predicate, and object")
	}
	confidence := in.Confidence
	if confidence <= 0 {
		confidence = 0.9
	}
	predicate := store.NormalizePredicate(in.Predicate)

	retracted, err := r.retractSuperseded(in.Subject, predicate,
		"superseded by user-affirmed statement")
	if err != nil {
		return nil, err
	}

	f := &store.Fact{
		Subject:      in.Subject,
		Predicate:    predicate,
		Object:       in.Object,
		Confidence:   confidence,
		Evidence:     []string{store.EvidenceUserExplicit},
		UserAffirmed: true,
	}
	if err := r.store.InsertFact(f); err != nil {
		return nil, err
	}
	return map[string]any{"factId": f.ID, "stored": true, "retracted": retracted}, nil
}

// retractSuperseded keeps the unique-per-subject invariant for direct
// writes: before a new belief lands on a unique predicate, every other
// active fact for (subject, predicate) is soft-retracted. A user-
// affirmed statement always wins over the prior belief, matching the
// rule resolver's priority. No-op for non-unique predicates.
func (r *Registry) retractSuperseded(subject, predicate, reason string) (int, error) {
	if !store.UniquePredicates[predicate] {
		return 0, nil
	}
	existing, err := r.store.QueryFacts(store.FactFilter{
		Subject:    subject,
		Predicate:  predicate,
		ActiveOnly: true,
	})
	if err != nil {
		return 0, err
	}
	retracted := 0
	for _, f := range existing {
		if err := r.store.RetractFact(f.ID, reason); err != nil {
			return retracted, err
		}
		retracted++
	}
	return retracted, nil
}

func (r *Registry) recall(ctx context.Context, in RecallInput) (any, error) {
	if in.Query == "" {
		return nil, fmt.Errorf("tools: recall needs a query")
	}
	res := r.engine.Recall(ctx, in.Query, in.SessionID, recall.Mode(in.Mode))
	return res, nil
}

func (r *Registry) why(_ context.Context, in WhyInput) (any, error) {
	if in.Effect == "" {
		return nil, fmt.Errorf("tools: why needs an effect")
	}
	depth := in.MaxDepth
	if depth <= 0 {
		depth = 5
	}
	return BuildCausalChain(r.store, in.Effect, depth)
}

func (r *Registry) forget(_ context.Context, in ForgetInput) (any, error) {
	if in.Reason == "" {
		return nil, fmt.Errorf("tools: forget requires a reason")
	}

	if in.FactID != "" {
		if err := r.store.RetractFact(in.FactID, in.Reason); err != nil {
			return nil, err
		}
		return map[string]any{"retracted": 1}, nil
	}

	if in.Subject == "" && in.Predicate == "" {
		return nil, fmt.Errorf("tools: forget needs a factId or a subject/predicate filter")
	}
	facts, err := r.store.QueryFacts(store.FactFilter{
		Subject:    in.Subject,
		Predicate:  in.Predicate,
		ActiveOnly: true,
	})
	if err != nil {
		return nil, err
	}
	retracted := 0
	for _, f := range facts {
		if err := r.store.RetractFact(f.ID, in.Reason); err != nil {
			return nil, err
		}
		retracted++
	}
	return map[string]any{"retracted": retracted}, nil
}

// correct retracts every active fact matching (subject, predicate,
// oldValue) and stores the corrected belief as user-affirmed with
// confidence 0.95.
func (r *Registry) correct(_ context.Context, in CorrectInput) (any, error) {
	if in.Subject == "" || in.Predicate == "" || in.OldValue == "" || in.NewValue == "" {
		return nil, fmt.Errorf("tools: correct needs subject, predicate, oldValue, and newValue")
	}
	reason := in.Reason
	if reason == "" {
		reason = fmt.Sprintf("corrected by user: %s -> %s", in.OldValue, in.NewValue)
	}

	matches, err := r.store.QueryFacts(store.FactFilter{
		Subject:    in.Subject,
		Predicate:  in.Predicate,
		Object:     in.OldValue,
		ActiveOnly: true,
	})
	if err != nil {
		return nil, err
	}
	for _, f := range matches {
		if err := r.store.RetractFact(f.ID, reason); err != nil {
			return nil, err
		}
	}

	// Unique predicates also shed any active value besides oldValue, so
	// the corrected belief is the only one left standing.
	if _, err := r.retractSuperseded(in.Subject, store.NormalizePredicate(in.Predicate),
		reason); err != nil {
		return nil, err
	}

	f := &store.Fact{
		Subject:       in.Subject,
		Predicate:     store.NormalizePredicate(in.Predicate),
		Object:        in.NewValue,
		Confidence:    0.95,
		Evidence:      []string{store.EvidenceUserExplicit},
		UserAffirmed:  true,
		LastConfirmed: time.Now().UTC(),
	}
	if err := r.store.InsertFact(f); err != nil {
		return nil, err
	}
	return map[string]any{"retracted": len(matches), "factId": f.ID}, nil
}
