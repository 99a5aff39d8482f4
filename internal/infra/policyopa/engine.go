package policyopa

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"sort"

	"github.com/open-policy-agent/opa/rego"

	"pathledger/internal/domain"
)

const defaultQuery = "data.pathledger.admission.result"

//go:embed admission.rego
var defaultPolicy string

// Engine evaluates the admission policy for inbound gateway messages.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewDefaultEngine compiles the built-in policy, which only enforces each
// gateway's allowed message types.
func NewDefaultEngine(ctx context.Context) (*Engine, error) {
	return prepare(ctx, rego.Module("admission.rego", defaultPolicy))
}

// NewEngineFromPath loads rego files from a file or directory. The policy
// must define data.pathledger.admission.result.
func NewEngineFromPath(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return nil, errors.New("policy path is required")
	}
	return prepare(ctx, rego.Load([]string{path}, nil))
}

func prepare(ctx context.Context, source func(*rego.Rego)) (*Engine, error) {
	r := rego.New(
		rego.Query(defaultQuery),
		rego.StrictBuiltinErrors(true),
		source,
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &Engine{query: prepared}, nil
}

func (e *Engine) Evaluate(ctx context.Context, input domain.AdmissionInput) (domain.AdmissionDecision, error) {
	if e == nil {
		return domain.AdmissionDecision{}, errors.New("policy engine is nil")
	}
	if input.Gateway.AllowedMessageTypes == nil {
		input.Gateway.AllowedMessageTypes = []string{}
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.AdmissionDecision{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.AdmissionDecision{}, errors.New("empty policy result")
	}
	payload, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return domain.AdmissionDecision{}, err
	}
	var decision domain.AdmissionDecision
	if err := json.Unmarshal(payload, &decision); err != nil {
		return domain.AdmissionDecision{}, err
	}
	sort.Strings(decision.Deny)
	return decision, nil
}
