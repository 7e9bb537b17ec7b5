// Package policy evaluates an optional Rego acceptance policy against
// verification outcomes, e.g. rejecting PO-box destinations for carriers
// that won't deliver to them.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/parcelkit/address-verifier-go/internal/types"
)

const defaultQuery = "data.addresses.policy.decision"

// Input is what the policy sees for each verified address.
type Input struct {
	Address types.Address `json:"address"`
	Status  types.Status  `json:"status"`
	Flags   []types.Flag  `json:"flags"`
}

// Decision is the policy's verdict. Action is "allow" or "deny".
type Decision struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

func (d *Decision) Allowed() bool {
	return d != nil && d.Action == "allow"
}

// Engine holds a compiled policy ready for evaluation. Compile once at
// startup and reuse; preparation is the expensive part.
type Engine struct {
	query rego.PreparedEvalQuery
}

// New compiles a policy from source, enforcing rego v1 semantics.
func New(ctx context.Context, source string) (*Engine, error) {
	r := rego.New(
		rego.Query(defaultQuery),
		rego.Module("policy.rego", source),
		rego.SetRegoVersion(ast.RegoV1),
	)

	pq, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy: %w", err)
	}

	return &Engine{query: pq}, nil
}

// Load reads and compiles a policy file.
func Load(ctx context.Context, path string) (*Engine, error) {
	p, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return New(ctx, string(p))
}

// Evaluate runs the prepared policy against one verification outcome.
func (e *Engine) Evaluate(ctx context.Context, in Input) (*Decision, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, fmt.Errorf("policy produced no decision")
	}

	raw := rs[0].Expressions[0].Value
	bs, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal policy result: %w", err)
	}

	var out Decision
	if err := json.Unmarshal(bs, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy result: %w", err)
	}

	return &out, nil
}
