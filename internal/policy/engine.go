// Package policy evaluates tool invocations against a Rego policy.
package policy

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/open-policy-agent/opa/rego"
)

// Decision is the outcome of evaluating one tool invocation.
type Decision struct {
	Allowed bool
	Reasons []string
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content. The
// policy must define the set data.tool_policy.deny of denial messages.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.deny"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile loads the policy at path, or DefaultPolicy when path is
// empty.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate checks input against the policy. Input carries tool_name plus the
// tool's normalized arguments.
func (e *Engine) Evaluate(ctx context.Context, input map[string]interface{}) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allowed: true}, nil
	}

	var reasons []string
	switch v := results[0].Expressions[0].Value.(type) {
	case []interface{}:
		for _, item := range v {
			reasons = append(reasons, fmt.Sprint(item))
		}
	case nil:
	default:
		return Decision{}, fmt.Errorf("unexpected policy result type %T", v)
	}
	sort.Strings(reasons)

	return Decision{Allowed: len(reasons) == 0, Reasons: reasons}, nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package tool_policy

# Git metadata may carry credentials from the clone.
deny[msg] {
	input.tool_name == "file_qa"
	git_path(input.path)
	msg := "reading .git is not allowed"
}

deny[msg] {
	input.tool_name == "file_search"
	git_path(input.path)
	msg := "listing .git is not allowed"
}

deny[msg] {
	input.tool_name == "run_script"
	dep := input.deps[_]
	name := split(dep, "=")[0]
	blocked_deps[name]
	msg := sprintf("dependency %q is not allowed", [name])
}

deny[msg] {
	input.tool_name == "run_script"
	count(input.script) > 100000
	msg := "script is too long"
}

blocked_deps := {"docker", "docker-cli", "podman", "nmap", "masscan", "hping3", "sudo", "doas"}

git_path(p) {
	p == ".git"
}

git_path(p) {
	startswith(p, ".git/")
}

git_path(p) {
	contains(p, "/.git/")
}

git_path(p) {
	endswith(p, "/.git")
}
`
