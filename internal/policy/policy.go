// Package policy holds the compiled policy document: aliases, weights,
// defaults, and escalation predicates, rotated atomically on reload.
// Compilation resolves alias candidate strings against a catalog snapshot
// so planning itself is pure index/map lookup with no further validation
// — if any candidate or predicate fails to resolve, the whole reload is
// rejected and the previous snapshot stays live (no partial swap).
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/arcrouter/control-plane/pkg/models"
)

// CompiledAlias is a PolicyAlias with its candidate list validated to
// actually name catalog-resolvable model ids at compile time, plus a
// lookup from model id to its optional tier label.
type CompiledAlias struct {
	models.PolicyAlias
	TierByModel map[string]string
}

// Snapshot is the immutable compiled policy captured at reload time.
type Snapshot struct {
	Doc               models.PolicyDocument
	Aliases           map[string]CompiledAlias
	UncertaintyRegex  *regexp.Regexp
	Program           *vm.Program
}

// Store holds the current compiled policy behind an atomic pointer.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// New returns an empty Store; Snapshot() yields revision "" until the
// first Reload.
func New() *Store {
	s := &Store{}
	s.current.Store(&Snapshot{Aliases: map[string]CompiledAlias{}})
	return s
}

// Snapshot returns the currently active compiled policy.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Loaded reports whether a policy document has ever been loaded.
func (sn *Snapshot) Loaded() bool { return sn.Doc.Revision != "" }

// Lookup resolves an alias to its compiled form.
func (sn *Snapshot) Lookup(alias string) (CompiledAlias, bool) {
	a, ok := sn.Aliases[alias]
	return a, ok
}

// Reload validates and compiles doc, then atomically swaps it in. When
// resolvableModel is non-nil, every alias candidate must resolve through
// it or the whole reload is rejected. A nil resolvableModel (policy loaded
// before any catalog) skips that check; a candidate missing from the
// catalog is then filtered out at plan time like any ineligible one.
func (s *Store) Reload(doc models.PolicyDocument, resolvableModel func(id string) bool) error {
	compiled := make(map[string]CompiledAlias, len(doc.Aliases))
	for name, alias := range doc.Aliases {
		if resolvableModel != nil {
			for _, cand := range alias.Candidates {
				if !resolvableModel(cand) {
					return fmt.Errorf("policy: alias %q candidate %q does not resolve against the catalog", name, cand)
				}
			}
		}
		tiers := make(map[string]string, len(alias.Tiers))
		for _, t := range alias.Tiers {
			tiers[t.ModelID] = t.Tier
		}
		compiled[name] = CompiledAlias{PolicyAlias: alias, TierByModel: tiers}
	}

	var re *regexp.Regexp
	if doc.Escalations.UncertaintyRegex != "" {
		var err error
		re, err = regexp.Compile(doc.Escalations.UncertaintyRegex)
		if err != nil {
			return fmt.Errorf("policy: compile uncertainty_regex: %w", err)
		}
	}

	var program *vm.Program
	if doc.Escalations.Expr != "" {
		p, err := expr.Compile(doc.Escalations.Expr, expr.Env(exprEnv{}), expr.AsBool())
		if err != nil {
			return fmt.Errorf("policy: compile escalation expr: %w", err)
		}
		program = p
	}

	if doc.Revision == "" {
		rev, err := canonicalRevision(doc)
		if err != nil {
			return fmt.Errorf("policy: derive revision: %w", err)
		}
		doc.Revision = rev
	}

	s.current.Store(&Snapshot{
		Doc:              doc,
		Aliases:          compiled,
		UncertaintyRegex: re,
		Program:          program,
	})
	return nil
}

// exprEnv is the evaluation environment exposed to a policy's escalation
// expr: {prompt_tokens, max_output_tokens, summary, params}.
type exprEnv struct {
	PromptTokens    int64          `expr:"prompt_tokens"`
	MaxOutputTokens int64          `expr:"max_output_tokens"`
	Summary         string         `expr:"summary"`
	Params          map[string]any `expr:"params"`
}

// EvalExpr runs the compiled escalation expr (if any) against the given
// request facts, returning false when no expr is configured.
func (sn *Snapshot) EvalExpr(promptTokens, maxOutputTokens int64, summary string, params map[string]any) bool {
	if sn.Program == nil {
		return false
	}
	out, err := expr.Run(sn.Program, exprEnv{
		PromptTokens:    promptTokens,
		MaxOutputTokens: maxOutputTokens,
		Summary:         summary,
		Params:          params,
	})
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

func canonicalRevision(doc models.PolicyDocument) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16], nil
}
