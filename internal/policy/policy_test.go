package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcrouter/control-plane/internal/policy"
	"github.com/arcrouter/control-plane/pkg/models"
)

func alwaysResolvable(string) bool { return true }

func TestNewStoreStartsEmptyAndUnloaded(t *testing.T) {
	s := policy.New()
	snap := s.Snapshot()
	assert.False(t, snap.Loaded())
	_, ok := snap.Lookup("default")
	assert.False(t, ok)
}

func TestReloadCompilesTierByModel(t *testing.T) {
	s := policy.New()
	doc := models.PolicyDocument{
		Revision: "pol-1",
		Aliases: map[string]models.PolicyAlias{
			"default": {
				Candidates: []string{"m1", "m2"},
				Tiers: []models.TierCandidate{
					{ModelID: "m1", Tier: "frontier"},
				},
			},
		},
	}
	require.NoError(t, s.Reload(doc, alwaysResolvable))

	snap := s.Snapshot()
	assert.True(t, snap.Loaded())
	alias, ok := snap.Lookup("default")
	require.True(t, ok)
	assert.Equal(t, "frontier", alias.TierByModel["m1"])
	_, tiered := alias.TierByModel["m2"]
	assert.False(t, tiered)
}

func TestReloadRejectsUnresolvableCandidate(t *testing.T) {
	s := policy.New()
	doc := models.PolicyDocument{
		Revision: "pol-1",
		Aliases: map[string]models.PolicyAlias{
			"default": {Candidates: []string{"ghost-model"}},
		},
	}
	err := s.Reload(doc, func(id string) bool { return false })
	assert.Error(t, err)

	// the previous (empty) snapshot must still be live — no partial swap
	assert.False(t, s.Snapshot().Loaded())
}

func TestReloadSkipsResolutionWhenCatalogNotYetLoaded(t *testing.T) {
	s := policy.New()
	doc := models.PolicyDocument{
		Revision: "pol-1",
		Aliases: map[string]models.PolicyAlias{
			"default": {Candidates: []string{"whatever"}},
		},
	}
	require.NoError(t, s.Reload(doc, nil))
	assert.True(t, s.Snapshot().Loaded())
}

func TestReloadDerivesRevisionWhenOmitted(t *testing.T) {
	s := policy.New()
	doc := models.PolicyDocument{Aliases: map[string]models.PolicyAlias{}}
	require.NoError(t, s.Reload(doc, nil))
	assert.NotEmpty(t, s.Snapshot().Doc.Revision)
}

func TestReloadCompilesUncertaintyRegex(t *testing.T) {
	s := policy.New()
	doc := models.PolicyDocument{
		Revision: "pol-1",
		Aliases:  map[string]models.PolicyAlias{},
		Escalations: models.PolicyEscalations{
			UncertaintyRegex: `(?i)not sure`,
		},
	}
	require.NoError(t, s.Reload(doc, nil))

	re := s.Snapshot().UncertaintyRegex
	require.NotNil(t, re)
	assert.True(t, re.MatchString("I am Not Sure about this"))
	assert.False(t, re.MatchString("this is confident"))
}

func TestReloadRejectsInvalidRegex(t *testing.T) {
	s := policy.New()
	doc := models.PolicyDocument{
		Revision: "pol-1",
		Escalations: models.PolicyEscalations{
			UncertaintyRegex: `(unterminated`,
		},
	}
	assert.Error(t, s.Reload(doc, nil))
}

func TestEvalExprEvaluatesCompiledExpression(t *testing.T) {
	s := policy.New()
	doc := models.PolicyDocument{
		Revision: "pol-1",
		Escalations: models.PolicyEscalations{
			Expr: "prompt_tokens + max_output_tokens > 100",
		},
	}
	require.NoError(t, s.Reload(doc, nil))

	snap := s.Snapshot()
	assert.True(t, snap.EvalExpr(90, 20, "", nil))
	assert.False(t, snap.EvalExpr(10, 10, "", nil))
}

func TestEvalExprWithoutConfiguredExprReturnsFalse(t *testing.T) {
	s := policy.New()
	require.NoError(t, s.Reload(models.PolicyDocument{Revision: "pol-1"}, nil))

	assert.False(t, s.Snapshot().EvalExpr(999999, 999999, "", nil))
}

func TestReloadRejectsInvalidExpr(t *testing.T) {
	s := policy.New()
	doc := models.PolicyDocument{
		Revision: "pol-1",
		Escalations: models.PolicyEscalations{
			Expr: "this is not >>> valid",
		},
	}
	assert.Error(t, s.Reload(doc, nil))
}
