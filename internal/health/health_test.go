package health_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcrouter/control-plane/internal/health"
	"github.com/arcrouter/control-plane/pkg/models"
)

func TestSnapshotOfUnknownModelIsZero(t *testing.T) {
	tr := health.New()
	snap := tr.Snapshot("nobody-has-called-this")
	assert.Equal(t, int64(0), snap.Requests)
}

func TestUpdateBlendsFromZeroOnFirstEvent(t *testing.T) {
	tr := health.NewWithAlpha(0.5)
	tr.Update(models.RouteFeedback{ModelID: "m1", Success: true, DurationMs: 1000})

	snap := tr.Snapshot("m1")
	require.Equal(t, int64(1), snap.Requests)
	assert.Equal(t, int64(1), snap.Successes)
	assert.Equal(t, int64(0), snap.Failures)
	// blend(0, 1000, 0.5) == 500, not 1000 — the first sample is smoothed
	// in from a zero baseline, not taken verbatim.
	assert.InDelta(t, 500, snap.EWMALatencyMs, 0.001)
	assert.InDelta(t, 0, snap.EWMAErrorRate, 0.001)
}

func TestUpdateTracksErrorRate(t *testing.T) {
	tr := health.NewWithAlpha(0.5)
	tr.Update(models.RouteFeedback{ModelID: "m1", Success: false, DurationMs: 100})
	tr.Update(models.RouteFeedback{ModelID: "m1", Success: false, DurationMs: 100})

	snap := tr.Snapshot("m1")
	assert.Equal(t, int64(2), snap.Failures)
	assert.Greater(t, snap.EWMAErrorRate, 0.5, "two consecutive failures should push the smoothed error rate well above 0.5")
}

func TestUpdateComputesTokensPerSec(t *testing.T) {
	tr := health.NewWithAlpha(1.0)
	tr.Update(models.RouteFeedback{
		ModelID:    "m1",
		Success:    true,
		DurationMs: 1000,
		Usage:      &models.FeedbackUsage{PromptTokens: 50, CompletionTokens: 50},
	})

	snap := tr.Snapshot("m1")
	assert.InDelta(t, 100, snap.TokensPerSec, 0.001)
}

func TestNewWithAlphaRejectsOutOfRangeValues(t *testing.T) {
	tr := health.NewWithAlpha(5)
	tr.Update(models.RouteFeedback{ModelID: "m1", Success: true, DurationMs: 1000})
	snap := tr.Snapshot("m1")
	// falls back to health.DefaultAlpha (0.2): blend(0, 1000, 0.2) == 200
	assert.InDelta(t, 200, snap.EWMALatencyMs, 0.001)
}

func TestModelsAreIndependent(t *testing.T) {
	tr := health.New()
	tr.Update(models.RouteFeedback{ModelID: "m1", Success: true, DurationMs: 100})

	assert.Equal(t, int64(0), tr.Snapshot("m2").Requests)
}
