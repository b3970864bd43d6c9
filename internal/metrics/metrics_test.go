package metrics

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sigil/internal/ledger"
	"github.com/roach88/sigil/internal/registry"
)

func TestMetrics_RegistryOutcomes(t *testing.T) {
	m := New()
	reg := registry.New(registry.WithObserver(m))

	require.NoError(t, reg.Declare("ORION", "origin", registry.String("Genesis10000+")))
	require.NoError(t, reg.Declare("ORION", "origin", registry.String("Genesis10000+")))
	require.Error(t, reg.Declare("ORION", "origin", registry.String("other")))
	require.Error(t, reg.Declare("ORION", "", registry.Number(1)))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.declarations.WithLabelValues(registry.OutcomeCreated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.declarations.WithLabelValues(registry.OutcomeIdempotent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.declarations.WithLabelValues(registry.OutcomeDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.declarations.WithLabelValues(registry.OutcomeInvalid)))
}

func TestMetrics_LedgerOutcomes(t *testing.T) {
	m := New()
	l := ledger.New(ledger.WithObserver(m))

	_, err := l.Evolve("e1", 0.5, map[string]any{"a": 1})
	require.NoError(t, err)
	_, err = l.Evolve("e1", 0.3, map[string]any{"a": 2})
	require.Error(t, err)
	_, err = l.Verify("e1")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.evolutions.WithLabelValues(ledger.OutcomeAppended)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evolutions.WithLabelValues(ledger.OutcomeRegression)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("true")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.verifications.WithLabelValues("false")))
}

func TestMetrics_IndependentInstances(t *testing.T) {
	a := New()
	b := New()

	a.ObserveEvolve(ledger.OutcomeAppended)

	assert.Equal(t, 1, testutil.CollectAndCount(a.evolutions))
	assert.Equal(t, 0, testutil.CollectAndCount(b.evolutions))
}

func TestMetrics_WriteText(t *testing.T) {
	m := New()
	m.ObserveDeclare(registry.OutcomeCreated)
	m.ObserveVerify(false)

	var buf bytes.Buffer
	require.NoError(t, m.WriteText(&buf))

	out := buf.String()
	assert.Contains(t, out, `sigil_registry_declarations_total{outcome="created"} 1`)
	assert.Contains(t, out, `sigil_ledger_verifications_total{ok="false"} 1`)
	assert.Contains(t, out, "# TYPE sigil_registry_declarations_total counter")
}
