package ledger

import (
	"errors"
	"math"
	"slices"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sigil/internal/ir"
	"github.com/roach88/sigil/internal/registry"
	"github.com/roach88/sigil/internal/testutil"
)

// Digests for the e1 walkthrough, computed independently from the documented
// byte layout.
const (
	e1Payload0 = "acd3eac4182a91e6f1060df860d8a6fdd05bed88b4ffcdfe824e0d0dbfd64922"
	e1Chain0   = "27f6856516b5e9c195275883cc4069ad88981c7f199885f7d5aa21224d6d14ed"
	e1Payload1 = "e35e1efff53fa100d7a6009072af804f45c1fb9f97d1df1dc6a6d455645c2fbb"
	e1Chain1   = "a34992350359d37fcaf4230098afbbc67c4f59623abcef9781c27c9f4e58fd54"
	e1Payload2 = "dd2bc60ff56f1184699c1829d1606cbfa402ffacc9c5fa34072f7ca062dcd1e3"
	e1Chain2   = "a2a37e52ac028ef621cae5f3d4ec451affd6d27bd9cf4feca097754209e7f283"
)

type countingObserver struct {
	mu      sync.Mutex
	evolves map[string]int
	verify  map[bool]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{evolves: map[string]int{}, verify: map[bool]int{}}
}

func (o *countingObserver) ObserveEvolve(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evolves[outcome]++
}

func (o *countingObserver) ObserveVerify(ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verify[ok]++
}

func newTestLedger(opts ...Option) *Ledger {
	return New(append([]Option{WithClock(testutil.NewDeterministicClock())}, opts...)...)
}

// evolveE1 runs the three successful transitions of the e1 walkthrough.
func evolveE1(t *testing.T, l *Ledger) *Handle {
	t.Helper()
	h, err := l.Open("e1")
	require.NoError(t, err)

	_, err = h.Evolve(0.1, map[string]any{"a": 1})
	require.NoError(t, err)
	_, err = h.Evolve(0.4, map[string]any{"a": 2})
	require.NoError(t, err)
	_, err = h.Evolve(0.4, map[string]any{"a": 3})
	require.NoError(t, err)
	return h
}

func TestOpen_StartsAtGenesis(t *testing.T) {
	l := newTestLedger()

	h, err := l.Open("e1")
	require.NoError(t, err)

	digest, metric := h.Head()
	assert.Equal(t, ir.GenesisDigest, digest)
	assert.Equal(t, 0.0, metric)
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, "e1", h.ID())
}

func TestOpen_ReturnsSameHandle(t *testing.T) {
	l := newTestLedger()

	h1, err := l.Open("e1")
	require.NoError(t, err)
	h2, err := l.Open("e1")
	require.NoError(t, err)

	assert.Same(t, h1, h2)
}

func TestOpen_EmptyID(t *testing.T) {
	l := newTestLedger()

	_, err := l.Open("")
	assert.ErrorIs(t, err, ErrEmptyEntityID)

	_, err = l.Evolve("", 0.5, map[string]any{})
	assert.ErrorIs(t, err, ErrEmptyEntityID)
}

func TestEvolve_E1Walkthrough(t *testing.T) {
	l := newTestLedger()
	h, err := l.Open("e1")
	require.NoError(t, err)

	r0, err := l.Evolve("e1", 0.1, map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(0), r0.Sequence)
	assert.Equal(t, 0.1, r0.Metric)
	assert.Equal(t, e1Payload0, r0.PayloadDigest)
	assert.Equal(t, e1Chain0, r0.ChainDigest)

	r1, err := l.Evolve("e1", 0.4, map[string]any{"a": 2})
	require.NoError(t, err)
	assert.Equal(t, int64(1), r1.Sequence)
	assert.Equal(t, 0.4, r1.Metric)
	assert.Equal(t, e1Payload1, r1.PayloadDigest)
	assert.Equal(t, e1Chain1, r1.ChainDigest)
	assert.Equal(t, ir.MustChainDigest(r0.ChainDigest, 1, 0.4, r1.PayloadDigest), r1.ChainDigest,
		"record 1 chains to record 0")

	// Equal metric is allowed.
	r2, err := l.Evolve("e1", 0.4, map[string]any{"a": 3})
	require.NoError(t, err)
	assert.Equal(t, int64(2), r2.Sequence)
	assert.Equal(t, e1Payload2, r2.PayloadDigest)
	assert.Equal(t, e1Chain2, r2.ChainDigest)

	_, err = l.Evolve("e1", 0.39, map[string]any{"a": 4})
	require.Error(t, err)
	assert.True(t, IsRegression(err))

	var re *RegressionError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "e1", re.EntityID)
	assert.Equal(t, 0.4, re.Current)
	assert.Equal(t, 0.39, re.Proposed)

	assert.Equal(t, 3, h.Len(), "rejected evolve leaves history unchanged")
	digest, metric := h.Head()
	assert.Equal(t, e1Chain2, digest)
	assert.Equal(t, 0.4, metric)
}

func TestEvolve_RegressionAfterHalf(t *testing.T) {
	l := newTestLedger()

	_, err := l.Evolve("e", 0.5, map[string]any{"step": 1})
	require.NoError(t, err)

	_, err = l.Evolve("e", 0.3, map[string]any{"step": 2})
	assert.True(t, IsRegression(err))
	assert.Len(t, slices.Collect(l.History("e")), 1)
}

func TestEvolve_FirstRecordMayStartAtZero(t *testing.T) {
	l := newTestLedger()

	rec, err := l.Evolve("e", 0, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.Metric)
}

func TestEvolve_NegativeZeroIsZero(t *testing.T) {
	l := newTestLedger()

	rec, err := l.Evolve("e", math.Copysign(0, -1), map[string]any{"a": 1})
	require.NoError(t, err)
	assert.False(t, math.Signbit(rec.Metric))
	assert.Equal(t, ir.MustChainDigest(ir.GenesisDigest, 0, 0, e1Payload0), rec.ChainDigest)
}

func TestEvolve_MetricOutOfRange(t *testing.T) {
	tests := []struct {
		name   string
		metric float64
	}{
		{"negative", -0.1},
		{"above one", 1.0001},
		{"nan", math.NaN()},
		{"inf", math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger()
			_, err := l.Evolve("e", tt.metric, map[string]any{})

			var mre *MetricRangeError
			require.True(t, errors.As(err, &mre))
			assert.Equal(t, "e", mre.EntityID)
			assert.Empty(t, slices.Collect(l.History("e")))
		})
	}
}

func TestEvolve_BoundsAccepted(t *testing.T) {
	l := newTestLedger()

	_, err := l.Evolve("e", 0.0, map[string]any{})
	require.NoError(t, err)
	_, err = l.Evolve("e", 1.0, map[string]any{})
	require.NoError(t, err)
}

func TestEvolve_SerializationError(t *testing.T) {
	l := newTestLedger()

	_, err := l.Evolve("e", 0.2, map[string]any{"a": 1})
	require.NoError(t, err)

	_, err = l.Evolve("e", 0.3, map[string]any{"ratio": math.NaN()})
	require.Error(t, err)
	assert.True(t, IsSerialization(err))
	assert.ErrorIs(t, err, ir.ErrNotCanonical)

	_, err = l.Evolve("e", 0.3, map[string]any{"limit": math.Inf(1)})
	assert.True(t, IsSerialization(err))

	_, err = l.Evolve("e", 0.3, map[string]any{"ch": make(chan int)})
	assert.True(t, IsSerialization(err))

	_, err = l.Evolve("e", 0.3, struct{ F func() }{F: func() {}})
	assert.True(t, IsSerialization(err))

	assert.Len(t, slices.Collect(l.History("e")), 1)
}

// orionState is the entity state shape of the ORION example: a float
// captured at creation and a link that is unset.
type orionState struct {
	Name     string  `json:"name"`
	Sigma    float64 `json:"sigma_at_creation"`
	LinkedTo *string `json:"linked_to"`
}

func TestEvolve_FloatNullAndStructPayloads(t *testing.T) {
	// sha256("sigil/payload/v1\x00" + `{"linked_to":null,"name":"ORION","sigma_at_creation":0.5}`)
	const want = "0d3e1aa50858fa30f9d7a46c7ffe57f1ebb6efd9c82d0c8dfa63b7df8d1d8979"

	payloads := map[string]any{
		"map":         map[string]any{"name": "ORION", "sigma_at_creation": 0.5, "linked_to": nil},
		"struct":      orionState{Name: "ORION", Sigma: 0.5},
		"struct ptr":  &orionState{Name: "ORION", Sigma: 0.5},
		"json":        mustIR(t, `{"sigma_at_creation": 0.50, "linked_to": null, "name": "ORION"}`),
		"float32 map": map[string]any{"name": "ORION", "sigma_at_creation": float32(0.5), "linked_to": (*string)(nil)},
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			l := newTestLedger()
			rec, err := l.Evolve("orion", 0.5, payload)
			require.NoError(t, err)
			assert.Equal(t, want, rec.PayloadDigest)
			assert.Len(t, slices.Collect(l.History("orion")), 1)
		})
	}
}

func TestEvolve_FloatPayloadDigestsAreStable(t *testing.T) {
	// `{"big":1e+21,"small":1e-7,"x":2}` under the payload domain.
	const want = "7c03fede74b3274537a54d6a2a70abb8fb3c565726683ddd749a72147c5a48dd"

	l := newTestLedger()
	r0, err := l.Evolve("f", 0.1, map[string]any{"big": 1e21, "small": 1e-7, "x": 2.0})
	require.NoError(t, err)
	assert.Equal(t, want, r0.PayloadDigest)

	// An integral float hashes like the integer.
	r1, err := l.Evolve("f", 0.2, map[string]any{"big": 1e21, "small": 1e-7, "x": 2})
	require.NoError(t, err)
	assert.Equal(t, r0.PayloadDigest, r1.PayloadDigest)

	report, err := l.Verify("f")
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func mustIR(t *testing.T, text string) ir.IRValue {
	t.Helper()
	v, err := ir.UnmarshalIRValue([]byte(text))
	require.NoError(t, err)
	return v
}

func TestEvolve_TimestampsFromClock(t *testing.T) {
	l := newTestLedger()
	h := evolveE1(t, l)

	recs := h.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, testutil.Epoch, recs[0].Timestamp)
	assert.True(t, recs[1].Timestamp.After(recs[0].Timestamp))
}

func TestEvolve_TimestampsNeverGoBackwards(t *testing.T) {
	l := New(WithClock(&testutil.BackwardsClock{}))

	r0, err := l.Evolve("e", 0.1, map[string]any{})
	require.NoError(t, err)
	r1, err := l.Evolve("e", 0.2, map[string]any{})
	require.NoError(t, err)

	assert.False(t, r1.Timestamp.Before(r0.Timestamp))
}

func TestEvolve_TimestampsDoNotAffectDigests(t *testing.T) {
	a := newTestLedger()
	b := New(WithClock(&testutil.BackwardsClock{}))

	ha := evolveE1(t, a)
	hb := evolveE1(t, b)

	da, _ := ha.Head()
	db, _ := hb.Head()
	assert.Equal(t, da, db)
}

func TestVerify_CleanHistory(t *testing.T) {
	l := newTestLedger()
	evolveE1(t, l)

	report, err := l.Verify("e1")
	require.NoError(t, err)
	assert.True(t, report.ChainOK)
	assert.True(t, report.MonotonicOK)
	assert.True(t, report.OK())
	assert.Nil(t, report.FirstFailingSequence)
	assert.Equal(t, 3, report.Records)
	assert.Equal(t, e1Chain2, report.HeadDigest)
}

func TestVerify_EmptyHistory(t *testing.T) {
	l := newTestLedger()
	_, err := l.Open("e")
	require.NoError(t, err)

	report, err := l.Verify("e")
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, ir.GenesisDigest, report.HeadDigest)
}

func TestVerify_UnknownEntity(t *testing.T) {
	l := newTestLedger()

	_, err := l.Verify("ghost")
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestVerify_DetectsTampering(t *testing.T) {
	tamper := map[string]func(*Record){
		"payload digest": func(r *Record) { r.PayloadDigest = ir.MustPayloadDigest(map[string]any{"forged": 1}) },
		"chain digest":   func(r *Record) { r.ChainDigest = ir.GenesisDigest },
		"sequence":       func(r *Record) { r.Sequence = 7 },
		"entity":         func(r *Record) { r.EntityID = "other" },
	}

	for name, mutate := range tamper {
		for seq := range 3 {
			t.Run(name, func(t *testing.T) {
				l := newTestLedger()
				h := evolveE1(t, l)

				mutate(&h.records[seq])

				report := h.Verify()
				assert.False(t, report.ChainOK)
				assert.True(t, report.MonotonicOK)
				require.NotNil(t, report.FirstFailingSequence)
				assert.Equal(t, int64(seq), *report.FirstFailingSequence)
			})
		}
	}
}

func TestVerify_DetectsMetricRegressionInStorage(t *testing.T) {
	l := newTestLedger()
	h := evolveE1(t, l)

	h.records[2].Metric = 0.2

	report := h.Verify()
	assert.False(t, report.MonotonicOK)
	assert.False(t, report.ChainOK, "the metric is part of the chain digest")
	require.NotNil(t, report.FirstFailingSequence)
	assert.Equal(t, int64(2), *report.FirstFailingSequence)
}

func TestVerify_DoesNotMutate(t *testing.T) {
	l := newTestLedger()
	h := evolveE1(t, l)
	h.records[1].PayloadDigest = ir.GenesisDigest

	before := h.Records()
	h.Verify()
	h.Verify()
	assert.Equal(t, before, h.Records())
}

func TestVerifyRecords_Pure(t *testing.T) {
	l := newTestLedger()
	h := evolveE1(t, l)
	recs := h.Records()

	assert.Equal(t, VerifyRecords("e1", recs), VerifyRecords("e1", recs))
	assert.False(t, VerifyRecords("e2", recs).ChainOK, "records belong to e1")
}

func TestHistory_OrderAndMonotonic(t *testing.T) {
	l := newTestLedger()
	evolveE1(t, l)

	recs := slices.Collect(l.History("e1"))
	require.Len(t, recs, 3)
	for i, rec := range recs {
		assert.Equal(t, int64(i), rec.Sequence)
		if i > 0 {
			assert.LessOrEqual(t, recs[i-1].Metric, rec.Metric)
		}
	}
}

func TestHistory_Restartable(t *testing.T) {
	l := newTestLedger()
	h := evolveE1(t, l)

	seq := h.History()
	first := slices.Collect(seq)

	_, err := h.Evolve(0.9, map[string]any{"a": 5})
	require.NoError(t, err)

	second := slices.Collect(seq)
	assert.Len(t, first, 3)
	assert.Len(t, second, 4, "re-ranging reads current state")
	assert.Equal(t, first, second[:3])
}

func TestHistory_EarlyBreak(t *testing.T) {
	l := newTestLedger()
	evolveE1(t, l)

	var seen []int64
	for rec := range l.History("e1") {
		seen = append(seen, rec.Sequence)
		if rec.Sequence == 1 {
			break
		}
	}
	assert.Equal(t, []int64{0, 1}, seen)
}

func TestHistory_UnknownEntityIsEmpty(t *testing.T) {
	l := newTestLedger()
	assert.Empty(t, slices.Collect(l.History("ghost")))
}

func TestRecords_ReturnsCopy(t *testing.T) {
	l := newTestLedger()
	h := evolveE1(t, l)

	recs := h.Records()
	recs[0].Metric = 0.99

	report := h.Verify()
	assert.True(t, report.OK())
}

func TestEvolve_ConcurrentSameEntity(t *testing.T) {
	l := newTestLedger()
	h, err := l.Open("shared")
	require.NoError(t, err)

	const n = 64
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.Evolve(0.5, map[string]any{"writer": i})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	recs := h.Records()
	require.Len(t, recs, n)
	for i, rec := range recs {
		assert.Equal(t, int64(i), rec.Sequence)
	}
	assert.True(t, h.Verify().OK())
}

func TestEvolve_ConcurrentRisingMetrics(t *testing.T) {
	l := newTestLedger()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Evolve("race", float64(i)/100, map[string]any{"i": i})
			if err != nil {
				assert.True(t, IsRegression(err))
			}
		}(i)
	}
	wg.Wait()

	report, err := l.Verify("race")
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestEvolve_ConcurrentDistinctEntitiesWithReaders(t *testing.T) {
	l := newTestLedger()
	ids := []string{"a", "b", "c", "d"}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			for i := range 20 {
				_, err := l.Evolve(id, float64(i)/20, map[string]any{"i": i})
				assert.NoError(t, err)
			}
		}(id)
		go func(id string) {
			defer wg.Done()
			for range 20 {
				for rec := range l.History(id) {
					assert.Len(t, rec.ChainDigest, 64)
				}
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, ids, l.Entities())
	for _, id := range ids {
		report, err := l.Verify(id)
		require.NoError(t, err)
		assert.True(t, report.OK())
		assert.Equal(t, 20, report.Records)
	}
}

type orion struct{}

type comet struct{}

func TestOpenTyped(t *testing.T) {
	reg := registry.New()
	owner := registry.MustDefine[orion](reg,
		registry.S("origin", registry.String("Genesis10000+")),
	)
	require.NoError(t, reg.MarkTracked(owner))
	untracked := registry.MustDefine[comet](reg)

	l := newTestLedger(WithRegistry(reg))

	h, err := l.OpenTyped(owner, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "o-1", h.ID())

	_, err = l.OpenTyped(untracked, "c-1")
	var nte *NotTrackedError
	require.True(t, errors.As(err, &nte))
	assert.Equal(t, untracked, nte.Owner)
}

func TestOpenTyped_NoRegistry(t *testing.T) {
	l := newTestLedger()

	_, err := l.OpenTyped("anything", "x")
	var nte *NotTrackedError
	assert.True(t, errors.As(err, &nte))
}

func TestRestore(t *testing.T) {
	src := newTestLedger()
	recs := evolveE1(t, src).Records()

	dst := newTestLedger()
	h, err := dst.Restore("e1", recs)
	require.NoError(t, err)

	digest, metric := h.Head()
	assert.Equal(t, e1Chain2, digest)
	assert.Equal(t, 0.4, metric)

	// The restored chain keeps growing from the restored head.
	next, err := h.Evolve(0.5, map[string]any{"a": 4})
	require.NoError(t, err)
	assert.Equal(t, int64(3), next.Sequence)
	assert.Equal(t, ir.MustChainDigest(e1Chain2, 3, 0.5, next.PayloadDigest), next.ChainDigest)

	_, err = h.Evolve(0.3, map[string]any{})
	assert.True(t, IsRegression(err))
}

func TestRestore_Corrupted(t *testing.T) {
	src := newTestLedger()
	recs := evolveE1(t, src).Records()
	recs[1].PayloadDigest = ir.GenesisDigest

	dst := newTestLedger()
	_, err := dst.Restore("e1", recs)
	require.Error(t, err)
	assert.True(t, IsCorruption(err))

	var ce *CorruptionError
	require.True(t, errors.As(err, &ce))
	require.NotNil(t, ce.Report.FirstFailingSequence)
	assert.Equal(t, int64(1), *ce.Report.FirstFailingSequence)
	assert.Contains(t, err.Error(), "sequence 1")

	assert.Empty(t, dst.Entities(), "nothing opened on failure")
}

func TestRestore_AlreadyPopulated(t *testing.T) {
	src := newTestLedger()
	recs := evolveE1(t, src).Records()

	_, err := src.Restore("e1", recs)
	assert.ErrorIs(t, err, ErrAlreadyPopulated)
}

func TestLookup(t *testing.T) {
	l := newTestLedger()

	_, err := l.Lookup("e1")
	assert.ErrorIs(t, err, ErrUnknownEntity)
	assert.Contains(t, err.Error(), "e1")

	opened, err := l.Open("e1")
	require.NoError(t, err)
	found, err := l.Lookup("e1")
	require.NoError(t, err)
	assert.Same(t, opened, found)
}

func TestObserver(t *testing.T) {
	obs := newCountingObserver()
	l := newTestLedger(WithObserver(obs))

	evolveE1(t, l)
	_, _ = l.Evolve("e1", 0.1, map[string]any{})
	_, _ = l.Evolve("e1", 2, map[string]any{})
	_, _ = l.Evolve("e1", 0.9, map[string]any{"f": math.NaN()})
	_, _ = l.Verify("e1")

	assert.Equal(t, 3, obs.evolves[OutcomeAppended])
	assert.Equal(t, 1, obs.evolves[OutcomeRegression])
	assert.Equal(t, 1, obs.evolves[OutcomeOutOfRange])
	assert.Equal(t, 1, obs.evolves[OutcomeSerialization])
	assert.Equal(t, 1, obs.verify[true])
}

func TestNewEntityID(t *testing.T) {
	id := NewEntityID()

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, id, NewEntityID())
}

func TestLedgerHead(t *testing.T) {
	l := newTestLedger()

	_, _, err := l.Head("e1")
	assert.ErrorIs(t, err, ErrUnknownEntity)

	evolveE1(t, l)
	digest, metric, err := l.Head("e1")
	require.NoError(t, err)
	assert.Equal(t, e1Chain2, digest)
	assert.Equal(t, 0.4, metric)
}
