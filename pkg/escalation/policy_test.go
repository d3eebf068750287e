package escalation

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/trustchain/pkg/fault"
)

func TestClassify_Boundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  Level
	}{
		{0, Stable},
		{0.1, Info},
		{1.99, Info},
		{2, Warning},
		{4.99, Warning},
		{5, Critical},
		{25, Critical},
		{100, Critical},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Classify(tc.score), "score %v", tc.score)
	}
}

func TestClassify_OnlyFourLevelsAcrossDomain(t *testing.T) {
	seen := map[Level]bool{}
	for impact := MinImpact; impact <= MaxImpact; impact++ {
		for c := 1; c <= 10; c++ {
			for p := MinPersistence; p <= 10; p++ {
				s, err := Score(impact, float64(c)/10, p)
				require.NoError(t, err)
				seen[Classify(s)] = true
			}
		}
	}
	seen[Classify(0)] = true
	require.Len(t, seen, 4)
	for l := range seen {
		require.Contains(t, Levels(), l)
	}
}

func TestClassify_NegativeScoreIsInvariant(t *testing.T) {
	require.PanicsWithError(t, "invariant violated: score_domain: score -1 is not a non-negative number", func() {
		Classify(-1)
	})

	var err error
	func() {
		defer fault.Recover(&err)
		Classify(math.NaN())
	}()
	var inv *fault.Invariant
	require.ErrorAs(t, err, &inv)
	require.Equal(t, "score_domain", inv.Name)
}

func TestScore_ConfidenceHasTwoDecimals(t *testing.T) {
	_, err := Score(1, 0.99999, 2)
	require.ErrorIs(t, err, ErrInvalidInput)

	s, err := Score(1, 0.99, 2)
	require.NoError(t, err)
	require.Equal(t, 1.98, s)
	require.Equal(t, Info, Classify(s))

	s, err = Score(3, 0.33, 2)
	require.NoError(t, err)
	require.Equal(t, 1.98, s)
}

func TestScore(t *testing.T) {
	s, err := Score(4, 0.5, 1)
	require.NoError(t, err)
	require.Equal(t, 2.0, s)
	require.Equal(t, Warning, Classify(s))

	s, err = Score(4, 0.8, 2)
	require.NoError(t, err)
	require.Equal(t, 6.4, s)

	for _, bad := range []struct {
		impact      int
		confidence  float64
		persistence int
	}{
		{0, 0.5, 1}, {6, 0.5, 1}, {3, 0.05, 1}, {3, 1.1, 1}, {3, 0.5, 0},
	} {
		_, err := Score(bad.impact, bad.confidence, bad.persistence)
		require.ErrorIs(t, err, ErrInvalidInput, "%+v", bad)
	}
}

func TestScore_Monotonic(t *testing.T) {
	prev := 0.0
	for p := 1; p <= 5; p++ {
		s, err := Score(3, 0.7, p)
		require.NoError(t, err)
		require.Greater(t, s, prev)
		prev = s
	}
}

func TestPolicyMappings(t *testing.T) {
	want := map[Level]struct {
		target Target
		rec    Recommendation
	}{
		Stable:   {TargetNone, RecommendNone},
		Info:     {TargetNone, RecommendLog},
		Warning:  {TargetArchitecte, RecommendSurveillance},
		Critical: {TargetArchitecte, RecommendEscalate},
	}
	for _, l := range Levels() {
		require.Equal(t, want[l].target, TargetFor(l), l.String())
		require.Equal(t, want[l].rec, RecommendationFor(l), l.String())
	}
	require.False(t, RequiresHumanJustification(1.99))
	require.True(t, RequiresHumanJustification(2))
}

func TestLevel_JSON(t *testing.T) {
	raw, err := json.Marshal(struct {
		L Level `json:"l"`
	}{Critical})
	require.NoError(t, err)
	require.JSONEq(t, `{"l":"CRITICAL"}`, string(raw))

	var l Level
	require.NoError(t, json.Unmarshal([]byte(`"WARNING"`), &l))
	require.Equal(t, Warning, l)
	require.Error(t, json.Unmarshal([]byte(`"INCIDENT"`), &l))

	_, err = ParseLevel("INCIDENT")
	require.Error(t, err)
	require.Equal(t, Stable, Level{})
}

func TestAssess(t *testing.T) {
	a, err := Assess(5, 1.0, 1)
	require.NoError(t, err)
	require.Equal(t, Critical, a.Classification)
	require.Equal(t, TargetArchitecte, a.Target)
	require.Equal(t, RecommendEscalate, a.Recommendation)
}

func TestImpactTable(t *testing.T) {
	base := ImpactTable{"D-S": 4, "D-P": 2}
	merged := base.Merge(ImpactTable{"D-P": 3})
	require.Equal(t, 3, merged.Lookup("D-P", 1))
	require.Equal(t, 2, base.Lookup("D-P", 1))
	require.Equal(t, 1, merged.Lookup("missing", 1))
	require.NoError(t, merged.Validate())
	require.ErrorIs(t, ImpactTable{"x": 9}.Validate(), ErrInvalidInput)
}

func TestHighest(t *testing.T) {
	require.Equal(t, Stable, Highest())
	require.Equal(t, Warning, Highest(Info, Warning, Stable))
}
