package regression

import (
	"fmt"
	"strconv"
)

func percent(part, whole int) float64 {
	if whole <= 0 {
		return 100
	}
	return float64(part) / float64(whole) * 100
}

func graded(p, majorAbove, criticalAbove float64) Severity {
	switch {
	case p > criticalAbove:
		return SeverityCritical
	case p > majorAbove:
		return SeverityMajor
	}
	return SeverityMinor
}

func testCountDecrease(base, cand TestResults, _ Options) *Finding {
	if cand.TotalTests >= base.TotalTests {
		return nil
	}
	dec := base.TotalTests - cand.TotalTests
	p := percent(dec, base.TotalTests)
	return &Finding{
		Type:          TypeTestCountDecrease,
		Description:   fmt.Sprintf("Test count decreased from %d to %d (-%d tests, -%.1f%%)", base.TotalTests, cand.TotalTests, dec, p),
		BaselineValue: strconv.Itoa(base.TotalTests),
		ObservedValue: strconv.Itoa(cand.TotalTests),
		Severity:      graded(p, 5, 20),
		Evidence: []string{
			fmt.Sprintf("baseline_tests:%d", base.TotalTests),
			fmt.Sprintf("candidate_tests:%d", cand.TotalTests),
			fmt.Sprintf("decrease:%d", dec),
			fmt.Sprintf("percent_decrease:%.1f%%", p),
		},
	}
}

func failureIncrease(base, cand TestResults, _ Options) *Finding {
	if cand.Failed <= base.Failed {
		return nil
	}
	inc := cand.Failed - base.Failed
	return &Finding{
		Type:          TypeTestFailureIncrease,
		Description:   fmt.Sprintf("Test failures increased from %d to %d (+%d failures)", base.Failed, cand.Failed, inc),
		BaselineValue: strconv.Itoa(base.Failed),
		ObservedValue: strconv.Itoa(cand.Failed),
		Severity:      graded(float64(inc), 3, 10),
		Evidence: []string{
			fmt.Sprintf("baseline_failures:%d", base.Failed),
			fmt.Sprintf("candidate_failures:%d", cand.Failed),
			fmt.Sprintf("increase:%d", inc),
		},
	}
}

func assertionDecrease(base, cand TestResults, _ Options) *Finding {
	if cand.AssertionsCount >= base.AssertionsCount {
		return nil
	}
	dec := base.AssertionsCount - cand.AssertionsCount
	p := percent(dec, base.AssertionsCount)
	return &Finding{
		Type:          TypeAssertionCountDecrease,
		Description:   fmt.Sprintf("Assertion count decreased from %d to %d (-%d assertions, -%.1f%%)", base.AssertionsCount, cand.AssertionsCount, dec, p),
		BaselineValue: strconv.Itoa(base.AssertionsCount),
		ObservedValue: strconv.Itoa(cand.AssertionsCount),
		Severity:      graded(p, 10, 30),
		Evidence: []string{
			fmt.Sprintf("baseline_assertions:%d", base.AssertionsCount),
			fmt.Sprintf("candidate_assertions:%d", cand.AssertionsCount),
			fmt.Sprintf("decrease:%d", dec),
			fmt.Sprintf("percent_decrease:%.1f%%", p),
		},
	}
}

func outputMismatch(base, cand TestResults, _ Options) *Finding {
	if base.OutputHash == cand.OutputHash {
		return nil
	}
	return &Finding{
		Type:          TypeOutputHashMismatch,
		Description:   "Output hash changed from baseline",
		BaselineValue: base.OutputHash,
		ObservedValue: cand.OutputHash,
		Severity:      SeverityMajor,
		Evidence: []string{
			"baseline_hash:" + base.OutputHash,
			"candidate_hash:" + cand.OutputHash,
			"mismatch:true",
		},
	}
}

func durationRegression(base, cand TestResults, opts Options) *Finding {
	if base.DurationMs == 0 {
		return nil
	}
	inc := cand.DurationMs - base.DurationMs
	ratio := float64(inc) / float64(base.DurationMs)
	if ratio <= opts.DurationThreshold {
		return nil
	}
	return &Finding{
		Type:          TypeDurationRegression,
		Description:   fmt.Sprintf("Test duration increased from %dms to %dms (+%.1f%%)", base.DurationMs, cand.DurationMs, ratio*100),
		BaselineValue: strconv.FormatInt(base.DurationMs, 10),
		ObservedValue: strconv.FormatInt(cand.DurationMs, 10),
		Severity:      SeverityMinor,
		Evidence: []string{
			fmt.Sprintf("baseline_duration_ms:%d", base.DurationMs),
			fmt.Sprintf("candidate_duration_ms:%d", cand.DurationMs),
			fmt.Sprintf("increase_ms:%d", inc),
			fmt.Sprintf("percent_increase:%.1f%%", ratio*100),
			fmt.Sprintf("threshold:%.0f%%", opts.DurationThreshold*100),
		},
	}
}
