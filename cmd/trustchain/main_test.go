package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/trustchain/pkg/fault"
)

const fixedAt = "2026-02-04T10:00:00Z"

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"trustchain"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"TRUSTCHAIN_CONFIG", "TRUSTCHAIN_PROFILE", "TRUSTCHAIN_AUDIT_BACKEND", "TRUSTCHAIN_AUDIT_TARGET", "TRUSTCHAIN_CERT_SECRET"} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "trustchain.yaml")
	writeFile(t, p, "log:\n  level: error\naudit:\n  backend: file\n  target: "+filepath.Join(dir, "audit.jsonl")+"\n")
	return p
}

func sealRun(t *testing.T, dir, runID string, extra ...string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, "artifacts", "a.txt"), "alpha\n")
	writeFile(t, filepath.Join(dir, "artifacts", "nested", "b.json"), `{"b":2}`)
	args := append([]string{"seal", "--run", dir, "--run-id", runID, "--seed", "42", "--certified", "--at", fixedAt}, extra...)
	code, _, stderr := run(t, args...)
	require.Equal(t, fault.ExitPass, code, stderr)
}

func TestHelpAndUsage(t *testing.T) {
	isolateEnv(t)
	code, stdout, _ := run(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "EXIT CODES")

	code, _, stderr := run(t, "frobnicate")
	assert.Equal(t, fault.ExitUsage, code)
	assert.Contains(t, stderr, "Unknown command")

	code, _, _ = run(t)
	assert.Equal(t, fault.ExitUsage, code)

	code, _, _ = run(t, "seal", "--no-such-flag")
	assert.Equal(t, fault.ExitUsage, code)

	code, _, stderr = run(t, "validate")
	assert.Equal(t, fault.ExitUsage, code)
	assert.Contains(t, stderr, "Error:")
}

func TestSealValidateBaselineCI(t *testing.T) {
	isolateEnv(t)
	root := t.TempDir()
	cfg := writeConfig(t, root)
	base, cand := filepath.Join(root, "runs", "base"), filepath.Join(root, "runs", "cand")
	baselines := filepath.Join(root, "baselines")

	sealRun(t, base, "base", "--metric", "accuracy=0.95")
	sealRun(t, cand, "cand", "--metric", "accuracy=0.93")

	code, stdout, stderr := run(t, "validate", "--run", cand, "--json", "--config", cfg)
	require.Equal(t, fault.ExitPass, code, stderr)
	var v struct {
		Valid bool `json:"valid"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &v))
	assert.True(t, v.Valid)

	thresholds := filepath.Join(root, "thresholds.json")
	writeFile(t, thresholds, `{"metrics":{"accuracy":{"min":0.9}}}`)
	code, _, stderr = run(t, "baseline", "register", "--dir", baselines, "--version", "1.0.0",
		"--run", base, "--thresholds", thresholds, "--config", cfg, "--at", fixedAt)
	require.Equal(t, fault.ExitPass, code, stderr)

	code, _, _ = run(t, "baseline", "register", "--dir", baselines, "--version", "1.0.0", "--run", base, "--config", cfg)
	assert.NotEqual(t, fault.ExitPass, code, "a registered version is immutable")

	out := filepath.Join(root, "ci")
	code, stdout, stderr = run(t, "ci", "--candidate", cand, "--baselines", baselines, "--version", "1.0.0",
		"--seed", "42", "--out", out, "--json", "--config", cfg, "--at", fixedAt)
	require.Equal(t, fault.ExitPass, code, stderr+stdout)

	var ci struct {
		ReportID string `json:"report_id"`
		Result   struct {
			Verdict string `json:"verdict"`
			Gates   []struct {
				Gate    string `json:"gate"`
				Verdict string `json:"verdict"`
			} `json:"gates"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &ci))
	assert.Equal(t, "PASS", ci.Result.Verdict)
	assert.Len(t, ci.Result.Gates, 6)
	assert.FileExists(t, filepath.Join(out, "ci_report.json"))
	assert.FileExists(t, filepath.Join(out, "badge.json"))

	// baseline registration and the CI report are both in the audit log
	code, stdout, stderr = run(t, "audit", "verify", "--json", "--config", cfg)
	require.Equal(t, fault.ExitPass, code, stderr)
	var verify struct {
		Valid   bool `json:"valid"`
		Records int  `json:"records"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &verify))
	assert.True(t, verify.Valid)
	assert.Equal(t, 2, verify.Records)

	zipPath := filepath.Join(root, "evidence.zip")
	code, _, stderr = run(t, "audit", "export", "--out", zipPath, "--kind", "ci_report", "--config", cfg, "--at", fixedAt)
	require.Equal(t, fault.ExitPass, code, stderr)
	assert.FileExists(t, zipPath)
}

func TestCIUnknownBaselineExits3(t *testing.T) {
	isolateEnv(t)
	root := t.TempDir()
	cand := filepath.Join(root, "cand")
	sealRun(t, cand, "cand")

	code, stdout, _ := run(t, "ci", "--candidate", cand, "--baselines", filepath.Join(root, "baselines"), "--version", "9.9.9", "--at", fixedAt)
	assert.Equal(t, fault.ExitBaselineNotFound, code)
	assert.Contains(t, stdout, "G0")
}

func TestValidateTamperedRunFails(t *testing.T) {
	isolateEnv(t)
	dir := filepath.Join(t.TempDir(), "run")
	sealRun(t, dir, "run")
	writeFile(t, filepath.Join(dir, "artifacts", "a.txt"), "tampered\n")

	code, stdout, _ := run(t, "validate", "--run", dir)
	assert.Equal(t, fault.ExitFail, code)
	assert.Contains(t, stdout, "Result: INVALID")
}

func TestAuditVerifyDetectsTampering(t *testing.T) {
	isolateEnv(t)
	root := t.TempDir()
	cfg := writeConfig(t, root)
	base := filepath.Join(root, "base")
	sealRun(t, base, "base")
	code, _, stderr := run(t, "baseline", "register", "--dir", filepath.Join(root, "baselines"), "--version", "1.0.0", "--run", base, "--config", cfg)
	require.Equal(t, fault.ExitPass, code, stderr)

	logPath := filepath.Join(root, "audit.jsonl")
	raw, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(logPath, []byte(strings.Replace(string(raw), "1.0.0", "6.6.6", 1)), 0o600))

	code, _, stderr = run(t, "audit", "verify", "--config", cfg)
	assert.Equal(t, fault.ExitInvariant, code)
	assert.Contains(t, stderr, "Error:")
}

func TestAuditWithoutBackendIsUsageError(t *testing.T) {
	isolateEnv(t)
	code, _, stderr := run(t, "audit", "verify")
	assert.Equal(t, fault.ExitUsage, code)
	assert.Contains(t, stderr, "no audit backend")
}

func TestDriftReport(t *testing.T) {
	isolateEnv(t)
	root := t.TempDir()
	input := filepath.Join(root, "drift.json")
	writeFile(t, input, `{
  "baseline": {"sha256": "abc", "commit": "c0ffee12", "tag": "v1.0.0", "scope": "runtime"},
  "observations": {
    "log_entries": [
      {"event_id": "E-1", "timestamp_utc": "2026-02-01T00:00:00Z", "verdict": "PASS", "output_hash": "h1"},
      {"event_id": "E-2", "timestamp_utc": "2026-02-02T00:00:00Z", "verdict": "FAIL", "output_hash": "h1"}
    ]
  },
  "trigger_events": ["nightly"]
}`)
	out := filepath.Join(root, "report.json")
	code, stdout, stderr := run(t, "drift", "--input", input, "--out", out, "--json", "--at", fixedAt)
	require.Equal(t, fault.ExitPass, code, stderr)

	var rep struct {
		ReportType         string            `json:"report_type"`
		DetectedDrifts     []json.RawMessage `json:"detected_drifts"`
		EscalationRequired bool              `json:"escalation_required"`
		EscalationTarget   string            `json:"escalation_target"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.Equal(t, "drift_report", rep.ReportType)
	assert.NotEmpty(t, rep.DetectedDrifts)
	assert.Equal(t, "ARCHITECTE", rep.EscalationTarget)
	assert.FileExists(t, out)

	code, _, _ = run(t, "drift", "--input", input, "--fail-on-escalation", "--at", fixedAt)
	if rep.EscalationRequired {
		assert.Equal(t, fault.ExitFail, code)
	} else {
		assert.Equal(t, fault.ExitPass, code)
	}
}

func TestDriftRejectsBadInput(t *testing.T) {
	isolateEnv(t)
	root := t.TempDir()
	input := filepath.Join(root, "drift.json")

	writeFile(t, input, `{"baseline": {}, "observations": {}, "trigger_events": []}`)
	code, _, _ := run(t, "drift", "--input", input)
	assert.Equal(t, fault.ExitUsage, code)

	writeFile(t, input, `{"unexpected": true}`)
	code, _, _ = run(t, "drift", "--input", input)
	assert.Equal(t, fault.ExitIO, code)

	code, _, _ = run(t, "drift", "--input", filepath.Join(root, "missing.json"))
	assert.Equal(t, fault.ExitIO, code)
}

func TestIncidentReport(t *testing.T) {
	isolateEnv(t)
	root := t.TempDir()
	input := filepath.Join(root, "incidents.json")
	body := func(severity, deadline string) string {
		return `{
  "incidents": [{
    "event_type": "incident_event", "schema_version": "1.0.0",
    "event_id": "INC_` + severity[:3] + `_20260204_001", "incident_id": "INC_001",
    "timestamp": "2026-02-04T09:05:00Z", "detected_at": "2026-02-04T09:00:00Z",
    "source": "monitoring", "severity": "` + severity + `", "status": "resolved",
    "metadata": {"title": "Slow cache", "description": "p99 up", "affected_components": ["cache"]},
    "timeline": [{"timestamp": "2026-02-04T09:05:00Z", "action": "Notified on-call", "actor": "system"}],
    "evidence_refs": ["evidence/001.json"],
    "sla": {"response_deadline": "` + deadline + `", "sla_met": true},
    "log_chain_prev_hash": null
  }],
  "postmortems": [],
  "rollback_plans": []
}`
	}

	writeFile(t, input, body("LOW", "2026-02-07T09:00:00Z"))
	code, stdout, stderr := run(t, "incident", "--input", input, "--json", "--fail-on-escalation", "--at", fixedAt)
	require.Equal(t, fault.ExitPass, code, stderr)
	var rep struct {
		ReportType         string `json:"report_type"`
		ReportID           string `json:"report_id"`
		EscalationRequired bool   `json:"escalation_required"`
		Notes              string `json:"notes"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.Equal(t, "incident_report", rep.ReportType)
	assert.True(t, strings.HasPrefix(rep.ReportID, "INC_REPORT_20260204T100000Z_"), rep.ReportID)
	assert.False(t, rep.EscalationRequired)
	assert.Contains(t, rep.Notes, "NON-ACTUATING")

	writeFile(t, input, body("MEDIUM", "2026-02-05T09:00:00Z"))
	code, stdout, _ = run(t, "incident", "--input", input, "--fail-on-escalation", "--at", fixedAt)
	assert.Equal(t, fault.ExitFail, code)
	assert.Contains(t, stdout, "INC-005")

	code, _, _ = run(t, "incident")
	assert.Equal(t, fault.ExitUsage, code)
}

func TestRegress(t *testing.T) {
	isolateEnv(t)
	root := t.TempDir()
	input := filepath.Join(root, "regress.json")
	body := func(waivers string) string {
		return `{
  "baseline": {"baseline_id": "BL-1", "version": "1.0.0", "commit": "aaaaaaaa11",
    "test_results": {"total_tests": 10, "passed": 10, "failed": 0, "skipped": 0, "assertions_count": 50, "output_hash": "h", "duration_ms": 1000}},
  "candidate": {"version": "1.1.0", "commit": "bbbbbbbb22",
    "test_results": {"total_tests": 10, "passed": 10, "failed": 0, "skipped": 0, "assertions_count": 50, "output_hash": "h", "duration_ms": 2000}},
  "waivers": ` + waivers + `
}`
	}

	writeFile(t, input, body(`[]`))
	code, stdout, stderr := run(t, "regress", "--input", input, "--json", "--at", fixedAt)
	require.Equal(t, fault.ExitFail, code, stderr)
	var res struct {
		CheckID string `json:"check_id"`
		Status  string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, "FAIL", res.Status)
	assert.Equal(t, "CHK_20260204T100000_bbbbbbbb", res.CheckID)

	writeFile(t, input, body(`[{"waiver_id": "WVR-1", "baseline_id": "BL-1", "gap_id": "GAP-DURATION_REGRESSION", "status": "ACTIVE", "approved_by": "ARCHITECTE"}]`))
	code, stdout, stderr = run(t, "regress", "--input", input, "--json", "--at", fixedAt)
	require.Equal(t, fault.ExitPass, code, stderr)
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, "WAIVED", res.Status)
}
