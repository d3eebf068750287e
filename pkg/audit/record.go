// Package audit is the append-only, hash-chained record of what trustchain
// produced: reports, verdicts and escalations. Callers see two operations,
// Append and Read; the backends differ only in where the chain is kept.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/trustchain/pkg/canonicalize"
)

// Genesis is the previous hash of the first record.
const Genesis = "genesis"

var (
	ErrChainBroken    = errors.New("audit: hash chain is broken")
	ErrRecordNotFound = errors.New("audit: record not found")
)

// Kind names what a record carries.
type Kind string

const (
	KindCIReport       Kind = "ci_report"
	KindDriftReport    Kind = "drift_report"
	KindMisuseReport   Kind = "misuse_report"
	KindGovernance     Kind = "governance_report"
	KindRegression     Kind = "regression_check"
	KindEscalation     Kind = "escalation"
	KindBaselineChange Kind = "baseline_registered"
)

// Record is one immutable link of the chain.
type Record struct {
	Sequence    uint64          `json:"sequence"`
	RecordID    string          `json:"record_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Kind        Kind            `json:"kind"`
	Subject     string          `json:"subject"`
	Payload     json.RawMessage `json:"payload"`
	PayloadHash string          `json:"payload_hash"`
	PrevHash    string          `json:"prev_hash"`
	RecordHash  string          `json:"record_hash"`
}

// Filter selects records on Read. Zero fields match everything.
type Filter struct {
	Kind    Kind
	Subject string
	Since   time.Time
	Until   time.Time
	Limit   int
}

func (f Filter) matches(r Record) bool {
	switch {
	case f.Kind != "" && r.Kind != f.Kind:
		return false
	case f.Subject != "" && r.Subject != f.Subject:
		return false
	case !f.Since.IsZero() && r.Timestamp.Before(f.Since):
		return false
	case !f.Until.IsZero() && r.Timestamp.After(f.Until):
		return false
	}
	return true
}

// Log is the append/read contract every backend satisfies.
type Log interface {
	Append(ctx context.Context, kind Kind, subject string, payload any) (Record, error)
	Read(ctx context.Context, f Filter) ([]Record, error)
	// Head returns the hash of the last record, or Genesis.
	Head(ctx context.Context) (string, error)
	Close() error
}

// newRecord builds the next link after prev.
func newRecord(seq uint64, prev string, at time.Time, kind Kind, subject string, payload any) (Record, error) {
	raw, err := canonicalize.JCS(payload)
	if err != nil {
		return Record{}, fmt.Errorf("audit: canonicalize payload: %w", err)
	}
	r := Record{
		Sequence:    seq,
		Timestamp:   at.UTC().Truncate(time.Microsecond),
		Kind:        kind,
		Subject:     subject,
		Payload:     raw,
		PayloadHash: "sha256:" + canonicalize.HashBytes(raw),
		PrevHash:    prev,
	}
	if r.RecordHash, err = recordHash(r); err != nil {
		return Record{}, err
	}
	r.RecordID = fmt.Sprintf("AUD-%06d-%s", seq, r.RecordHash[len("sha256:"):len("sha256:")+12])
	return r, nil
}

func recordHash(r Record) (string, error) {
	h, err := canonicalize.CanonicalHash(map[string]any{
		"sequence":     r.Sequence,
		"timestamp":    r.Timestamp.UTC().Format(time.RFC3339Nano),
		"kind":         r.Kind,
		"subject":      r.Subject,
		"payload_hash": r.PayloadHash,
		"prev_hash":    r.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("audit: hash record %d: %w", r.Sequence, err)
	}
	return "sha256:" + h, nil
}

// VerifyChain checks that records form one unbroken chain from Genesis:
// contiguous sequences, matching links and recomputable hashes.
func VerifyChain(records []Record) error {
	prev := Genesis
	for i, r := range records {
		if r.Sequence != uint64(i+1) {
			return fmt.Errorf("%w: record %d has sequence %d", ErrChainBroken, i, r.Sequence)
		}
		if r.PrevHash != prev {
			return fmt.Errorf("%w: record %d has prev_hash %s, want %s", ErrChainBroken, r.Sequence, r.PrevHash, prev)
		}
		if want := "sha256:" + canonicalize.HashBytes(r.Payload); r.PayloadHash != want {
			return fmt.Errorf("%w: record %d payload hash mismatch", ErrChainBroken, r.Sequence)
		}
		h, err := recordHash(r)
		if err != nil {
			return err
		}
		if h != r.RecordHash {
			return fmt.Errorf("%w: record %d hash mismatch (computed %s, stored %s)", ErrChainBroken, r.Sequence, h, r.RecordHash)
		}
		prev = r.RecordHash
	}
	return nil
}

func filterRecords(all []Record, f Filter) []Record {
	out := []Record{}
	for _, r := range all {
		if !f.matches(r) {
			continue
		}
		out = append(out, r)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}
