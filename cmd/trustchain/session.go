package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Mindburn-Labs/trustchain/pkg/artifacts"
	"github.com/Mindburn-Labs/trustchain/pkg/audit"
	"github.com/Mindburn-Labs/trustchain/pkg/certification"
	"github.com/Mindburn-Labs/trustchain/pkg/config"
	"github.com/Mindburn-Labs/trustchain/pkg/escalation"
	"github.com/Mindburn-Labs/trustchain/pkg/fault"
	"github.com/Mindburn-Labs/trustchain/pkg/observability"
	"github.com/Mindburn-Labs/trustchain/pkg/replay"
)

// commonFlags are accepted by every command.
type commonFlags struct {
	configPath string
	profile    string
	jsonOut    bool
	at         string
}

func bindCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", os.Getenv("TRUSTCHAIN_CONFIG"), "Config file (YAML)")
	fs.StringVar(&c.profile, "profile", os.Getenv("TRUSTCHAIN_PROFILE"), "Config profile overlay (profile_<name>.yaml)")
	fs.BoolVar(&c.jsonOut, "json", false, "Write JSON to stdout")
	fs.StringVar(&c.at, "at", "", "Generation time, RFC3339 (default: now)")
	return c
}

// session holds what a command needs once flags are parsed.
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	tracker *observability.Provider
	audit   audit.Log
	now     time.Time
	jsonOut bool
	stdout  io.Writer

	// escalations holds the events raised during this invocation.
	escalations *escalation.Ledger
}

func openSession(ctx context.Context, c *commonFlags, stdout, stderr io.Writer) (*session, error) {
	cfg, err := config.Load(c.configPath, c.profile)
	if err != nil {
		return nil, err
	}
	logger := cfg.Log.NewLogger(stderr)
	slog.SetDefault(logger)

	now := time.Now().UTC()
	if c.at != "" {
		if now, err = time.Parse(time.RFC3339, c.at); err != nil {
			return nil, fault.New(fault.KindUsage, "BAD_TIME", "--at: %v", err)
		}
	}

	tracker, err := observability.New(ctx, &cfg.Telemetry)
	if err != nil {
		return nil, fault.IO(err, "TELEMETRY_INIT")
	}
	s := &session{cfg: cfg, logger: logger, tracker: tracker, now: now, jsonOut: c.jsonOut, stdout: stdout}
	s.escalations = escalation.NewLedger(0).WithClock(func() time.Time { return s.now })
	if cfg.Audit.Backend != "" {
		if s.audit, err = audit.Open(ctx, cfg.Audit.Backend, cfg.Audit.Target); err != nil {
			_ = tracker.Shutdown(ctx)
			return nil, auditOpenError(err)
		}
	}
	return s, nil
}

func auditOpenError(err error) error {
	if errors.Is(err, audit.ErrChainBroken) {
		return fault.Wrap(err, fault.KindInvariant, "AUDIT_CHAIN_BROKEN")
	}
	return fault.IO(err, "AUDIT_OPEN")
}

func (s *session) close(ctx context.Context) {
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			s.logger.Warn("audit close", "error", err)
		}
	}
	_ = s.tracker.Shutdown(ctx)
}

// record appends payload to the audit log when one is configured.
func (s *session) record(ctx context.Context, kind audit.Kind, subject string, payload any) error {
	if s.audit == nil {
		return nil
	}
	r, err := s.audit.Append(ctx, kind, subject, payload)
	if err != nil {
		return fault.IO(err, "AUDIT_APPEND")
	}
	s.logger.Info("audit record appended", "record_id", r.RecordID, "kind", kind)
	return nil
}

// prevHash is the audit head, linking a report to the log it is appended to.
func (s *session) prevHash(ctx context.Context) (*string, error) {
	if s.audit == nil {
		return nil, nil
	}
	h, err := s.audit.Head(ctx)
	if err != nil {
		return nil, fault.IO(err, "AUDIT_HEAD")
	}
	return &h, nil
}

func (s *session) replayCache() replay.HashCache {
	rc := s.cfg.Replay
	switch rc.Cache {
	case "memory":
		return replay.NewMemoryCache(rc.TTL)
	case "redis":
		return replay.NewRedisCache(rc.RedisAddr, rc.RedisPassword, rc.RedisDB, rc.TTL)
	default:
		return nil
	}
}

func (s *session) certifier() (*certification.Certifier, error) {
	if s.cfg.Certification.Secret == "" {
		return nil, nil
	}
	c, err := certification.NewCertifier([]byte(s.cfg.Certification.Secret), s.cfg.Certification.TTL)
	if err != nil {
		return nil, fault.Wrap(err, fault.KindUsage, "CERT_SECRET_INVALID")
	}
	return c.WithClock(func() time.Time { return s.now }), nil
}

func (s *session) publisher(ctx context.Context) (*artifacts.Publisher, error) {
	store, err := artifacts.NewStore(ctx, s.cfg.Artifacts)
	if err != nil {
		return nil, fault.IO(err, "ARTIFACT_STORE")
	}
	p := artifacts.NewPublisher(store, s.cfg.Artifacts.RatePerSecond, s.cfg.Artifacts.Burst)
	return p.WithClock(func() time.Time { return s.now }), nil
}

// emit writes v as JSON under --json, otherwise calls human.
func (s *session) emit(v any, human func(w io.Writer)) error {
	if !s.jsonOut {
		human(s.stdout)
		return nil
	}
	enc := json.NewEncoder(s.stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fault.IO(err, "OUTPUT_WRITE")
	}
	return nil
}

// execute runs fn with a session and maps its outcome to an exit code.
// Invariant breaches surface as exit 5.
func execute(c *commonFlags, stdout, stderr io.Writer, fn func(ctx context.Context, s *session) (int, error)) (code int) {
	ctx := context.Background()
	var err error
	func() {
		defer fault.Recover(&err)
		var s *session
		if s, err = openSession(ctx, c, stdout, stderr); err != nil {
			return
		}
		defer s.close(ctx)
		code, err = fn(ctx, s)
	}()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return fault.ExitCode(err)
	}
	return code
}

// parseFlags parses args, mapping any flag error to exit 2.
func parseFlags(fs *flag.FlagSet, args []string) (ok bool, code int) {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return false, 0
		}
		return false, 2
	}
	return true, 0
}

func usageError(format string, args ...any) error {
	return fault.New(fault.KindUsage, "USAGE", format, args...)
}

// readJSON decodes a JSON file, rejecting unknown fields.
func readJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fault.IO(fmt.Errorf("open %s: %w", path, err), "INPUT_READ")
	}
	defer func() { _ = f.Close() }()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fault.Structural(fmt.Errorf("decode %s: %w", path, err), "INPUT_DECODE")
	}
	return nil
}

// writeJSONFile writes v indented to path when path is set.
func writeJSONFile(path string, v any) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fault.Structural(err, "OUTPUT_ENCODE")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fault.IO(fmt.Errorf("write %s: %w", path, err), "OUTPUT_WRITE")
	}
	return nil
}
