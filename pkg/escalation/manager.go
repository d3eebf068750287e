package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/trustchain/pkg/canonicalize"
)

// Status is the lifecycle state of an escalation event.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusDecided Status = "DECIDED"
	// StatusStale marks an event whose review window passed without a
	// decision. It is still open; only a human can close it.
	StatusStale Status = "STALE"
)

// DefaultReviewWindow is how long an event stays PENDING before it is
// marked STALE.
const DefaultReviewWindow = 72 * time.Hour

var (
	ErrEventNotFound   = errors.New("escalation: event not found")
	ErrAlreadyDecided  = errors.New("escalation: event already decided")
	ErrBelowEscalation = errors.New("escalation: level does not escalate")
	ErrMissingDecider  = errors.New("escalation: decision requires a named human")
)

// Request is what a detector pipeline hands to the ledger.
type Request struct {
	Source    string  `json:"source"`
	SubjectID string  `json:"subject_id"`
	Score     float64 `json:"score"`
	Summary   string  `json:"summary"`
}

// Event is one escalation addressed to a human.
type Event struct {
	ID             string         `json:"event_id"`
	Source         string         `json:"source"`
	SubjectID      string         `json:"subject_id"`
	Score          float64        `json:"score"`
	Classification Level          `json:"classification"`
	Target         Target         `json:"escalation_target"`
	Recommendation Recommendation `json:"recommendation"`
	Summary        string         `json:"summary"`
	CreatedAt      time.Time      `json:"created_at"`
	ReviewBy       time.Time      `json:"review_by"`
	Status         Status         `json:"status"`
	Decision       *Decision      `json:"decision,omitempty"`
}

// Decision records what the human decided. The ledger stores it; it never
// acts on it.
type Decision struct {
	DecidedBy   string    `json:"decided_by"`
	Outcome     string    `json:"outcome"`
	Note        string    `json:"note,omitempty"`
	DecidedAt   time.Time `json:"decided_at"`
	DurationMs  int64     `json:"duration_ms"`
	ContentHash string    `json:"content_hash"`
}

// Ledger tracks escalation events until a human decides them.
type Ledger struct {
	mu     sync.Mutex
	events map[string]*Event
	window time.Duration
	clock  func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewLedger creates an empty ledger with the given review window
// (DefaultReviewWindow when zero).
func NewLedger(window time.Duration) *Ledger {
	if window <= 0 {
		window = DefaultReviewWindow
	}
	return &Ledger{
		events: make(map[string]*Event),
		window: window,
		clock:  time.Now,
		newID:  uuid.NewString,
		logger: slog.Default().With("component", "escalation"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// WithIDGenerator overrides event id generation.
func (l *Ledger) WithIDGenerator(gen func() string) *Ledger {
	l.newID = gen
	return l
}

// Raise records a PENDING event for a score that classifies as WARNING or
// CRITICAL. Lower scores return ErrBelowEscalation.
func (l *Ledger) Raise(ctx context.Context, req Request) (Event, error) {
	_ = ctx
	lvl := Classify(req.Score)
	target := TargetFor(lvl)
	if target == TargetNone {
		return Event{}, fmt.Errorf("%w: score %v is %s", ErrBelowEscalation, req.Score, lvl)
	}

	now := l.clock()
	ev := &Event{
		ID:             l.newID(),
		Source:         req.Source,
		SubjectID:      req.SubjectID,
		Score:          req.Score,
		Classification: lvl,
		Target:         target,
		Recommendation: RecommendationFor(lvl),
		Summary:        req.Summary,
		CreatedAt:      now,
		ReviewBy:       now.Add(l.window),
		Status:         StatusPending,
	}

	l.mu.Lock()
	l.events[ev.ID] = ev
	l.mu.Unlock()

	l.logger.Info("escalation raised", "event_id", ev.ID, "source", ev.Source, "subject", ev.SubjectID, "level", lvl.String())
	return *ev, nil
}

// Decide records a human decision on a PENDING or STALE event.
func (l *Ledger) Decide(ctx context.Context, eventID, decidedBy, outcome, note string) (Event, error) {
	_ = ctx
	if decidedBy == "" {
		return Event{}, ErrMissingDecider
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ev, ok := l.events[eventID]
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrEventNotFound, eventID)
	}
	if ev.Status == StatusDecided {
		return Event{}, fmt.Errorf("%w: %q by %s", ErrAlreadyDecided, eventID, ev.Decision.DecidedBy)
	}

	now := l.clock()
	hash, err := canonicalize.CanonicalHash(struct {
		EventID   string `json:"event_id"`
		DecidedBy string `json:"decided_by"`
		Outcome   string `json:"outcome"`
		Note      string `json:"note"`
	}{eventID, decidedBy, outcome, note})
	if err != nil {
		return Event{}, fmt.Errorf("escalation: hash decision: %w", err)
	}

	ev.Status = StatusDecided
	ev.Decision = &Decision{
		DecidedBy:   decidedBy,
		Outcome:     outcome,
		Note:        note,
		DecidedAt:   now,
		DurationMs:  now.Sub(ev.CreatedAt).Milliseconds(),
		ContentHash: "sha256:" + hash,
	}
	l.logger.Info("escalation decided", "event_id", eventID, "decided_by", decidedBy, "outcome", outcome)
	return copyEvent(ev), nil
}

// Sweep marks PENDING events past their review window as STALE and returns
// them. Stale events stay open.
func (l *Ledger) Sweep(ctx context.Context) []Event {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	var stale []Event
	for _, ev := range l.events {
		if ev.Status == StatusPending && now.After(ev.ReviewBy) {
			ev.Status = StatusStale
			stale = append(stale, copyEvent(ev))
		}
	}
	sortEvents(stale)
	if len(stale) > 0 {
		l.logger.Warn("escalations past review window", "count", len(stale))
	}
	return stale
}

// Get returns a copy of one event.
func (l *Ledger) Get(eventID string) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev, ok := l.events[eventID]
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrEventNotFound, eventID)
	}
	return copyEvent(ev), nil
}

// Open returns the undecided events, oldest first.
func (l *Ledger) Open() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Event
	for _, ev := range l.events {
		if ev.Status != StatusDecided {
			out = append(out, copyEvent(ev))
		}
	}
	sortEvents(out)
	return out
}

// OpenCount returns the number of undecided events.
func (l *Ledger) OpenCount() int { return len(l.Open()) }

func copyEvent(ev *Event) Event {
	out := *ev
	if ev.Decision != nil {
		d := *ev.Decision
		out.Decision = &d
	}
	return out
}

func sortEvents(evs []Event) {
	sort.Slice(evs, func(i, j int) bool {
		if !evs[i].CreatedAt.Equal(evs[j].CreatedAt) {
			return evs[i].CreatedAt.Before(evs[j].CreatedAt)
		}
		return evs[i].ID < evs[j].ID
	})
}
