package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/trustchain/pkg/canonicalize"
)

// Ref identifies a published artifact.
type Ref struct {
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	Hash        string    `json:"hash"`
	Size        int       `json:"size"`
	PublishedAt time.Time `json:"published_at"`
}

// Publisher writes reports to a Store at a bounded rate.
type Publisher struct {
	store   Store
	limiter *rate.Limiter
	clock   func() time.Time
	logger  *slog.Logger
}

// NewPublisher wraps store. ratePerSecond <= 0 disables throttling.
func NewPublisher(store Store, ratePerSecond float64, burst int) *Publisher {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Publisher{
		store:   store,
		limiter: rate.NewLimiter(limit, burst),
		clock:   time.Now,
		logger:  slog.Default().With("component", "artifacts"),
	}
}

// WithClock overrides the clock for testing.
func (p *Publisher) WithClock(clock func() time.Time) *Publisher {
	p.clock = clock
	return p
}

// Publish stores data and returns its reference.
func (p *Publisher) Publish(ctx context.Context, kind, name string, data []byte) (Ref, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Ref{}, fmt.Errorf("artifacts: throttle: %w", err)
	}
	hash, err := p.store.Store(ctx, data)
	if err != nil {
		return Ref{}, err
	}
	ref := Ref{Name: name, Kind: kind, Hash: hash, Size: len(data), PublishedAt: p.clock().UTC()}
	p.logger.InfoContext(ctx, "artifact published", "kind", kind, "name", name, "hash", hash, "size", ref.Size)
	return ref, nil
}

// PublishJSON publishes the canonical JSON of v, so equal reports share a hash.
func (p *Publisher) PublishJSON(ctx context.Context, kind, name string, v any) (Ref, error) {
	data, err := canonicalize.JCS(v)
	if err != nil {
		return Ref{}, fmt.Errorf("artifacts: canonicalize %s: %w", name, err)
	}
	return p.Publish(ctx, kind, name, data)
}

// Fetch retrieves a published artifact and checks its content hash.
func (p *Publisher) Fetch(ctx context.Context, ref Ref) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("artifacts: throttle: %w", err)
	}
	data, err := p.store.Get(ctx, ref.Hash)
	if err != nil {
		return nil, err
	}
	if got, _ := contentHash(data); got != ref.Hash {
		return nil, fmt.Errorf("artifacts: %s content hash %s does not match %s", ref.Name, got, ref.Hash)
	}
	return data, nil
}
