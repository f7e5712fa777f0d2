// Package enrich runs the credit-metered search and enrichment pipeline:
// reserve a credit, search places, enrich each place concurrently under a
// deadline, then order and number the rows.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/leadfinder/internal/apikey"
	"github.com/JakeFAU/leadfinder/internal/ledger"
	"github.com/JakeFAU/leadfinder/internal/linkclass"
	"github.com/JakeFAU/leadfinder/internal/logging"
	"github.com/JakeFAU/leadfinder/internal/metrics"
	"github.com/JakeFAU/leadfinder/internal/scraper"
	"github.com/JakeFAU/leadfinder/pkg/places"
)

// Ledger is the slice of ledger.Store the pipeline needs.
type Ledger interface {
	Reserve(ctx context.Context, keyHash string) (ledger.Reservation, error)
	Fund(ctx context.Context, keyHash string, pool ledger.Pool, amount int) (ledger.Balance, error)
}

// ContactScraper extracts contacts from a homepage. It never fails.
type ContactScraper interface {
	Scrape(ctx context.Context, rawURL string) scraper.Contacts
}

// LinkClassifier sorts a website URL into social or homepage.
type LinkClassifier interface {
	Classify(raw string) linkclass.Result
}

// IDGenerator issues run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Config tunes the enrichment phase.
type Config struct {
	Workers             int
	ChunkSize           int
	Deadline            time.Duration
	SearchTimeout       time.Duration
	MaxScrapes          int
	CountryCode         string
	RefundOnSearchError bool
}

// DefaultConfig returns the standard pipeline limits.
func DefaultConfig() Config {
	return Config{
		Workers:       6,
		ChunkSize:     12,
		Deadline:      25 * time.Second,
		SearchTimeout: 20 * time.Second,
		MaxScrapes:    12,
		CountryCode:   "81",
	}
}

// TransitionHook observes state changes of a run.
type TransitionHook func(runID string, from, to State)

// Orchestrator wires the pipeline collaborators together. It holds no
// per-run state and is safe for concurrent use.
type Orchestrator struct {
	cfg        Config
	ledger     Ledger
	places     places.Client
	classifier LinkClassifier
	scraper    ContactScraper
	hasher     apikey.Hasher
	ids        IDGenerator
	logger     *zap.Logger
	onChange   TransitionHook
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithTransitionHook registers a state change observer.
func WithTransitionHook(h TransitionHook) Option {
	return func(o *Orchestrator) {
		o.onChange = h
	}
}

// New builds an Orchestrator. Zero-valued limits fall back to DefaultConfig.
func New(
	cfg Config,
	store Ledger,
	client places.Client,
	classifier LinkClassifier,
	contacts ContactScraper,
	hasher apikey.Hasher,
	ids IDGenerator,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = def.Deadline
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = def.SearchTimeout
	}
	if cfg.MaxScrapes < 0 {
		cfg.MaxScrapes = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:        cfg,
		ledger:     store,
		places:     client,
		classifier: classifier,
		scraper:    contacts,
		hasher:     hasher,
		ids:        ids,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one request end to end.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Response, error) {
	r := o.newRun()

	keyword := strings.TrimSpace(req.Keyword)
	location := strings.TrimSpace(req.Location)
	key := apikey.Normalize(req.APIKey)
	if keyword == "" || location == "" || key == "" {
		err := fmt.Errorf("%w: keyword, location and apiKey are required", ErrInvalidRequest)
		r.fail(err, "invalid")
		return Response{}, err
	}

	r.transition(StateReserving)
	keyHash, err := o.hasher.Hash([]byte(key))
	if err != nil {
		err = fmt.Errorf("hash api key: %w", err)
		r.fail(err, "internal")
		return Response{}, err
	}
	r.logger = r.logger.With(logging.KeyID(keyHash))

	res, err := o.ledger.Reserve(ctx, keyHash)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredit) {
			metrics.ObserveReservation("insufficient")
			r.fail(err, "insufficient_credit")
			return Response{}, err
		}
		metrics.ObserveReservation("error")
		err = fmt.Errorf("reserve credit: %w", err)
		r.fail(err, "internal")
		return Response{}, err
	}
	metrics.ObserveReservation(string(res.Pool))
	r.logger.Info("credit reserved",
		zap.String("pool", string(res.Pool)),
		zap.Int("per_run", res.PerRunLimit),
		zap.Int("remaining", res.Remaining.Total()),
	)

	r.transition(StateSearching)
	summaries, err := o.search(ctx, keyword+" "+location, key, res.PerRunLimit)
	if err != nil {
		o.maybeRefund(ctx, r, keyHash, res.Pool)
		outcome := "upstream_error"
		if isTimeout(err) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
			outcome = "timeout"
		}
		r.fail(err, outcome)
		return Response{}, err
	}

	r.transition(StateEnriching)
	started := time.Now()
	rows := o.enrichAll(ctx, r, summaries, key)
	metrics.ObserveEnrichDuration(time.Since(started))

	r.transition(StateFinalizing)
	results := finalize(rows, keyword, location)

	r.transition(StateCompleted)
	metrics.ObserveRun("completed")
	r.logger.Info("run completed",
		zap.Int("found", len(summaries)),
		zap.Int("count", len(results)),
		zap.Duration("elapsed", time.Since(r.started)),
	)
	return Response{
		RunID:     r.id,
		Mode:      res.Pool,
		PerRun:    res.PerRunLimit,
		Remaining: RemainingFrom(res.Remaining),
		Count:     len(results),
		Results:   results,
	}, nil
}

func (o *Orchestrator) search(ctx context.Context, query, key string, limit int) ([]places.Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.SearchTimeout)
	defer cancel()
	out := make([]places.Summary, 0, limit)
	for s, err := range o.places.Search(ctx, query, key, limit) {
		if err != nil {
			var upstream *places.UpstreamError
			if errors.As(err, &upstream) {
				metrics.ObserveUpstreamError(upstream.Endpoint, string(upstream.Kind))
			}
			return nil, fmt.Errorf("search places: %w", err)
		}
		out = append(out, s)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// maybeRefund returns the reserved credit when the search itself failed and
// refunds are enabled. The ledger stays unchanged otherwise.
func (o *Orchestrator) maybeRefund(ctx context.Context, r *run, keyHash string, pool ledger.Pool) {
	if !o.cfg.RefundOnSearchError {
		return
	}
	if _, err := o.ledger.Fund(context.WithoutCancel(ctx), keyHash, pool, 1); err != nil {
		r.logger.Error("refund failed", zap.String("pool", string(pool)), zap.Error(err))
		return
	}
	r.logger.Info("credit refunded after search failure", zap.String("pool", string(pool)))
}

// outcome is the tagged result of enriching one place.
type outcome struct {
	row     placeRow
	skipped string
}

// enrichAll processes summaries in sequential chunks, each fanned out to at
// most cfg.Workers goroutines, until done or the deadline passes. Rows that
// finish after the deadline are discarded.
func (o *Orchestrator) enrichAll(ctx context.Context, r *run, summaries []places.Summary, key string) []placeRow {
	enrichCtx, cancel := context.WithTimeout(ctx, o.cfg.Deadline)
	defer cancel()

	budget := &scrapeBudget{max: int64(o.cfg.MaxScrapes)}
	rows := make([]placeRow, 0, len(summaries))
	for start := 0; start < len(summaries); start += o.cfg.ChunkSize {
		end := min(start+o.cfg.ChunkSize, len(summaries))
		outcomes, complete := o.runChunk(enrichCtx, r, summaries[start:end], start, key, budget)
		for _, out := range outcomes {
			if out.skipped != "" {
				continue
			}
			rows = append(rows, out.row)
		}
		if !complete {
			r.logger.Warn("enrichment deadline reached",
				zap.Int("resolved", len(rows)),
				zap.Int("total", len(summaries)),
			)
			break
		}
	}
	return rows
}

func (o *Orchestrator) runChunk(
	ctx context.Context,
	r *run,
	chunk []places.Summary,
	offset int,
	key string,
	budget *scrapeBudget,
) ([]outcome, bool) {
	var (
		mu       sync.Mutex
		settled  = make([]bool, len(chunk))
		outcomes = make([]outcome, len(chunk))
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		g.SetLimit(o.cfg.Workers)
		for i, summary := range chunk {
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				out := o.enrichPlace(ctx, r, offset+i, summary, key, budget)
				mu.Lock()
				defer mu.Unlock()
				if ctx.Err() == nil {
					outcomes[i] = out
					settled[i] = true
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	complete := ctx.Err() == nil
	collected := make([]outcome, 0, len(chunk))
	for i, ok := range settled {
		if ok {
			collected = append(collected, outcomes[i])
		}
	}
	return collected, complete
}

func (o *Orchestrator) enrichPlace(
	ctx context.Context,
	r *run,
	position int,
	summary places.Summary,
	key string,
	budget *scrapeBudget,
) outcome {
	detail, err := o.places.Details(ctx, summary.PlaceID, key)
	if err != nil {
		var upstream *places.UpstreamError
		if errors.As(err, &upstream) {
			metrics.ObserveUpstreamError(upstream.Endpoint, string(upstream.Kind))
		}
		r.logger.Warn("place skipped", zap.String("place_id", summary.PlaceID), zap.Error(err))
		return outcome{skipped: err.Error()}
	}

	row := Row{
		StoreName: firstNonEmpty(detail.Name, summary.Name, "unknown name"),
		Address:   SanitizeAddress(firstNonEmpty(detail.FormattedAddress, summary.FormattedAddress, "")),
		Phone:     NormalizePhone(detail.Phone, detail.InternationalPhoneNumber, o.cfg.CountryCode),
		Rating:    detail.Rating,
	}
	if row.Rating == nil {
		row.Rating = summary.Rating
	}
	if row.Address == "" {
		row.Address = UnknownAddress
	}

	website := ""
	if detail.Website != nil {
		website = strings.TrimSpace(*detail.Website)
	}
	if website == "" {
		return outcome{row: placeRow{position: position, row: row}}
	}

	class := o.classifier.Classify(website)
	if class.IsSocial {
		social := class.CanonicalURL
		row.Social = &social
		return outcome{row: placeRow{position: position, row: row}}
	}

	row.Homepage = &website
	if !budget.take() {
		r.logger.Debug("scrape cap reached", zap.String("place_id", summary.PlaceID))
		return outcome{row: placeRow{position: position, row: row}}
	}
	contacts := o.scraper.Scrape(ctx, website)
	row.Email = contacts.Email
	row.Social = contacts.Social
	return outcome{row: placeRow{position: position, row: row}}
}

func firstNonEmpty(a, b *string, fallback string) string {
	for _, s := range []*string{a, b} {
		if s != nil && strings.TrimSpace(*s) != "" {
			return strings.TrimSpace(*s)
		}
	}
	return fallback
}

// scrapeBudget caps homepage fetches for one run.
type scrapeBudget struct {
	max  int64
	used atomic.Int64
}

func (b *scrapeBudget) take() bool {
	return b.used.Add(1) <= b.max
}
