// Package engine runs the ingest and build cycle: it decides when a rebuild
// is due, loads feed sources, stages and aggregates items, and records every
// attempt in the build log.
package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/taxrules/internal/rules"
	"github.com/sells-group/taxrules/internal/store"
)

// Build log metadata keys.
const (
	metaFingerprints = "fingerprints"
	metaSources      = "sources"
	metaStats        = "stage_stats"
	metaDuplicates   = "duplicates"
	metaCollisions   = "collisions"
)

// ErrNoItems is returned when staging leaves nothing to aggregate.
var ErrNoItems = eris.New("engine: no items passed staging")

// Loader reads RevProcItems from a feed source.
type Loader interface {
	Load(ctx context.Context, source string) ([]rules.RevProcItem, error)
	Fingerprint(ctx context.Context, source string) (string, error)
}

// Options configures an Engine.
type Options struct {
	Sources       []string   // default feed sources for sync
	MinConfidence float64    // passed to rules.Stage
	ReleaseMonth  time.Month // annual rebuild opens on the 1st of this month
	Concurrency   int        // parallel source loads; default 4
}

// RunOpts configures a single run.
type RunOpts struct {
	Force     bool     // ignore the schedule and feed fingerprints
	Sources   []string // override Options.Sources
	FromStore bool     // skip ingest and rebuild from the stored items
}

// Result describes one run.
type Result struct {
	BuildID    string            `json:"build_id,omitempty"`
	Skipped    bool              `json:"skipped"`
	Reason     string            `json:"reason,omitempty"`
	ItemsRead  int               `json:"items_read"`
	Stats      rules.StageStats  `json:"stage_stats"`
	Packages   int               `json:"packages"`
	Duplicates []rules.Duplicate `json:"duplicates,omitempty"`
	Collisions []rules.Collision `json:"collisions,omitempty"`
}

// Engine orchestrates ingest and build runs.
type Engine struct {
	store  store.Store
	loader Loader
	opts   Options
	now    func() time.Time
}

// New creates an engine.
func New(st store.Store, loader Loader, opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.ReleaseMonth == 0 {
		opts.ReleaseMonth = time.October
	}
	return &Engine{store: st, loader: loader, opts: opts, now: time.Now}
}

// Ingest loads every source and replaces the stored raw items with their
// union, in source order.
func (e *Engine) Ingest(ctx context.Context, sources []string) (int64, error) {
	if len(sources) == 0 {
		return 0, eris.New("engine: no sources to ingest")
	}

	items, err := e.load(ctx, sources)
	if err != nil {
		return 0, err
	}

	n, err := e.store.ReplaceItems(ctx, items)
	if err != nil {
		return 0, eris.Wrap(err, "engine: store items")
	}
	return n, nil
}

func (e *Engine) load(ctx context.Context, sources []string) ([]rules.RevProcItem, error) {
	log := zap.L().With(zap.String("component", "engine"))

	batches := make([][]rules.RevProcItem, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, src := range sources {
		g.Go(func() error {
			items, err := e.loader.Load(gctx, src)
			if err != nil {
				return eris.Wrapf(err, "engine: load %s", src)
			}
			batches[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []rules.RevProcItem
	for i, b := range batches {
		log.Debug("source loaded", zap.String("source", sources[i]), zap.Int("items", len(b)))
		all = append(all, b...)
	}
	return all, nil
}

// Run performs one scheduled cycle. Unless forced, it skips when the annual
// release window has already been built and no source fingerprint changed.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (*Result, error) {
	log := zap.L().With(zap.String("component", "engine"))
	now := e.now().UTC()

	sources := opts.Sources
	if len(sources) == 0 && !opts.FromStore {
		sources = e.opts.Sources
	}
	if len(sources) == 0 && !opts.FromStore {
		return nil, eris.New("engine: no feed sources configured")
	}

	fingerprints := e.fingerprints(ctx, sources)

	last, err := e.store.LastSuccess(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "engine: check last build")
	}
	var lastStarted *time.Time
	var lastMeta map[string]any
	if last != nil {
		lastStarted = &last.StartedAt
		lastMeta = last.Metadata
	}

	if !opts.Force {
		switch {
		case AnnualAfter(now, lastStarted, e.opts.ReleaseMonth):
			log.Info("rebuild due", zap.String("reason", "annual release"))
		case fingerprintsChanged(lastMeta, fingerprints):
			log.Info("rebuild due", zap.String("reason", "feed changed"))
		default:
			log.Info("skipping build (not due)")
			return &Result{Skipped: true, Reason: "not due"}, nil
		}
	}

	buildID, err := e.store.StartBuild(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "engine: start build log")
	}

	start := time.Now()
	res, err := e.build(ctx, now, sources, opts.FromStore)
	if err != nil {
		log.Error("build failed", zap.String("build_id", buildID), zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		if logErr := e.store.FailBuild(ctx, buildID, err.Error()); logErr != nil {
			log.Error("failed to record build failure", zap.Error(logErr))
		}
		return nil, err
	}
	res.BuildID = buildID

	meta := map[string]any{
		metaStats:      res.Stats,
		metaDuplicates: len(res.Duplicates),
		metaCollisions: len(res.Collisions),
	}
	if len(sources) > 0 {
		meta[metaSources] = sources
		meta[metaFingerprints] = fingerprints
	} else {
		// A rebuild from stored items reads no feed; keep the last known feed
		// state so the next sync does not see every source as changed.
		for _, k := range []string{metaSources, metaFingerprints} {
			if v, ok := lastMeta[k]; ok {
				meta[k] = v
			}
		}
	}
	if err := e.store.CompleteBuild(ctx, buildID, &store.BuildSummary{
		ItemsRead:     res.ItemsRead,
		ItemsStaged:   res.Stats.Staged,
		PackagesBuilt: res.Packages,
		Metadata:      meta,
	}); err != nil {
		log.Error("failed to record build completion", zap.Error(err))
	}

	log.Info("build complete",
		zap.String("build_id", buildID),
		zap.Int("items_read", res.ItemsRead),
		zap.Int("items_staged", res.Stats.Staged),
		zap.Int("packages", res.Packages),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (e *Engine) build(ctx context.Context, now time.Time, sources []string, fromStore bool) (*Result, error) {
	log := zap.L().With(zap.String("component", "engine"))

	if !fromStore {
		if _, err := e.Ingest(ctx, sources); err != nil {
			return nil, err
		}
	}

	items, err := e.store.Items(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "engine: read items")
	}

	staged, stats := rules.Stage(items, rules.StageOptions{MinConfidence: e.opts.MinConfidence})
	log.Info("items staged",
		zap.Int("read", stats.Read),
		zap.Int("staged", stats.Staged),
		zap.Int("missing_fields", stats.MissingFields),
		zap.Int("no_jurisdiction", stats.NoJurisdiction),
		zap.Int("low_confidence", stats.LowConfidence),
		zap.Int("unknown_filing_status", stats.UnknownFilings),
	)
	if stats.Staged == 0 {
		return nil, ErrNoItems
	}

	built := rules.Build(staged, now)
	for _, d := range built.Duplicates {
		log.Warn("duplicate standard deduction, using max",
			zap.String("jurisdiction", d.Key.JurisdictionCode),
			zap.Int("tax_year", d.Key.TaxYear),
			zap.String("filing_status", string(d.FilingStatus)),
			zap.Float64s("values", d.Values),
		)
	}

	for _, c := range built.Collisions {
		log.Warn("package id collision, keeping one group",
			zap.String("package_id", c.PackageID),
			zap.String("kept_level", string(c.Kept.JurisdictionLevel)),
			zap.Int("dropped_groups", len(c.Dropped)),
		)
	}

	if err := e.store.ReplacePackages(ctx, built.Packages); err != nil {
		return nil, eris.Wrap(err, "engine: store packages")
	}

	return &Result{
		ItemsRead:  len(items),
		Stats:      stats,
		Packages:   len(built.Packages),
		Duplicates: built.Duplicates,
		Collisions: built.Collisions,
	}, nil
}

// fingerprints collects a fingerprint per source. Lookup failures are logged
// and recorded as unknown.
func (e *Engine) fingerprints(ctx context.Context, sources []string) map[string]string {
	log := zap.L().With(zap.String("component", "engine"))
	fps := make(map[string]string, len(sources))
	for _, src := range sources {
		fp, err := e.loader.Fingerprint(ctx, src)
		if err != nil {
			log.Warn("fingerprint unavailable", zap.String("source", src), zap.Error(err))
		}
		fps[src] = fp
	}
	return fps
}
