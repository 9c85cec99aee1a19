package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiserep-spider/internal/metrics"
	"github.com/JakeFAU/wiserep-spider/internal/wiserep"
)

// Collaborators bundles the engine's dependencies. Recorder, Runs, Publisher
// and Hasher are optional.
type Collaborators struct {
	Web       WebClient
	Mirror    Mirror
	Registry  Registry
	Journal   Journal
	Recorder  OutcomeRecorder
	Runs      RunRecorder
	Publisher Publisher
	Hasher    Hasher
	Clock     Clock
	IDs       IDGenerator
}

// Engine processes events strictly one at a time; the web client's session
// is not safe for concurrent searches.
type Engine struct {
	cfg        Config
	web        WebClient
	mirror     Mirror
	registry   Registry
	journal    Journal
	recorder   OutcomeRecorder
	runs       RunRecorder
	publisher  Publisher
	hasher     Hasher
	clock      Clock
	ids        IDGenerator
	logger     *zap.Logger
	types      TypeFilter
	classifier *wiserep.Classifier

	runID string
	hosts HostIndex
	stats statsTracker
}

// NewEngine wires an Engine.
func NewEngine(cfg Config, deps Collaborators, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Web == nil:
		return nil, fmt.Errorf("web client is required")
	case deps.Mirror == nil:
		return nil, fmt.Errorf("mirror is required")
	case deps.Registry == nil:
		return nil, fmt.Errorf("registry is required")
	case deps.Journal == nil:
		return nil, fmt.Errorf("journal is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:        cfg,
		web:        deps.Web,
		mirror:     deps.Mirror,
		registry:   deps.Registry,
		journal:    deps.Journal,
		recorder:   deps.Recorder,
		runs:       deps.Runs,
		publisher:  deps.Publisher,
		hasher:     deps.Hasher,
		clock:      deps.Clock,
		ids:        deps.IDs,
		logger:     logger.Named("crawler"),
		types:      NewTypeFilter(cfg.AllowTypes, cfg.DenyTypes),
		classifier: wiserep.NewClassifier(cfg.ExcludedPrograms),
		hosts:      HostIndex{},
	}, nil
}

// Stats returns a snapshot of the current or last run.
func (e *Engine) Stats() RunStats {
	return e.stats.snapshot()
}

// Run crawls every event selected by the config. Cancellation is honoured
// between events. A returned error means a transport or storage failure;
// the registry already holds every event finished before it.
func (e *Engine) Run(ctx context.Context) (summary RunSummary, err error) {
	runID, err := e.ids.NewID()
	if err != nil {
		return RunSummary{}, fmt.Errorf("run id: %w", err)
	}
	e.runID = runID
	mode := e.cfg.Mode()
	summary = RunSummary{
		RunID:     runID,
		Mode:      mode,
		Outcomes:  make(map[Outcome]int),
		StartedAt: e.clock.Now(),
	}
	e.stats.start(runID, mode, summary.StartedAt)
	logger := e.logger.With(zap.String("run_id", runID), zap.String("mode", string(mode)))
	logger.Info("crawl started")
	if e.runs != nil {
		if err := e.runs.StartRun(ctx, summary); err != nil {
			logger.Warn("record run start failed", zap.Error(err))
		}
	}

	defer func() {
		summary.FinishedAt = e.clock.Now()
		minutes := summary.Runtime().Minutes()
		e.journal.Scraper(fmt.Sprintf("Runtime: %v minutes", minutes))
		e.stats.stop(err)
		status := "succeeded"
		if err != nil {
			status = "failed"
		}
		metrics.ObserveRun(string(mode), status)
		if e.runs != nil {
			if rerr := e.runs.FinishRun(context.WithoutCancel(ctx), summary, err); rerr != nil {
				logger.Warn("record run finish failed", zap.Error(rerr))
			}
		}
		logger.Info("crawl finished",
			zap.String("status", status),
			zap.Int("events", summary.Events),
			zap.Int("downloaded", summary.Downloaded),
			zap.Float64("minutes", minutes),
		)
	}()

	hosts, err := e.loadHostIndex(ctx)
	if err != nil {
		return summary, err
	}
	e.hosts = hosts

	names, err := e.eventNames(ctx)
	if err != nil {
		return summary, err
	}
	e.stats.setTotal(len(names))

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("crawl interrupted: %w", err)
		}
		rep, err := e.ProcessEvent(ctx, name)
		if err != nil {
			return summary, fmt.Errorf("event %s: %w", name, err)
		}
		summary.Events++
		summary.Outcomes[rep.Outcome]++
		summary.Downloaded += len(rep.Files)
		summary.Bytes += rep.Bytes
	}

	if mode == ModeFull && e.cfg.ResetOnFullRun {
		if err := e.registry.ResetCompleted(); err != nil {
			return summary, fmt.Errorf("reset completed: %w", err)
		}
		logger.Info("completed list reset after full pass")
	}
	return summary, nil
}

// ProcessEvent searches one event and carries it to a terminal outcome.
// Errors are transport or storage failures; the registry is not updated for
// the event in that case so the next run retries it.
func (e *Engine) ProcessEvent(ctx context.Context, name string) (EventReport, error) {
	rep := EventReport{RunID: e.runID, Event: name, StartedAt: e.clock.Now()}
	logger := e.logger.With(zap.String("event", name))
	e.stats.begin(name)

	if e.registry.IsExcluded(name) {
		logger.Debug("not a supernova, skipping")
		rep.Outcome = OutcomeSkippedExcluded
		e.skip(rep)
		return rep, nil
	}
	if e.registry.IsCompleted(name) {
		logger.Debug("already done, skipping")
		rep.Outcome = OutcomeSkippedCompleted
		e.skip(rep)
		return rep, nil
	}

	if e.cfg.Update {
		reset, err := e.resetEventDir(ctx, name)
		if err != nil {
			return rep, err
		}
		rep.DirectoryReset = reset
	}

	logger.Info("searching")
	doc, err := e.web.Submit(ctx, url.Values{"name": {name}})
	if err != nil {
		return rep, fmt.Errorf("search: %w", err)
	}
	return e.evaluate(ctx, logger, doc, rep)
}

func (e *Engine) resetEventDir(ctx context.Context, name string) (bool, error) {
	exists, err := e.mirror.EventExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("check event dir: %w", err)
	}
	if !exists {
		return false, nil
	}
	if err := e.mirror.DeleteEvent(ctx, name); err != nil {
		return false, fmt.Errorf("delete event dir: %w", err)
	}
	if err := e.mirror.EnsureEvent(ctx, name); err != nil {
		return false, fmt.Errorf("recreate event dir: %w", err)
	}
	return true, nil
}

// evaluate walks a results page through matching, filtering, classification
// and deduplication. Every branch ends in exactly one call to finish.
func (e *Engine) evaluate(ctx context.Context, logger *zap.Logger, doc *goquery.Document, rep EventReport) (EventReport, error) {
	name := rep.Event
	page := doc.Selection

	objCols, err := wiserep.LocateHeader(page, wiserep.ObjectHeaderSelector, wiserep.ObjectLabels...)
	if err != nil {
		rep.Outcome = OutcomeNoSpectra
		return e.finish(ctx, logger, rep, e.journal.Scraper, name+" has no spectra to collect")
	}

	match := wiserep.MatchCandidate(page, name, objCols)
	rep.Candidates = match.Blocks
	if match.Blocks != 1 {
		e.journal.Scraper(fmt.Sprintf("%d objects returned for %s", match.Blocks, name))
	}
	switch match.Kind {
	case wiserep.NoMatch:
		rep.Outcome = OutcomeNoMatch
		return e.finish(ctx, logger, rep, e.journal.Scraper, "No object named "+name+" in search results")
	case wiserep.Anomaly:
		logger.Warn("object row has no spectrum table", zap.Bool("advisory", match.Advisory))
		rep.Outcome = OutcomeNoSpectra
		return e.finish(ctx, logger, rep, e.journal.Scraper, name+" has no spectra to collect")
	case wiserep.Matched:
	}

	cand := match.Candidate
	rep.Type = cand.Type
	switch decision := e.types.Decide(cand.Type); decision {
	case TypeDenied, TypeNotAllowed:
		rep.Outcome = OutcomeExcludedType
		if decision == TypeDenied {
			if err := e.registry.MarkExcluded(name); err != nil {
				return rep, fmt.Errorf("registry: %w", err)
			}
		}
		return e.finish(ctx, logger, rep, e.journal.NonTarget, name+" is a "+cand.Type)
	case TypeUnspecified:
		logger.Info("type not specified by WISeREP")
		e.journal.Scraper("Type not specified by WISeREP for " + name)
	case TypeTarget:
	}

	if !cand.HasSpectra() {
		rep.Outcome = OutcomeNoSpectra
		return e.finish(ctx, logger, rep, e.journal.Scraper, name+" has no spectra to collect")
	}

	specCols, err := wiserep.LocateHeader(page, wiserep.SpectrumHeaderSelector, wiserep.SpectrumLabels...)
	if err != nil {
		rep.Outcome = OutcomeNoSpectra
		return e.finish(ctx, logger, rep, e.journal.Scraper, name+" has no spectra to collect")
	}

	cls := e.classifier.Classify(name, doc.Url, cand, specCols)
	rep.Public, rep.Private = cls.Public, cls.Private
	metrics.ObserveSpectra("private", cls.Private)
	metrics.ObserveSpectra("program_excluded", len(cls.SkippedPrograms))
	for _, program := range cls.SkippedPrograms {
		logger.Debug("skipping spectrum from excluded program", zap.String("program", program))
	}
	for _, href := range cls.Unresolved {
		logger.Warn("unresolvable spectrum link", zap.String("href", href))
		e.journal.Scraper("Unresolvable spectrum link for " + name + " -- " + href)
	}

	if cls.Public == 0 && len(cls.Unresolved) > 0 {
		if err := e.savePage(ctx, name, doc); err != nil {
			return rep, err
		}
		rep.Outcome = OutcomeUnresolvedLinks
		return e.finish(ctx, logger, rep, e.journal.Scraper,
			fmt.Sprintf("No usable spectrum links for %s -- %d unresolved, %d private",
				name, len(cls.Unresolved), cls.Private))
	}
	if cls.Public == 0 {
		if err := e.savePage(ctx, name, doc); err != nil {
			return rep, err
		}
		rep.Outcome = OutcomeAllPrivate
		return e.finish(ctx, logger, rep, e.journal.Private, "All spectra for "+name+" are still private")
	}
	if cls.Private > 0 {
		e.journal.Private(fmt.Sprintf("%s has %d private spectra", name, cls.Private))
	}

	haul := cls.Haul
	res := wiserep.Resolve(haul, e.hosts[name])
	rep.Removed = e.noteResolution(logger, name, res)

	if res.Empty || haul.Len() == 0 {
		if err := e.writeMetadata(ctx, &rep, haul); err != nil {
			return rep, err
		}
		if err := e.savePage(ctx, name, doc); err != nil {
			return rep, err
		}
		rep.Outcome = OutcomeZeroAfterDedup
		return e.finish(ctx, logger, rep, e.journal.Scraper, "Not collecting spectra of "+name+" at this time")
	}

	if err := e.download(ctx, logger, &rep, haul); err != nil {
		return rep, err
	}
	if err := e.writeMetadata(ctx, &rep, haul); err != nil {
		return rep, err
	}
	if err := e.savePage(ctx, name, doc); err != nil {
		return rep, err
	}
	rep.Outcome = OutcomeDownloaded
	return e.finish(ctx, logger, rep, e.journal.Scraper,
		fmt.Sprintf("Downloaded %d public spectra for %s", len(rep.Files), name))
}

func (e *Engine) noteResolution(logger *zap.Logger, name string, res wiserep.Resolution) []string {
	var removed []string
	if res.HostRemoved {
		metrics.ObserveSpectra("host_removed", 1)
		logger.Info("removed host spectrum", zap.String("file", e.hosts[name]))
		e.journal.Scraper("Removing host spectrum for " + name + " -- " + e.hosts[name])
		removed = append(removed, e.hosts[name])
	}
	if res.Empty {
		return removed
	}
	metrics.ObserveSpectra("rapid_removed", len(res.RapidRemoved))
	for _, file := range res.RapidRemoved {
		e.journal.Scraper("Removing duplicate spectrum for " + name + " -- " + file)
	}
	removed = append(removed, res.RapidRemoved...)

	for _, file := range res.BadDates {
		logger.Warn("unparseable last-modified date, treating as oldest", zap.String("file", file))
	}
	if res.Overflow {
		logger.Warn("more than two duplicate candidates", zap.Int("candidates", res.Candidates))
		e.journal.Scraper(fmt.Sprintf("%d duplicate candidates for %s -- keeping the latest of each observation",
			res.Candidates, name))
	}
	if res.Candidates < 2 {
		e.journal.Scraper("Presumably no other duplicate files found for " + name)
	}
	metrics.ObserveSpectra("duplicate_removed", len(res.DuplicatesRemoved))
	for _, file := range res.DuplicatesRemoved {
		e.journal.Scraper("Removing duplicate spectrum for " + name + " -- " + file)
	}
	return append(removed, res.DuplicatesRemoved...)
}

func (e *Engine) download(ctx context.Context, logger *zap.Logger, rep *EventReport, haul *wiserep.Haul) error {
	if err := e.mirror.EnsureEvent(ctx, rep.Event); err != nil {
		return fmt.Errorf("create event dir: %w", err)
	}
	rep.Files = make(map[string]string, haul.Len())
	downloads := haul.Downloads()
	for i, dl := range downloads {
		logger.Info("downloading public spectrum",
			zap.Int("n", i+1), zap.Int("of", len(downloads)), zap.String("file", dl.Filename))
		data, err := e.web.Download(ctx, dl.URL)
		if err != nil {
			return fmt.Errorf("download %s: %w", dl.Filename, err)
		}
		if _, err := e.mirror.WriteSpectrum(ctx, rep.Event, dl.Filename, data); err != nil {
			return fmt.Errorf("write %s: %w", dl.Filename, err)
		}
		digest := ""
		if e.hasher != nil {
			if digest, err = e.hasher.Hash(data); err != nil {
				return fmt.Errorf("hash %s: %w", dl.Filename, err)
			}
		}
		rep.Files[dl.Filename] = digest
		rep.Bytes += int64(len(data))
		metrics.ObserveDownload(len(data))
	}
	metrics.ObserveSpectra("downloaded", len(downloads))
	return nil
}

func (e *Engine) writeMetadata(ctx context.Context, rep *EventReport, haul *wiserep.Haul) error {
	if err := e.mirror.EnsureEvent(ctx, rep.Event); err != nil {
		return fmt.Errorf("create event dir: %w", err)
	}
	data, err := haul.MetadataJSON()
	if err != nil {
		return err
	}
	uri, err := e.mirror.WriteMetadata(ctx, rep.Event, data)
	if err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	rep.MetadataURI = uri
	return nil
}

func (e *Engine) savePage(ctx context.Context, name string, doc *goquery.Document) error {
	html, err := doc.Html()
	if err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	if _, err := e.mirror.SavePage(ctx, name, []byte(html)); err != nil {
		return fmt.Errorf("save page: %w", err)
	}
	return nil
}

// finish performs the single terminal action for an event.
func (e *Engine) finish(
	ctx context.Context,
	logger *zap.Logger,
	rep EventReport,
	note func(string),
	line string,
) (EventReport, error) {
	rep.FinishedAt = e.clock.Now()
	if err := e.registry.MarkCompleted(rep.Event); err != nil {
		return rep, fmt.Errorf("registry: %w", err)
	}
	note(line)
	logger.Info("event finished",
		zap.String("outcome", string(rep.Outcome)),
		zap.String("type", rep.Type),
		zap.Int("public", rep.Public),
		zap.Int("private", rep.Private),
		zap.Int("files", len(rep.Files)),
		zap.Duration("elapsed", rep.FinishedAt.Sub(rep.StartedAt)),
	)
	metrics.ObserveEvent(string(rep.Outcome))
	e.stats.record(rep)

	if e.recorder != nil {
		if err := e.recorder.RecordOutcome(ctx, rep); err != nil {
			logger.Warn("record outcome failed", zap.Error(err))
		}
	}
	if e.publisher != nil && e.cfg.Topic != "" && rep.Outcome == OutcomeDownloaded {
		if msgID, err := e.publisher.Publish(ctx, e.cfg.Topic, rep); err != nil {
			logger.Warn("publish failed", zap.Error(err))
		} else {
			logger.Debug("published completion", zap.String("message_id", msgID))
		}
	}
	return rep, nil
}

func (e *Engine) skip(rep EventReport) {
	rep.FinishedAt = rep.StartedAt
	metrics.ObserveEvent(string(rep.Outcome))
	e.stats.record(rep)
}

// IsTransient reports whether err came from a cancelled or timed-out run.
func IsTransient(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
