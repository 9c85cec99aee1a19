package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiserep-spider/internal/storage"
	memorystorage "github.com/JakeFAU/wiserep-spider/internal/storage/memory"
)

type harness struct {
	log       *opLog
	web       *fakeWeb
	mirror    *fakeMirror
	registry  *fakeRegistry
	journal   *fakeJournal
	recorder  *fakeRecorder
	runs      *fakeRuns
	publisher *fakePublisher
}

func newHarness() *harness {
	log := &opLog{}
	return &harness{
		log:       log,
		web:       newFakeWeb(log),
		mirror:    newFakeMirror(log),
		registry:  newFakeRegistry(),
		journal:   &fakeJournal{},
		recorder:  &fakeRecorder{},
		runs:      &fakeRuns{},
		publisher: &fakePublisher{},
	}
}

func (h *harness) engine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.ObjectsURL == "" {
		cfg.ObjectsURL = testObjectsURL
	}
	if cfg.Topic == "" {
		cfg.Topic = "spectra"
	}
	e, err := NewEngine(cfg, Collaborators{
		Web:       h.web,
		Mirror:    h.mirror,
		Registry:  h.registry,
		Journal:   h.journal,
		Recorder:  h.recorder,
		Runs:      h.runs,
		Publisher: h.publisher,
		Hasher:    fakeHasher{},
		Clock:     &fakeClock{now: time.Unix(0, 0)},
		IDs:       fakeIDs{},
	}, zap.NewNop())
	require.NoError(t, err)
	return e
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(Config{ObjectsURL: testObjectsURL}, Collaborators{}, nil)
	assert.Error(t, err)
	_, err = NewEngine(Config{}, Collaborators{}, nil)
	assert.Error(t, err)
	_, err = NewEngine(Config{ObjectsURL: testObjectsURL, Update: true}, Collaborators{}, nil)
	assert.Error(t, err)
}

func TestProcessEventDownloads(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.web.results["SN2016bau"] = resultsPage(pageObject{
		name: "SN2016bau", typ: "SN Ib", count: "4",
		spectra: []pageSpectrum{
			{program: "PESSTO", obsDate: "2016-03-14", file: "SN2016bau_a.flm", lastMod: "2012-06-01"},
			{program: "PESSTO", obsDate: "2016-03-14", file: "SN2016bau_b.flm", lastMod: "2012-01-01"},
			{program: "PESSTO", obsDate: "2016-03-13", file: "tSN2016bau_1.flm", lastMod: "2012-01-01"},
			{program: "PESSTO", obsDate: "2016-03-20"},
		},
	})
	h.web.files[spectrumURL("SN2016bau_a.flm")] = []byte("4000 1.0\n")

	e := h.engine(t, Config{})
	rep, err := e.ProcessEvent(context.Background(), "SN2016bau")
	require.NoError(t, err)

	assert.Equal(t, OutcomeDownloaded, rep.Outcome)
	assert.Equal(t, 3, rep.Public)
	assert.Equal(t, 1, rep.Private)
	assert.Equal(t, map[string]string{"SN2016bau_a.flm": "len-9"}, rep.Files)
	assert.ElementsMatch(t, []string{"tSN2016bau_1.flm", "SN2016bau_b.flm"}, rep.Removed)
	assert.Equal(t, []byte("4000 1.0\n"), h.mirror.files["SN2016bau/SN2016bau_a.flm"])
	assert.True(t, h.registry.completed["SN2016bau"])
	assert.False(t, h.registry.excluded["SN2016bau"])
	assert.Contains(t, h.journal.private, "SN2016bau has 1 private spectra")
	assert.Contains(t, h.journal.scraper, "Removing duplicate spectrum for SN2016bau -- SN2016bau_b.flm")
	assert.NotEmpty(t, h.mirror.pages["SN2016bau"])

	var meta map[string]map[string]string
	require.NoError(t, json.Unmarshal(h.mirror.metadata["SN2016bau"], &meta))
	require.Contains(t, meta, "SN2016bau_a.flm")
	assert.Len(t, meta, 1)
	assert.Equal(t, "2013A&A...1P", meta["SN2016bau_a.flm"]["Bibcode"])
	assert.Equal(t, "SN Ib", meta["SN2016bau_a.flm"]["Type"])
	assert.Equal(t, "final", meta["SN2016bau_a.flm"]["Reduction Status"])

	require.Len(t, h.recorder.reports, 1)
	require.Len(t, h.publisher.payloads, 1)
	assert.Equal(t, "spectra", h.publisher.topics[0])
}

func TestProcessEventExcludedType(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.web.results["AT2019qiz"] = resultsPage(pageObject{
		name: "AT2019qiz", typ: "TDE", count: "1",
		spectra: []pageSpectrum{{program: "ePESSTO", obsDate: "2019-09-20", file: "AT2019qiz.flm"}},
	})

	e := h.engine(t, Config{})
	rep, err := e.ProcessEvent(context.Background(), "AT2019qiz")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExcludedType, rep.Outcome)
	assert.True(t, h.registry.excluded["AT2019qiz"])
	assert.True(t, h.registry.completed["AT2019qiz"])
	assert.Equal(t, []string{"AT2019qiz is a TDE"}, h.journal.nonTarget)
	assert.Empty(t, h.mirror.files)
	assert.Empty(t, h.publisher.payloads)
}

func TestProcessEventAllowList(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.web.results["SN1999em"] = resultsPage(pageObject{
		name: "SN1999em", typ: "SN IIP", count: "1",
		spectra: []pageSpectrum{{program: "SUSPECT", obsDate: "1999-11-01", file: "SN1999em.dat"}},
	})

	e := h.engine(t, Config{AllowTypes: []string{"SN Ia"}})
	rep, err := e.ProcessEvent(context.Background(), "SN1999em")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExcludedType, rep.Outcome)
	assert.False(t, h.registry.excluded["SN1999em"], "allow-list misses are not remembered")
	assert.True(t, h.registry.completed["SN1999em"])
}

func TestProcessEventAllPrivate(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.web.results["SN2020abc"] = resultsPage(pageObject{
		name: "SN2020abc", typ: "SN Ia", count: "2",
		spectra: []pageSpectrum{{obsDate: "2020-01-01"}, {obsDate: "2020-01-02"}},
	})

	e := h.engine(t, Config{})
	rep, err := e.ProcessEvent(context.Background(), "SN2020abc")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllPrivate, rep.Outcome)
	assert.Equal(t, 2, rep.Private)
	assert.Equal(t, []string{"All spectra for SN2020abc are still private"}, h.journal.private)
	assert.NotContains(t, h.mirror.metadata, "SN2020abc")
	assert.NotEmpty(t, h.mirror.pages["SN2020abc"])
	assert.True(t, h.registry.completed["SN2020abc"])
}

func TestProcessEventProgramExcludedOnly(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.web.results["SN2005cf"] = resultsPage(pageObject{
		name: "SN2005cf", typ: "SN Ia", count: "1",
		spectra: []pageSpectrum{{program: "CfA-Ia", obsDate: "2005-06-01", file: "sn2005cf.flm"}},
	})

	e := h.engine(t, Config{})
	rep, err := e.ProcessEvent(context.Background(), "SN2005cf")
	require.NoError(t, err)
	assert.Equal(t, OutcomeZeroAfterDedup, rep.Outcome)
	assert.Equal(t, "{}\n", string(h.mirror.metadata["SN2005cf"]))
	assert.Contains(t, h.journal.scraper, "Not collecting spectra of SN2005cf at this time")
}

func TestProcessEventHostSpectrumOnly(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.web.results["SN2011fe"] = resultsPage(pageObject{
		name: "SN2011fe", typ: "SN Ia", count: "1",
		spectra: []pageSpectrum{{program: "PTF", obsDate: "2011-09-01", file: "M101_host.flm"}},
	})
	e := h.engine(t, Config{})
	e.hosts = HostIndex{"SN2011fe": "M101_host.flm"}

	rep, err := e.ProcessEvent(context.Background(), "SN2011fe")
	require.NoError(t, err)
	assert.Equal(t, OutcomeZeroAfterDedup, rep.Outcome)
	assert.Equal(t, []string{"M101_host.flm"}, rep.Removed)
	assert.Equal(t, "{}\n", string(h.mirror.metadata["SN2011fe"]))
}

func TestProcessEventNoSpectra(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"no header": "<html><body>nothing</body></html>",
		"zero count": resultsPage(pageObject{name: "SN2000x", typ: "SN II", count: " 0 "}),
		"anomaly": `<html><body><table><tr style="font-weight:bold"><td></td><td>Obj. Name</td>` +
			`<td>Type</td><td>No. of<br>Spectra</td></tr><tr><td><form target="new"></form></td>` +
			`<td>SN2000x</td><td>SN II</td><td>3</td></tr></table></body></html>`,
	}
	for name, page := range cases {
		page := page
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h := newHarness()
			h.web.results["SN2000x"] = page
			e := h.engine(t, Config{})
			rep, err := e.ProcessEvent(context.Background(), "SN2000x")
			require.NoError(t, err)
			assert.Equal(t, OutcomeNoSpectra, rep.Outcome)
			assert.Contains(t, h.journal.scraper, "SN2000x has no spectra to collect")
			assert.True(t, h.registry.completed["SN2000x"])
		})
	}
}

func TestProcessEventNoMatch(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.web.results["SN2011fe"] = resultsPage(
		pageObject{name: "SN2011fea", typ: "SN Ia", count: "1"},
		pageObject{name: "SN2011feb", typ: "SN Ia", count: "1"},
	)
	e := h.engine(t, Config{})
	rep, err := e.ProcessEvent(context.Background(), "SN2011fe")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, rep.Outcome)
	assert.Equal(t, 2, rep.Candidates)
	assert.Contains(t, h.journal.scraper, "2 objects returned for SN2011fe")
	assert.True(t, h.registry.completed["SN2011fe"])
}

func TestProcessEventSkipsRegistryHits(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.registry.excluded["AT2019qiz"] = true
	h.registry.completed["SN2011fe"] = true
	e := h.engine(t, Config{})

	rep, err := e.ProcessEvent(context.Background(), "AT2019qiz")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedExcluded, rep.Outcome)
	rep, err = e.ProcessEvent(context.Background(), "SN2011fe")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedCompleted, rep.Outcome)
	assert.Empty(t, h.web.submitted)
	assert.Empty(t, h.recorder.reports)
}

func TestProcessEventUpdateResetsDirectoryFirst(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.mirror.dirs["SN2016bau"] = true
	h.mirror.files["SN2016bau/stale.flm"] = []byte("old")
	h.web.results["SN2016bau"] = resultsPage(pageObject{
		name: "SN2016bau", typ: "SN Ib", count: "1",
		spectra: []pageSpectrum{{program: "PESSTO", obsDate: "2016-03-14", file: "SN2016bau_a.flm", lastMod: "2016-04-01"}},
	})
	h.web.files[spectrumURL("SN2016bau_a.flm")] = []byte("new")

	e := h.engine(t, Config{Update: true, Days: 7, RecentDaysField: "days"})
	rep, err := e.ProcessEvent(context.Background(), "SN2016bau")
	require.NoError(t, err)
	assert.True(t, rep.DirectoryReset)
	assert.NotContains(t, h.mirror.files, "SN2016bau/stale.flm")

	rmdir := h.log.index("rmdir SN2016bau")
	download := h.log.index("download " + spectrumURL("SN2016bau_a.flm"))
	require.NotEqual(t, -1, rmdir)
	require.NotEqual(t, -1, download)
	assert.Less(t, rmdir, download)
	assert.Less(t, rmdir, h.log.index("submit SN2016bau"))
}

func TestProcessEventFatalErrorsLeaveRegistryUntouched(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.web.submitErr = errBoom
	e := h.engine(t, Config{})
	_, err := e.ProcessEvent(context.Background(), "SN2011fe")
	require.ErrorIs(t, err, errBoom)
	assert.False(t, h.registry.completed["SN2011fe"])

	h = newHarness()
	h.web.results["SN2016bau"] = resultsPage(pageObject{
		name: "SN2016bau", typ: "SN Ib", count: "1",
		spectra: []pageSpectrum{{program: "PESSTO", obsDate: "2016-03-14", file: "SN2016bau_a.flm", lastMod: "2016-04-01"}},
	})
	h.web.files[spectrumURL("SN2016bau_a.flm")] = []byte("x")
	h.mirror.writeErr = errBoom
	e = h.engine(t, Config{})
	_, err = e.ProcessEvent(context.Background(), "SN2016bau")
	require.ErrorIs(t, err, errBoom)
	assert.False(t, h.registry.completed["SN2016bau"])
}

func TestRecorderFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.recorder.err = errBoom
	e := h.engine(t, Config{})
	rep, err := e.ProcessEvent(context.Background(), "SN2011fe")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoSpectra, rep.Outcome)
}

func TestRunFullResetsCompleted(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.web.pages[testObjectsURL] = objectsPage("SN2011fe", "AT2019qiz", "SN2011fe")
	h.web.results["AT2019qiz"] = resultsPage(pageObject{
		name: "AT2019qiz", typ: "TDE", count: "1",
		spectra: []pageSpectrum{{program: "ePESSTO", obsDate: "2019-09-20", file: "AT2019qiz.flm"}},
	})

	e := h.engine(t, Config{ResetOnFullRun: true})
	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ModeFull, summary.Mode)
	assert.Equal(t, 2, summary.Events)
	assert.Equal(t, 1, summary.Outcomes[OutcomeExcludedType])
	assert.Equal(t, 1, summary.Outcomes[OutcomeNoSpectra])
	assert.Equal(t, 1, h.registry.resets)
	assert.Empty(t, h.registry.completed)
	assert.True(t, h.registry.excluded["AT2019qiz"])
	require.NotEmpty(t, h.journal.scraper)
	assert.Regexp(t, `^Runtime: [0-9.]+ minutes$`, h.journal.scraper[len(h.journal.scraper)-1])

	stats := e.Stats()
	assert.False(t, stats.Running)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Processed)

	require.Len(t, h.runs.started, 1)
	require.Len(t, h.runs.finished, 1)
	assert.Equal(t, summary.RunID, h.runs.started[0].RunID)
	assert.Equal(t, 2, h.runs.finished[0].Events)
	assert.NoError(t, h.runs.errs[0])
}

func TestRunSingleEventDoesNotReset(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.web.pages[testObjectsURL] = objectsPage("SN2011fe", "SN2016bau")

	e := h.engine(t, Config{Event: "SN2016bau", ResetOnFullRun: true})
	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeSingle, summary.Mode)
	assert.Equal(t, 1, summary.Events)
	assert.Zero(t, h.registry.resets)
	assert.True(t, h.registry.completed["SN2016bau"])
	assert.Equal(t, []string{"open " + testObjectsURL, "submit SN2016bau"}, h.log.list())
}

func TestRunUpdateUsesRecentList(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.web.pages[testObjectsURL] = objectsPage("SN2011fe")
	h.web.results[""] = resultsPage(
		pageObject{name: "SN2024aaa", typ: "SN Ia", count: "0"},
		pageObject{name: "SN2024aab", typ: "SN II", count: "0"},
	)

	e := h.engine(t, Config{Update: true, Days: 3, RecentDaysField: "modified_within", RowsLimit: 1000, ResetOnFullRun: true})
	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeUpdate, summary.Mode)
	assert.Equal(t, 2, summary.Events)
	require.NotEmpty(t, h.web.submitted)
	assert.Equal(t, "3", h.web.submitted[0].Get("modified_within"))
	assert.Equal(t, "1000", h.web.submitted[0].Get("rowslimit"))
	assert.Zero(t, h.registry.resets)
}

func TestRunLoadsHostIndex(t *testing.T) {
	t.Parallel()

	h := newHarness()
	const catalog = "https://hosts.test/catalog"
	h.web.pages[catalog] = `<table><tr><td>Obj. Name</td><td>Ascii/Fits Files</td></tr>` +
		`<tr valign="top"><td>SN2011fe</td><td><a href="/h/M101.fits">f</a><a href="/h/M101.flm">M101.flm</a></td></tr></table>`
	h.web.pages[testObjectsURL] = objectsPage()

	e := h.engine(t, Config{HostCatalogURL: catalog})
	_, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HostIndex{"SN2011fe": "M101.flm"}, e.hosts)
	assert.Less(t, h.log.index("open "+catalog), h.log.index("open "+testObjectsURL))
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.web.pages[testObjectsURL] = objectsPage("SN2011fe")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := h.engine(t, Config{})
	_, err := e.Run(ctx)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Contains(t, e.Stats().LastError, "context canceled")
}

func TestRunPropagatesFatalErrors(t *testing.T) {
	t.Parallel()

	h := newHarness()
	e := h.engine(t, Config{})
	_, err := e.Run(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 404, statusErr.Code)
	require.Len(t, h.runs.errs, 1)
	assert.ErrorAs(t, h.runs.errs[0], &statusErr)
}

func TestRunKeepsGoingPastBlankLinkText(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.web.pages[testObjectsURL] = objectsPage("SN2016bau", "SN2011fe")
	h.web.results["SN2016bau"] = resultsPage(pageObject{
		name: "SN2016bau", typ: "SN Ib", count: "2",
		spectra: []pageSpectrum{
			{program: "PESSTO", obsDate: "2016-03-14", file: "SN2016bau_a.flm", anchor: " ", lastMod: "2016-04-01"},
			{program: "PESSTO", obsDate: "2016-03-15", file: "SN2016bau_b.flm", anchor: "spectra/SN2016bau_b.flm"},
		},
	})
	h.web.files[spectrumURL("SN2016bau_a.flm")] = []byte("4000 1.0\n")
	h.web.files[spectrumURL("SN2016bau_b.flm")] = []byte("4000 2.0\n")

	mirror := memorystorage.NewMirror()
	e, err := NewEngine(Config{ObjectsURL: testObjectsURL}, Collaborators{
		Web:      h.web,
		Mirror:   mirror,
		Registry: h.registry,
		Journal:  h.journal,
		Clock:    &fakeClock{now: time.Unix(0, 0)},
		IDs:      fakeIDs{},
	}, nil)
	require.NoError(t, err)

	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Events)
	assert.Equal(t, 1, summary.Outcomes[OutcomeDownloaded])
	assert.Equal(t,
		[]string{storage.MetadataFile, "SN2016bau_a.flm", "SN2016bau_b.flm"},
		mirror.Files("SN2016bau"))
	assert.True(t, h.registry.completed["SN2016bau"])
	assert.True(t, h.registry.completed["SN2011fe"])
}

func TestProcessEventUnresolvedLinks(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.web.results["SN2016bau"] = resultsPage(pageObject{
		name: "SN2016bau", typ: "SN Ib", count: "2",
		spectra: []pageSpectrum{
			{program: "PESSTO", obsDate: "2016-03-14", href: "/spectra/a%5Cb.flm", anchor: " "},
			{program: "PESSTO", obsDate: "2016-03-20"},
		},
	})

	e := h.engine(t, Config{})
	rep, err := e.ProcessEvent(context.Background(), "SN2016bau")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnresolvedLinks, rep.Outcome)
	assert.Zero(t, rep.Public)
	assert.Equal(t, 1, rep.Private)
	assert.True(t, h.registry.completed["SN2016bau"])
	assert.Contains(t, h.journal.scraper, "No usable spectrum links for SN2016bau -- 1 unresolved, 1 private")
	assert.Empty(t, h.journal.private)
	assert.Empty(t, h.mirror.files)
	assert.NotEmpty(t, h.mirror.pages["SN2016bau"])
	assert.Empty(t, h.publisher.payloads)
}
