// Package aggregate pulls flow report rows from the upstream reporting API,
// reconciles their message identities and assembles the day- or range-level
// row set used for scoring.
package aggregate

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/flow-analytics/internal/identity"
	"github.com/sells-group/flow-analytics/internal/model"
)

const (
	// DefaultRowBudget caps the merged row set.
	DefaultRowBudget = 50000
	// DefaultConcurrency bounds parallel per-flow upstream fetches.
	DefaultConcurrency = 3

	dayLayout = "2006-01-02"
)

// Options tunes an Orchestrator.
type Options struct {
	Mode              Mode
	RowBudget         int
	Concurrency       int
	IncludeSynthetic  bool
	IncludeDrafts     bool
	DisableEnrichment bool

	// MaxDuration aborts a run between report calls once exceeded. Zero
	// disables the check.
	MaxDuration time.Duration
	// BeforeDay is consulted before every report call. A non-nil error
	// aborts the run with ErrDeadlineExceeded.
	BeforeDay func(day time.Time, elapsed time.Duration) error

	// NewCache builds the request-scoped cache. Defaults to NewMemoryCache.
	NewCache func(Source) Cache
	// Now is the clock used for deadlines and elapsed time.
	Now func() time.Time
}

// DefaultOptions returns auto mode with synthetic rows enabled.
func DefaultOptions() Options {
	return Options{
		Mode:             ModeAuto,
		RowBudget:        DefaultRowBudget,
		Concurrency:      DefaultConcurrency,
		IncludeSynthetic: true,
	}
}

// Request scopes one aggregation run. Start and End are calendar days,
// both inclusive, interpreted in the account timezone.
type Request struct {
	Start   time.Time
	End     time.Time
	FlowIDs []string
	// Mode overrides Options.Mode when set.
	Mode Mode
}

// Result is the output of a successful run.
type Result struct {
	Rows        []model.Row         `json:"rows"`
	Flows       []model.Flow        `json:"flows"`
	Messages    []model.FlowMessage `json:"messages"`
	Diagnostics Diagnostics         `json:"diagnostics"`
}

// Orchestrator drives the per-day, range and auto strategies.
type Orchestrator struct {
	src  Source
	opts Options
}

// New creates an Orchestrator. Zero budget and concurrency take defaults.
func New(src Source, opts Options) *Orchestrator {
	if opts.Mode == "" {
		opts.Mode = ModeAuto
	}
	if opts.RowBudget <= 0 {
		opts.RowBudget = DefaultRowBudget
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.NewCache == nil {
		opts.NewCache = func(s Source) Cache { return NewMemoryCache(s) }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{src: src, opts: opts}
}

// window is one labeled report call.
type window struct {
	Window
	label string
	tag   string
}

// run holds the working set of a single request.
type run struct {
	o        *Orchestrator
	req      Request
	started  time.Time
	log      *zap.Logger
	diag     *Diagnostics
	cache    Cache
	resolver *identity.Resolver

	flows    map[string]model.Flow
	selected []model.Flow
	byFlow   map[string][]model.FlowMessage
	extra    []model.FlowMessage
	tried    map[string]bool
}

// Run executes one aggregation pass for req.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	mode := req.Mode
	if mode == "" {
		mode = o.opts.Mode
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if req.Start.IsZero() || req.End.IsZero() {
		return nil, eris.Wrap(ErrInvalidRequest, "start and end are required")
	}

	diag := &Diagnostics{RunID: uuid.NewString(), RequestedMode: mode}
	r := &run{
		o:       o,
		req:     req,
		started: o.opts.Now(),
		log: zap.L().With(
			zap.String("component", "aggregate"),
			zap.String("run_id", diag.RunID),
		),
		diag:  diag,
		cache: o.opts.NewCache(o.src),
		tried: make(map[string]bool),
	}

	res, err := r.execute(ctx, mode)
	diag.Elapsed = o.opts.Now().Sub(r.started)
	diag.ElapsedMS = diag.Elapsed.Milliseconds()
	if err != nil {
		runsTotal.WithLabelValues(string(mode), "error").Inc()
		r.log.Warn("aggregation failed", zap.Error(err), zap.Duration("elapsed", diag.Elapsed))
		return nil, err
	}
	res.Diagnostics = *diag

	runsTotal.WithLabelValues(string(diag.UsedMode), "ok").Inc()
	rowsPerRun.Observe(float64(len(res.Rows)))
	r.log.Info("aggregation complete",
		zap.String("mode", string(diag.UsedMode)),
		zap.Bool("fallback", diag.FallbackTriggered),
		zap.Int("rows", len(res.Rows)),
		zap.Int("real_rows", diag.RealRows),
		zap.Int("synthetic_rows", diag.SyntheticRows),
		zap.Duration("elapsed", diag.Elapsed),
	)
	return res, nil
}

func (r *run) execute(ctx context.Context, mode Mode) (*Result, error) {
	tz, err := r.o.src.Timezone(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: account timezone")
	}
	first := civil(r.req.Start, tz)
	last := civil(r.req.End, tz)
	if last.Before(first) {
		return nil, eris.Wrapf(ErrInvalidRequest, "end %s is before start %s", last.Format(dayLayout), first.Format(dayLayout))
	}
	r.diag.Timezone = tz.String()
	r.diag.WindowStart = first.Format(dayLayout)
	r.diag.WindowEnd = last.Format(dayLayout)

	if err := r.loadFlows(ctx); err != nil {
		return nil, err
	}
	if err := r.loadMessages(ctx); err != nil {
		return nil, err
	}

	days := dayWindows(first, last)
	span := rangeWindow(first, last)

	// Per-day is preferred for its daily granularity; range only rescues
	// windows where per-day produced nothing.
	var (
		rows map[model.RowKey]*model.Row
		used = mode
	)
	switch mode {
	case ModePerDay:
		rows, err = r.collect(ctx, days)
	case ModeRange:
		rows, err = r.collect(ctx, []window{span})
	case ModeAuto:
		used = ModePerDay
		rows, err = r.collect(ctx, days)
		if err == nil && len(rows) == 0 {
			used = ModeRange
			r.diag.FallbackTriggered = true
			r.diag.FallbackReason = fmt.Sprintf("per-day returned no rows across %d days", len(days))
			fallbackTotal.Inc()
			r.diag.restartPass()
			r.log.Warn("per-day aggregation empty, falling back to range",
				zap.String("start", r.diag.WindowStart),
				zap.String("end", r.diag.WindowEnd),
			)
			rows, err = r.collect(ctx, []window{span})
		}
	}
	if err != nil {
		return nil, err
	}
	r.diag.UsedMode = used
	r.diag.RealRows = len(rows)

	if len(rows) == 0 {
		return nil, eris.Wrapf(ErrDataIntegrityEmpty, "mode %s over %s..%s", mode, r.diag.WindowStart, r.diag.WindowEnd)
	}

	labels := []window{span}
	if used == ModePerDay {
		labels = days
		if r.o.opts.IncludeSynthetic {
			if err := r.synthesize(rows, days); err != nil {
				return nil, err
			}
		}
	}
	if r.o.opts.IncludeDrafts {
		if err := r.placeholders(rows, labels); err != nil {
			return nil, err
		}
	}
	if err := r.checkBudget(len(rows)); err != nil {
		return nil, err
	}

	return &Result{
		Rows:     sortedRows(rows),
		Flows:    r.selected,
		Messages: r.messages(),
	}, nil
}

// loadFlows indexes the flows the request covers. Requested ids the account
// does not know become warnings.
func (r *run) loadFlows(ctx context.Context) error {
	flows, err := r.o.src.Flows(ctx)
	if err != nil {
		return eris.Wrap(err, "aggregate: list flows")
	}
	want := make(map[string]bool, len(r.req.FlowIDs))
	for _, id := range r.req.FlowIDs {
		want[id] = true
	}

	r.flows = make(map[string]model.Flow, len(flows))
	for _, f := range flows {
		if len(want) > 0 && !want[f.ID] {
			continue
		}
		r.flows[f.ID] = f
		r.selected = append(r.selected, f)
	}
	for _, id := range r.req.FlowIDs {
		if _, ok := r.flows[id]; !ok {
			r.diag.warn(fmt.Sprintf("requested flow %s not found", id))
		}
	}
	slices.SortFunc(r.selected, func(a, b model.Flow) int { return strings.Compare(a.ID, b.ID) })
	return nil
}

// loadMessages fetches every selected flow's message list through the cache
// under a bounded concurrency gate.
func (r *run) loadMessages(ctx context.Context) error {
	lists := make([][]model.FlowMessage, len(r.selected))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.o.opts.Concurrency)
	for i, f := range r.selected {
		g.Go(func() error {
			msgs, err := r.cache.MessagesFor(gctx, f.ID)
			if err != nil {
				return eris.Wrapf(err, "aggregate: messages for flow %s", f.ID)
			}
			lists[i] = msgs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.byFlow = make(map[string][]model.FlowMessage, len(r.selected))
	var all []model.FlowMessage
	for i, f := range r.selected {
		msgs := slices.Clone(lists[i])
		for j := range msgs {
			if msgs[j].FlowID == "" {
				msgs[j].FlowID = f.ID
			}
		}
		slices.SortStableFunc(msgs, func(a, b model.FlowMessage) int { return a.Position - b.Position })
		r.byFlow[f.ID] = msgs
		all = append(all, msgs...)
	}
	r.resolver = identity.NewResolver(all)
	r.log.Debug("identity table built",
		zap.Int("flows", len(r.selected)),
		zap.Int("messages", r.resolver.Len()),
	)
	return nil
}

// collect issues one report call per window and merges the resolved rows.
func (r *run) collect(ctx context.Context, windows []window) (map[model.RowKey]*model.Row, error) {
	rows := make(map[model.RowKey]*model.Row)
	for _, w := range windows {
		if err := r.checkDeadline(ctx, w.Start); err != nil {
			return nil, err
		}
		raw, err := r.o.src.Report(ctx, w.Window, r.req.FlowIDs)
		if err != nil {
			return nil, eris.Wrapf(err, "aggregate: report %s", w.label)
		}
		r.diag.ReportCalls++
		if w.tag == "" {
			r.diag.DaysQueried++
		}
		r.diag.UpstreamRows += len(raw)

		r.backfill(ctx, raw)
		for _, rr := range raw {
			r.add(rows, w, rr)
		}
		if err := r.checkBudget(len(rows)); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (r *run) add(rows map[model.RowKey]*model.Row, w window, rr model.ReportRow) {
	flow, ok := r.flows[rr.FlowID]
	if !ok {
		r.diag.DroppedUnknownFlow++
		return
	}
	id, outcome := r.resolver.Resolve(rr)
	if !outcome.Kept() {
		if outcome == identity.DroppedChannel {
			r.diag.DroppedNonEmail++
		} else {
			r.diag.DroppedUnidentifiable++
		}
		return
	}
	if outcome == identity.Synthesized {
		r.diag.SynthesizedIdentities++
	}

	row := model.Row{
		Day:           w.label,
		FlowID:        flow.ID,
		FlowName:      flow.Name,
		MessageID:     id.MessageID,
		MessageName:   id.Name,
		Channel:       id.Channel,
		Status:        string(flow.Status),
		Delivered:     rr.Delivered,
		UniqueOpens:   rr.OpensUnique,
		UniqueClicks:  rr.ClicksUnique,
		PlacedOrder:   rr.ConversionUniques,
		Revenue:       rr.ConversionValue,
		UnsubRate:     rr.UnsubscribeRate,
		ComplaintRate: rr.SpamComplaintRate,
		BounceRate:    rr.BounceRate,
	}
	row.Derive()
	if w.tag != "" {
		row.AddTag(model.TagRange)
		row.AddTag(w.tag)
	}

	key := row.Key()
	if existing, ok := rows[key]; ok {
		existing.Merge(row)
		r.diag.MergedDuplicates++
		return
	}
	rows[key] = &row
}

// backfill looks up message metadata for ids the resolver cannot match.
// Failures are recorded as warnings and never fail the run.
func (r *run) backfill(ctx context.Context, raw []model.ReportRow) {
	if r.o.opts.DisableEnrichment {
		return
	}
	owner := make(map[string]string)
	var ids []string
	for _, rr := range raw {
		if _, ok := r.flows[rr.FlowID]; !ok {
			continue
		}
		id, outcome := r.resolver.Resolve(rr)
		if outcome != identity.Synthesized || r.tried[id.RawID] {
			continue
		}
		r.tried[id.RawID] = true
		owner[id.RawID] = rr.FlowID
		ids = append(ids, id.RawID)
	}
	if len(ids) == 0 {
		return
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.o.opts.Concurrency)
	for _, msgID := range ids {
		g.Go(func() error {
			m, err := r.cache.Message(gctx, msgID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fail := &PartialEnrichmentFailure{MessageID: msgID, Err: err}
				r.diag.warn(fail.Error())
				enrichmentFailures.Inc()
				r.log.Warn("message enrichment failed", zap.String("message_id", msgID), zap.Error(err))
				return nil
			}
			if m.ID == "" {
				return nil
			}
			if m.FlowID == "" {
				m.FlowID = owner[msgID]
			}
			r.resolver.Register(m)
			r.extra = append(r.extra, m)
			r.diag.EnrichedMessages++
			return nil
		})
	}
	_ = g.Wait()
}

// synthesize adds a zero row for every live email message missing on a day.
// Existing rows always win.
func (r *run) synthesize(rows map[model.RowKey]*model.Row, days []window) error {
	for _, d := range days {
		for _, f := range r.selected {
			if !f.IsLive() {
				continue
			}
			for _, m := range r.byFlow[f.ID] {
				if !isEmail(m.Channel) {
					continue
				}
				key := model.RowKey{Day: d.label, FlowID: f.ID, MessageID: m.ID}
				if _, ok := rows[key]; ok {
					continue
				}
				row := zeroRow(d.label, f, m)
				row.AddTag(model.TagSynthetic)
				rows[key] = &row
				r.diag.SyntheticRows++
				if err := r.checkBudget(len(rows)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// placeholders adds synthetic zero rows for draft flows so they are visible
// in the report. Scoring excludes them.
func (r *run) placeholders(rows map[model.RowKey]*model.Row, labels []window) error {
	for _, f := range r.selected {
		if f.Status != model.FlowStatusDraft {
			continue
		}
		msgs := r.byFlow[f.ID]
		if len(msgs) == 0 {
			msgs = []model.FlowMessage{{FlowID: f.ID, Channel: model.ChannelEmail}}
		}
		for _, l := range labels {
			for _, m := range msgs {
				if !isEmail(m.Channel) {
					continue
				}
				key := model.RowKey{Day: l.label, FlowID: f.ID, MessageID: m.ID}
				if _, ok := rows[key]; ok {
					continue
				}
				row := zeroRow(l.label, f, m)
				row.AddTag(model.TagSynthetic)
				row.AddTag(model.TagDraft)
				rows[key] = &row
				r.diag.DraftRows++
				if err := r.checkBudget(len(rows)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (r *run) checkBudget(n int) error {
	if n > r.o.opts.RowBudget {
		return eris.Wrapf(ErrRowBudgetExceeded, "%d rows exceeds budget of %d", n, r.o.opts.RowBudget)
	}
	return nil
}

func (r *run) checkDeadline(ctx context.Context, day time.Time) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "aggregate: run cancelled")
	}
	elapsed := r.o.opts.Now().Sub(r.started)
	if limit := r.o.opts.MaxDuration; limit > 0 && elapsed >= limit {
		return eris.Wrapf(ErrDeadlineExceeded, "%s elapsed before %s (limit %s)",
			elapsed.Round(time.Millisecond), day.Format(dayLayout), limit)
	}
	if r.o.opts.BeforeDay != nil {
		if err := r.o.opts.BeforeDay(day, elapsed); err != nil {
			return eris.Wrapf(ErrDeadlineExceeded, "aborted before %s: %v", day.Format(dayLayout), err)
		}
	}
	return nil
}

func (r *run) messages() []model.FlowMessage {
	var out []model.FlowMessage
	seen := make(map[string]bool)
	for _, f := range r.selected {
		for _, m := range r.byFlow[f.ID] {
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	for _, m := range r.extra {
		if !seen[m.ID] {
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	return out
}

func zeroRow(day string, f model.Flow, m model.FlowMessage) model.Row {
	name := m.Name
	if name == "" {
		name = m.ID
	}
	return model.Row{
		Day:         day,
		FlowID:      f.ID,
		FlowName:    f.Name,
		MessageID:   m.ID,
		MessageName: name,
		Channel:     model.ChannelEmail,
		Status:      string(f.Status),
		Synthetic:   true,
	}
}

func isEmail(channel string) bool {
	return channel == "" || strings.EqualFold(channel, model.ChannelEmail)
}

// civil returns midnight of t's calendar date in loc.
func civil(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func dayWindows(first, last time.Time) []window {
	var out []window
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		out = append(out, window{
			Window: Window{Start: d, End: d.AddDate(0, 0, 1)},
			label:  d.Format(dayLayout),
		})
	}
	return out
}

func rangeWindow(first, last time.Time) window {
	end := last.AddDate(0, 0, 1)
	return window{
		Window: Window{Start: first, End: end},
		label:  last.Format(dayLayout),
		tag:    fmt.Sprintf("%s:%s..%s", model.TagRange, first.Format(time.RFC3339), end.Format(time.RFC3339)),
	}
}

func sortedRows(rows map[model.RowKey]*model.Row) []model.Row {
	out := make([]model.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b model.Row) int {
		if c := strings.Compare(a.Day, b.Day); c != 0 {
			return c
		}
		if c := strings.Compare(a.FlowID, b.FlowID); c != 0 {
			return c
		}
		return strings.Compare(a.MessageID, b.MessageID)
	})
	return out
}
