package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/saltfish/backtestlab/internal/backend"
	"github.com/saltfish/backtestlab/internal/config"
	"github.com/saltfish/backtestlab/internal/db"
	"github.com/saltfish/backtestlab/internal/db/repository"
	"github.com/saltfish/backtestlab/internal/domain"
	"github.com/saltfish/backtestlab/internal/session"
)

var errUsage = errors.New("usage")

type app struct {
	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer
	client *backend.Client
}

func newApp(cfg *config.Config, logger *zap.Logger, out io.Writer) *app {
	return &app{
		cfg:    cfg,
		logger: logger,
		out:    out,
		client: backend.NewClient(backend.Options{
			BaseURL:           cfg.Backend.BaseURL,
			Timeout:           cfg.Backend.Timeout(),
			RequestsPerSecond: cfg.Backend.RequestsPerSecond,
			MaxRetries:        cfg.Backend.MaxRetries,
			RetryMaxElapsed:   cfg.Backend.RetryMaxElapsedDuration(),
		}, logger),
	}
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "serve":
		return a.serve(ctx)
	case "options":
		return a.options(ctx)
	case "backtest":
		return a.submit(ctx, domain.ModeSingle, args)
	case "optimize":
		return a.submit(ctx, domain.ModeOptimize, args)
	case "upload":
		return a.upload(ctx, args)
	case "bot":
		return a.bot(ctx, args)
	case "trades":
		trades, err := a.client.Trades(ctx)
		if err != nil {
			return err
		}
		return a.printJSON(trades)
	case "stats":
		stats, err := a.client.PerformanceStats(ctx)
		if err != nil {
			return err
		}
		return a.printJSON(stats)
	case "runs":
		return a.runs(ctx, args)
	}
	return errUsage
}

func (a *app) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(data))
	return err
}

func (a *app) newSession() *session.Session {
	return session.New(session.ConfigFrom(&a.cfg.Session), a.client, nil, nil, a.logger)
}

// loadSession fetches the option lists and waits for the dependent fetches.
func (a *app) loadSession(ctx context.Context, sess *session.Session) error {
	if err := sess.Load(ctx); err != nil {
		if msg := sess.Error(); msg != "" {
			return errors.New(msg)
		}
		return err
	}
	return a.settle(ctx, sess)
}

// settle waits for outstanding option fetches and surfaces their failure.
func (a *app) settle(ctx context.Context, sess *session.Session) error {
	if err := sess.WaitIdle(ctx); err != nil {
		return err
	}
	if msg := sess.Error(); msg != "" {
		return errors.New(msg)
	}
	return nil
}

type optionsOutput struct {
	domain.Options
	Selection domain.Selection      `json:"defaults"`
	Params    []domain.ParameterDef `json:"params"`
}

func (a *app) options(ctx context.Context) error {
	sess := a.newSession()
	defer sess.Dispose()

	if err := a.loadSession(ctx, sess); err != nil {
		return err
	}
	st := sess.Snapshot()
	return a.printJSON(optionsOutput{Options: st.Options, Selection: st.Selection, Params: st.Params})
}

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

type submitFlags struct {
	exchange, market, timeframe, strategy string
	start, end                            string
	params, ranges                        multiFlag
	top                                   int
	raw                                   bool
}

func parseSubmitFlags(mode domain.Mode, args []string) (*submitFlags, error) {
	f := &submitFlags{}
	fs := flag.NewFlagSet(mode.String(), flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&f.exchange, "exchange", "", "exchange (default: first offered)")
	fs.StringVar(&f.market, "market", "", "market symbol")
	fs.StringVar(&f.timeframe, "timeframe", "", "candle timeframe")
	fs.StringVar(&f.strategy, "strategy", "", "strategy name (default: first offered)")
	fs.StringVar(&f.start, "start", "", "start date YYYY-MM-DD")
	fs.StringVar(&f.end, "end", "", "end date YYYY-MM-DD")
	fs.Var(&f.params, "param", "parameter value name=value (repeatable)")
	fs.Var(&f.ranges, "range", "sweep range name=start:end:step (repeatable)")
	fs.IntVar(&f.top, "top", 0, "rows of optimization results to print (default: display limit)")
	fs.BoolVar(&f.raw, "json", false, "print the full result as JSON")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%s: %w", mode, err)
	}
	return f, nil
}

// parseParam splits name=value.
func parseParam(s string) (string, string, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return "", "", fmt.Errorf("invalid -param %q: want name=value", s)
	}
	return name, value, nil
}

// parseRange splits name=start:end:step. Empty fields are left unchanged.
func parseRange(s string) (string, map[domain.RangeField]string, error) {
	name, triple, ok := strings.Cut(s, "=")
	parts := strings.Split(triple, ":")
	if !ok || name == "" || len(parts) != 3 {
		return "", nil, fmt.Errorf("invalid -range %q: want name=start:end:step", s)
	}
	fields := map[domain.RangeField]string{}
	for i, f := range []domain.RangeField{domain.RangeFieldStart, domain.RangeFieldEnd, domain.RangeFieldStep} {
		if parts[i] != "" {
			fields[f] = parts[i]
		}
	}
	return name, fields, nil
}

// apply pushes the flags through the session setters in cascade order.
func (f *submitFlags) apply(ctx context.Context, a *app, sess *session.Session) error {
	if f.exchange != "" {
		if err := sess.SetExchange(f.exchange); err != nil {
			return err
		}
	}
	if f.strategy != "" {
		if err := sess.SetStrategy(f.strategy); err != nil {
			return err
		}
	}
	if err := a.settle(ctx, sess); err != nil {
		return err
	}

	if f.market != "" {
		if err := sess.SetMarket(f.market); err != nil {
			return err
		}
	}
	if f.timeframe != "" {
		if err := sess.SetTimeframe(f.timeframe); err != nil {
			return err
		}
	}
	if f.start != "" || f.end != "" {
		sel := sess.Selection()
		start, end := sel.StartDate, sel.EndDate
		if f.start != "" {
			start = f.start
		}
		if f.end != "" {
			end = f.end
		}
		if err := sess.SetDates(start, end); err != nil {
			return err
		}
	}

	for _, p := range f.params {
		name, value, err := parseParam(p)
		if err != nil {
			return err
		}
		if err := sess.SetParamValue(name, value); err != nil {
			return err
		}
	}
	for _, r := range f.ranges {
		name, fields, err := parseRange(r)
		if err != nil {
			return err
		}
		for field, value := range fields {
			if err := sess.SetParamRange(name, field, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *app) submit(ctx context.Context, mode domain.Mode, args []string) error {
	f, err := parseSubmitFlags(mode, args)
	if err != nil {
		return err
	}

	sess := a.newSession()
	defer sess.Dispose()

	if err := a.loadSession(ctx, sess); err != nil {
		return err
	}
	if err := sess.SetMode(mode); err != nil {
		return err
	}
	if err := f.apply(ctx, a, sess); err != nil {
		return err
	}
	if err := sess.Submit(); err != nil {
		return err
	}

	started := time.Now()
	if err := a.await(ctx, sess); err != nil {
		return err
	}
	a.logger.Debug("Run finished", zap.Duration("elapsed", time.Since(started)))

	st := sess.Snapshot()
	if st.Status == domain.RunStatusFailed {
		return errors.New(st.Error)
	}
	if mode == domain.ModeSingle {
		return a.printJSON(st.SingleResult)
	}
	if st.Error != "" {
		return errors.New(st.Error)
	}
	if f.raw {
		return a.printJSON(sess.OptimizationResults())
	}
	items := st.TopResults
	if f.top > 0 {
		items = sess.OptimizationResults().Top(f.top)
	}
	return a.printTop(items)
}

// await blocks until the submission ends, logging sweep progress.
func (a *app) await(ctx context.Context, sess *session.Session) error {
	done := sess.Done()
	lastProgress := -1
	for {
		changed := sess.Changes()
		if job := sess.Job(); job != nil && job.Progress != lastProgress {
			lastProgress = job.Progress
			a.logger.Info("Optimization progress",
				zap.String("job_id", job.JobID),
				zap.String("status", job.Status.String()),
				zap.Int("progress", job.Progress),
				zap.Int("total_runs", job.TotalRuns),
			)
		}
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// printTop renders optimization rows as a table with parameter columns.
func (a *app) printTop(items []domain.OptimizationResultItem) error {
	nameSet := map[string]bool{}
	for _, it := range items {
		for k := range it.Params {
			nameSet[k] = true
		}
	}
	names := make([]string, 0, len(nameSet))
	for k := range nameSet {
		names = append(names, k)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprint(tw, "#\tRETURN %\tWIN RATE %\tMAX DD %")
	for _, n := range names {
		fmt.Fprintf(tw, "\t%s", strings.ToUpper(n))
	}
	fmt.Fprintln(tw)
	for i, it := range items {
		fmt.Fprintf(tw, "%d\t%.2f\t%.2f\t%.2f", i+1, it.TotalReturn, it.WinRate, it.MaxDrawdown)
		for _, n := range names {
			fmt.Fprintf(tw, "\t%v", it.Params[n])
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func (a *app) upload(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	file, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer file.Close()

	resp, err := a.client.UploadStrategy(ctx, args[0], file)
	if err != nil {
		return err
	}
	return a.printJSON(resp)
}

func (a *app) bot(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	var (
		v   any
		err error
	)
	switch args[0] {
	case "status":
		v, err = a.client.BotStatus(ctx)
	case "start":
		v, err = a.client.StartBot(ctx)
	case "stop":
		v, err = a.client.StopBot(ctx)
	default:
		return errUsage
	}
	if err != nil {
		return err
	}
	return a.printJSON(v)
}

func (a *app) runs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	mode := fs.String("mode", "", "filter by mode")
	status := fs.String("status", "", "filter by status")
	page := fs.Int("page", 1, "page number")
	pageSize := fs.Int("page-size", 20, "page size")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("runs: %w", err)
	}
	if !a.cfg.Database.Enabled {
		return errors.New("run journal requires database.enabled")
	}

	query := domain.RunQuery{Page: *page, PageSize: *pageSize}
	if *mode != "" {
		m := domain.Mode(*mode)
		if !m.IsValid() {
			return domain.NewFieldError("mode", "must be one of single, optimize")
		}
		query.Mode = &m
	}
	if *status != "" {
		s := domain.RunStatus(*status)
		if !s.IsValid() {
			return domain.NewFieldError("status", "unknown run status")
		}
		query.Status = &s
	}

	pool, err := db.NewPool(ctx, &a.cfg.Database, a.logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := repository.NewRunRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}
	runs, total, err := repo.List(ctx, query)
	if err != nil {
		return err
	}
	query.SetDefaults()
	return a.printJSON(map[string]any{
		"runs":       runs,
		"pagination": domain.NewPaginationResponse(total, query.Page, query.PageSize),
	})
}
