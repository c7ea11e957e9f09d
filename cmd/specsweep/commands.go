package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"codeberg.org/mutker/specsweep/internal/config"
	"codeberg.org/mutker/specsweep/internal/errors"
	"codeberg.org/mutker/specsweep/internal/export"
	"codeberg.org/mutker/specsweep/internal/history"
	"codeberg.org/mutker/specsweep/internal/liveplot"
	"codeberg.org/mutker/specsweep/internal/logger"
	"codeberg.org/mutker/specsweep/internal/pid"
	"codeberg.org/mutker/specsweep/internal/recipe"
	"codeberg.org/mutker/specsweep/internal/sweep"
)

// exportOnComplete writes every finished sweep, cancelled ones included,
// to the export directory.
type exportOnComplete struct {
	sweep.NopObserver

	exporter *export.Service
	formats  []export.Format
	dir      string
	log      logger.Logger
}

func (e *exportOnComplete) OnComplete(r *sweep.Result) {
	if r == nil || r.Dataset == nil || len(e.formats) == 0 {
		return
	}

	paths, err := e.exporter.ExportAll(context.Background(), r.Dataset, e.formats, e.dir, time.Now())
	for _, p := range paths {
		e.log.Info().Str("path", p).Int("samples", r.Dataset.Len()).Msg("Exported sweep")
	}
	if err != nil {
		e.log.Error().Err(err).Msg("Export failed, data kept in history")
	}
}

func historyConfig(cfg *config.Config, forceEnabled bool) history.Config {
	hc := history.DefaultConfig()
	hc.Enabled = cfg.History.Enabled || forceEnabled
	hc.DBPath = cfg.History.Database
	// backups go next to the database
	hc.BackupDir = ""
	return hc
}

// session is what run and serve share: the instance lock, the instruments
// and the sinks every completed sweep flows into.
type session struct {
	lock     *pid.File
	inst     *instruments
	archive  history.Archive
	exporter *export.Service
	log      logger.Logger
}

func openSession(ctx context.Context, cfg *config.Config, log logger.Logger) (*session, error) {
	lock, err := pid.Write("")
	if err != nil {
		return nil, err
	}

	inst, err := openInstruments(ctx, cfg, log)
	if err != nil {
		lock.Remove()
		return nil, err
	}

	archive, err := history.NewService(historyConfig(cfg, false), log.With("history"))
	if err != nil {
		inst.Close()
		lock.Remove()
		return nil, err
	}

	return &session{
		lock:     lock,
		inst:     inst,
		archive:  archive,
		exporter: export.NewService(log.With("export")),
		log:      log,
	}, nil
}

func (s *session) observers(cfg *config.Config, extra ...sweep.Observer) sweep.Observers {
	obs := sweep.Observers{
		history.NewRecorder(s.archive, s.log.With("history")),
		&exportOnComplete{
			exporter: s.exporter,
			formats:  cfg.Export.Formats,
			dir:      cfg.Export.Dir,
			log:      s.log.With("export"),
		},
	}
	return append(obs, extra...)
}

func (s *session) Close() {
	if err := s.archive.Close(); err != nil {
		s.log.Error().Err(err).Msg("Failed to close history")
	}
	if err := s.inst.Close(); err != nil {
		s.log.Error().Err(err).Msg("Failed to close instruments")
	}
	if err := s.lock.Remove(); err != nil {
		s.log.Error().Err(err).Msg("Failed to remove pid file")
	}
}

// plans returns the sweeps to run: the recipe if one is configured,
// otherwise the single range from the config.
func plans(cfg *config.Config) ([]recipe.Plan, time.Duration, error) {
	if cfg.Recipe == "" {
		return []recipe.Plan{{
			Start:   cfg.Start,
			Stop:    cfg.Stop,
			Step:    cfg.Step,
			Channel: cfg.Channel,
		}}, cfg.Settle, nil
	}

	r, err := recipe.Load(cfg.Recipe, cfg.Channel)
	if err != nil {
		return nil, 0, err
	}
	settle := cfg.Settle
	if r.Settle > 0 {
		settle = r.Settle
	}
	return r.Sweeps, settle, nil
}

func runSweeps(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	batch, settle, err := plans(cfg)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	for i, plan := range batch {
		ax, err := plan.Axis()
		if err != nil {
			return err
		}

		ctrl := sweep.New(s.inst.mono, s.inst.bind(plan.Channel),
			sweep.WithObserver(s.observers(cfg)),
			sweep.WithLogger(log.With("sweep")),
			sweep.WithSettle(settle),
			sweep.WithStepRetries(cfg.StepRetries),
		)

		log.Info().
			Str("plan", plan.String()).
			Int("index", i+1).
			Int("of", len(batch)).
			Msg("Starting sweep")

		res, err := ctrl.Run(ctx, ax)
		if err != nil {
			return err
		}
		if res.Dataset.Cancelled() {
			log.Info().Int("remaining", len(batch)-i-1).Msg("Batch cancelled")
			return nil
		}
	}

	return nil
}

func serve(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	s, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	hub := liveplot.NewBroadcaster(log.With("liveplot"))
	ctrl := sweep.New(s.inst.mono, s.inst.bind(cfg.Channel),
		sweep.WithPlotSink(hub),
		sweep.WithObserver(s.observers(cfg, hub)),
		sweep.WithLogger(log.With("sweep")),
		sweep.WithSettle(cfg.Settle),
		sweep.WithStepRetries(cfg.StepRetries),
	)

	srv := liveplot.NewServer(ctx, ctrl, hub, s.exporter, s.archive, liveplot.Defaults{
		Start: cfg.Start,
		Stop:  cfg.Stop,
		Step:  cfg.Step,
	}, log.With("http"))

	return srv.ListenAndServe(ctx, cfg.Listen)
}

func listHistory(ctx context.Context, cfg *config.Config, log logger.Logger, out io.Writer) error {
	archive, err := history.NewService(historyConfig(cfg, true), log.With("history"))
	if err != nil {
		return err
	}
	defer archive.Close()

	list, err := archive.List(ctx, 0)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tRANGE\tSTEP\tCHANNEL\tSAMPLES\tCANCELLED")
	for _, s := range list {
		fmt.Fprintf(tw, "%d\t%s\t%g-%g\t%g\t%s\t%d\t%t\n",
			s.ID, s.StartedAt.Format(time.DateTime), s.Start, s.Stop, s.Step, s.Channel, s.Samples, s.Cancelled)
	}
	return tw.Flush()
}

func exportArchived(ctx context.Context, cfg *config.Config, log logger.Logger, out io.Writer) error {
	if cfg.ID <= 0 {
		return errors.New().WithMessage(errors.ErrInvalidArgument, "export needs --id of an archived sweep")
	}

	archive, err := history.NewService(historyConfig(cfg, true), log.With("history"))
	if err != nil {
		return err
	}
	defer archive.Close()

	ds, err := archive.Load(ctx, cfg.ID)
	if err != nil {
		return err
	}

	exporter := export.NewService(log.With("export"))
	paths, err := exporter.ExportAll(ctx, ds, cfg.Export.Formats, cfg.Export.Dir, time.Now())
	for _, p := range paths {
		fmt.Fprintln(out, p)
	}
	return err
}
