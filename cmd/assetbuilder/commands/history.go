package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	"git.home.luguber.info/inful/assetbuilder/internal/eventstore"
	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	RunID string        `arg:"" optional:"" name:"run-id" help:"Show the events of this run"`
	Limit int           `help:"Maximum number of runs to list" default:"20"`
	Since time.Duration `help:"Only list runs with events newer than this" default:"168h"`
}

func (h *HistoryCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	return RunHistory(context.Background(), g.out(), cfg, h)
}

// RunHistory lists recent runs, or the events of one run.
func RunHistory(ctx context.Context, w io.Writer, cfg *config.Config, h *HistoryCmd) error {
	if cfg.History.DBPath == "" {
		return foundationerrors.ConfigError("history is not configured").
			WithContext("field", "history.db_path").
			Build()
	}
	store, err := eventstore.NewSQLiteStore(cfg.History.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if h.RunID != "" {
		return writeRunEvents(ctx, w, store, h.RunID)
	}

	var since time.Time
	if h.Since > 0 {
		since = time.Now().Add(-h.Since)
	}
	runs, err := eventstore.ListRuns(ctx, store, since, h.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "No runs recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN\tCOMMAND\tENV\tBUILD\tSTATUS\tSTARTED\tDURATION\tPUBLISHED")
	for _, r := range runs {
		duration := "-"
		if r.Completed {
			duration = r.Duration().Round(time.Millisecond).String()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			r.RunID, r.Command, r.Environment, r.BuildNumber, r.Status(),
			r.Started.Local().Format(time.DateTime), duration, r.Published)
	}
	return tw.Flush()
}

func writeRunEvents(ctx context.Context, w io.Writer, store eventstore.Store, runID string) error {
	events, err := store.GetByRunID(ctx, runID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return foundationerrors.ValidationError("no events recorded for run").
			WithContext("run_id", runID).
			Build()
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tEVENT\tPAYLOAD")
	for _, e := range events {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Timestamp().Local().Format(time.DateTime), e.Type(), e.Payload())
	}
	return tw.Flush()
}
