// Package journal implements the perch-events maintenance command: journal
// integrity checks and ad-hoc event listing over the events database.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/perch-reviews/perch/internal/domain/comment"
	"github.com/perch-reviews/perch/internal/domain/event"
	"github.com/perch-reviews/perch/internal/domain/review"
	"github.com/perch-reviews/perch/internal/storage"
	"github.com/perch-reviews/perch/internal/storage/sqlite"
)

// Config holds journal command configuration.
type Config struct {
	EventsDBPath string
	Timeout      time.Duration
	Verify       bool
	List         bool
	Filter       string
	PageSize     int
	PageToken    string
	AggregateID  string
	AfterSeq     uint64
	JSONOutput   bool
}

type envConfig struct {
	EventsDBPath string        `env:"PERCH_EVENTS_DB_PATH"`
	Timeout      time.Duration `env:"PERCH_JOURNAL_TIMEOUT" envDefault:"10m"`
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var envCfg envConfig
	if err := env.Parse(&envCfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{
		EventsDBPath: envCfg.EventsDBPath,
		Timeout:      envCfg.Timeout,
	}
	if cfg.EventsDBPath == "" {
		cfg.EventsDBPath = filepath.Join("data", "perch-events.db")
	}

	fs.StringVar(&cfg.EventsDBPath, "events-db-path", cfg.EventsDBPath, "path to events sqlite database (default: PERCH_EVENTS_DB_PATH or data/perch-events.db)")
	fs.BoolVar(&cfg.Verify, "verify", false, "check every journal for sequence gaps")
	fs.BoolVar(&cfg.List, "list", false, "list events across all journals, newest first")
	fs.StringVar(&cfg.Filter, "filter", "", `optional list filter, e.g. type = "dataset_review.started" AND author_id = "u-1"`)
	fs.IntVar(&cfg.PageSize, "page-size", 50, "events per page for -list")
	fs.StringVar(&cfg.PageToken, "page-token", "", "resume -list from a previous page token")
	fs.StringVar(&cfg.AggregateID, "aggregate-id", "", "dump a single journal in sequence order")
	fs.Uint64Var(&cfg.AfterSeq, "after-seq", 0, "start the -aggregate-id dump after this sequence")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output events as JSON lines")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the journal command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}

	modes := 0
	for _, on := range []bool{cfg.Verify, cfg.List, cfg.AggregateID != ""} {
		if on {
			modes++
		}
	}
	if modes == 0 {
		return errors.New("one of -verify, -list, or -aggregate-id is required")
	}
	if modes > 1 {
		return errors.New("-verify, -list, and -aggregate-id are mutually exclusive")
	}

	registry := event.NewRegistry()
	if err := review.RegisterEvents(registry); err != nil {
		return fmt.Errorf("register review events: %w", err)
	}
	if err := comment.RegisterEvents(registry); err != nil {
		return fmt.Errorf("register comment events: %w", err)
	}

	store, err := sqlite.Open(cfg.EventsDBPath, registry)
	if err != nil {
		return fmt.Errorf("open events db: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			fmt.Fprintf(errOut, "close events db: %v\n", closeErr)
		}
	}()

	switch {
	case cfg.Verify:
		return runVerify(ctx, store, out)
	case cfg.List:
		return runList(ctx, store, cfg, out)
	default:
		return runDump(ctx, store, cfg, out)
	}
}

func runVerify(ctx context.Context, store *sqlite.Store, out io.Writer) error {
	if err := store.VerifyJournal(ctx); err != nil {
		return fmt.Errorf("verify journal: %w", err)
	}
	fmt.Fprintln(out, "journal OK")
	return nil
}

func runList(ctx context.Context, store *sqlite.Store, cfg Config, out io.Writer) error {
	req := storage.ListEventsPageRequest{
		PageSize:  cfg.PageSize,
		PageToken: cfg.PageToken,
	}
	if cfg.Filter != "" {
		condition, err := sqlite.ParseEventFilter(cfg.Filter)
		if err != nil {
			return fmt.Errorf("parse filter: %w", err)
		}
		req.FilterClause = condition.Clause
		req.FilterParams = condition.Params
	}

	page, err := store.ListEventsPage(ctx, req)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	for _, evt := range page.Events {
		if err := printEvent(out, evt, cfg.JSONOutput); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "%d of %d events\n", len(page.Events), page.TotalSize)
	if page.NextPageToken != "" {
		fmt.Fprintf(out, "next page: -page-token %s\n", page.NextPageToken)
	}
	return nil
}

func runDump(ctx context.Context, store *sqlite.Store, cfg Config, out io.Writer) error {
	events, err := store.ListEvents(ctx, cfg.AggregateID, cfg.AfterSeq, 0)
	if err != nil {
		return fmt.Errorf("list journal %s: %w", cfg.AggregateID, err)
	}
	if len(events) == 0 {
		return fmt.Errorf("no events for aggregate %s", cfg.AggregateID)
	}

	for _, evt := range events {
		if err := printEvent(out, evt, cfg.JSONOutput); err != nil {
			return err
		}
	}
	return nil
}

type eventLine struct {
	AggregateID string          `json:"aggregateId"`
	Seq         uint64          `json:"seq"`
	Timestamp   time.Time       `json:"timestamp"`
	Type        event.Type      `json:"type"`
	AuthorID    string          `json:"authorId"`
	SubjectID   string          `json:"subjectId,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

func printEvent(out io.Writer, evt event.Event, asJSON bool) error {
	if asJSON {
		line, err := json.Marshal(eventLine{
			AggregateID: evt.AggregateID,
			Seq:         evt.Seq,
			Timestamp:   evt.Timestamp,
			Type:        evt.Type,
			AuthorID:    evt.AuthorID,
			SubjectID:   evt.SubjectID,
			Payload:     json.RawMessage(evt.PayloadJSON),
		})
		if err != nil {
			return fmt.Errorf("marshal event %s/%d: %w", evt.AggregateID, evt.Seq, err)
		}
		fmt.Fprintln(out, string(line))
		return nil
	}

	fmt.Fprintf(out, "%s  %s#%d  %s  author=%s subject=%s\n",
		evt.Timestamp.UTC().Format(time.RFC3339), evt.AggregateID, evt.Seq, evt.Type, evt.AuthorID, evt.SubjectID)
	return nil
}
