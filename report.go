package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"gonum.org/v1/gonum/stat"
)

// renderResultsCSV serializes accuracy records as "index,accuracy"
// lines, no header. This is the per-rank artifact uploaded to the
// object store; downstream tooling joins the ranks back together.
func renderResultsCSV(records []accuracyRecord) []byte {
	var builder strings.Builder
	for i, r := range records {
		if i > 0 {
			builder.WriteByte('\n')
		}
		builder.WriteString(strconv.FormatInt(r.index, 10))
		builder.WriteByte(',')
		builder.WriteString(strconv.FormatFloat(r.accuracy, 'g', -1, 64))
	}
	return []byte(builder.String())
}

func resultsKey(model string, checkpoint, rank int) string {
	return fmt.Sprintf(
		"memorization-evals/memorization_%s_%d/rank-%d.csv",
		model, checkpoint, rank,
	)
}

// evalSummary aggregates one rank's accuracy records.
type evalSummary struct {
	count         int64
	mean          float64
	p50           float64
	p90           float64
	fracMemorized float64 // fraction of sequences reproduced perfectly
}

func summarize(records []accuracyRecord) evalSummary {
	if len(records) == 0 {
		return evalSummary{}
	}

	accuracies := make([]float64, len(records))
	var memorized int
	for i, r := range records {
		accuracies[i] = r.accuracy
		if r.accuracy == 1.0 {
			memorized++
		}
	}
	mean := stat.Mean(accuracies, nil)
	slices.Sort(accuracies)

	return evalSummary{
		count:         int64(len(records)),
		mean:          mean,
		p50:           stat.Quantile(0.5, stat.Empirical, accuracies, nil),
		p90:           stat.Quantile(0.9, stat.Empirical, accuracies, nil),
		fracMemorized: float64(memorized) / float64(len(records)),
	}
}

func logSummary(logger *slog.Logger, s evalSummary) {
	logger.Info(
		"evaluation summary",
		slog.Int64("sequences", s.count),
		slog.String("mean_accuracy", strconv.FormatFloat(s.mean, 'f', 4, 64)),
		slog.String("p50_accuracy", strconv.FormatFloat(s.p50, 'f', 4, 64)),
		slog.String("p90_accuracy", strconv.FormatFloat(s.p90, 'f', 4, 64)),
		slog.String("frac_memorized", strconv.FormatFloat(s.fracMemorized, 'f', 4, 64)),
	)
}

func connectToMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	// For parsing timestamps into Go time.Time objects
	if !strings.Contains(dsn, "parseTime") {
		if !strings.Contains(dsn, "?") {
			dsn += "?"
		} else {
			dsn += "&"
		}
		dsn += "parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mysql connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging mysql database: %w", err)
	}

	return db, nil
}

// insertRunSummary is the per-rank summary row. The rank column is
// backtick-quoted: RANK is a reserved word since MySQL 8.0.2 and an
// unquoted reference is a syntax error there.
const insertRunSummary = `
	INSERT INTO memorization_runs
		(run_id, model, checkpoint, ` + "`rank`" + `, num_sequences,
		 mean_accuracy, frac_memorized, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// recordRunToMySQL inserts one summary row for this rank's portion of
// the run. The per-sequence records live in the object store; the
// database only tracks run-level aggregates for dashboards.
func recordRunToMySQL(
	ctx context.Context,
	db *sql.DB,
	cfg evalConfig,
	s evalSummary,
) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning MySQL transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx, insertRunSummary,
		cfg.RunID, cfg.Model, cfg.Checkpoint, cfg.Rank,
		s.count, s.mean, s.fracMemorized, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("inserting run summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing MySQL transaction: %w", err)
	}
	return nil
}
