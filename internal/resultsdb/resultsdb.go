// Package resultsdb stores analysis results into a SQLite database.
//
// The database is an optional export next to the CSV report: it lets
// downstream analysis join trials of many runs with SQL.
package resultsdb

import (
	"database/sql"
	"embed"
	"time"

	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/upper/db/v4"
	"github.com/upper/db/v4/adapter/sqlite"
	"github.com/wfeval/wfeval/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is a results database.
type DB struct {
	logger model.Logger
	sess   db.Session
}

// Open opens the database at path, creating it if needed, and
// runs the pending migrations.
func Open(logger model.Logger, path string) (*DB, error) {
	logger = model.ValidLoggerOrDefault(logger)
	sess, err := sqlite.Open(sqlite.ConnectionURL{
		Database: path,
		Options:  map[string]string{"_foreign_keys": "1"},
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening results database")
	}
	if err := runMigrations(logger, sess.Driver().(*sql.DB)); err != nil {
		sess.Close()
		return nil, errors.Wrap(err, "migrating results database")
	}
	return &DB{logger: logger, sess: sess}, nil
}

func runMigrations(logger model.Logger, sqldb *sql.DB) error {
	migrations := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationsFS,
		Root:       "migrations",
	}
	n, err := migrate.Exec(sqldb, "sqlite3", migrations, migrate.Up)
	if err != nil {
		return err
	}
	logger.Debugf("resultsdb: performed %d migrations", n)
	return nil
}

// Session returns the underlying session.
func (d *DB) Session() db.Session {
	return d.sess
}

// Close closes the database.
func (d *DB) Close() error {
	return d.sess.Close()
}

// CreateRun creates a new run. Saving the same run UUID twice fails.
func (d *DB) CreateRun(uuid, ledgerPath string) (*Run, error) {
	run := &Run{
		UUID:       uuid,
		LedgerPath: ledgerPath,
		CreatedAt:  time.Now().UTC(),
	}
	res, err := d.sess.Collection("runs").Insert(run)
	if err != nil {
		return nil, errors.Wrap(err, "creating run")
	}
	run.ID = res.ID().(int64)
	return run, nil
}

// SaveFlowMetrics saves the trial and its gaps in a single transaction.
func (d *DB) SaveFlowMetrics(run *Run, fm *model.FlowMetrics) (*Trial, error) {
	trial := newTrial(run, fm)
	err := d.sess.Tx(func(tx db.Session) error {
		res, err := tx.Collection("trials").Insert(trial)
		if err != nil {
			return errors.Wrap(err, "inserting trial")
		}
		trial.ID = res.ID().(int64)
		if err := insertGaps(tx, trial.ID, DirectionUp, fm.IATUp); err != nil {
			return err
		}
		return insertGaps(tx, trial.ID, DirectionDown, fm.IATDown)
	})
	if err != nil {
		return nil, errors.Wrap(err, "saving flow metrics")
	}
	return trial, nil
}

// SaveAll saves all the flow metrics into a new run.
func (d *DB) SaveAll(uuid, ledgerPath string, metrics []*model.FlowMetrics) (*Run, error) {
	run, err := d.CreateRun(uuid, ledgerPath)
	if err != nil {
		return nil, err
	}
	for _, fm := range metrics {
		if _, err := d.SaveFlowMetrics(run, fm); err != nil {
			return nil, err
		}
	}
	d.logger.Infof("resultsdb: saved %d trials of run %s", len(metrics), uuid)
	return run, nil
}

func insertGaps(tx db.Session, trialID int64, direction string, gaps []time.Duration) error {
	for idx, gap := range gaps {
		row := &Gap{
			TrialID:   trialID,
			Direction: direction,
			Seq:       int64(idx),
			IATS:      gap.Seconds(),
		}
		if _, err := tx.Collection("gaps").Insert(row); err != nil {
			return errors.Wrap(err, "inserting gap")
		}
	}
	return nil
}

func newTrial(run *Run, fm *model.FlowMetrics) *Trial {
	t := fm.Trial
	row := &Trial{
		RunID:          run.ID,
		Mode:           t.Mode.String(),
		Level:          int64(t.Level),
		URL:            t.URL,
		Repetition:     int64(t.Repetition),
		CapturePath:    t.CapturePath,
		TimingMetricMs: t.TimingMetricMs,
		WallStart:      nullTime(t.WallStart),
		WallEnd:        nullTime(t.WallEnd),
		Outcome:        t.Outcome.String(),
		BytesUp:        fm.BytesUp,
		BytesDown:      fm.BytesDown,
		PacketsUp:      fm.PacketsUp,
		PacketsDown:    fm.PacketsDown,
		DurationS:      fm.Duration.Seconds(),
	}
	if t.Dynamic != nil {
		row.DynMaxProb = sql.NullInt64{Int64: t.Dynamic.MaxProb, Valid: true}
		row.DynMinPPS = sql.NullInt64{Int64: t.Dynamic.MinPPS, Valid: true}
		row.DynMaxPPS = sql.NullInt64{Int64: t.Dynamic.MaxPPS, Valid: true}
	}
	return row
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// ListTrials returns the trials of a run in insertion order.
func (d *DB) ListTrials(run *Run) ([]Trial, error) {
	var trials []Trial
	err := d.sess.Collection("trials").Find(db.Cond{"run_id": run.ID}).OrderBy("trial_id").All(&trials)
	if err != nil {
		return nil, errors.Wrap(err, "listing trials")
	}
	return trials, nil
}

// ListGaps returns the gaps of a trial in the given direction in arrival order.
func (d *DB) ListGaps(trial *Trial, direction string) ([]Gap, error) {
	var gaps []Gap
	cond := db.Cond{"trial_id": trial.ID, "direction": direction}
	if err := d.sess.Collection("gaps").Find(cond).OrderBy("seq").All(&gaps); err != nil {
		return nil, errors.Wrap(err, "listing gaps")
	}
	return gaps, nil
}
