// Package ledger implements the crash-safe CSV ledger of a run.
//
// Each recorded trial is one row. We flush and fsync after each row so
// that an interrupted run leaves a valid ledger behind.
package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/wfeval/wfeval/internal/model"
)

// Columns contains the ledger header.
var Columns = []string{
	"mode",
	"level",
	"url",
	"repetition",
	"capture_path",
	"timing_metric_ms",
	"wall_start",
	"wall_end",
	"dyn_max_prob",
	"dyn_min_pps",
	"dyn_max_pps",
	"outcome",
}

// Recorder appends trials to a ledger file.
type Recorder struct {
	file   *os.File
	mu     sync.Mutex
	writer *csv.Writer
}

// Create creates a new ledger at path, truncating any existing file,
// and writes the header.
func Create(path string) (*Recorder, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "creating ledger")
	}
	r := &Recorder{file: file, writer: csv.NewWriter(file)}
	if err := r.writeRow(Columns); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "writing ledger header")
	}
	return r, nil
}

// ErrHeaderMismatch indicates that an existing ledger has a different header.
var ErrHeaderMismatch = errors.New("ledger header mismatch")

// OpenAppend opens an existing ledger for appending after checking that
// its header matches [Columns]. A missing or empty file is created.
func OpenAppend(path string) (*Recorder, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "opening ledger")
	}
	header, err := csv.NewReader(file).Read()
	switch {
	case errors.Is(err, io.EOF):
		r := &Recorder{file: file, writer: csv.NewWriter(file)}
		if err := r.writeRow(Columns); err != nil {
			file.Close()
			return nil, errors.Wrap(err, "writing ledger header")
		}
		return r, nil
	case err != nil:
		file.Close()
		return nil, errors.Wrap(err, "reading ledger header")
	}
	if !sameHeader(header, Columns) {
		file.Close()
		return nil, errors.Wrapf(ErrHeaderMismatch, "%s", path)
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "seeking ledger")
	}
	return &Recorder{file: file, writer: csv.NewWriter(file)}, nil
}

func sameHeader(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for idx := range a {
		if a[idx] != b[idx] {
			return false
		}
	}
	return true
}

// Append writes the trial as a single durable row.
func (r *Recorder) Append(trial *model.Trial) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Wrap(r.writeRow(encodeTrial(trial)), "appending to ledger")
}

func (r *Recorder) writeRow(row []string) error {
	if err := r.writer.Write(row); err != nil {
		return err
	}
	r.writer.Flush()
	if err := r.writer.Error(); err != nil {
		return err
	}
	return r.file.Sync()
}

// Path returns the ledger path.
func (r *Recorder) Path() string {
	return r.file.Name()
}

// Close closes the ledger.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

// FormatTime formats t as fractional seconds since the epoch.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

// ParseTime is the inverse of [FormatTime].
func ParseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(int64(secs*1e6 + 0.5)).UTC(), nil
}

// FormatFloat formats a float deterministically using the shortest
// representation that round trips.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func encodeTrial(t *model.Trial) []string {
	var maxProb, minPPS, maxPPS string
	if t.Dynamic != nil {
		maxProb = strconv.FormatInt(t.Dynamic.MaxProb, 10)
		minPPS = strconv.FormatInt(t.Dynamic.MinPPS, 10)
		maxPPS = strconv.FormatInt(t.Dynamic.MaxPPS, 10)
	}
	return []string{
		t.Mode.String(),
		t.Level.String(),
		t.URL,
		strconv.Itoa(t.Repetition),
		t.CapturePath,
		FormatFloat(t.TimingMetricMs),
		FormatTime(t.WallStart),
		FormatTime(t.WallEnd),
		maxProb,
		minPPS,
		maxPPS,
		t.Outcome.String(),
	}
}

// Row returns the ledger row of a trial, which is useful to build
// reports that extend the ledger columns.
func Row(t *model.Trial) []string {
	return encodeTrial(t)
}

// legacyColumns maps the column names of older ledgers to [Columns].
var legacyColumns = map[string]string{
	"rep":          "repetition",
	"pcap":         "capture_path",
	"plt_ms":       "timing_metric_ms",
	"t_wall_start": "wall_start",
	"t_wall_end":   "wall_end",
}

// ReadAll reads all the trials of a ledger.
func ReadAll(path string) ([]*model.Trial, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening ledger")
	}
	defer file.Close()
	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "reading ledger header")
	}
	index := make(map[string]int)
	for idx, name := range header {
		if canonical, ok := legacyColumns[name]; ok {
			name = canonical
		}
		index[name] = idx
	}
	for _, required := range []string{"mode", "level", "url", "repetition", "capture_path"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("ledger: missing column %q", required)
		}
	}
	var trials []*model.Trial
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return trials, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading ledger line %d", line)
		}
		get := func(name string) string {
			if idx, ok := index[name]; ok && idx < len(record) {
				return record[idx]
			}
			return ""
		}
		trial, err := decodeTrial(get)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing ledger line %d", line)
		}
		trials = append(trials, trial)
	}
}

func decodeTrial(get func(string) string) (*model.Trial, error) {
	mode, err := model.ParseMode(get("mode"))
	if err != nil {
		return nil, err
	}
	level, err := strconv.Atoi(get("level"))
	if err != nil {
		return nil, err
	}
	rep, err := strconv.Atoi(get("repetition"))
	if err != nil {
		return nil, err
	}
	t := &model.Trial{
		TrialID: model.TrialID{
			Mode:       mode,
			Level:      model.Level(level),
			Repetition: rep,
			URL:        get("url"),
		},
		CapturePath: get("capture_path"),
		Outcome:     model.ParseOutcome(get("outcome")),
	}
	if v := get("timing_metric_ms"); v != "" {
		if t.TimingMetricMs, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, err
		}
	}
	if t.WallStart, err = ParseTime(get("wall_start")); err != nil {
		return nil, err
	}
	if t.WallEnd, err = ParseTime(get("wall_end")); err != nil {
		return nil, err
	}
	if get("dyn_max_prob") != "" {
		var p model.DynamicParams
		if p.MaxProb, err = strconv.ParseInt(get("dyn_max_prob"), 10, 64); err != nil {
			return nil, err
		}
		if p.MinPPS, err = strconv.ParseInt(get("dyn_min_pps"), 10, 64); err != nil {
			return nil, err
		}
		if p.MaxPPS, err = strconv.ParseInt(get("dyn_max_pps"), 10, 64); err != nil {
			return nil, err
		}
		t.Dynamic = &p
	}
	return t, nil
}
