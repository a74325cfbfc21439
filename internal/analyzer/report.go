package analyzer

//
// report.go - CSV reports.
//

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/wfeval/wfeval/internal/fsx"
	"github.com/wfeval/wfeval/internal/ledger"
	"github.com/wfeval/wfeval/internal/model"
)

const (
	// SummaryFile is the per-trial summary table.
	SummaryFile = "summary.csv"

	// IATUpFile is the uplink inter-arrival table.
	IATUpFile = "iat_up.csv"

	// IATDownFile is the downlink inter-arrival table.
	IATDownFile = "iat_down.csv"
)

// SummaryColumns contains the columns appended to [ledger.Columns].
var SummaryColumns = []string{"bytes_up", "bytes_down", "pkt_up", "pkt_down", "duration_s"}

// IATColumns contains the columns of the inter-arrival tables.
var IATColumns = []string{"mode", "url", "level", "repetition", "iat_s"}

// WriteReport writes the summary and the inter-arrival tables into dir.
// The output only depends on the input, so running twice over the same
// ledger and captures produces identical files.
func WriteReport(dir string, metrics []*model.FlowMetrics) error {
	if err := fsx.MkdirAll(dir); err != nil {
		return errors.Wrap(err, "creating report dir")
	}
	summary := [][]string{append(append([]string{}, ledger.Columns...), SummaryColumns...)}
	iatUp := [][]string{IATColumns}
	iatDown := [][]string{IATColumns}
	for _, fm := range metrics {
		row := ledger.Row(fm.Trial)
		row = append(row,
			strconv.FormatInt(fm.BytesUp, 10),
			strconv.FormatInt(fm.BytesDown, 10),
			strconv.FormatInt(fm.PacketsUp, 10),
			strconv.FormatInt(fm.PacketsDown, 10),
			seconds(fm.Duration),
		)
		summary = append(summary, row)
		iatUp = appendIAT(iatUp, fm.Trial, fm.IATUp)
		iatDown = appendIAT(iatDown, fm.Trial, fm.IATDown)
	}
	tables := []struct {
		name string
		rows [][]string
	}{
		{SummaryFile, summary},
		{IATUpFile, iatUp},
		{IATDownFile, iatDown},
	}
	for _, table := range tables {
		if err := writeCSV(filepath.Join(dir, table.name), table.rows); err != nil {
			return errors.Wrapf(err, "writing %s", table.name)
		}
	}
	return nil
}

func appendIAT(rows [][]string, trial *model.Trial, iat []time.Duration) [][]string {
	for _, gap := range iat {
		rows = append(rows, []string{
			trial.Mode.String(),
			trial.URL,
			trial.Level.String(),
			strconv.Itoa(trial.Repetition),
			seconds(gap),
		})
	}
	return rows
}

func seconds(d time.Duration) string {
	return ledger.FormatFloat(d.Seconds())
}

func writeCSV(pathname string, rows [][]string) error {
	file, err := os.Create(pathname)
	if err != nil {
		return err
	}
	writer := csv.NewWriter(file)
	if err := writer.WriteAll(rows); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
