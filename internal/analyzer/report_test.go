package analyzer

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/wfeval/wfeval/internal/ledger"
	"github.com/wfeval/wfeval/internal/model"
)

func readCSV(t *testing.T, pathname string) [][]string {
	data, err := os.ReadFile(pathname)
	if err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return records
}

func testMetrics() []*model.FlowMetrics {
	wallStart := time.Unix(1714564800, 250000000)
	return []*model.FlowMetrics{{
		Trial: &model.Trial{
			TrialID: model.TrialID{
				Mode:       model.ModeFixed,
				Level:      5,
				Repetition: 1,
				URL:        "https://a.example/",
			},
			CapturePath:    "/tmp/pcaps/lvl5_rep1_https_a.example__20240501T120000.pcap",
			TimingMetricMs: 812.5,
			WallStart:      wallStart,
			WallEnd:        wallStart.Add(6 * time.Second),
		},
		BytesUp:     200,
		BytesDown:   200,
		PacketsUp:   2,
		PacketsDown: 1,
		Duration:    20 * time.Millisecond,
		IATUp:       []time.Duration{10 * time.Millisecond},
	}, {
		Trial: &model.Trial{
			TrialID: model.TrialID{
				Mode:       model.ModeDynamic,
				Level:      model.LevelDynamic,
				Repetition: 2,
				URL:        "https://b.example/",
			},
			Dynamic: &model.DynamicParams{MaxProb: 50, MinPPS: 1000, MaxPPS: 100000},
			Outcome: model.Degraded("empty capture"),
		},
		IATDown: []time.Duration{time.Millisecond, 2500 * time.Microsecond},
	}}
}

func TestWriteReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "report")
	if err := WriteReport(dir, testMetrics()); err != nil {
		t.Fatal(err)
	}

	summary := readCSV(t, filepath.Join(dir, SummaryFile))
	if len(summary) != 3 {
		t.Fatal("expected a header and two rows", len(summary))
	}
	expectHeader := append(append([]string{}, ledger.Columns...), SummaryColumns...)
	if diff := cmp.Diff(expectHeader, summary[0]); diff != "" {
		t.Fatal(diff)
	}
	expectTail := []string{"200", "200", "2", "1", "0.02"}
	if diff := cmp.Diff(expectTail, summary[1][len(ledger.Columns):]); diff != "" {
		t.Fatal(diff)
	}
	if summary[2][1] != "-1" || summary[2][len(ledger.Columns)-1] != "degraded: empty capture" {
		t.Fatal("unexpected dynamic row", summary[2])
	}

	expectUp := [][]string{IATColumns, {"fixed", "https://a.example/", "5", "1", "0.01"}}
	if diff := cmp.Diff(expectUp, readCSV(t, filepath.Join(dir, IATUpFile))); diff != "" {
		t.Fatal(diff)
	}
	expectDown := [][]string{
		IATColumns,
		{"dynamic", "https://b.example/", "-1", "2", "0.001"},
		{"dynamic", "https://b.example/", "-1", "2", "0.0025"},
	}
	if diff := cmp.Diff(expectDown, readCSV(t, filepath.Join(dir, IATDownFile))); diff != "" {
		t.Fatal(diff)
	}
}

func TestWriteReportIsDeterministic(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	if err := WriteReport(first, testMetrics()); err != nil {
		t.Fatal(err)
	}
	if err := WriteReport(second, testMetrics()); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{SummaryFile, IATUpFile, IATDownFile} {
		a, err := os.ReadFile(filepath.Join(first, name))
		if err != nil {
			t.Fatal(err)
		}
		b, err := os.ReadFile(filepath.Join(second, name))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(a, b) {
			t.Fatal("files differ", name)
		}
	}
}

func TestWriteReportWithNoTrials(t *testing.T) {
	dir := t.TempDir()
	if err := WriteReport(dir, nil); err != nil {
		t.Fatal(err)
	}
	if records := readCSV(t, filepath.Join(dir, SummaryFile)); len(records) != 1 {
		t.Fatal("expected only the header", records)
	}
}
