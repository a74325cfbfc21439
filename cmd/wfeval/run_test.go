package main

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wfeval/wfeval/internal/ledger"
	"github.com/wfeval/wfeval/internal/model"
)

func TestOpenLedger(t *testing.T) {
	first := &model.Trial{
		TrialID: model.TrialID{Mode: model.ModeFixed, Level: 5, Repetition: 1, URL: "https://a.example/"},
		Outcome: model.Success(),
	}
	second := &model.Trial{
		TrialID: model.TrialID{Mode: model.ModeFixed, Level: 5, Repetition: 1, URL: "https://b.example/"},
		Outcome: model.Success(),
	}

	t.Run("resuming continues the existing ledger", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.csv")
		recorder, completed, err := openLedger(path, false)
		if err != nil {
			t.Fatal(err)
		}
		if completed != nil {
			t.Fatal("expected no completed trials", completed)
		}
		if err := recorder.Append(first); err != nil {
			t.Fatal(err)
		}
		recorder.Close()

		recorder, completed, err = openLedger(path, true)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(map[model.TrialID]bool{first.TrialID: true}, completed); diff != "" {
			t.Fatal(diff)
		}
		if err := recorder.Append(second); err != nil {
			t.Fatal(err)
		}
		recorder.Close()

		trials, err := ledger.ReadAll(path)
		if err != nil {
			t.Fatal(err)
		}
		if len(trials) != 2 || trials[0].URL != first.URL || trials[1].URL != second.URL {
			t.Fatal("unexpected ledger", trials)
		}
	})

	t.Run("resuming without a ledger starts a new one", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.csv")
		recorder, completed, err := openLedger(path, true)
		if err != nil {
			t.Fatal(err)
		}
		defer recorder.Close()
		if len(completed) != 0 {
			t.Fatal("expected no completed trials", completed)
		}
	})

	t.Run("not resuming truncates the ledger", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.csv")
		recorder, _, err := openLedger(path, false)
		if err != nil {
			t.Fatal(err)
		}
		recorder.Append(first)
		recorder.Close()
		recorder, _, err = openLedger(path, false)
		if err != nil {
			t.Fatal(err)
		}
		recorder.Close()
		trials, err := ledger.ReadAll(path)
		if err != nil {
			t.Fatal(err)
		}
		if len(trials) != 0 {
			t.Fatal("expected an empty ledger", trials)
		}
	})
}
