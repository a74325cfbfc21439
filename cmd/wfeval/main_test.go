package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/apex/log"
	"github.com/google/go-cmp/cmp"
	"github.com/wfeval/wfeval/internal/config"
	"github.com/wfeval/wfeval/internal/model"
)

func TestLogHandler(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := &log.Logger{Level: log.DebugLevel, Handler: &logHandler{Writer: buf}}
	logger.WithField("url", "https://example.com/").Warn("empty capture")
	out := buf.String()
	if !strings.Contains(out, "empty capture") || !strings.Contains(out, "url") {
		t.Fatal("unexpected output", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatal("expected a newline")
	}
}

func TestApplyRunFlags(t *testing.T) {
	var opts globalOptions
	cmd := newRunCommand(&opts)
	err := cmd.ParseFlags([]string{"--mode", "dynamic", "--dyn-max", "30", "--quic-only=false", "--levels", "0,20"})
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.New()
	cfg.Namespace = "fromfile"
	var ro runOptions
	// the flags are bound to the options of the command, so we
	// read them back through the flag set
	ro.Mode, _ = cmd.Flags().GetString("mode")
	ro.DynMax, _ = cmd.Flags().GetInt64("dyn-max")
	ro.QUICOnly, _ = cmd.Flags().GetBool("quic-only")
	ro.Levels, _ = cmd.Flags().GetIntSlice("levels")
	applyRunFlags(cmd, &ro, cfg)

	if cfg.Mode != "dynamic" || cfg.Dynamic.MaxProb != 30 || cfg.Network.QUICOnly {
		t.Fatal("flags not applied", cfg)
	}
	if diff := cmp.Diff([]int{0, 20}, cfg.Levels); diff != "" {
		t.Fatal(diff)
	}
	// flags not set on the command line do not override the file
	if cfg.Namespace != "fromfile" || cfg.Dynamic.MinPPS != 1000 {
		t.Fatal("unexpected override", cfg)
	}
}

func TestNewPlan(t *testing.T) {
	cfg := config.New()
	cfg.URLs = []string{"https://a.example/", "https://b.example/"}
	plan, err := newPlan(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Mode != model.ModeFixed || plan.NumTrials() != 5*10*2 || plan.Seed != 123 {
		t.Fatal("unexpected plan", plan)
	}

	cfg.URLs = nil
	if _, err := newPlan(cfg); err == nil {
		t.Fatal("expected an error without URLs")
	}
}

func TestProgressObserver(t *testing.T) {
	buf := &bytes.Buffer{}
	po := &progressObserver{writer: buf}
	po.OnTrialRecorded(&model.Trial{}) // before any group: no-op
	po.OnGroupStart(&model.InjectorConfig{Mode: model.ModeFixed, Probability: 5}, 2)
	po.OnTrialRecorded(&model.Trial{})
	po.OnTrialRecorded(&model.Trial{})
	po.OnGroupStart(&model.InjectorConfig{Mode: model.ModeOff}, 1)
	po.finish()
	if !strings.Contains(buf.String(), "fixed prob=5%") {
		t.Fatal("unexpected output", buf.String())
	}
}

func TestOkOrFail(t *testing.T) {
	if okOrFail(true) != "OK" || okOrFail(false) != "FAIL" {
		t.Fatal("unexpected")
	}
}
