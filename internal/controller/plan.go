package controller

//
// plan.go - experiment plan and trial naming.
//

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wfeval/wfeval/internal/model"
)

// DefaultSeed seeds the URL shuffling of every run.
const DefaultSeed = 123

// Plan describes the trials of a run.
type Plan struct {
	// Mode is the injector mode.
	Mode model.Mode

	// Levels contains the fixed drop levels, used only by [model.ModeFixed].
	Levels []model.Level

	// Repetitions is the number of repetitions per group.
	Repetitions int

	// URLs contains the URLs to load in each repetition.
	URLs []string

	// Dynamic contains the parameters used by [model.ModeDynamic].
	Dynamic model.DynamicParams

	// Seed is the OPTIONAL shuffling seed; zero means [DefaultSeed].
	Seed int64
}

// Group is a set of trials sharing the same injector configuration.
type Group struct {
	// Injector is the injector configuration.
	Injector model.InjectorConfig

	// Level is the level we record for each trial.
	Level model.Level
}

// TagPrefix returns the prefix of the tags of the group trials.
func (g *Group) TagPrefix() string {
	switch g.Injector.Mode {
	case model.ModeFixed:
		return fmt.Sprintf("lvl%d", g.Level)
	case model.ModeDynamic:
		return "dyn"
	default:
		return "off"
	}
}

// Mode returns the mode we record for each trial.
func (g *Group) Mode() model.Mode {
	if g.Injector.IsOff() {
		return model.ModeOff
	}
	return g.Injector.Mode
}

// Groups returns the groups of the plan in execution order.
func (p *Plan) Groups() []Group {
	switch p.Mode {
	case model.ModeFixed:
		var groups []Group
		for _, level := range p.Levels {
			groups = append(groups, Group{
				Injector: model.InjectorConfig{Mode: model.ModeFixed, Probability: level},
				Level:    level,
			})
		}
		return groups
	case model.ModeDynamic:
		return []Group{{
			Injector: model.InjectorConfig{Mode: model.ModeDynamic, Dynamic: p.Dynamic},
			Level:    model.LevelDynamic,
		}}
	default:
		return []Group{{
			Injector: model.InjectorConfig{Mode: model.ModeOff},
			Level:    model.LevelOff,
		}}
	}
}

// NumTrials returns the number of trials of the plan.
func (p *Plan) NumTrials() int {
	return len(p.Groups()) * p.Repetitions * len(p.URLs)
}

// Validate returns an error if the plan is not runnable.
func (p *Plan) Validate() error {
	if _, err := model.ParseMode(p.Mode.String()); err != nil {
		return err
	}
	if len(p.URLs) <= 0 {
		return errors.New("no URLs to measure")
	}
	if p.Repetitions <= 0 {
		return fmt.Errorf("invalid number of repetitions: %d", p.Repetitions)
	}
	switch p.Mode {
	case model.ModeFixed:
		if len(p.Levels) <= 0 {
			return errors.New("fixed mode requires at least one level")
		}
		for _, level := range p.Levels {
			if !level.Valid() {
				return fmt.Errorf("invalid fixed level: %d", level)
			}
		}
	case model.ModeDynamic:
		return p.Dynamic.Validate()
	}
	return nil
}

// SanitizeURL makes a URL usable inside a file name.
func SanitizeURL(URL string) string {
	return strings.ReplaceAll(strings.ReplaceAll(URL, "://", "_"), "/", "_")
}

// Tag returns the name of a trial, e.g., "lvl5_rep1_https_example.com_20240501T120000".
func Tag(prefix string, repetition int, URL string, t time.Time) string {
	return fmt.Sprintf("%s_rep%d_%s_%s", prefix, repetition, SanitizeURL(URL), t.UTC().Format("20060102T150405"))
}
