package repair

import (
	"log/slog"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/dockerfile"
)

// Outcome describes what a repair pass did.
type Outcome struct {
	Recipes  []string
	Fallback bool
	Changed  bool
}

// Engine maps observed failure text to Dockerfile edits.
type Engine struct {
	recipes  []Recipe
	byName   map[string]Recipe
	fallback []string
	log      *slog.Logger
}

// NewEngine builds an engine over recipes, using fallback names when nothing
// matches. A nil recipe table selects DefaultRecipes and DefaultBundle.
func NewEngine(recipes []Recipe, fallback []string, logger *slog.Logger) *Engine {
	if recipes == nil {
		recipes = DefaultRecipes
		if fallback == nil {
			fallback = DefaultBundle
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]Recipe, len(recipes))
	for _, r := range recipes {
		byName[r.Name] = r
	}
	return &Engine{recipes: recipes, byName: byName, fallback: fallback, log: logger}
}

// Match returns the recipes whose pattern occurs in failure, in table order.
func (e *Engine) Match(failure string) []Recipe {
	var out []Recipe
	for _, r := range e.recipes {
		if r.Pattern.MatchString(failure) {
			out = append(out, r)
		}
	}
	return out
}

// Repair applies every matching recipe to a, or the fallback bundle when
// none match, then makes sure the OpenCV import guard is present.
func (e *Engine) Repair(a *dockerfile.Artifact, failure string) Outcome {
	matched := e.Match(failure)
	var out Outcome
	if len(matched) == 0 {
		out.Fallback = true
		for _, name := range e.fallback {
			if r, ok := e.byName[name]; ok {
				matched = append(matched, r)
			}
		}
	}
	for _, r := range matched {
		out.Recipes = append(out.Recipes, r.Name)
		if r.Apply(a) {
			out.Changed = true
		}
	}
	if !a.Contains(`import cv2`) {
		a.InsertAfterCopy(dockerfile.CV2Guard)
		out.Changed = true
	}
	e.log.Info("repair applied", "recipes", out.Recipes, "fallback", out.Fallback, "changed", out.Changed)
	return out
}
