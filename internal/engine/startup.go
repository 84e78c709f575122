package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
)

// ErrUnreachable is returned by Prepare when the backend does not answer.
var ErrUnreachable = errors.New("inference engine is not reachable")

// Readiness lists the models Prepare checked. Pulled holds the ones that
// had to be downloaded first.
type Readiness struct {
	Models []string
	Pulled []string
}

// Prepare verifies the engine is up and, for backends that host models
// locally, downloads any of models that is missing. Empty and repeated
// model names are ignored. Download progress goes to w in 10% steps.
func Prepare(ctx context.Context, e Engine, w io.Writer, models ...string) (Readiness, error) {
	if !e.IsRunning(ctx) {
		return Readiness{}, ErrUnreachable
	}

	var r Readiness
	for _, m := range models {
		if m != "" && !slices.Contains(r.Models, m) {
			r.Models = append(r.Models, m)
		}
	}

	mm, ok := e.(ModelManager)
	if !ok {
		return r, nil
	}
	for _, model := range r.Models {
		if mm.HasModel(ctx, model) {
			continue
		}
		fmt.Fprintf(w, "downloading model %s\n", model)
		if err := mm.PullModel(ctx, model, progressPrinter(w, model)); err != nil {
			return r, fmt.Errorf("pulling model %s: %w", model, err)
		}
		r.Pulled = append(r.Pulled, model)
	}
	return r, nil
}

// progressPrinter reports byte progress when each 10% step is crossed and
// status-only updates when the status text changes.
func progressPrinter(w io.Writer, model string) func(PullProgress) {
	lastStep := -1
	lastStatus := ""
	return func(p PullProgress) {
		if p.Total <= 0 {
			if p.Status != lastStatus {
				fmt.Fprintf(w, "  %s: %s\n", model, p.Status)
				lastStatus = p.Status
			}
			return
		}
		step := int(p.Completed * 10 / p.Total)
		if step == lastStep {
			return
		}
		lastStep = step
		lastStatus = p.Status
		fmt.Fprintf(w, "  %s: %s %d%%\n", model, p.Status, step*10)
	}
}
