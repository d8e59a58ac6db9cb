// Package scenario evaluates JavaScript scenario files that seed the worker
// mix at startup.
//
// A scenario is a CommonJS-style module that assigns either an array of
// worker entries or a zero-argument function returning one to
// module.exports.workers. Entries use the same field names as the control
// API's worker creation payload plus an optional count.
package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"

	"github.com/poolforge/stresslab/internal/chain"
	"github.com/poolforge/stresslab/internal/worker"
)

// Entry describes one group of identical workers requested by a scenario.
type Entry struct {
	Kind          string `json:"kind"`
	PoolID        string `json:"pool"`
	TokenSide     string `json:"tokenSide"`
	SwapDirection string `json:"direction"`
	Amount        uint64 `json:"amount"`
	Count         int    `json:"count"`
	AutoRefill    bool   `json:"autoRefill"`
	ShareOutput   bool   `json:"shareOutput"`
}

// Spec converts the entry into a worker specification.
func (e Entry) Spec() worker.Spec {
	return worker.Spec{
		Kind:          worker.Kind(strings.ToLower(strings.TrimSpace(e.Kind))),
		PoolID:        strings.TrimSpace(e.PoolID),
		TokenSide:     chain.TokenSide(strings.ToLower(strings.TrimSpace(e.TokenSide))),
		SwapDirection: chain.SwapDirection(strings.ToLower(strings.TrimSpace(e.SwapDirection))),
		Amount:        e.Amount,
		AutoRefill:    e.AutoRefill,
		ShareOutput:   e.ShareOutput,
	}
}

// Load reads, compiles, and evaluates the scenario file at path.
func Load(path string) ([]Entry, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("scenario: path required")
	}
	clean := filepath.Clean(trimmed)
	// #nosec G304 -- path comes from operator configuration.
	source, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %q: %w", clean, err)
	}
	prog, err := goja.Compile(clean, string(source), true)
	if err != nil {
		return nil, fmt.Errorf("scenario: compile %q: %w", clean, err)
	}
	entries, err := evaluate(prog)
	if err != nil {
		return nil, fmt.Errorf("scenario: %s: %w", clean, err)
	}
	return entries, nil
}

func evaluate(program *goja.Program) ([]Entry, error) {
	rt := goja.New()
	exports, err := runModule(rt, program)
	if err != nil {
		return nil, err
	}

	raw := exports.Get("workers")
	if raw == nil || goja.IsUndefined(raw) || goja.IsNull(raw) {
		return nil, fmt.Errorf("workers export missing")
	}

	if callable, ok := goja.AssertFunction(raw); ok {
		raw, err = callable(goja.Undefined())
		if err != nil {
			return nil, fmt.Errorf("workers(): %w", err)
		}
	}

	var entries []Entry
	if err := rt.ExportTo(raw, &entries); err != nil {
		return nil, fmt.Errorf("workers export invalid: %w", err)
	}

	for idx := range entries {
		if entries[idx].Count <= 0 {
			entries[idx].Count = 1
		}
		spec := entries[idx].Spec()
		if !worker.KnownKind(string(spec.Kind)) {
			return nil, fmt.Errorf("entry %d: unknown worker kind %q", idx, entries[idx].Kind)
		}
		if spec.PoolID == "" {
			return nil, fmt.Errorf("entry %d: pool required", idx)
		}
	}
	return entries, nil
}

func runModule(rt *goja.Runtime, program *goja.Program) (*goja.Object, error) {
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	module := rt.NewObject()
	exports := rt.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("module", module); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("console", buildConsole(rt)); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}

	if _, err := rt.RunProgram(program); err != nil {
		return nil, fmt.Errorf("module run: %w", err)
	}

	value := module.Get("exports")
	object := value.ToObject(rt)
	if object == nil {
		return nil, fmt.Errorf("module exports must be an object")
	}
	return object, nil
}

func buildConsole(rt *goja.Runtime) *goja.Object {
	console := rt.NewObject()
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	_ = console.Set("log", noop)
	_ = console.Set("error", noop)
	_ = console.Set("warn", noop)
	_ = console.Set("info", noop)
	return console
}
