// Package batch implements the Dependent Batch Processor of spec.md §4.8:
// mode detection, the concurrent path (bounded by a semaphore pool and a
// token-bucket rate limiter), and the dependent path (capture/interpolate,
// Kahn's-algorithm topological ordering, halt-on-failure).
package batch

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/sourcegraph/conc/pool"

	"github.com/kioku/aperture/internal/logging"
	"github.com/kioku/aperture/pkg/apertureerr"
	"github.com/kioku/aperture/pkg/outputpipeline"
	"github.com/kioku/aperture/pkg/ratelimiter"
)

var log = logging.New("batch")

// Operation is one entry of a batch file (spec.md §4.8).
type Operation struct {
	ID            string            `json:"id,omitempty" yaml:"id,omitempty"`
	Args          []string          `json:"args" yaml:"args"`
	Description   string            `json:"description,omitempty" yaml:"description,omitempty"`
	Headers       map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	UseCache      *bool             `json:"use_cache,omitempty" yaml:"use_cache,omitempty"`
	Retry         *int              `json:"retry,omitempty" yaml:"retry,omitempty"`
	Capture       map[string]string `json:"capture,omitempty" yaml:"capture,omitempty"`
	CaptureAppend map[string]string `json:"capture_append,omitempty" yaml:"capture_append,omitempty"`
	DependsOn     []string          `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// File is the top-level shape of a batch file.
type File struct {
	Metadata   map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Operations []Operation    `json:"operations" yaml:"operations"`
}

// ParseFile decodes a JSON or YAML batch file.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, apertureerr.Wrap(apertureerr.Specification, err, "parse batch file")
	}
	return &f, nil
}

// Mode is the execution strategy chosen for a batch file.
type Mode string

const (
	ModeConcurrent Mode = "concurrent"
	ModeDependent  Mode = "dependent"
)

var varToken = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// DetectMode implements spec.md §4.8's single-scan rule: if every capture,
// capture_append, and depends_on is empty and no arg contains "{{",
// concurrent mode is used.
func DetectMode(ops []Operation) Mode {
	for _, op := range ops {
		if len(op.Capture) > 0 || len(op.CaptureAppend) > 0 || len(op.DependsOn) > 0 {
			return ModeDependent
		}
		for _, a := range op.Args {
			if strings.Contains(a, "{{") {
				return ModeDependent
			}
		}
	}
	return ModeConcurrent
}

// RunOutcome is what a Runner reports back for one dispatched operation.
type RunOutcome struct {
	Success    bool
	HTTPStatus int
	Body       []byte // the parsed response body, for capture expression evaluation
	Err        error
}

// Runner executes one already-interpolated operation. It is supplied by the
// caller (the `exec --batch-file` command), which owns the full §4.4-§4.7
// per-operation pipeline; this package only orchestrates scheduling.
type Runner func(ctx context.Context, op Operation, interpolatedArgs []string) RunOutcome

// OpResult is one operation's entry in the batch summary.
type OpResult struct {
	ID         string        `json:"id,omitempty"`
	Index      int           `json:"index"`
	Status     string        `json:"status"` // success | failure | skipped | cancelled
	HTTPStatus int           `json:"http_status,omitempty"`
	Duration   time.Duration `json:"duration_ms"`
	Error      string        `json:"error,omitempty"`
}

// Summary aggregates a batch run (spec.md §4.8 "Completion").
type Summary struct {
	Total     int        `json:"total"`
	Successes int        `json:"successes"`
	Failures  int        `json:"failures"`
	Results   []OpResult `json:"results"`
}

func summarize(results []OpResult) Summary {
	s := Summary{Total: len(results)}
	s.Results = results
	for _, r := range results {
		switch r.Status {
		case "success":
			s.Successes++
		case "failure":
			s.Failures++
		}
	}
	return s
}

// RunConcurrent executes every operation independently, bounded by a
// counting semaphore (concurrency) and an optional token-bucket rate
// limiter (ratePerSecond, 0 = unlimited). Failures do not stop peers.
func RunConcurrent(ctx context.Context, ops []Operation, concurrency int, ratePerSecond float64, run Runner) Summary {
	if concurrency <= 0 {
		concurrency = 5
	}
	limiter := ratelimiter.New(ratePerSecond)
	p := pool.NewWithResults[OpResult]().WithMaxGoroutines(concurrency)

	for i, op := range ops {
		i, op := i, op
		p.Go(func() OpResult {
			if err := limiter.Wait(ctx); err != nil {
				return OpResult{ID: op.ID, Index: i, Status: "failure", Error: err.Error()}
			}
			start := time.Now()
			outcome := run(ctx, op, op.Args)
			res := OpResult{ID: op.ID, Index: i, Duration: time.Since(start), HTTPStatus: outcome.HTTPStatus}
			if outcome.Err != nil {
				res.Status = "failure"
				res.Error = outcome.Err.Error()
			} else {
				res.Status = "success"
			}
			return res
		})
	}

	results := p.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	log.Printf("concurrent batch complete: %d operations", len(results))
	return summarize(results)
}

// VariableStore holds the two capture namespaces of spec.md §4.8: scalars
// from `capture`, lists accumulated from `capture_append`. A name defined in
// both: scalar wins for interpolation.
type VariableStore struct {
	scalars map[string]string
	lists   map[string][]string
}

// NewVariableStore returns an empty store.
func NewVariableStore() *VariableStore {
	return &VariableStore{scalars: make(map[string]string), lists: make(map[string][]string)}
}

// Interpolate replaces every {{name}} token in arg; scalars substitute the
// extracted string, lists substitute a JSON array literal. An unresolved
// name is an error.
func (s *VariableStore) Interpolate(arg string) (string, error) {
	var missing string
	result := varToken.ReplaceAllStringFunc(arg, func(token string) string {
		name := varToken.FindStringSubmatch(token)[1]
		if v, ok := s.scalars[name]; ok {
			return v
		}
		if list, ok := s.lists[name]; ok {
			data, _ := json.Marshal(list)
			return string(data)
		}
		missing = name
		return token
	})
	if missing != "" {
		return "", apertureerr.New(apertureerr.Capture, "unresolved variable").WithContext(missing)
	}
	return result, nil
}

// Capture applies op's capture/capture_append expressions to a parsed
// response body. A null/empty/failed result is Capture.Empty, fatal for
// this operation.
func (s *VariableStore) Capture(op Operation, body []byte) error {
	for name, expr := range op.Capture {
		val, err := captureValue(body, expr)
		if err != nil {
			return apertureerr.Wrap(apertureerr.Capture, err, "capture expression failed").WithContext(name)
		}
		s.scalars[name] = val
	}
	for name, expr := range op.CaptureAppend {
		val, err := captureValue(body, expr)
		if err != nil {
			return apertureerr.Wrap(apertureerr.Capture, err, "capture_append expression failed").WithContext(name)
		}
		s.lists[name] = append(s.lists[name], val)
	}
	return nil
}

func captureValue(body []byte, expr string) (string, error) {
	raw, err := outputpipeline.ApplyJQ(body, expr)
	if err != nil {
		return "", err
	}
	value := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if value == "" || value == "null" {
		return "", apertureerr.New(apertureerr.Capture, "captured value is empty")
	}
	return value, nil
}

func extractVars(arg string) []string {
	matches := varToken.FindAllStringSubmatch(arg, -1)
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m[1]
	}
	return names
}

// topoSort implements the pre-validation and Kahn's-algorithm ordering of
// spec.md §4.8's dependent mode. Returns the execution order as indices
// into ops or, when a cycle blocks the ordering, the IDs of every operation
// left unordered: the cycle's members together with any operation that
// depends on them, without separating the two.
func topoSort(ops []Operation) ([]int, []string, error) {
	n := len(ops)
	idToIndex := make(map[string]int, n)
	for i, op := range ops {
		if op.ID == "" {
			continue
		}
		if _, dup := idToIndex[op.ID]; dup {
			return nil, nil, apertureerr.New(apertureerr.Specification, "duplicate operation id").WithContext(op.ID)
		}
		idToIndex[op.ID] = i
	}

	for _, op := range ops {
		usesIdentity := len(op.Capture) > 0 || len(op.CaptureAppend) > 0 || len(op.DependsOn) > 0
		if usesIdentity && op.ID == "" {
			return nil, nil, apertureerr.New(apertureerr.Specification,
				"operation uses capture/capture_append/depends_on but has no id")
		}
	}

	capturers := make(map[string][]int)
	for i, op := range ops {
		for name := range op.Capture {
			capturers[name] = append(capturers[name], i)
		}
		for name := range op.CaptureAppend {
			capturers[name] = append(capturers[name], i)
		}
	}

	adj := make([][]int, n)
	indegree := make([]int, n)
	addEdge := func(from, to int) {
		adj[from] = append(adj[from], to)
		indegree[to]++
	}

	for i, op := range ops {
		for _, depID := range op.DependsOn {
			depIdx, ok := idToIndex[depID]
			if !ok {
				return nil, nil, apertureerr.New(apertureerr.Specification, "depends_on references unknown id").WithContext(depID)
			}
			addEdge(depIdx, i)
		}
		for _, arg := range op.Args {
			for _, varName := range extractVars(arg) {
				srcs, ok := capturers[varName]
				if !ok {
					return nil, nil, apertureerr.New(apertureerr.Specification, "undefined variable referenced in args").WithContext(varName)
				}
				for _, src := range srcs {
					if src != i {
						addEdge(src, i)
					}
				}
			}
		}
	}

	remaining := append([]int(nil), indegree...)
	var queue []int
	for i := 0; i < n; i++ {
		if remaining[i] == 0 {
			queue = append(queue, i)
		}
	}

	var order []int
	for len(queue) > 0 {
		sort.Ints(queue) // ties broken by original file order
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		for _, next := range adj[node] {
			remaining[next]--
			if remaining[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != n {
		var cycle []string
		for i := 0; i < n; i++ {
			if remaining[i] > 0 {
				id := ops[i].ID
				if id == "" {
					id = "(unnamed)"
				}
				cycle = append(cycle, id)
			}
		}
		return nil, cycle, apertureerr.New(apertureerr.Specification, "dependency cycle detected").
			WithDetails(map[string]any{"cycle": cycle})
	}
	return order, nil, nil
}

// RunDependent executes ops in topological order, halting on the first
// failure; remaining operations are recorded as skipped.
func RunDependent(ctx context.Context, ops []Operation, run Runner) (Summary, error) {
	order, _, err := topoSort(ops)
	if err != nil {
		return Summary{}, err
	}

	store := NewVariableStore()
	results := make([]OpResult, len(ops))
	halted := false

	for _, idx := range order {
		op := ops[idx]
		if halted {
			results[idx] = OpResult{ID: op.ID, Index: idx, Status: "skipped", Error: "Skipped due to prior failure"}
			continue
		}
		if ctx.Err() != nil {
			results[idx] = OpResult{ID: op.ID, Index: idx, Status: "cancelled"}
			halted = true
			continue
		}

		interpolated := make([]string, len(op.Args))
		failed := false
		for i, a := range op.Args {
			v, err := store.Interpolate(a)
			if err != nil {
				results[idx] = OpResult{ID: op.ID, Index: idx, Status: "failure", Error: err.Error()}
				halted, failed = true, true
				break
			}
			interpolated[i] = v
		}
		if failed {
			continue
		}

		start := time.Now()
		outcome := run(ctx, op, interpolated)
		dur := time.Since(start)

		if outcome.Err != nil {
			results[idx] = OpResult{ID: op.ID, Index: idx, Status: "failure", Duration: dur, HTTPStatus: outcome.HTTPStatus, Error: outcome.Err.Error()}
			halted = true
			continue
		}
		if err := store.Capture(op, outcome.Body); err != nil {
			results[idx] = OpResult{ID: op.ID, Index: idx, Status: "failure", Duration: dur, HTTPStatus: outcome.HTTPStatus, Error: err.Error()}
			halted = true
			continue
		}
		results[idx] = OpResult{ID: op.ID, Index: idx, Status: "success", Duration: dur, HTTPStatus: outcome.HTTPStatus}
	}

	log.Printf("dependent batch complete: %d operations, halted=%v", len(results), halted)
	return summarize(results), nil
}
