package batch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectModeConcurrentWhenNoDependencies(t *testing.T) {
	ops := []Operation{
		{ID: "a", Args: []string{"api", "ctx", "group", "op"}},
		{ID: "b", Args: []string{"api", "ctx", "group", "op2"}},
	}
	assert.Equal(t, ModeConcurrent, DetectMode(ops))
}

func TestDetectModeDependentOnCapture(t *testing.T) {
	ops := []Operation{{ID: "a", Args: []string{"x"}, Capture: map[string]string{"id": ".id"}}}
	assert.Equal(t, ModeDependent, DetectMode(ops))
}

func TestDetectModeDependentOnInterpolation(t *testing.T) {
	ops := []Operation{{ID: "a", Args: []string{"{{token}}"}}}
	assert.Equal(t, ModeDependent, DetectMode(ops))
}

func TestParseFileYAML(t *testing.T) {
	data := []byte(`
operations:
  - id: one
    args: ["api", "ctx", "group", "op"]
`)
	f, err := ParseFile(data)
	require.NoError(t, err)
	require.Len(t, f.Operations, 1)
	assert.Equal(t, "one", f.Operations[0].ID)
}

func TestRunConcurrentAggregatesResults(t *testing.T) {
	ops := []Operation{
		{ID: "a", Args: []string{"1"}},
		{ID: "b", Args: []string{"2"}},
		{ID: "c", Args: []string{"3"}},
	}
	summary := RunConcurrent(context.Background(), ops, 2, 0, func(ctx context.Context, op Operation, args []string) RunOutcome {
		if op.ID == "b" {
			return RunOutcome{Err: assert.AnError}
		}
		return RunOutcome{Success: true, HTTPStatus: 200}
	})
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Successes)
	assert.Equal(t, 1, summary.Failures)
}

func TestTopoSortOrdersByExplicitDependsOn(t *testing.T) {
	ops := []Operation{
		{ID: "second", Args: []string{"x"}, DependsOn: []string{"first"}},
		{ID: "first", Args: []string{"y"}},
	}
	order, cycle, err := topoSort(ops)
	require.NoError(t, err)
	require.Nil(t, cycle)
	require.Equal(t, []int{1, 0}, order)
}

func TestTopoSortImplicitEdgeFromCapture(t *testing.T) {
	ops := []Operation{
		{ID: "create", Args: []string{"x"}, Capture: map[string]string{"id": ".id"}},
		{ID: "use", Args: []string{"{{id}}"}},
	}
	order, _, err := topoSort(ops)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, order)
}

func TestTopoSortDetectsCycle(t *testing.T) {
	ops := []Operation{
		{ID: "a", Args: []string{"x"}, DependsOn: []string{"b"}},
		{ID: "b", Args: []string{"y"}, DependsOn: []string{"a"}},
	}
	_, cycle, err := topoSort(ops)
	require.Error(t, err)
	assert.NotEmpty(t, cycle)
}

func TestTopoSortRejectsUndefinedVariable(t *testing.T) {
	ops := []Operation{{ID: "a", Args: []string{"{{missing}}"}}}
	_, _, err := topoSort(ops)
	require.Error(t, err)
}

func TestTopoSortRejectsMissingIDWhenCaptureUsed(t *testing.T) {
	ops := []Operation{{Args: []string{"x"}, Capture: map[string]string{"id": ".id"}}}
	_, _, err := topoSort(ops)
	require.Error(t, err)
}

func TestTopoSortRejectsDependsOnUnknownID(t *testing.T) {
	ops := []Operation{{ID: "a", Args: []string{"x"}, DependsOn: []string{"ghost"}}}
	_, _, err := topoSort(ops)
	require.Error(t, err)
}

func TestVariableStoreInterpolateScalarAndList(t *testing.T) {
	s := NewVariableStore()
	s.scalars["name"] = "pet"
	s.lists["tags"] = []string{"a", "b"}

	got, err := s.Interpolate("hello {{name}}")
	require.NoError(t, err)
	assert.Equal(t, "hello pet", got)

	got, err = s.Interpolate("{{tags}}")
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, got)
}

func TestVariableStoreInterpolateUnresolvedErrors(t *testing.T) {
	s := NewVariableStore()
	_, err := s.Interpolate("{{missing}}")
	assert.Error(t, err)
}

func TestVariableStoreCaptureScalarAndAppend(t *testing.T) {
	s := NewVariableStore()
	op := Operation{
		Capture:       map[string]string{"id": ".id"},
		CaptureAppend: map[string]string{"names": ".name"},
	}
	require.NoError(t, s.Capture(op, []byte(`{"id":42,"name":"rex"}`)))
	assert.Equal(t, "42", s.scalars["id"])
	assert.Equal(t, []string{"rex"}, s.lists["names"])
}

func TestVariableStoreCaptureEmptyIsError(t *testing.T) {
	s := NewVariableStore()
	op := Operation{Capture: map[string]string{"id": ".missing"}}
	err := s.Capture(op, []byte(`{}`))
	assert.Error(t, err)
}

func TestRunDependentHaltsOnFailureAndSkipsRest(t *testing.T) {
	ops := []Operation{
		{ID: "create", Args: []string{"x"}, Capture: map[string]string{"id": ".id"}},
		{ID: "use", Args: []string{"{{id}}"}, DependsOn: []string{"create"}},
		{ID: "unrelated", Args: []string{"z"}, DependsOn: []string{"use"}},
	}
	summary, err := RunDependent(context.Background(), ops, func(ctx context.Context, op Operation, args []string) RunOutcome {
		if op.ID == "create" {
			return RunOutcome{Success: true, Body: []byte(`{"id":7}`)}
		}
		return RunOutcome{Err: assert.AnError}
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Successes)
	assert.Equal(t, 1, summary.Failures)

	var skipped int
	for _, r := range summary.Results {
		if r.Status == "skipped" {
			skipped++
		}
	}
	assert.Equal(t, 1, skipped)
}

func TestRunDependentPropagatesInterpolatedArgsToRunner(t *testing.T) {
	ops := []Operation{
		{ID: "create", Args: []string{"x"}, Capture: map[string]string{"id": ".id"}},
		{ID: "use", Args: []string{"get", "{{id}}"}, DependsOn: []string{"create"}},
	}
	var seenArgs []string
	_, err := RunDependent(context.Background(), ops, func(ctx context.Context, op Operation, args []string) RunOutcome {
		if op.ID == "use" {
			seenArgs = args
		}
		if op.ID == "create" {
			return RunOutcome{Success: true, Body: []byte(`{"id":"abc"}`)}
		}
		return RunOutcome{Success: true, Body: []byte(`{}`)}
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"get", "abc"}, seenArgs)
}
