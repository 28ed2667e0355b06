package skills

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/orchestrator/internal/skills"

// Registry indexes every Skill descriptor collected at process start and
// executes the in-process ones under metrics.
type Registry struct {
	logger   *zap.Logger
	skills   map[string]Skill
	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewRegistry builds a Registry from the given descriptors, indexed by
// name. Registering two skills under the same name is a configuration
// error caught at startup.
func NewRegistry(logger *zap.Logger, descriptors []Skill) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	skillMap := make(map[string]Skill, len(descriptors))
	for _, s := range descriptors {
		if _, exists := skillMap[s.Name]; exists {
			return nil, fmt.Errorf("skills: duplicate skill name %q", s.Name)
		}
		skillMap[s.Name] = s
	}

	meter := otel.Meter(instrumentationName)

	calls, err := meter.Int64Counter(
		"skill.calls",
		metric.WithDescription("Number of skill invocations, labeled by skill name and outcome status."),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		logger.Warn("failed to create skill.calls counter", zap.Error(err))
	}

	duration, err := meter.Float64Histogram(
		"skill.duration",
		metric.WithDescription("Skill execution duration in seconds, labeled by skill name and routing target."),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create skill.duration histogram", zap.Error(err))
	}

	return &Registry{
		logger:   logger,
		skills:   skillMap,
		calls:    calls,
		duration: duration,
	}, nil
}

// Get looks up a skill by name.
func (r *Registry) Get(name string) (Skill, error) {
	s, ok := r.skills[name]
	if !ok {
		return Skill{}, fmt.Errorf("%w: %s", ErrSkillNotFound, name)
	}
	return s, nil
}

// Execute runs an in-process skill by name, timing and counting the call
// under skill.calls{skill,status} and skill.duration{skill,target}.
// Calling Execute on an external-executor skill is a programming error —
// agents invoke those by emitting code, never through the registry.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	s, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if s.Target != InProcess || s.Execute == nil {
		return nil, fmt.Errorf("skills: %q is not an in-process skill", name)
	}

	start := time.Now()
	result, execErr := s.Execute(ctx, args)
	elapsed := time.Since(start)

	status := StatusSuccess
	var skillErr *SkillError
	if execErr != nil {
		if errors.As(execErr, &skillErr) {
			status = string(skillErr.Kind)
		} else {
			status = StatusError
		}
	}

	if r.calls != nil {
		r.calls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("skill", name),
			attribute.String("status", status),
		))
	}
	if r.duration != nil {
		r.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
			attribute.String("skill", name),
			attribute.String("target", string(s.Target)),
		))
	}

	return result, execErr
}

// BuildToolDocumentation renders the single documentation block injected
// into every agent's system prompt: a preamble, then one entry per skill
// (external-executor first, then in-process, ties broken by name), then a
// rules block.
func (r *Registry) BuildToolDocumentation() string {
	ordered := make([]Skill, 0, len(r.skills))
	for _, s := range r.skills {
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Target != ordered[j].Target {
			return ordered[i].Target == ExternalExecutor
		}
		return ordered[i].Name < ordered[j].Name
	})

	var b strings.Builder
	b.WriteString("You act by emitting a single fenced Python code block per turn. ")
	b.WriteString("After each code block you will receive an Observation with its output. ")
	b.WriteString("The following tools are available as Python functions:\n\n")

	for _, s := range ordered {
		fmt.Fprintf(&b, "  %s\n", s.Signature)
		fmt.Fprintf(&b, "      %s\n\n", s.Description)
	}

	b.WriteString("RULES:\n")
	b.WriteString("- Emit at most one code block per turn.\n")
	b.WriteString("- When the step is complete, conclude with a <result>...</result> block wrapping a JSON object.\n")

	return b.String()
}
