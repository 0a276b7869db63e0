// Package declarative loads the startup schedule set from a YAML document:
// one schedule per top-level list entry, each describing an instruction
// tree (Call, Set, the Wait* family, Parallel, Repeat*, and nested
// schedules). This is config read once at startup, not persisted runtime
// state, per SPEC_FULL.md §3.
package declarative

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hedgehog/pluto/internal/errs"
	"github.com/hedgehog/pluto/internal/scheduler"
	"github.com/hedgehog/pluto/internal/scheduler/instructions"
)

// scheduleDoc is the top-level shape of the YAML document: a named list of
// schedules, each an ordered list of instruction nodes.
type scheduleDoc struct {
	Schedules []scheduleNode `yaml:"schedules"`
}

type scheduleNode struct {
	Description  string             `yaml:"description"`
	Instructions []instructionNode  `yaml:"instructions"`
}

// instructionNode is a tagged union over every concrete Instruction kind.
// type selects which of the other fields are read; unused fields are
// simply left zero in the YAML and ignored.
type instructionNode struct {
	Type string `yaml:"type"`

	// call
	Component string `yaml:"component"`
	Method    string `yaml:"method"`
	Args      []any  `yaml:"args"`

	// set
	Attrs []attrNode `yaml:"attrs"`

	// wait_seconds
	Seconds float64 `yaml:"seconds"`

	// wait_within_range / wait_greater_than
	Attributes []string `yaml:"attributes"`
	StableFor  float64  `yaml:"stable_for_seconds"`
	Timeout    float64  `yaml:"timeout_seconds"`
	Minimum    float64  `yaml:"minimum"`
	Maximum    float64  `yaml:"maximum"`
	Threshold  float64  `yaml:"threshold"`

	// parallel
	Master *instructionNode  `yaml:"master"`
	Slaves []instructionNode `yaml:"slaves"`

	// repeat_forever / repeat_times / repeat_for
	Instruction *instructionNode `yaml:"instruction"`
	RepeatEvery float64          `yaml:"repeat_every_seconds"`
	Iterations  int              `yaml:"iterations"`
	ForSeconds  float64          `yaml:"for_seconds"`

	// schedule (nested)
	Schedule *scheduleNode `yaml:"schedule"`
}

type attrNode struct {
	Name  string `yaml:"name"`
	Value any    `yaml:"value"`
}

// Load parses doc into a set of ready-to-run *scheduler.Schedule values, in
// the order they appear.
func Load(doc []byte) ([]*scheduler.Schedule, error) {
	var parsed scheduleDoc
	if err := yaml.Unmarshal(doc, &parsed); err != nil {
		return nil, errs.Wrap(errs.ErrBadParameters, "declarative: invalid YAML: %v", err)
	}

	schedules := make([]*scheduler.Schedule, 0, len(parsed.Schedules))
	for i, node := range parsed.Schedules {
		sched, err := buildSchedule(node)
		if err != nil {
			return nil, errs.Wrap(errs.ErrBadParameters, "declarative: schedule[%d] %q: %v", i, node.Description, err)
		}
		schedules = append(schedules, sched)
	}
	return schedules, nil
}

func buildSchedule(node scheduleNode) (*scheduler.Schedule, error) {
	instrs := make([]scheduler.Instruction, 0, len(node.Instructions))
	for i, in := range node.Instructions {
		built, err := buildInstruction(in)
		if err != nil {
			return nil, fmt.Errorf("instruction[%d]: %w", i, err)
		}
		instrs = append(instrs, built)
	}
	return scheduler.NewSchedule(node.Description, instrs), nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func buildInstruction(n instructionNode) (scheduler.Instruction, error) {
	switch n.Type {
	case "call":
		if n.Component == "" || n.Method == "" {
			return nil, fmt.Errorf("call requires component and method")
		}
		return instructions.NewCall(n.Component, n.Method, n.Args...), nil

	case "set":
		if n.Component == "" {
			return nil, fmt.Errorf("set requires component")
		}
		attrs := make([]instructions.Attr, len(n.Attrs))
		for i, a := range n.Attrs {
			attrs[i] = instructions.Attr{Name: a.Name, Value: a.Value}
		}
		return instructions.NewSet(n.Component, attrs...), nil

	case "wait_seconds":
		return instructions.NewWaitSeconds(seconds(n.Seconds)), nil

	case "wait_within_range":
		if n.Component == "" || len(n.Attributes) == 0 {
			return nil, fmt.Errorf("wait_within_range requires component and attributes")
		}
		return instructions.NewWaitAttributesWithinRange(
			n.Component, n.Attributes, seconds(n.StableFor), seconds(n.Timeout), n.Minimum, n.Maximum,
		), nil

	case "wait_greater_than":
		if n.Component == "" || len(n.Attributes) == 0 {
			return nil, fmt.Errorf("wait_greater_than requires component and attributes")
		}
		return instructions.NewWaitAttributesGreaterThan(
			n.Component, n.Attributes, seconds(n.StableFor), seconds(n.Timeout), n.Threshold,
		), nil

	case "parallel":
		if n.Master == nil || len(n.Slaves) == 0 {
			return nil, fmt.Errorf("parallel requires master and at least one slave")
		}
		master, err := buildInstruction(*n.Master)
		if err != nil {
			return nil, fmt.Errorf("parallel.master: %w", err)
		}
		slaves := make([]scheduler.Instruction, len(n.Slaves))
		for i, s := range n.Slaves {
			built, err := buildInstruction(s)
			if err != nil {
				return nil, fmt.Errorf("parallel.slaves[%d]: %w", i, err)
			}
			slaves[i] = built
		}
		return instructions.NewParallel(master, slaves...), nil

	case "repeat_forever":
		inner, err := requireInner(n)
		if err != nil {
			return nil, fmt.Errorf("repeat_forever: %w", err)
		}
		return instructions.NewRepeatForever(inner, seconds(n.RepeatEvery)), nil

	case "repeat_times":
		inner, err := requireInner(n)
		if err != nil {
			return nil, fmt.Errorf("repeat_times: %w", err)
		}
		if n.Iterations <= 0 {
			return nil, fmt.Errorf("repeat_times requires iterations > 0")
		}
		return instructions.NewRepeatTimes(inner, n.Iterations, seconds(n.RepeatEvery)), nil

	case "repeat_for":
		inner, err := requireInner(n)
		if err != nil {
			return nil, fmt.Errorf("repeat_for: %w", err)
		}
		return instructions.NewRepeatFor(inner, seconds(n.ForSeconds), seconds(n.RepeatEvery)), nil

	case "schedule":
		if n.Schedule == nil {
			return nil, fmt.Errorf("schedule node requires a nested schedule")
		}
		return buildSchedule(*n.Schedule)

	default:
		return nil, fmt.Errorf("unknown instruction type %q", n.Type)
	}
}

func requireInner(n instructionNode) (scheduler.Instruction, error) {
	if n.Instruction == nil {
		return nil, fmt.Errorf("requires instruction")
	}
	return buildInstruction(*n.Instruction)
}
