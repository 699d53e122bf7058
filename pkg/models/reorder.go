package models

import (
	"errors"
	"fmt"
)

// ErrStepIndexOutOfRange is returned when a step position does not exist.
var ErrStepIndexOutOfRange = errors.New("step index out of range")

// ReorderSteps moves the step at fromIndex to toIndex (a move, not a swap)
// and renumbers every step so order equals position+1. Dependencies are
// rewritten to follow the step they referenced. The input is not modified.
func ReorderSteps(steps []*WorkflowStep, fromIndex, toIndex int) ([]*WorkflowStep, error) {
	if fromIndex < 0 || fromIndex >= len(steps) {
		return nil, fmt.Errorf("%w: from %d of %d", ErrStepIndexOutOfRange, fromIndex, len(steps))
	}

	if toIndex < 0 || toIndex >= len(steps) {
		return nil, fmt.Errorf("%w: to %d of %d", ErrStepIndexOutOfRange, toIndex, len(steps))
	}

	reordered := cloneSteps(steps)
	moved := reordered[fromIndex]
	reordered = append(reordered[:fromIndex], reordered[fromIndex+1:]...)
	reordered = append(reordered[:toIndex], append([]*WorkflowStep{moved}, reordered[toIndex:]...)...)

	return renumber(reordered), nil
}

// InsertStep places step at index and renumbers. An index equal to the
// step count appends.
func InsertStep(steps []*WorkflowStep, step *WorkflowStep, index int) ([]*WorkflowStep, error) {
	if index < 0 || index > len(steps) {
		return nil, fmt.Errorf("%w: insert at %d of %d", ErrStepIndexOutOfRange, index, len(steps))
	}

	inserted := step.Clone()
	if inserted == nil {
		inserted = &WorkflowStep{}
	}

	// order 0 keeps the new step out of the dependency remapping
	inserted.Order = 0

	updated := cloneSteps(steps)
	updated = append(updated[:index], append([]*WorkflowStep{inserted}, updated[index:]...)...)

	return renumber(updated), nil
}

// RemoveStep deletes the step at index and closes the gap so orders stay
// contiguous. Dependencies on the removed step are left in place and are
// reported by ValidateWorkflow.
func RemoveStep(steps []*WorkflowStep, index int) ([]*WorkflowStep, error) {
	if index < 0 || index >= len(steps) {
		return nil, fmt.Errorf("%w: remove %d of %d", ErrStepIndexOutOfRange, index, len(steps))
	}

	updated := cloneSteps(steps)
	updated = append(updated[:index], updated[index+1:]...)

	return renumber(updated), nil
}

func cloneSteps(steps []*WorkflowStep) []*WorkflowStep {
	cloned := make([]*WorkflowStep, len(steps))
	for i, step := range steps {
		cloned[i] = step.Clone()
		if cloned[i] == nil {
			cloned[i] = &WorkflowStep{}
		}
	}

	return cloned
}

func renumber(steps []*WorkflowStep) []*WorkflowStep {
	remap := make(map[int]int, len(steps))

	for i, step := range steps {
		if step.Order > 0 {
			remap[step.Order] = i + 1
		}
	}

	for i, step := range steps {
		step.Order = i + 1

		if step.Condition.HasDependency() {
			if newOrder, ok := remap[*step.Condition.DependsOn]; ok {
				dependsOn := newOrder
				step.Condition.DependsOn = &dependsOn
			}
		}
	}

	return steps
}
