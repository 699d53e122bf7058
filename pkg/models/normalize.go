package models

const defaultDelayValue = "1d"

// DefaultTiming is applied to steps that carry no timing.
func DefaultTiming() Timing {
	return Timing{Type: TimingTypeDelay, Value: defaultDelayValue}
}

// DefaultAction is applied to steps that carry no action.
func DefaultAction() StepAction {
	return StepAction{Type: ActionTypeScheduleAppointment, Message: "", Reason: ""}
}

// actionTypeFor picks the action type for a step whose action was given
// without one.
func actionTypeFor(step *WorkflowStep) ActionType {
	switch step.Type {
	case StepTypeAnalysisTest:
		return ActionTypeMedicalTest
	case StepTypeAlert:
		return ActionTypeCreateAlert
	case StepTypeReminder, StepTypeTask:
		return ActionTypeSendNotification
	default:
		return ActionTypeScheduleAppointment
	}
}

// NormalizeStep returns a copy of step with every omitted nested field set
// to its default. It is the only place step defaults are decided: the
// result always has a Condition with a typed Timing and an Action.
func NormalizeStep(step *WorkflowStep, positionIndex int) *WorkflowStep {
	normalized := step.Clone()
	if normalized == nil {
		normalized = &WorkflowStep{}
	}

	if normalized.Order == 0 {
		normalized.Order = positionIndex + 1
	}

	if normalized.Condition == nil {
		normalized.Condition = &StepCondition{}
	}

	if normalized.Condition.Timing.Type == "" {
		timing := normalized.Condition.Timing
		normalized.Condition.Timing = DefaultTiming()

		// keep a delay value given without a type
		if timing.Value != "" {
			normalized.Condition.Timing.Value = timing.Value
		}
	}

	if normalized.Condition.Timing.Type == TimingTypeDelay && normalized.Condition.Timing.Value == "" {
		normalized.Condition.Timing.Value = defaultDelayValue
	}

	if normalized.Action == nil {
		action := DefaultAction()
		normalized.Action = &action
	} else if normalized.Action.Type == "" {
		normalized.Action.Type = actionTypeFor(normalized)
	}

	return normalized
}

// NormalizeSteps normalizes every step by its position.
func NormalizeSteps(steps []*WorkflowStep) []*WorkflowStep {
	normalized := make([]*WorkflowStep, 0, len(steps))
	for i, step := range steps {
		normalized = append(normalized, NormalizeStep(step, i))
	}

	return normalized
}

// NormalizeWorkflow applies patient association and step normalization.
func NormalizeWorkflow(w *Workflow) *Workflow {
	if w == nil {
		return nil
	}

	NormalizePatientAssociation(w)
	w.Steps = NormalizeSteps(w.Steps)

	if w.Status == "" {
		w.Status = WorkflowStatusActive
	}

	return w
}
