package models

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrValidation is matched by every ValidationError and ValidationErrors.
var ErrValidation = errors.New("workflow validation failed")

// Validation error codes.
const (
	CodeNameRequired       = "NAME_REQUIRED"
	CodeStepsRequired      = "STEPS_REQUIRED"
	CodeStepMissing        = "STEP_MISSING"
	CodeInvalidField       = "INVALID_FIELD"
	CodeOrderOutOfRange    = "ORDER_OUT_OF_RANGE"
	CodeOrderMismatch      = "ORDER_MISMATCH"
	CodeDuplicateOrder     = "DUPLICATE_ORDER"
	CodeInvalidDependency  = "INVALID_DEPENDENCY"
	CodeDanglingDependency = "DANGLING_DEPENDENCY"
	CodeOutcomeRequired    = "OUTCOME_REQUIRED"
	CodeInvalidThreshold   = "INVALID_THRESHOLD"
	CodeInvalidOperator    = "INVALID_OPERATOR"
	CodeInvalidTiming      = "INVALID_TIMING"
	CodeDateRequired       = "DATE_REQUIRED"
	CodeInvalidActionType  = "INVALID_ACTION_TYPE"
	CodeIDRequired         = "ID_REQUIRED"
	CodePatientsRequired   = "PATIENTS_REQUIRED"
)

// ValidationError is a single structural problem in a workflow definition.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}

	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ValidationErrors accumulates every problem found in a workflow.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	messages := make([]string, 0, len(e))
	for _, err := range e {
		messages = append(messages, err.Error())
	}

	return ErrValidation.Error() + ": " + strings.Join(messages, "; ")
}

func (e ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// HasCode reports whether any accumulated error carries the code.
func (e ValidationErrors) HasCode(code string) bool {
	for _, err := range e {
		if err.Code == code {
			return true
		}
	}

	return false
}

// Err returns nil when there are no errors, the list otherwise.
func (e ValidationErrors) Err() error {
	if len(e) == 0 {
		return nil
	}

	return e
}

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}

		return name
	})

	return validate
}

// ValidateWorkflow checks a workflow's structural invariants and returns
// every problem found. The list is empty when the workflow is valid.
// Steps are checked in their normalized form, the form that is submitted.
func ValidateWorkflow(w *Workflow) ValidationErrors {
	errs := ValidationErrors{}

	if w == nil {
		return append(errs, ValidationError{Code: CodeStepsRequired, Message: "workflow is required"})
	}

	if strings.TrimSpace(w.Name) == "" {
		errs = append(errs, ValidationError{Field: "name", Code: CodeNameRequired, Message: "workflow name is required"})
	}

	if w.Status != "" && !IsValidStatus(w.Status) {
		errs = append(errs, ValidationError{
			Field:   "status",
			Code:    CodeInvalidField,
			Message: fmt.Sprintf("unknown status %q", w.Status),
		})
	}

	if len(w.Steps) == 0 {
		return append(errs, ValidationError{
			Field:   "steps",
			Code:    CodeStepsRequired,
			Message: "workflow must have at least one step",
		})
	}

	orders := make(map[int]int, len(w.Steps))

	for i, raw := range w.Steps {
		field := fmt.Sprintf("steps[%d]", i)

		if raw == nil {
			errs = append(errs, ValidationError{Field: field, Code: CodeStepMissing, Message: "step is empty"})

			continue
		}

		step := NormalizeStep(raw, i)
		errs = append(errs, validateStepStruct(field, step)...)
		errs = append(errs, validateStepOrder(field, step, i, len(w.Steps), orders)...)
		errs = append(errs, validateTiming(field+".condition.timing", step.Condition.Timing)...)
		errs = append(errs, validateTestResult(field+".condition.testResult", step.Condition.TestResult)...)

		if !IsValidActionType(step.Action.Type) {
			errs = append(errs, ValidationError{
				Field:   field + ".action.type",
				Code:    CodeInvalidActionType,
				Message: fmt.Sprintf("unknown action type %q", step.Action.Type),
			})
		}
	}

	for i, raw := range w.Steps {
		if raw == nil {
			continue
		}

		errs = append(errs, validateDependency(fmt.Sprintf("steps[%d].condition", i), NormalizeStep(raw, i), orders)...)
	}

	return errs
}

func validateStepStruct(field string, step *WorkflowStep) ValidationErrors {
	err := structValidator.Struct(step)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{{Field: field, Code: CodeInvalidField, Message: err.Error()}}
	}

	errs := make(ValidationErrors, 0, len(fieldErrs))

	for _, fieldErr := range fieldErrs {
		// order is range-checked against the step count separately
		if fieldErr.Field() == "order" {
			continue
		}

		namespace := fieldErr.Namespace()
		if idx := strings.Index(namespace, "."); idx >= 0 {
			namespace = namespace[idx+1:]
		}

		errs = append(errs, ValidationError{
			Field:   field + "." + namespace,
			Code:    CodeInvalidField,
			Message: fmt.Sprintf("failed on %q constraint (value %v)", fieldErr.Tag(), fieldErr.Value()),
		})
	}

	return errs
}

func validateStepOrder(field string, step *WorkflowStep, index, count int, orders map[int]int) ValidationErrors {
	var errs ValidationErrors

	if step.Order < 1 || step.Order > count {
		errs = append(errs, ValidationError{
			Field:   field + ".order",
			Code:    CodeOrderOutOfRange,
			Message: fmt.Sprintf("order %d must be between 1 and %d", step.Order, count),
		})
	} else if step.Order != index+1 {
		errs = append(errs, ValidationError{
			Field:   field + ".order",
			Code:    CodeOrderMismatch,
			Message: fmt.Sprintf("order %d does not match position %d", step.Order, index+1),
		})
	}

	if previous, exists := orders[step.Order]; exists {
		errs = append(errs, ValidationError{
			Field:   field + ".order",
			Code:    CodeDuplicateOrder,
			Message: fmt.Sprintf("order %d already used by steps[%d]", step.Order, previous),
		})
	} else {
		orders[step.Order] = index
	}

	return errs
}

func validateTiming(field string, timing Timing) ValidationErrors {
	var errs ValidationErrors

	switch timing.Type {
	case TimingTypeDelay:
		if _, err := ParseDelay(timing.Value); err != nil {
			errs = append(errs, ValidationError{Field: field + ".value", Code: CodeInvalidTiming, Message: err.Error()})
		}
	case TimingTypeFixedTime:
		if strings.TrimSpace(timing.Date) == "" {
			errs = append(errs, ValidationError{
				Field:   field + ".date",
				Code:    CodeDateRequired,
				Message: "fixed_time timing requires a date",
			})
		} else if _, err := ParseDate(timing.Date); err != nil {
			errs = append(errs, ValidationError{Field: field + ".date", Code: CodeInvalidTiming, Message: err.Error()})
		}
	case TimingTypeCron:
		if _, err := ParseCronExpression(timing.Expression); err != nil {
			errs = append(errs, ValidationError{Field: field + ".expression", Code: CodeInvalidTiming, Message: err.Error()})
		}
	}

	return errs
}

func validateTestResult(field string, testResult *TestResult) ValidationErrors {
	if testResult == nil {
		return nil
	}

	var errs ValidationErrors

	if math.IsNaN(testResult.Value) || math.IsInf(testResult.Value, 0) {
		errs = append(errs, ValidationError{
			Field:   field + ".value",
			Code:    CodeInvalidThreshold,
			Message: "threshold value must be a finite number",
		})
	}

	if !IsValidOperator(testResult.Operator) {
		errs = append(errs, ValidationError{
			Field:   field + ".operator",
			Code:    CodeInvalidOperator,
			Message: fmt.Sprintf("unknown operator %q", testResult.Operator),
		})
	}

	return errs
}

func validateDependency(field string, step *WorkflowStep, orders map[int]int) ValidationErrors {
	if !step.Condition.HasDependency() {
		return nil
	}

	var errs ValidationErrors

	dependsOn := *step.Condition.DependsOn

	switch {
	case dependsOn >= step.Order:
		errs = append(errs, ValidationError{
			Field:   field + ".dependsOn",
			Code:    CodeInvalidDependency,
			Message: fmt.Sprintf("step %d can only depend on an earlier step, got %d", step.Order, dependsOn),
		})
	case dependsOn < 1:
		errs = append(errs, ValidationError{
			Field:   field + ".dependsOn",
			Code:    CodeInvalidDependency,
			Message: fmt.Sprintf("dependsOn must be a step order, got %d", dependsOn),
		})
	default:
		if _, exists := orders[dependsOn]; !exists {
			errs = append(errs, ValidationError{
				Field:   field + ".dependsOn",
				Code:    CodeDanglingDependency,
				Message: fmt.Sprintf("step %d depends on missing step %d", step.Order, dependsOn),
			})
		}
	}

	if step.Condition.Outcome == "" {
		errs = append(errs, ValidationError{
			Field:   field + ".outcome",
			Code:    CodeOutcomeRequired,
			Message: "outcome is required when dependsOn is set",
		})
	}

	return errs
}
