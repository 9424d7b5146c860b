package debug

// StepType identifies one kind of debugging action.
type StepType string

const (
	StepSetBreakpoint    StepType = "setBreakpoint"
	StepRemoveBreakpoint StepType = "removeBreakpoint"
	StepContinue         StepType = "continue"
	StepEvaluate         StepType = "evaluate"
	StepLaunch           StepType = "launch"
)

// StepSpec is the wire form of a single step as submitted by a client.
// Fields beyond Type are interpreted per step kind by CompileSteps.
type StepSpec struct {
	Type       string `json:"type"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line,omitempty"`
	Expression string `json:"expression,omitempty"`
	Condition  string `json:"condition,omitempty"`
}

// Step is one validated debugging action. Line is 1-based as written by
// clients; the backend boundary translates to its own numbering.
type Step struct {
	Type       StepType
	File       string
	Line       int
	Expression string
	Condition  string
}

// Plan is an ordered list of validated steps. A plan executes strictly in
// order and stops at the first failing step.
type Plan []Step

// CompileSteps checks every spec for the fields its kind requires and builds
// the executable plan. It returns a ValidationError for the first offending
// step, so a bad plan is rejected before any step has run.
func CompileSteps(specs []StepSpec) (Plan, error) {
	plan := make(Plan, 0, len(specs))
	for i, spec := range specs {
		step := Step{
			Type:       StepType(spec.Type),
			File:       spec.File,
			Line:       spec.Line,
			Expression: spec.Expression,
			Condition:  spec.Condition,
		}
		if err := validateStep(i+1, step); err != nil {
			return nil, err
		}
		plan = append(plan, step)
	}
	return plan, nil
}

func validateStep(pos int, step Step) error {
	fail := func(reason string) error {
		return &ValidationError{Step: pos, Kind: string(step.Type), Reason: reason}
	}
	switch step.Type {
	case StepSetBreakpoint, StepRemoveBreakpoint:
		if step.File == "" {
			return fail("missing file")
		}
		if step.Line < 1 {
			return fail("requires a line >= 1")
		}
	case StepEvaluate:
		if step.Expression == "" {
			return fail("missing expression")
		}
	case StepLaunch:
		if step.File == "" {
			return fail("missing file")
		}
	case StepContinue:
		// No required fields.
	case "":
		return &ValidationError{Step: pos, Reason: "missing type"}
	default:
		return fail("unknown step type")
	}
	return nil
}
