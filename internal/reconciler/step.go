package reconciler

import "fmt"

type Phase int

const (
	PhaseInit Phase = iota
	PhaseAfterStep
	PhaseAfterExternal
	PhaseAfterUpdateStatus
	PhaseDone
	PhaseError
)

var phaseNames = map[Phase]string{
	PhaseInit:              "Init",
	PhaseAfterStep:         "AfterStep",
	PhaseAfterExternal:     "AfterExternal",
	PhaseAfterUpdateStatus: "AfterUpdateStatus",
	PhaseDone:              "Done",
	PhaseError:             "Error",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Action is the Kubernetes request a sub-resource step is waiting on.
type Action string

const (
	ActionGet    Action = "Get"
	ActionCreate Action = "Create"
	ActionUpdate Action = "Update"
)

// Tag names a sub-resource within a pipeline, e.g. "HeadlessService".
type Tag string

// ExternalKind is the ZooKeeper request a step is waiting on.
type ExternalKind string

const (
	ExternalExists       ExternalKind = "Exists"
	ExternalCreateParent ExternalKind = "CreateParent"
	ExternalCreate       ExternalKind = "Create"
	ExternalSetData      ExternalKind = "SetData"
)

// Step is the position of a round. Action and Resource are set for AfterStep, External
// for AfterExternal.
type Step struct {
	Phase    Phase
	Action   Action
	Resource Tag
	External ExternalKind

	// stage is the pipeline index that owns the step.
	stage int
}

// AfterStep returns the step waiting on action for resource.
func AfterStep(action Action, resource Tag) Step {
	return Step{Phase: PhaseAfterStep, Action: action, Resource: resource}
}

// AfterExternal returns the step waiting on a ZooKeeper request.
func AfterExternal(kind ExternalKind) Step {
	return Step{Phase: PhaseAfterExternal, External: kind}
}

// Stage is the pipeline index the step belongs to.
func (s Step) Stage() int {
	return s.stage
}

// Equal compares steps ignoring the owning stage.
func (s Step) Equal(o Step) bool {
	return s.Phase == o.Phase && s.Action == o.Action && s.Resource == o.Resource && s.External == o.External
}

func (s Step) String() string {
	switch s.Phase {
	case PhaseAfterStep:
		return fmt.Sprintf("AfterStep(%s, %s)", s.Action, s.Resource)
	case PhaseAfterExternal:
		return fmt.Sprintf("AfterExternal(%s)", s.External)
	default:
		return s.Phase.String()
	}
}
