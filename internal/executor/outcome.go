package executor

import (
	"magnolia/internal/planner"
)

// Status is the result of applying one action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Failure reasons shared with callers and tests.
const (
	ReasonSourceChanged     = "source changed since scan"
	ReasonSourceMissing     = "source missing"
	ReasonKeeperUnavailable = "keeper unavailable"
	ReasonCanceled          = "canceled"
	ReasonTimeout           = "timeout"
)

// Outcome records what happened to one action. FinalPath is where the file
// ended up, which differs from the planned destination when the executor had
// to pick a new suffix.
type Outcome struct {
	Action    planner.Action `json:"action"`
	Status    Status         `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	FinalPath string         `json:"finalPath,omitempty"`
	Linked    bool           `json:"linked,omitempty"`
}

// String renders the outcome as success, skipped or failed:<reason>.
func (o Outcome) String() string {
	if o.Status == StatusFailed {
		return string(StatusFailed) + ":" + o.Reason
	}
	return string(o.Status)
}

// Summary counts outcomes by status.
type Summary struct {
	Succeeded        int   `json:"succeeded"`
	Failed           int   `json:"failed"`
	Skipped          int   `json:"skipped"`
	BytesTransferred int64 `json:"bytesTransferred"`
}

// Result holds one outcome per plan action, in plan order.
type Result struct {
	Outcomes []Outcome `json:"outcomes"`
	Summary  Summary   `json:"summary"`
}

func summarize(outcomes []Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		switch o.Status {
		case StatusSuccess:
			s.Succeeded++
			if o.Action.Kind != planner.KindDelete {
				s.BytesTransferred += o.Action.Size
			}
		case StatusSkipped:
			s.Skipped++
		default:
			s.Failed++
		}
	}
	return s
}
