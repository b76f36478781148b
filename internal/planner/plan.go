// Package planner turns an analyzed catalog into an ordered, side-effect-free
// action plan.
//
// Planning only reads the filesystem, through an Oracle that answers whether
// a candidate destination is free, already holds the same content, or holds
// something else. Destinations that are taken by different content get a
// numeric suffix; destinations that already hold the same content become
// SKIP. Given the same inputs and the same oracle answers, Build always
// produces the same plan.
package planner

import (
	"fmt"
	"strings"

	"magnolia/internal/config"
)

// Kind is the operation an action performs.
type Kind string

const (
	KindMove       Kind = "MOVE"
	KindCopy       Kind = "COPY"
	KindQuarantine Kind = "QUARANTINE"
	KindDelete     Kind = "DELETE"
	KindSkip       Kind = "SKIP"
)

// Mode selects whether sources are relocated or duplicated.
type Mode string

const (
	ModeMove Mode = config.ModeMove
	ModeCopy Mode = config.ModeCopy
)

// Policy selects how redundant duplicates are handled.
type Policy string

const (
	PolicyQuarantine Policy = config.PolicyQuarantine
	PolicyDelete     Policy = config.PolicyDelete
	PolicyKeepAll    Policy = config.PolicyKeepAll
)

// ParseMode accepts "move" or "copy" in any case.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeMove:
		return ModeMove, nil
	case ModeCopy:
		return ModeCopy, nil
	default:
		return "", fmt.Errorf("unsupported mode %q (use %s or %s)", value, ModeMove, ModeCopy)
	}
}

// ParsePolicy accepts the policy names with the aliases understood by config.
func ParsePolicy(value string) (Policy, error) {
	normalized := config.NormalizePolicy(value)
	if err := config.ValidatePolicy(normalized); err != nil {
		return "", err
	}
	return Policy(normalized), nil
}

// Action is one planned filesystem operation.
type Action struct {
	SourcePath      string `json:"sourcePath"`
	DestinationPath string `json:"destinationPath,omitempty"`
	Kind            Kind   `json:"kind"`
	Reason          string `json:"reason,omitempty"`
	Size            int64  `json:"size"`
	ContentHash     string `json:"contentHash,omitempty"`
	KeeperPath      string `json:"keeperPath,omitempty"`
}

// Plan is the ordered action list plus the settings it was built for.
type Plan struct {
	Destination     string   `json:"destination"`
	Mode            Mode     `json:"mode"`
	DuplicatePolicy Policy   `json:"duplicatePolicy"`
	Actions         []Action `json:"actions"`
}

// Counts tallies actions by kind.
func (p Plan) Counts() map[Kind]int {
	counts := make(map[Kind]int, 5)
	for _, action := range p.Actions {
		counts[action.Kind]++
	}
	return counts
}

// Bytes sums the size of actions that transfer data.
func (p Plan) Bytes() int64 {
	var total int64
	for _, action := range p.Actions {
		switch action.Kind {
		case KindMove, KindCopy, KindQuarantine:
			total += action.Size
		}
	}
	return total
}
