package planner

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"magnolia/internal/catalog"
	"magnolia/internal/classify"
	"magnolia/internal/dedupe"
	"magnolia/internal/services"
)

// maxSuffix bounds the search for a free "name (N).ext" destination.
const maxSuffix = 10000

// Input carries everything Build needs.
type Input struct {
	Entries []catalog.Entry
	// Categories maps path to category. Entries missing from it fall back to
	// their own Category field, then to "uncategorized".
	Categories    map[string]string
	Sets          []dedupe.Set
	Destination   string
	Mode          Mode
	Policy        Policy
	DuplicatesDir string
}

// claim records content planned for a destination earlier in this pass.
type claim struct {
	size int64
	hash string
}

// claims is the per-invocation set of destinations already targeted.
type claims map[string]claim

func (c claims) identical(path string, size int64, hash string) (taken, same bool) {
	existing, ok := c[path]
	if !ok {
		return false, false
	}
	return true, hash != "" && existing.hash == hash && existing.size == size
}

// Build produces the action plan. Entries are processed in path order and
// DELETE actions are placed after every other action.
func Build(ctx context.Context, in Input, oracle Oracle) (Plan, error) {
	if err := validateInput(&in); err != nil {
		return Plan{}, err
	}

	entries := append([]catalog.Entry(nil), in.Entries...)
	catalog.SortByPath(entries)
	roles := dedupe.Roles(in.Sets)
	keepers := dedupe.KeeperOf(in.Sets)
	claimed := make(claims)

	plan := Plan{Destination: in.Destination, Mode: in.Mode, DuplicatePolicy: in.Policy, Actions: []Action{}}
	var deletes []Action

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return Plan{}, err
		}
		action := Action{SourcePath: entry.Path, Size: entry.Size, ContentHash: entry.ContentHash}
		redundant := dedupe.RoleOf(roles, entry.Path) == dedupe.RoleRedundant && in.Policy != PolicyKeepAll

		var dir string
		switch {
		case redundant && in.Policy == PolicyDelete:
			action.KeeperPath = keepers[entry.Path]
			if in.Mode == ModeCopy {
				action.Kind = KindSkip
				action.Reason = "duplicate of " + action.KeeperPath + "; delete disabled in copy mode"
				plan.Actions = append(plan.Actions, action)
				continue
			}
			action.Kind = KindDelete
			action.Reason = "duplicate of " + action.KeeperPath
			deletes = append(deletes, action)
			continue
		case redundant:
			action.Kind = KindQuarantine
			action.KeeperPath = keepers[entry.Path]
			action.Reason = "duplicate of " + action.KeeperPath
			dir = filepath.Join(in.Destination, in.DuplicatesDir)
		default:
			category, err := categoryFor(in.Categories, entry)
			if err != nil {
				return Plan{}, err
			}
			action.Kind = KindMove
			if in.Mode == ModeCopy {
				action.Kind = KindCopy
			}
			action.Reason = "category " + category
			dir = filepath.Join(in.Destination, filepath.FromSlash(category))
		}

		target := filepath.Join(dir, filepath.Base(entry.Path))
		resolved, skipReason, err := resolve(ctx, oracle, claimed, target, entry)
		if err != nil {
			return Plan{}, err
		}
		if skipReason != "" {
			action.Kind = KindSkip
			action.Reason = skipReason
			action.DestinationPath = resolved
			plan.Actions = append(plan.Actions, action)
			continue
		}
		action.DestinationPath = resolved
		claimed[resolved] = claim{size: entry.Size, hash: entry.ContentHash}
		plan.Actions = append(plan.Actions, action)
	}

	plan.Actions = append(plan.Actions, deletes...)
	return plan, nil
}

// resolve finds the destination for entry starting at target. A non-empty
// skipReason means the entry needs no transfer.
func resolve(ctx context.Context, oracle Oracle, claimed claims, target string, entry catalog.Entry) (path, skipReason string, err error) {
	for n := 0; n <= maxSuffix; n++ {
		candidate := SuffixedPath(target, n)
		if candidate == entry.Path {
			claimed[candidate] = claim{size: entry.Size, hash: entry.ContentHash}
			return candidate, "already at destination", nil
		}
		if taken, same := claimed.identical(candidate, entry.Size, entry.ContentHash); taken {
			if same {
				return candidate, "identical content already planned for " + candidate, nil
			}
			continue
		}
		probe, probeErr := oracle.Probe(ctx, candidate, entry.Size, entry.ContentHash)
		if probeErr != nil && ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		switch probe {
		case ProbeAbsent:
			return candidate, "", nil
		case ProbeIdentical:
			claimed[candidate] = claim{size: entry.Size, hash: entry.ContentHash}
			return candidate, "identical file already exists at " + candidate, nil
		}
	}
	return "", "", services.Wrap(services.ErrValidation, "plan", "resolve destination", fmt.Sprintf("no free name for %s after %d attempts", target, maxSuffix), nil)
}

// SuffixedPath returns p with " (n)" inserted before the extension. n == 0
// returns p unchanged. Names without a stem (".bashrc") get the suffix
// appended.
func SuffixedPath(p string, n int) string {
	if n == 0 {
		return p
	}
	dir, base := filepath.Split(p)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem, ext = base, ""
	}
	return dir + stem + " (" + strconv.Itoa(n) + ")" + ext
}

// SplitSuffix reverses SuffixedPath: it returns p without a trailing " (n)"
// and n, or p and 0 when no suffix is present.
func SplitSuffix(p string) (string, int) {
	dir, base := filepath.Split(p)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem, ext = base, ""
	}
	open := strings.LastIndex(stem, " (")
	if open <= 0 || !strings.HasSuffix(stem, ")") {
		return p, 0
	}
	n, err := strconv.Atoi(stem[open+2 : len(stem)-1])
	if err != nil || n <= 0 {
		return p, 0
	}
	return dir + stem[:open] + ext, n
}

func categoryFor(categories map[string]string, entry catalog.Entry) (string, error) {
	category := categories[entry.Path]
	if category == "" {
		category = entry.Category
	}
	if category == "" {
		category = catalog.Uncategorized
	}
	if err := classify.ValidateCategory(category); err != nil {
		return "", services.Wrap(services.ErrValidation, "plan", "category", entry.Path, err)
	}
	return category, nil
}

func validateInput(in *Input) error {
	if strings.TrimSpace(in.Destination) == "" {
		return services.Wrap(services.ErrValidation, "plan", "destination", "destination is required", nil)
	}
	if !filepath.IsAbs(in.Destination) {
		return services.Wrap(services.ErrValidation, "plan", "destination", in.Destination+" is not absolute", nil)
	}
	in.Destination = filepath.Clean(in.Destination)
	if in.Mode == "" {
		in.Mode = ModeMove
	}
	mode, err := ParseMode(string(in.Mode))
	if err != nil {
		return services.Wrap(services.ErrValidation, "plan", "mode", "", err)
	}
	in.Mode = mode
	if in.Policy == "" {
		in.Policy = PolicyQuarantine
	}
	policy, err := ParsePolicy(string(in.Policy))
	if err != nil {
		return services.Wrap(services.ErrValidation, "plan", "duplicate policy", "", err)
	}
	in.Policy = policy
	if in.DuplicatesDir == "" {
		in.DuplicatesDir = "duplicates"
	}
	if err := classify.ValidateCategory(in.DuplicatesDir); err != nil {
		return services.Wrap(services.ErrValidation, "plan", "duplicates dir", "", err)
	}
	return catalog.Validate(in.Entries)
}
