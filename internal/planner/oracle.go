package planner

import (
	"context"
	"errors"
	"io/fs"

	"github.com/spf13/afero"

	"magnolia/internal/fileutil"
)

// Probe is the oracle's verdict on a candidate destination.
type Probe int

const (
	// ProbeAbsent means nothing exists at the path.
	ProbeAbsent Probe = iota
	// ProbeIdentical means a regular file with the same size and hash exists.
	ProbeIdentical
	// ProbeDifferent means something exists whose content differs or is unknown.
	ProbeDifferent
)

func (p Probe) String() string {
	switch p {
	case ProbeAbsent:
		return "absent"
	case ProbeIdentical:
		return "identical"
	default:
		return "different"
	}
}

// Oracle answers read-only existence and content questions about paths.
type Oracle interface {
	Probe(ctx context.Context, path string, size int64, contentHash string) (Probe, error)
}

// FSOracle probes an afero filesystem. Content is compared by size first and
// then by hashing the existing file with the algorithm of contentHash.
type FSOracle struct {
	Fs afero.Fs
}

// NewOSOracle returns an oracle over the real filesystem.
func NewOSOracle() *FSOracle {
	return &FSOracle{Fs: afero.NewOsFs()}
}

// Probe implements Oracle.
func (o *FSOracle) Probe(ctx context.Context, path string, size int64, contentHash string) (Probe, error) {
	info, err := o.Fs.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ProbeAbsent, nil
	}
	if err != nil {
		return ProbeDifferent, err
	}
	if !info.Mode().IsRegular() || info.Size() != size || contentHash == "" {
		return ProbeDifferent, nil
	}

	file, err := o.Fs.Open(path)
	if err != nil {
		return ProbeDifferent, err
	}
	defer file.Close()
	existing, err := fileutil.HashReader(ctx, file, fileutil.HashAlgorithm(contentHash))
	if err != nil {
		return ProbeDifferent, err
	}
	if existing == contentHash {
		return ProbeIdentical, nil
	}
	return ProbeDifferent, nil
}
