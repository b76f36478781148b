package fileutil

import "time"

// Times holds the timestamps recorded for a catalog entry.
type Times struct {
	Created  time.Time
	Modified time.Time
	Accessed time.Time
	// BirthKnown is false when Created fell back to Modified.
	BirthKnown bool
}
