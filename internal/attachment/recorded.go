package attachment

import (
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"github.com/ajitpratap0/sg-archive/internal/codec"
)

// RecordedIDsFile is the name of the persisted id set inside the Attachment folder.
const RecordedIDsFile = "_all_ids.pickle"

// RecordedIDs is the process-wide set of Attachment ids referenced by any archived
// record. It is shared by every entity type run of one process.
type RecordedIDs struct {
	dir string

	mu  sync.Mutex
	ids map[int64]struct{}
}

// NewRecordedIDs creates an empty set persisted under attachmentDir.
func NewRecordedIDs(attachmentDir string) *RecordedIDs {
	return &RecordedIDs{dir: attachmentDir, ids: make(map[int64]struct{})}
}

// Path returns the location of the persisted set.
func (r *RecordedIDs) Path() string {
	return filepath.Join(r.dir, RecordedIDsFile)
}

// Add records ids.
func (r *RecordedIDs) Add(ids ...int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.ids[id] = struct{}{}
	}
}

// Len returns the number of ids recorded in memory.
func (r *RecordedIDs) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

// Merge unions the in-memory set with the persisted one and writes the result back.
// It returns the merged ids in ascending order.
func (r *RecordedIDs) Merge() ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := codec.ReadIDSet(r.Path())
	if err != nil {
		return nil, err
	}
	merged := make(map[int64]struct{}, len(existing)+len(r.ids))
	for _, id := range existing {
		merged[id] = struct{}{}
	}
	for id := range r.ids {
		merged[id] = struct{}{}
	}
	out := make([]int64, 0, len(merged))
	for id := range merged {
		out = append(out, id)
	}
	slices.Sort(out)

	if err := codec.WriteIDSet(r.Path(), out); err != nil {
		return nil, fmt.Errorf("saving recorded attachment ids: %w", err)
	}
	return out, nil
}

// LoadRecordedIDs reads the persisted set from attachmentDir.
func LoadRecordedIDs(attachmentDir string) ([]int64, error) {
	return codec.ReadIDSet(filepath.Join(attachmentDir, RecordedIDsFile))
}
