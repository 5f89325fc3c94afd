package memory

import (
	"encoding/json"
	"fmt"
)

// Snapshot is a point-in-time serialization of both memory
// subsystems. It deliberately keeps short-term and long-term state as
// two independent sections rather than merging them into one combined
// record shape — see SPEC_FULL.md's disposition against tightly
// coupling the two memory classes.
type Snapshot struct {
	WorkingLog json.RawMessage `json:"working_log"`
	Records    []*Record       `json:"records"`
	Stats      map[string]any  `json:"stats"`
}

// TakeSnapshot captures the current state of both log and archive.
func TakeSnapshot(log *WorkingLog, archive *Archive) (*Snapshot, error) {
	logData, err := log.Export()
	if err != nil {
		return nil, fmt.Errorf("snapshot: export working log: %w", err)
	}
	records, err := archive.AllMemories()
	if err != nil {
		return nil, fmt.Errorf("snapshot: list records: %w", err)
	}
	stats, err := archive.Stats()
	if err != nil {
		return nil, fmt.Errorf("snapshot: stats: %w", err)
	}
	return &Snapshot{WorkingLog: logData, Records: records, Stats: stats}, nil
}

// Apply restores a snapshot transactionally: the working log and
// archive are only mutated after the snapshot has been fully
// deserialized, so a corrupt snapshot leaves existing state untouched.
func (s *Snapshot) Apply(log *WorkingLog, archive *Archive) error {
	// Deserialize eagerly before touching any state — json.RawMessage
	// is already parsed JSON, but re-validate the working log shape
	// here so a malformed snapshot fails before anything is mutated.
	var probe workingLogExport
	if err := json.Unmarshal(s.WorkingLog, &probe); err != nil {
		return fmt.Errorf("apply snapshot: invalid working log data: %w", err)
	}

	if _, err := log.Import(s.WorkingLog); err != nil {
		return fmt.Errorf("apply snapshot: restore working log: %w", err)
	}

	existing, err := archive.AllMemories()
	if err != nil {
		return fmt.Errorf("apply snapshot: list existing records: %w", err)
	}
	for _, r := range existing {
		if err := archive.Delete(r.ID); err != nil {
			return fmt.Errorf("apply snapshot: clear existing record %s: %w", r.ID, err)
		}
	}

	for _, r := range s.Records {
		id, err := archive.Add(r.Content, r.SourceType, r.Importance, r.Topics, r.Metadata)
		if err != nil {
			return fmt.Errorf("apply snapshot: restore record: %w", err)
		}
		if len(r.Embedding) > 0 {
			if err := archive.SetEmbedding(id, r.Embedding); err != nil {
				return fmt.Errorf("apply snapshot: restore embedding: %w", err)
			}
		}
	}
	return nil
}
