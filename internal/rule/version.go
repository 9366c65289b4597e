package rule

import "time"

// ChangeType labels a version history entry.
type ChangeType string

const (
	ChangeRegistered   ChangeType = "registered"
	ChangeUpdated      ChangeType = "updated"
	ChangeEnabled      ChangeType = "enabled"
	ChangeDisabled     ChangeType = "disabled"
	ChangeUnregistered ChangeType = "unregistered"
	ChangeRolledBack   ChangeType = "rolled_back"
)

// VersionEntry is one append-only record of a rule's lifecycle. Snapshot
// is the full rule as of that version; diffs against earlier entries are
// computed on demand via Diff.
type VersionEntry struct {
	Version        int        `json:"version"`
	Snapshot       Rule       `json:"ruleSnapshot"`
	Timestamp      time.Time  `json:"timestamp"`
	ChangeType     ChangeType `json:"changeType"`
	RolledBackFrom int        `json:"rolledBackFrom,omitempty"`
}
