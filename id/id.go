// Package id defines TypeID-based identity types for orchestration records.
//
// Every record the engine creates (runs, schedules, edges, groups, tasks,
// workers) uses a single ID struct whose prefix identifies the record type.
// IDs are K-sortable (UUIDv7-based), globally unique, and URL-safe in the
// format "prefix_suffix". Orchestrable entities themselves are addressed by
// core.EntityRef, not by TypeID: their integer ids belong to the CRUD layer
// outside this module.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the record type encoded in a TypeID.
type Prefix string

const (
	PrefixRun      Prefix = "run"
	PrefixSchedule Prefix = "sched"
	PrefixEdge     Prefix = "edge"
	PrefixGroup    Prefix = "grp"
	PrefixTask     Prefix = "task"
	PrefixWorker   Prefix = "wkr"
)

// ID is a prefix-qualified, globally unique, sortable identifier.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new unique ID with the given prefix. It panics if the
// prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g. "run_01h2xcejqtf2nbrexx3vqjhp41").
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates its prefix.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

// Aliases keep signatures self-describing without separate wrapper types.
type (
	// RunID identifies one execution attempt (prefix "run").
	RunID = ID
	// ScheduleID identifies a schedule record (prefix "sched").
	ScheduleID = ID
	// EdgeID identifies a dependency edge (prefix "edge").
	EdgeID = ID
	// GroupID identifies one DAG-group firing (prefix "grp").
	GroupID = ID
	// TaskID identifies one queue delivery payload (prefix "task").
	TaskID = ID
	// WorkerID identifies a worker pool instance (prefix "wkr").
	WorkerID = ID
)

// NewRunID generates a new unique run ID.
func NewRunID() ID { return New(PrefixRun) }

// NewScheduleID generates a new unique schedule ID.
func NewScheduleID() ID { return New(PrefixSchedule) }

// NewEdgeID generates a new unique edge ID.
func NewEdgeID() ID { return New(PrefixEdge) }

// NewGroupID generates a new unique group ID.
func NewGroupID() ID { return New(PrefixGroup) }

// NewTaskID generates a new unique task ID.
func NewTaskID() ID { return New(PrefixTask) }

// NewWorkerID generates a new unique worker ID.
func NewWorkerID() ID { return New(PrefixWorker) }

// ParseRunID parses a string and validates the "run" prefix.
func ParseRunID(s string) (ID, error) { return ParseWithPrefix(s, PrefixRun) }

// ParseScheduleID parses a string and validates the "sched" prefix.
func ParseScheduleID(s string) (ID, error) { return ParseWithPrefix(s, PrefixSchedule) }

// ParseEdgeID parses a string and validates the "edge" prefix.
func ParseEdgeID(s string) (ID, error) { return ParseWithPrefix(s, PrefixEdge) }

// ParseGroupID parses a string and validates the "grp" prefix.
func ParseGroupID(s string) (ID, error) { return ParseWithPrefix(s, PrefixGroup) }

// String returns the full "prefix_suffix" representation, or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}
	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. The Nil ID stores as NULL so optional
// foreign key columns stay nullable.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		if v == "" {
			*i = Nil
			return nil
		}
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*i = parsed
		return nil
	case []byte:
		return i.Scan(string(v))
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}
