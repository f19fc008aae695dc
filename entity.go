package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the type of an orchestrable entity. Dependency edges,
// schedules, and runs are polymorphic over Kind, so entities are always
// addressed by a tagged (kind, id) pair rather than a bare integer.
type Kind string

const (
	// KindPipeline is an extract/load job.
	KindPipeline Kind = "pipeline"
	// KindTransformation is a SQL/dbt transformation job.
	KindTransformation Kind = "transformation"
)

// Valid reports whether k is a known entity kind.
func (k Kind) Valid() bool {
	return k == KindPipeline || k == KindTransformation
}

// EntityRef is a tagged reference to one orchestrable entity.
// The zero value is not a valid reference.
type EntityRef struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

// Ref builds an EntityRef.
func Ref(kind Kind, id int64) EntityRef {
	return EntityRef{Kind: kind, ID: id}
}

// String renders the reference as "kind:id".
func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// IsZero reports whether r is the zero reference.
func (r EntityRef) IsZero() bool {
	return r.Kind == "" && r.ID == 0
}

// Less orders references by (kind, id) ascending. Used to break ties
// deterministically in topological ordering.
func (r EntityRef) Less(other EntityRef) bool {
	if r.Kind != other.Kind {
		return r.Kind < other.Kind
	}
	return r.ID < other.ID
}

// ParseRef parses a "kind:id" string into an EntityRef.
func ParseRef(s string) (EntityRef, error) {
	kind, idStr, ok := strings.Cut(s, ":")
	if !ok {
		return EntityRef{}, fmt.Errorf("core: parse ref %q: missing separator", s)
	}
	k := Kind(kind)
	if !k.Valid() {
		return EntityRef{}, fmt.Errorf("core: parse ref %q: unknown kind %q", s, kind)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return EntityRef{}, fmt.Errorf("core: parse ref %q: %w", s, err)
	}
	return EntityRef{Kind: k, ID: id}, nil
}

// TargetMode selects how a trigger target is expanded before dispatch.
type TargetMode string

const (
	// TargetEntity runs exactly the referenced entity.
	TargetEntity TargetMode = "entity"
	// TargetGroup runs the referenced entity and its downstream closure,
	// in dependency order.
	TargetGroup TargetMode = "group"
)

// Target is what a trigger (manual action or schedule fire) points at:
// either a single entity or the DAG group rooted at one.
type Target struct {
	Mode TargetMode `json:"mode"`
	Ref  EntityRef  `json:"ref"`
}

// Entity returns a single-entity target.
func Entity(ref EntityRef) Target { return Target{Mode: TargetEntity, Ref: ref} }

// Group returns a DAG-group target rooted at ref.
func Group(ref EntityRef) Target { return Target{Mode: TargetGroup, Ref: ref} }
