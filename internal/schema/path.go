package schema

import (
	"strings"
)

// Direction constrains which way relationships are traversed.
type Direction int

const (
	DirectionForward  Direction = 1
	DirectionBackward Direction = 2
	DirectionBoth               = DirectionForward | DirectionBackward
)

// String returns the direction keyword used in rule files.
func (d Direction) String() string {
	switch d {
	case DirectionForward:
		return "forward"
	case DirectionBackward:
		return "backward"
	default:
		return "both"
	}
}

// Allows reports whether a hop in the given orientation matches the direction.
func (d Direction) Allows(forward bool) bool {
	if forward {
		return d&DirectionForward != 0
	}
	return d&DirectionBackward != 0
}

// ParseDirection converts a rule keyword to a Direction. Unknown values mean both.
func ParseDirection(s string) Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward":
		return DirectionForward
	case "backward":
		return DirectionBackward
	default:
		return DirectionBoth
	}
}

// RelatedClass is one traversal hop from Source to Target over Relationship.
type RelatedClass struct {
	Source            *Class
	Relationship      *Class
	RelationshipAlias string
	Target            *Class
	TargetAlias       string
	TargetPolymorphic bool
	// Forward means Source is the relationship source end.
	Forward        bool
	InstanceFilter string
	// TargetOptional makes the hop a left join.
	TargetOptional bool
	// TargetCount is the resolved number of target instances, 0 when unknown.
	TargetCount int
}

// Equal compares hops structurally, aliases included.
func (rc RelatedClass) Equal(other RelatedClass) bool {
	return classID(rc.Source) == classID(other.Source) &&
		classID(rc.Relationship) == classID(other.Relationship) &&
		classID(rc.Target) == classID(other.Target) &&
		rc.RelationshipAlias == other.RelationshipAlias &&
		rc.TargetAlias == other.TargetAlias &&
		rc.TargetPolymorphic == other.TargetPolymorphic &&
		rc.Forward == other.Forward &&
		rc.InstanceFilter == other.InstanceFilter &&
		rc.TargetOptional == other.TargetOptional
}

// Reversed returns the hop walked from Target back to Source. The new target
// gets targetAlias; the relationship alias is kept.
func (rc RelatedClass) Reversed(targetAlias string, polymorphic bool) RelatedClass {
	return RelatedClass{
		Source:            rc.Target,
		Relationship:      rc.Relationship,
		RelationshipAlias: rc.RelationshipAlias,
		Target:            rc.Source,
		TargetAlias:       targetAlias,
		TargetPolymorphic: polymorphic,
		Forward:           !rc.Forward,
	}
}

// RelatedClassPath is an ordered list of hops. An empty path means no traversal.
type RelatedClassPath []RelatedClass

// Equal compares paths hop by hop.
func (p RelatedClassPath) Equal(other RelatedClassPath) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if !p[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// StartsWith reports whether prefix is a leading sub-path of p.
func (p RelatedClassPath) StartsWith(prefix RelatedClassPath) bool {
	if len(prefix) > len(p) {
		return false
	}
	return p[:len(prefix)].Equal(prefix)
}

// Clone returns a copy that can be modified independently.
func (p RelatedClassPath) Clone() RelatedClassPath {
	if p == nil {
		return nil
	}
	out := make(RelatedClassPath, len(p))
	copy(out, p)
	return out
}

// Last returns the final hop. It panics on an empty path.
func (p RelatedClassPath) Last() RelatedClass {
	return p[len(p)-1]
}

// Target returns the class the path ends at, or nil for an empty path.
func (p RelatedClassPath) Target() *Class {
	if len(p) == 0 {
		return nil
	}
	return p[len(p)-1].Target
}

// Reverse walks the path from its end back to its start. The hop that ends at
// the original source gets sourceAlias, intermediate hops keep the aliases of
// the classes they now lead to.
func (p RelatedClassPath) Reverse(sourceAlias string, polymorphic bool) RelatedClassPath {
	out := make(RelatedClassPath, 0, len(p))
	for i := len(p) - 1; i >= 0; i-- {
		alias := sourceAlias
		targetPolymorphic := polymorphic
		if i > 0 {
			alias = p[i-1].TargetAlias
			targetPolymorphic = p[i-1].TargetPolymorphic
		}
		out = append(out, p[i].Reversed(alias, targetPolymorphic))
	}
	return out
}

// Key renders the path as a stable string, aliases excluded. Paths with equal
// keys traverse the same classes in the same way.
func (p RelatedClassPath) Key() string {
	var sb strings.Builder
	for i, hop := range p {
		if i > 0 {
			sb.WriteString("/")
		}
		sb.WriteString(className(hop.Source))
		if hop.Forward {
			sb.WriteString("-")
			sb.WriteString(className(hop.Relationship))
			sb.WriteString("->")
		} else {
			sb.WriteString("<-")
			sb.WriteString(className(hop.Relationship))
			sb.WriteString("-")
		}
		sb.WriteString(className(hop.Target))
	}
	return sb.String()
}

// Aliases returns every alias introduced by the path.
func (p RelatedClassPath) Aliases() []string {
	out := make([]string, 0, len(p)*2)
	for _, hop := range p {
		if hop.RelationshipAlias != "" {
			out = append(out, hop.RelationshipAlias)
		}
		if hop.TargetAlias != "" {
			out = append(out, hop.TargetAlias)
		}
	}
	return out
}

func classID(c *Class) ClassID {
	if c == nil {
		return 0
	}
	return c.ID
}

func className(c *Class) string {
	if c == nil {
		return "?"
	}
	return c.FullName()
}

// EdgeHolder tells which table stores the id pairs of a hop.
type EdgeHolder int

const (
	// EdgeOnSource means the hop source table holds the target id.
	EdgeOnSource EdgeHolder = iota
	// EdgeOnTarget means the hop target table holds the source id.
	EdgeOnTarget
	// EdgeOnLinkTable means the relationship's own table holds both ids.
	EdgeOnLinkTable
)

// Edge is the id mapping a hop reads: rows of Table map FromColumn (ids of
// the hop source) to ToColumn (ids of the hop target).
type Edge struct {
	Holder     EdgeHolder
	Table      string
	FromColumn string
	ToColumn   string
}

// Edge returns the id mapping the hop traverses.
func (rc RelatedClass) Edge() Edge {
	rel := rc.Relationship.Relationship
	if rel.Strategy == StorageLinkTable {
		e := Edge{Holder: EdgeOnLinkTable, Table: rc.Relationship.Table, FromColumn: rel.SourceColumn, ToColumn: rel.TargetColumn}
		if !rc.Forward {
			e.FromColumn, e.ToColumn = e.ToColumn, e.FromColumn
		}
		return e
	}
	if (rel.ForeignKeyEnd == EndTarget) == rc.Forward {
		return Edge{Holder: EdgeOnTarget, Table: rc.Target.Table, FromColumn: rel.ForeignKeyColumn, ToColumn: rc.Target.PrimaryKey()}
	}
	return Edge{Holder: EdgeOnSource, Table: rc.Source.Table, FromColumn: rc.Source.PrimaryKey(), ToColumn: rel.ForeignKeyColumn}
}
