package tracking

import (
	"sort"
	"strings"
)

// DefaultCollisionRadius is the radius of every marker, in pixels.
const DefaultCollisionRadius = 60

// Default role patterns.
const (
	DefaultPrimaryRole   = "pac-man"
	DefaultSecondaryRole = "fantasma"
)

// Roles classifies marker identifiers. A marker whose identifier contains
// Primary is the primary marker; one containing Secondary is a secondary
// marker. Markers matching neither are tracked but never collide.
type Roles struct {
	Primary   string
	Secondary string
}

// DefaultRoles returns the pac-man / ghost role patterns.
func DefaultRoles() Roles {
	return Roles{Primary: DefaultPrimaryRole, Secondary: DefaultSecondaryRole}
}

// IsPrimary reports whether marker plays the primary role.
func (r Roles) IsPrimary(marker string) bool {
	return r.Primary != "" && strings.Contains(marker, r.Primary)
}

// IsSecondary reports whether marker plays a secondary role.
func (r Roles) IsSecondary(marker string) bool {
	return r.Secondary != "" && !r.IsPrimary(marker) && strings.Contains(marker, r.Secondary)
}

// FindPrimary returns the first pose in poses that plays the primary role.
func (r Roles) FindPrimary(poses []MarkerPose) *MarkerPose {
	for i := range poses {
		if r.IsPrimary(poses[i].Marker) {
			return &poses[i]
		}
	}
	return nil
}

// CollisionDetector finds secondary markers touching the primary marker.
// All markers share one radius, so two markers touch when their centres are
// closer than twice that radius.
type CollisionDetector struct {
	Radius int
	Roles  Roles
}

// Threshold returns the squared centre distance below which markers collide.
func (d CollisionDetector) Threshold() int {
	return (2 * d.Radius) * (2 * d.Radius)
}

// Detect returns the identifiers of secondary markers colliding with the
// primary marker, sorted. It returns nil when the primary marker is absent
// or no secondary marker is present. A distance of exactly 2R does not count.
func (d CollisionDetector) Detect(poses []MarkerPose) []string {
	primary := d.Roles.FindPrimary(poses)
	if primary == nil {
		return nil
	}

	limit := d.Threshold()
	var hits []string
	for _, p := range poses {
		if !d.Roles.IsSecondary(p.Marker) {
			continue
		}
		dx := primary.X - p.X
		dy := primary.Y - p.Y
		if dx*dx+dy*dy < limit {
			hits = append(hits, p.Marker)
		}
	}
	sort.Strings(hits)
	return hits
}
