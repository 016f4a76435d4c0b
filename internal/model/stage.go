// Package model defines the entity types and stage sequence for the
// reference-data migration pipeline.
package model

// Stage identifies one ordered phase of the migration pipeline. Each stage
// operates on a single entity kind and may only begin once the previous
// stage's outstanding work has fully resolved.
type Stage string

const (
	StageLocations             Stage = "locations"
	StageOrganizations         Stage = "organizations"
	StageOrganizationLocations Stage = "organization_locations"
	StageUsers                 Stage = "users"
	StageUserGroups            Stage = "user_groups"

	// StageDone is the terminal marker; it never carries work.
	StageDone Stage = "done"
)

// Sequence is the fixed forward order of the pipeline. Transitions happen
// only along this slice, driven by completion signals.
var Sequence = []Stage{
	StageLocations,
	StageOrganizations,
	StageOrganizationLocations,
	StageUsers,
	StageUserGroups,
}

// Next returns the stage that follows s in the fixed sequence, or StageDone
// when s is the last stage (or unknown).
func (s Stage) Next() Stage {
	for i, stage := range Sequence {
		if stage == s && i+1 < len(Sequence) {
			return Sequence[i+1]
		}
	}
	return StageDone
}

func (s Stage) String() string { return string(s) }
