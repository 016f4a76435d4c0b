package model

// LocationTag is a destination-side tag definition fetched once per run and
// used both to validate CSV level headers and to tag outgoing locations.
type LocationTag struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Active bool   `json:"active,omitempty"`
}

// LocationProperties carries the destination wire fields nested under a
// location's "properties" key.
type LocationProperties struct {
	ParentID          string `json:"parentId,omitempty"`
	Name              string `json:"name"`
	GeographicalLevel int    `json:"geographicalLevel"`
	Status            string `json:"status,omitempty"`
}

// Location is one node of the administrative hierarchy. Instances are built
// either from a source-system row or from one CSV row fragment and are
// immutable once the transformer hands them off.
type Location struct {
	ID           string             `json:"id"`
	LocationTags []LocationTag      `json:"locationTags,omitempty"`
	Properties   LocationProperties `json:"properties"`

	// Generated is true when the identifier was minted locally because the
	// source left it blank. Only generated locations are posted.
	Generated bool `json:"-"`

	// TeamBearing marks locations whose level matches the configured team
	// trigger; each distinct one yields an Organization pair.
	TeamBearing bool `json:"-"`

	// Key is the memoization key (parent name + own name) the transformer
	// used to mint or look up the identifier.
	Key string `json:"-"`
}

// Organization is generated 1:1 from each distinct team-bearing location.
type Organization struct {
	Identifier string `json:"identifier"`
	Active     bool   `json:"active"`
	Name       string `json:"name"`
}

// OrganizationLocation links a generated Organization to its Location.
type OrganizationLocation struct {
	Organization string `json:"organization"`
	Location     string `json:"jurisdiction"`
}

// UserRecord is one row of the users CSV. Records are grouped by the
// (parent location, location) composite key; the organization-location id is
// resolved only after the locations stage has minted real identifiers.
type UserRecord struct {
	ParentLocation         string `json:"parentLocation"`
	Location               string `json:"location"`
	FirstName              string `json:"firstName,omitempty"`
	LastName               string `json:"lastName,omitempty"`
	Username               string `json:"username"`
	Email                  string `json:"email,omitempty"`
	OrganizationLocationID string `json:"organizationLocationId,omitempty"`
}

// GroupKey returns the composite key users are grouped under.
func (u UserRecord) GroupKey() string {
	return u.ParentLocation + u.Location
}

// GroupAssignment attaches a created user to its default group once the
// destination has reported the user's identifier.
type GroupAssignment struct {
	Username string `json:"username"`
	UserID   string `json:"userId,omitempty"`
}
