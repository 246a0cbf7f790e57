package versioning

import "time"

// VersionStatus is the lifecycle state of a single version.
type VersionStatus string

const (
	StatusActive   VersionStatus = "ACTIVE"
	StatusInactive VersionStatus = "INACTIVE"
	StatusDeleted  VersionStatus = "DELETED"
)

// Valid reports whether s is one of the known statuses.
func (s VersionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusDeleted:
		return true
	}
	return false
}

// Version is one immutable snapshot of a logical file.
//
// ID, Version, Status and StoragePath are owned by the service. The remaining
// fields belong to the caller and are stored as given.
type Version struct {
	ID          string        `json:"id" bson:"id"`
	Version     int           `json:"version" bson:"version"`
	Status      VersionStatus `json:"status" bson:"status"`
	StoragePath string        `json:"storage_path" bson:"storage_path"`

	FileName    string            `json:"file_name,omitempty" bson:"file_name,omitempty"`
	ContentType string            `json:"content_type,omitempty" bson:"content_type,omitempty"`
	Size        int64             `json:"size" bson:"size"`
	Attributes  map[string]string `json:"attributes,omitempty" bson:"attributes,omitempty"`

	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" bson:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" bson:"deleted_at,omitempty"`
}

// Clone returns a deep copy of v.
func (v *Version) Clone() *Version {
	if v == nil {
		return nil
	}
	c := *v
	if v.Attributes != nil {
		c.Attributes = make(map[string]string, len(v.Attributes))
		for k, val := range v.Attributes {
			c.Attributes[k] = val
		}
	}
	if v.DeletedAt != nil {
		t := *v.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// transitions lists the legal status changes of an existing version.
// Creation (absent -> ACTIVE) is not a transition of an existing record.
var transitions = map[VersionStatus][]VersionStatus{
	StatusActive:   {StatusInactive, StatusDeleted},
	StatusInactive: {StatusDeleted},
	StatusDeleted:  {},
}

// CanTransition reports whether a version in status from may move to status to.
func CanTransition(from, to VersionStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
