package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies what kind of actor an account belongs to.
type Role string

const (
	RoleCandidate Role = "candidate"
	RoleStaff     Role = "staff"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCandidate, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// Capability names one admin surface a staff account may be granted.
type Capability string

const (
	CapabilityDashboard  Capability = "dashboard"
	CapabilityRequests   Capability = "requests"
	CapabilityPages      Capability = "pages"
	CapabilityStudents   Capability = "students"
	CapabilityStaff      Capability = "staff"
	CapabilityDocuments  Capability = "documents"
	CapabilityForms      Capability = "forms"
	CapabilityUsersRoles Capability = "users-roles"
	CapabilitySettings   Capability = "settings"
	CapabilityAuditLogs  Capability = "audit-logs"
)

// AllCapabilities lists every grantable capability in display order.
var AllCapabilities = []Capability{
	CapabilityDashboard,
	CapabilityRequests,
	CapabilityPages,
	CapabilityStudents,
	CapabilityStaff,
	CapabilityDocuments,
	CapabilityForms,
	CapabilityUsersRoles,
	CapabilitySettings,
	CapabilityAuditLogs,
}

// ParseCapability validates a capability name.
func ParseCapability(raw string) (Capability, error) {
	for _, c := range AllCapabilities {
		if string(c) == raw {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown capability %q", raw)
}

// PermissionSet is the stored capability map of a staff account. Absent keys are false.
type PermissionSet map[Capability]bool

// Has reports whether c is granted.
func (p PermissionSet) Has(c Capability) bool {
	return p[c]
}

// Clone returns an independent copy.
func (p PermissionSet) Clone() PermissionSet {
	if p == nil {
		return nil
	}
	out := make(PermissionSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Value implements driver.Valuer for JSONB columns.
func (p PermissionSet) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB columns.
func (p *PermissionSet) Scan(src interface{}) error {
	return scanJSON(src, p)
}

// ProfileSection names one part of the candidate's multi-step profile.
type ProfileSection string

const (
	SectionPrimary        ProfileSection = "primary"
	SectionAddress        ProfileSection = "address"
	SectionParent         ProfileSection = "parent"
	SectionCategory       ProfileSection = "category"
	SectionQualification  ProfileSection = "qualification"
	SectionTraining       ProfileSection = "training"
	SectionAdditional     ProfileSection = "additional"
	SectionBank           ProfileSection = "bank"
	SectionWorkExperience ProfileSection = "work-experience"
)

// RequiredProfileSections must all be present before a profile can be locked.
var RequiredProfileSections = []ProfileSection{
	SectionPrimary,
	SectionAddress,
	SectionParent,
	SectionCategory,
	SectionQualification,
	SectionTraining,
	SectionAdditional,
	SectionBank,
	SectionWorkExperience,
}

// ParseProfileSection validates a section name.
func ParseProfileSection(raw string) (ProfileSection, error) {
	for _, s := range RequiredProfileSections {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown profile section %q", raw)
}

// ProfileSections holds each section as an opaque JSON object.
type ProfileSections map[ProfileSection]json.RawMessage

// Clone returns an independent copy.
func (p ProfileSections) Clone() ProfileSections {
	if p == nil {
		return nil
	}
	out := make(ProfileSections, len(p))
	for k, v := range p {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Completion returns the share of required sections filled in, rounded down, 0 to 100.
func (p ProfileSections) Completion() int {
	present := 0
	for _, s := range RequiredProfileSections {
		if sectionFilled(p[s]) {
			present++
		}
	}
	return present * 100 / len(RequiredProfileSections)
}

// Missing lists required sections that have not been filled in.
func (p ProfileSections) Missing() []ProfileSection {
	var missing []ProfileSection
	for _, s := range RequiredProfileSections {
		if !sectionFilled(p[s]) {
			missing = append(missing, s)
		}
	}
	return missing
}

// Value implements driver.Valuer for JSONB columns.
func (p ProfileSections) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB columns.
func (p *ProfileSections) Scan(src interface{}) error {
	return scanJSON(src, p)
}

// Account is the aggregate root: one actor plus, for candidates, every course they applied to.
// Version guards profile fields, CoursesVersion guards membership of AppliedCourses.
type Account struct {
	ID                  string          `db:"id" json:"id"`
	Email               string          `db:"email" json:"email"`
	PasswordHash        string          `db:"password_hash" json:"-"`
	FullName            string          `db:"full_name" json:"full_name"`
	ProfileID           string          `db:"profile_id" json:"profile_id"`
	Role                Role            `db:"role" json:"role"`
	Permissions         PermissionSet   `db:"permissions" json:"permissions,omitempty"`
	Profile             ProfileSections `db:"profile" json:"profile,omitempty"`
	ProfileLocked       bool            `db:"profile_locked" json:"profile_locked"`
	ProfileCompletion   int             `db:"profile_completion" json:"profile_completion_percent"`
	DeclarationAccepted bool            `db:"declaration_accepted" json:"declaration_accepted"`
	ApplicationSeq      int             `db:"application_seq" json:"-"`
	Version             int64           `db:"version" json:"version"`
	CoursesVersion      int64           `db:"courses_version" json:"courses_version"`
	Active              bool            `db:"active" json:"active"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
	AppliedCourses      []AppliedCourse `db:"-" json:"applied_courses"`
}

// Clone deep-copies the aggregate so callers can mutate it freely.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.Permissions = a.Permissions.Clone()
	out.Profile = a.Profile.Clone()
	if a.AppliedCourses != nil {
		out.AppliedCourses = make([]AppliedCourse, len(a.AppliedCourses))
		for i := range a.AppliedCourses {
			out.AppliedCourses[i] = *a.AppliedCourses[i].Clone()
		}
	}
	return &out
}

// Course returns the applied course with id, or nil.
func (a *Account) Course(id string) *AppliedCourse {
	for i := range a.AppliedCourses {
		if a.AppliedCourses[i].ID == id {
			return &a.AppliedCourses[i]
		}
	}
	return nil
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}

// sectionFilled reports whether raw is a JSON object with at least one field.
func sectionFilled(raw json.RawMessage) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	return len(fields) > 0
}
