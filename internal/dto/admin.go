package dto

// CreateStaffRequest payload for provisioning a staff account.
type CreateStaffRequest struct {
	Email       string          `json:"email" validate:"required,email"`
	FullName    string          `json:"fullName" validate:"required,max=120"`
	Password    string          `json:"password" validate:"required,min=8"`
	Permissions map[string]bool `json:"permissions"`
}

// UpdatePermissionsRequest replaces a staff account's capability map.
type UpdatePermissionsRequest struct {
	Permissions map[string]bool `json:"permissions" validate:"required"`
}

// SlotRequest identifies an appointment slot.
type SlotRequest struct {
	Date  string `json:"date" validate:"required"`
	Label string `json:"label" validate:"required,max=40"`
}

// SlotQuery filters the slot catalogue.
type SlotQuery struct {
	From          string
	PublishedOnly bool
}

// RequestQuery mirrors the review queue filters.
type RequestQuery struct {
	Status   string
	Search   string
	Page     int
	PageSize int
}
