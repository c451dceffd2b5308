// Package access decides whether an actor may perform an action before any mutable state is read.
package access

import (
	"fmt"
	"strings"

	"github.com/noah-isme/admission-portal-api/internal/models"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
)

// Actor is the resolved caller of an operation.
type Actor struct {
	AccountID   string
	Role        models.Role
	Permissions models.PermissionSet
}

// Can reports whether the actor holds capability c. Admins hold every capability.
func (a Actor) Can(c models.Capability) bool {
	if a.Role == models.RoleAdmin {
		return true
	}
	return a.Role == models.RoleStaff && a.Permissions.Has(c)
}

// Action names an operation guarded by the gate.
type Action string

const (
	ActionApplyForCourse       Action = "apply_for_course"
	ActionCreatePaymentOrder   Action = "create_payment_order"
	ActionRecordPayment        Action = "record_payment"
	ActionBookAppointment      Action = "book_appointment"
	ActionUploadDocument       Action = "upload_document"
	ActionUpdateCourseStatus   Action = "update_course_status"
	ActionUpdateDocumentStatus Action = "update_document_status"
	ActionDeleteApplication    Action = "delete_application"
	ActionLockProfile          Action = "lock_profile"
	ActionUnlockProfile        Action = "unlock_profile"
	ActionUpdateProfile        Action = "update_profile"
	ActionViewAccount          Action = "view_account"
	ActionViewReceipt          Action = "view_receipt"
	ActionViewDocument         Action = "view_document"
	ActionListRequests         Action = "list_requests"
	ActionExportRequests       Action = "export_requests"
	ActionViewDashboard        Action = "view_dashboard"
	ActionListSlots            Action = "list_slots"
	ActionPublishSlot          Action = "publish_slot"
	ActionUnpublishSlot        Action = "unpublish_slot"
	ActionListAuditLogs        Action = "list_audit_logs"
	ActionCreateStaff          Action = "create_staff"
	ActionUpdatePermissions    Action = "update_permissions"
)

// Requirement declares who may perform an action.
// Self lets the owner act on their own account; Capability lets staff holding it act on anyone.
type Requirement struct {
	Capability models.Capability
	Self       bool
	AdminOnly  bool
	Anyone     bool
}

// DefaultCatalogue maps every guarded action to its requirement.
func DefaultCatalogue() map[Action]Requirement {
	return map[Action]Requirement{
		ActionApplyForCourse:       {Self: true},
		ActionCreatePaymentOrder:   {Self: true},
		ActionRecordPayment:        {Self: true},
		ActionBookAppointment:      {Self: true},
		ActionUploadDocument:       {Self: true},
		ActionLockProfile:          {Self: true},
		ActionUnlockProfile:        {Self: true},
		ActionUpdateProfile:        {Self: true},
		ActionUpdateCourseStatus:   {Capability: models.CapabilityRequests},
		ActionUpdateDocumentStatus: {Capability: models.CapabilityRequests},
		ActionDeleteApplication:    {Capability: models.CapabilityRequests},
		ActionListRequests:         {Capability: models.CapabilityRequests},
		ActionExportRequests:       {Capability: models.CapabilityRequests},
		ActionViewDashboard:        {Capability: models.CapabilityDashboard},
		ActionViewAccount:          {Self: true, Capability: models.CapabilityStudents},
		ActionViewReceipt:          {Self: true, Capability: models.CapabilityRequests},
		ActionViewDocument:         {Self: true, Capability: models.CapabilityRequests},
		ActionListSlots:            {Anyone: true},
		ActionPublishSlot:          {Capability: models.CapabilitySettings},
		ActionUnpublishSlot:        {Capability: models.CapabilitySettings},
		ActionListAuditLogs:        {Capability: models.CapabilityAuditLogs},
		ActionCreateStaff:          {AdminOnly: true},
		ActionUpdatePermissions:    {AdminOnly: true},
	}
}

// Gate is the permission gate consulted by every service entry point.
type Gate struct {
	catalogue map[Action]Requirement
}

// NewGate builds a gate over catalogue; nil uses DefaultCatalogue.
func NewGate(catalogue map[Action]Requirement) *Gate {
	if catalogue == nil {
		catalogue = DefaultCatalogue()
	}
	return &Gate{catalogue: catalogue}
}

// Authorize returns nil when actor may perform action against targetAccountID. Unknown
// actions are denied. Admins bypass every requirement.
func (g *Gate) Authorize(actor Actor, action Action, targetAccountID string) error {
	if actor.AccountID == "" || !actor.Role.Valid() {
		return appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleAdmin {
		return nil
	}

	req, ok := g.catalogue[action]
	if !ok {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("%s is not a permitted action", humanize(action)))
	}
	if req.Anyone {
		return nil
	}
	if req.AdminOnly {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("only admins may %s", humanize(action)))
	}
	if req.Self && targetAccountID != "" && targetAccountID == actor.AccountID {
		return nil
	}
	if actor.Role == models.RoleStaff && req.Capability != "" {
		if actor.Permissions.Has(req.Capability) {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("the %s capability is required to %s", req.Capability, humanize(action)))
	}
	if req.Self {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("candidates may only %s on their own account", humanize(action)))
	}
	return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("%s accounts may not %s", actor.Role, humanize(action)))
}

func humanize(a Action) string {
	return strings.ReplaceAll(string(a), "_", " ")
}
