package plan

import (
	"github.com/kaizengarden/sdcadm/api"
)

// ChangeType discriminates the seven input shapes a ChangeRequest may
// take (spec §3, §4.3). create-instance and delete-service have one
// shape each; delete-instance has two (agent, identified by service+
// server, and vm, identified by instance); update-instance and
// update-service each accept either an explicit target image or let the
// Image Resolver pick one, which is the remaining two shapes.
type ChangeType string

const (
	CreateInstance ChangeType = "create-instance"
	DeleteInstance ChangeType = "delete-instance"
	DeleteService  ChangeType = "delete-service"
	UpdateInstance ChangeType = "update-instance"
	UpdateService  ChangeType = "update-service"
)

// ChangeRequest is the raw, caller-supplied union type a planning call
// accepts (spec §3). Exactly one combination of fields is valid per
// Type; Validate enforces the shape.
type ChangeRequest struct {
	Type ChangeType

	Service  string
	Instance string
	UUID     string
	Alias    string
	Server   string
	Image    string

	Params map[string]string

	ForceSameImage bool
	ForceRabbitmq  bool
}

// Validate checks that exactly one of the seven input shapes matches
// this request, and that string fields have the expected type (always
// true in Go's static typing; the check here is non-emptiness of the
// fields the shape requires). Any other combination is a
// *api.ValidationError.
func (r ChangeRequest) Validate() error {
	instanceRef := r.Instance != "" || r.UUID != "" || r.Alias != ""

	switch r.Type {
	case CreateInstance:
		if r.Service == "" || r.Server == "" {
			return api.NewValidationError("create-instance requires service and server")
		}
		if instanceRef {
			return api.NewValidationError("create-instance does not accept an instance reference")
		}
	case DeleteInstance:
		agentShape := r.Service != "" && r.Server != ""
		vmShape := instanceRef
		if agentShape == vmShape {
			return api.NewValidationError("delete-instance requires exactly one of (service, server) or (instance|uuid|alias)")
		}
	case DeleteService:
		if r.Service == "" {
			return api.NewValidationError("delete-service requires service")
		}
		if instanceRef || r.Server != "" {
			return api.NewValidationError("delete-service does not accept an instance or server reference")
		}
	case UpdateInstance:
		if !instanceRef {
			return api.NewValidationError("update-instance requires instance, uuid, or alias")
		}
		if r.Service != "" {
			return api.NewValidationError("update-instance does not accept a service reference")
		}
	case UpdateService:
		if r.Service == "" {
			return api.NewValidationError("update-service requires service")
		}
		if instanceRef {
			return api.NewValidationError("update-service does not accept an instance reference")
		}
	default:
		return api.NewValidationError("unknown change request type %q", r.Type)
	}
	return nil
}

// IsServiceLevel reports whether this change targets a whole service
// (used by conflict detection, spec §4.3).
func (r ChangeRequest) IsServiceLevel() bool {
	return r.Type == DeleteService || r.Type == UpdateService
}

// IsInstanceLevel reports whether this change targets a single
// instance.
func (r ChangeRequest) IsInstanceLevel() bool {
	return r.Type == UpdateInstance || (r.Type == DeleteInstance && (r.Instance != "" || r.UUID != "" || r.Alias != ""))
}
