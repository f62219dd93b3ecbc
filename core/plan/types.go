// Package plan implements the Plan Builder (spec §4.3): validating,
// normalizing, conflict-checking and materializing a list of
// ChangeRequests into an UpdatePlan.
package plan

import (
	"github.com/kaizengarden/sdcadm/core/inventory"
)

// FormatVersion is the UpdatePlan wire format version (spec §6).
// Readers must reject any other version.
const FormatVersion = 1

// NormalizedChange is a ChangeRequest after normalization: every
// reference has been expanded to the full object it names, and exactly
// one Image has been resolved (spec §4.3).
type NormalizedChange struct {
	Type ChangeType

	Service  inventory.Service
	Instance inventory.Instance
	Server   inventory.Server
	Image    inventory.Image

	HasInstance bool
	HasServer   bool
	HasImage    bool

	ForceSameImage bool
	ForceRabbitmq  bool
}

// UpdatePlan is the validated, conflict-free, dependency-ordered plan
// the Plan Builder emits (spec §3). V is always FormatVersion for plans
// produced by this package; Deserialize rejects any other value.
//
// §3's data model carries Curr as part of the plan and §8 requires
// deserialize(serialize(plan)) == plan; §6 lists plan.json's fields as
// {v, targ, changes, justImages} without curr. Resolved in favor of §3
// and §8 (see DESIGN.md): Curr is serialized too.
type UpdatePlan struct {
	V          int                  `json:"v"`
	Curr       []inventory.Instance `json:"curr"`
	Targ       []inventory.Instance `json:"targ"`
	Changes    []NormalizedChange   `json:"changes"`
	JustImages bool                 `json:"justImages"`
}
