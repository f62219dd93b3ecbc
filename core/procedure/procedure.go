// Package procedure implements the Procedure Coordinator (spec §4.4)
// and the common Procedure abstraction every executor satisfies. The
// replicated-DB state machine lives in the manatee subpackage.
package procedure

import (
	"context"

	"github.com/kaizengarden/sdcadm/api"
	"github.com/kaizengarden/sdcadm/core/plan"
)

// Kind identifies a procedure's concrete class without relying on the
// runtime type name (spec §9's "Ambiguity" note: the source keyed off
// `proc.constructor.name`; this is the explicit `kind` field it
// recommends instead).
type Kind string

const (
	KindDownloadImages             Kind = "DownloadImages"
	KindUpdateStatelessServicesV1  Kind = "UpdateStatelessServicesV1"
	KindUpdateSingleHeadnodeImgapi Kind = "UpdateSingleHeadnodeImgapi"
	KindUpdateUFDSServiceV1        Kind = "UpdateUFDSServiceV1"
	KindUpdateMorayV2              Kind = "UpdateMorayV2"
	KindUpdateSingleHNSapiV1       Kind = "UpdateSingleHNSapiV1"
	KindUpdateManateeV2            Kind = "UpdateManateeV2"
	KindUpdateBinderV1             Kind = "UpdateBinderV1"
	KindUpdateMahiV1               Kind = "UpdateMahiV1"
)

// Procedure is the ad-hoc-polymorphic unit of update logic bound to one
// service class and a subset of a plan's changes (spec §9: "encode as a
// tagged variant with a shared trait/interface rather than class
// inheritance").
type Procedure interface {
	// Kind identifies the procedure's class (see Kind above).
	Kind() Kind
	// Changes returns the normalized changes this procedure handles.
	Changes() []plan.NormalizedChange
	// Summarize returns a short, human-readable description of what
	// this procedure will do, for progress reporting and --dry-run.
	Summarize() string
	// Execute runs the procedure against the live cluster, streaming
	// progress via progress.
	Execute(ctx context.Context, progress api.Progress) error
}

// List is an ordered sequence of procedures; running them in order
// produces a plan's intended effect (spec §3 "ProcedureList").
type List []Procedure

// Summaries returns each procedure's Summarize() string, in order.
func (l List) Summaries() []string {
	out := make([]string, len(l))
	for i, p := range l {
		out[i] = p.Summarize()
	}
	return out
}
