package procedure

import (
	"fmt"

	"github.com/juju/loggo"

	"github.com/kaizengarden/sdcadm/api"
	"github.com/kaizengarden/sdcadm/core/inventory"
	"github.com/kaizengarden/sdcadm/core/plan"
)

var logger = loggo.GetLogger("sdcadm.core.procedure")

// Dependencies bundles every collaborator a procedure constructor might
// need. Individual constructors use only the subset relevant to their
// service class.
type Dependencies struct {
	Images        api.ImageStore
	Reprovisioner api.Reprovisioner
	Registry      api.ServiceRegistry
	Nodes         api.NodeInventory
	Shell         api.RemoteShellFanout
	ManateeFactory ManateeProcedureFactory
}

// ManateeProcedureFactory constructs the replicated-DB procedure (spec
// §4.5). It is injected rather than imported directly so that
// core/procedure does not depend on core/procedure/manatee's
// transitive dependencies when only the simpler filters are exercised
// (e.g. in coordinator unit tests).
type ManateeProcedureFactory func(changes []plan.NormalizedChange, snap inventory.Snapshot, deps Dependencies) (Procedure, error)

// filterFunc examines remaining, returns the subset it handles (handled)
// and the rest, and - if handled is non-empty and the topology
// constraint is satisfied - a procedure bound to handled. When the
// topology constraint fails, handled changes are returned unmodified in
// rest so the coordinator surfaces them as unhandled at the end (spec
// §4.4: "skip" cases are logged but do not remove the change from
// remaining).
type filterFunc func(remaining []plan.NormalizedChange, snap inventory.Snapshot, deps Dependencies) (proc Procedure, rest []plan.NormalizedChange, err error)

// Coordinate partitions the plan's changes into ordered procedures,
// running the fixed pipeline from spec §4.4's table in order. When
// plan.JustImages is set, only the image-prefetch procedure is
// retained.
func Coordinate(p plan.UpdatePlan, snap inventory.Snapshot, deps Dependencies) (List, error) {
	remaining := append([]plan.NormalizedChange(nil), p.Changes...)

	pipeline := []filterFunc{
		filterDownloadImages(deps),
		filterStatelessHeadnodeServices(),
		filterSingleHeadnodeImgapi(),
		filterSingleHeadnodeUFDS(),
		filterMoray(),
		filterSingleHeadnodeSapi(),
		filterManatee(),
		filterSingleHeadnodeBinder(),
		filterSingleHeadnodeMahi(),
	}

	var procs List
	for _, f := range pipeline {
		proc, rest, err := f(remaining, snap, deps)
		if err != nil {
			return nil, err
		}
		if proc != nil {
			procs = append(procs, proc)
		}
		remaining = rest
	}

	if len(remaining) > 0 {
		return nil, api.NewUpdateError("unsupported changes: %s", describeUnhandled(remaining))
	}

	if p.JustImages {
		var onlyDownload List
		for _, proc := range procs {
			if proc.Kind() == KindDownloadImages {
				onlyDownload = append(onlyDownload, proc)
			}
		}
		return onlyDownload, nil
	}

	return procs, nil
}

func describeUnhandled(changes []plan.NormalizedChange) string {
	msg := ""
	for i, c := range changes {
		if i > 0 {
			msg += ", "
		}
		msg += fmt.Sprintf("%s %s", c.Type, c.Service.Name)
	}
	return msg
}

// partitionByService splits remaining into the changes targeting one of
// serviceNames (handled) and everything else (rest), preserving order.
func partitionByService(remaining []plan.NormalizedChange, serviceNames ...string) (handled, rest []plan.NormalizedChange) {
	want := map[string]bool{}
	for _, n := range serviceNames {
		want[n] = true
	}
	for _, c := range remaining {
		if want[c.Service.Name] {
			handled = append(handled, c)
		} else {
			rest = append(rest, c)
		}
	}
	return handled, rest
}

// instanceCountAndHeadnode reports how many current instances the
// service has in total and how many of them run on the headnode, for
// spec §4.4's "≤1 instance on headnode" style topology constraints.
func instanceCountAndHeadnode(snap inventory.Snapshot, serviceName string) (total int, onHeadnode int) {
	hn, _ := snap.Headnode()
	for _, inst := range snap.InstancesOfService(serviceName) {
		total++
		if inst.ServerID == hn.UUID {
			onHeadnode++
		}
	}
	return total, onHeadnode
}
