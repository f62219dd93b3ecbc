package procedure

import (
	"context"

	"github.com/kaizengarden/sdcadm/core/inventory"
	"github.com/kaizengarden/sdcadm/core/plan"
)

// statelessHeadnodeServices lists the simple stateless services spec
// §4.4 row 2 names.
var statelessHeadnodeServices = []string{
	"adminui", "amon", "amonredis", "assets", "ca", "cloudapi", "cnapi",
	"dhcpd", "fwapi", "napi", "papi", "rabbitmq", "redis", "sdc", "vmapi",
	"workflow", "manta",
}

func filterDownloadImages(deps Dependencies) filterFunc {
	return func(remaining []plan.NormalizedChange, snap inventory.Snapshot, _ Dependencies) (Procedure, []plan.NormalizedChange, error) {
		var handled, rest []plan.NormalizedChange
		for _, c := range remaining {
			if c.HasImage && !imagePresentLocally(deps, c.Image.UUID) {
				handled = append(handled, c)
			}
			rest = append(rest, c) // download does not consume the change: later filters still need it.
		}
		if len(handled) == 0 {
			return nil, remaining, nil
		}
		return &downloadImagesProcedure{changes: handled, deps: deps}, rest, nil
	}
}

func imagePresentLocally(deps Dependencies, uuid string) bool {
	if deps.Images == nil {
		return true
	}
	_, err := deps.Images.GetImage(context.Background(), uuid)
	return err == nil
}

func filterStatelessHeadnodeServices() filterFunc {
	return matchAndPartition(statelessHeadnodeServices, singleHeadnodeInstanceTopology, func(handled []plan.NormalizedChange, snap inventory.Snapshot, deps Dependencies) (Procedure, error) {
		return newSingleHeadnodeProcedureWithSnapshot(KindUpdateStatelessServicesV1, handled, snap, deps), nil
	})
}

func filterSingleHeadnodeImgapi() filterFunc {
	return matchAndPartition([]string{"imgapi"}, singleHeadnodeInstanceTopology, func(handled []plan.NormalizedChange, snap inventory.Snapshot, deps Dependencies) (Procedure, error) {
		return newSingleHeadnodeProcedureWithSnapshot(KindUpdateSingleHeadnodeImgapi, handled, snap, deps), nil
	})
}

func filterSingleHeadnodeUFDS() filterFunc {
	return matchAndPartition([]string{"ufds"}, singleHeadnodeInstanceTopology, func(handled []plan.NormalizedChange, snap inventory.Snapshot, deps Dependencies) (Procedure, error) {
		return newSingleHeadnodeProcedureWithSnapshot(KindUpdateUFDSServiceV1, handled, snap, deps), nil
	})
}

func filterSingleHeadnodeSapi() filterFunc {
	return matchAndPartition([]string{"sapi"}, singleHeadnodeInstanceTopology, func(handled []plan.NormalizedChange, snap inventory.Snapshot, deps Dependencies) (Procedure, error) {
		return newSingleHeadnodeProcedureWithSnapshot(KindUpdateSingleHNSapiV1, handled, snap, deps), nil
	})
}

func filterSingleHeadnodeBinder() filterFunc {
	return matchAndPartition([]string{"binder"}, singleHeadnodeInstanceTopology, func(handled []plan.NormalizedChange, snap inventory.Snapshot, deps Dependencies) (Procedure, error) {
		return newSingleHeadnodeProcedureWithSnapshot(KindUpdateBinderV1, handled, snap, deps), nil
	})
}

func filterSingleHeadnodeMahi() filterFunc {
	return matchAndPartition([]string{"mahi"}, singleHeadnodeInstanceTopology, func(handled []plan.NormalizedChange, snap inventory.Snapshot, deps Dependencies) (Procedure, error) {
		return newSingleHeadnodeProcedureWithSnapshot(KindUpdateMahiV1, handled, snap, deps), nil
	})
}

func filterMoray() filterFunc {
	return func(remaining []plan.NormalizedChange, snap inventory.Snapshot, deps Dependencies) (Procedure, []plan.NormalizedChange, error) {
		handled, rest := partitionByService(remaining, "moray")
		if len(handled) == 0 {
			return nil, rest, nil
		}
		return newMorayProcedure(handled, snap, deps), rest, nil
	}
}

func filterManatee() filterFunc {
	return func(remaining []plan.NormalizedChange, snap inventory.Snapshot, deps Dependencies) (Procedure, []plan.NormalizedChange, error) {
		handled, rest := partitionByService(remaining, "manatee")
		if len(handled) == 0 {
			return nil, rest, nil
		}
		if deps.ManateeFactory == nil {
			return nil, remaining, nil
		}
		proc, err := deps.ManateeFactory(handled, snap, deps)
		if err != nil {
			return nil, nil, err
		}
		return proc, rest, nil
	}
}

// singleHeadnodeInstanceTopology is the "≤1 instance on headnode"
// constraint shared by every row-2/3/4/6/8/9 filter in spec §4.4's
// table. It returns ok=false (without dropping the change) when the
// service has more than one instance, or its instance is not on the
// headnode - the coordinator will then report it unhandled.
func singleHeadnodeInstanceTopology(snap inventory.Snapshot, serviceName string) bool {
	total, onHeadnode := instanceCountAndHeadnode(snap, serviceName)
	if total > 1 {
		logger.Infof("skipping %s: %d instances, only single-instance headnode topology is supported", serviceName, total)
		return false
	}
	if total == 1 && onHeadnode != 1 {
		logger.Infof("skipping %s: sole instance is not on the headnode", serviceName)
		return false
	}
	return true
}

// matchAndPartition is the common "match change, partition, emit
// procedure" helper spec §9 asks for: it groups filters as
// (predicate-by-service-name, topology-constraint, procedure-constructor)
// data instead of the hand-rolled per-service pipeline stages the
// source uses.
func matchAndPartition(serviceNames []string, topologyOK func(inventory.Snapshot, string) bool, build func([]plan.NormalizedChange, inventory.Snapshot, Dependencies) (Procedure, error)) filterFunc {
	return func(remaining []plan.NormalizedChange, snap inventory.Snapshot, deps Dependencies) (Procedure, []plan.NormalizedChange, error) {
		matched, rest := partitionByService(remaining, serviceNames...)
		if len(matched) == 0 {
			return nil, rest, nil
		}
		var handled []plan.NormalizedChange
		for _, c := range matched {
			if topologyOK(snap, c.Service.Name) {
				handled = append(handled, c)
			} else {
				// Fails the topology constraint on its own: leave it
				// unhandled rather than dropping it from the plan or
				// letting it block a sibling change that does pass.
				rest = append(rest, c)
			}
		}
		if len(handled) == 0 {
			return nil, rest, nil
		}
		proc, err := build(handled, snap, deps)
		if err != nil {
			return nil, nil, err
		}
		return proc, rest, nil
	}
}
