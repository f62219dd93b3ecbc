package procedure

import (
	"context"
	"fmt"

	"github.com/juju/errors"

	"github.com/kaizengarden/sdcadm/api"
	"github.com/kaizengarden/sdcadm/core/inventory"
	"github.com/kaizengarden/sdcadm/core/plan"
)

// singleHeadnodeProcedure reprovisions the sole headnode instance of a
// service to its resolved target image. It backs spec §4.4 rows 2-4,
// 6, 8, 9 (stateless services, imgapi, ufds, sapi, binder, mahi): all
// of them share the same "install image, reprovision the one instance"
// shape, differing only in which service they're bound to and, for a
// few of them, an extra progress message around the reprovision.
type singleHeadnodeProcedure struct {
	kind    Kind
	changes []plan.NormalizedChange
	deps    Dependencies
}

func newSingleHeadnodeProcedureWithSnapshot(kind Kind, changes []plan.NormalizedChange, snap inventory.Snapshot, deps Dependencies) Procedure {
	resolved := make([]plan.NormalizedChange, len(changes))
	copy(resolved, changes)
	for i, c := range resolved {
		if c.HasInstance {
			continue
		}
		if instances := snap.InstancesOfService(c.Service.Name); len(instances) == 1 {
			resolved[i].Instance = instances[0]
			resolved[i].HasInstance = true
		}
	}
	return &singleHeadnodeProcedure{kind: kind, changes: resolved, deps: deps}
}

func (p *singleHeadnodeProcedure) Kind() Kind                       { return p.kind }
func (p *singleHeadnodeProcedure) Changes() []plan.NormalizedChange { return p.changes }

func (p *singleHeadnodeProcedure) Summarize() string {
	names := make([]string, 0, len(p.changes))
	for _, c := range p.changes {
		names = append(names, c.Service.Name)
	}
	return fmt.Sprintf("%s: reprovision %v to their target images", p.kind, names)
}

func (p *singleHeadnodeProcedure) Execute(ctx context.Context, progress api.Progress) error {
	for _, c := range p.changes {
		inst := c.Instance
		if !c.HasInstance {
			// update-service on a service with no instances (the
			// topology constraint admits zero): nothing to reprovision.
			continue
		}

		if p.kind == KindUpdateUFDSServiceV1 {
			progress("%s: directory writes will be unavailable during reprovision", c.Service.Name)
		}
		if p.kind == KindUpdateSingleHNSapiV1 {
			progress("%s: sapi will briefly be unavailable to dependents during reprovision", c.Service.Name)
		}

		progress("%s: installing image %s on server %s", c.Service.Name, c.Image.UUID, inst.ServerID)
		if err := p.deps.Reprovisioner.InstallImage(ctx, inst.ServerID, c.Image.UUID); err != nil {
			return errors.Trace(api.NewUpstreamError(c.Service.Name, "InstallImage", err))
		}

		progress("%s: reprovisioning instance %s", c.Service.Name, inst.ID())
		if err := p.deps.Reprovisioner.Reprovision(ctx, inst.ID(), c.Image.UUID); err != nil {
			return errors.Trace(api.NewUpstreamError(c.Service.Name, "Reprovision", err))
		}

		if p.kind == KindUpdateSingleHeadnodeImgapi {
			progress("%s: imgapi back up, subsequent InstallImage calls can resume using it", c.Service.Name)
		}
	}
	return nil
}
