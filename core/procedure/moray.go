package procedure

import (
	"context"
	"fmt"

	"github.com/juju/errors"

	"github.com/kaizengarden/sdcadm/api"
	"github.com/kaizengarden/sdcadm/core/inventory"
	"github.com/kaizengarden/sdcadm/core/plan"
)

// morayProcedure implements spec §4.4 row 5: moray is HA-capable at any
// instance count, so unlike the single-headnode procedures it must
// reprovision instances one at a time rather than assume there is only
// one. Moray instances are stateless request routers in front of the
// replicated database, so - unlike manatee - there is no shard state
// machine to drive; availability is preserved simply by never taking
// down more than one instance at a time.
type morayProcedure struct {
	changes []plan.NormalizedChange
	deps    Dependencies
}

func newMorayProcedure(changes []plan.NormalizedChange, snap inventory.Snapshot, deps Dependencies) Procedure {
	resolved := make([]plan.NormalizedChange, 0, len(changes))
	for _, c := range changes {
		if c.HasInstance {
			resolved = append(resolved, c)
			continue
		}
		for _, inst := range snap.InstancesOfService(c.Service.Name) {
			perInstance := c
			perInstance.Type = plan.UpdateInstance
			perInstance.Instance = inst
			perInstance.HasInstance = true
			resolved = append(resolved, perInstance)
		}
	}
	return &morayProcedure{changes: resolved, deps: deps}
}

func (p *morayProcedure) Kind() Kind                       { return KindUpdateMorayV2 }
func (p *morayProcedure) Changes() []plan.NormalizedChange { return p.changes }

func (p *morayProcedure) Summarize() string {
	return fmt.Sprintf("rolling reprovision of %d moray instance(s)", len(p.changes))
}

func (p *morayProcedure) Execute(ctx context.Context, progress api.Progress) error {
	for _, c := range p.changes {
		inst := c.Instance
		progress("moray: installing image %s on server %s", c.Image.UUID, inst.ServerID)
		if err := p.deps.Reprovisioner.InstallImage(ctx, inst.ServerID, c.Image.UUID); err != nil {
			return errors.Trace(api.NewUpstreamError("moray", "InstallImage", err))
		}
		progress("moray: reprovisioning instance %s (one at a time, rest of the tier stays up)", inst.ID())
		if err := p.deps.Reprovisioner.Reprovision(ctx, inst.ID(), c.Image.UUID); err != nil {
			return errors.Trace(api.NewUpstreamError("moray", "Reprovision", err))
		}
	}
	return nil
}
