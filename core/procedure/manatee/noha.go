package manatee

import (
	"context"

	"github.com/juju/errors"

	"github.com/kaizengarden/sdcadm/api"
	"github.com/kaizengarden/sdcadm/core/inventory"
)

const postgresProbeScript = `psql -U moray -t -c 'select now()'`

// runNoHA drives the single-peer branch (spec §4.5.2): there is no
// shard to keep available, so the only concern is that the sole peer's
// service-API dependents tolerate it going away mid-reprovision. The
// peer's local service-API zone is dropped into proto mode first so it
// stops expecting synchronous database access, and restored once
// PostgreSQL answers again.
//
// newProcedure already asserts exactly one or three peers before this
// branch is reachable; the single-service-API-zone precondition is
// asserted here, per spec §4.5.2's own Open Question.
func (p *proc) runNoHA(ctx context.Context, progress api.Progress) error {
	sole := p.peers[0]

	sapiZone, err := p.localServiceAPIZone(sole)
	if err != nil {
		return err
	}

	progress("manatee: installing image %s on server %s", p.image.UUID, sole.ServerID)
	if err := p.deps.Reprovisioner.InstallImage(ctx, sole.ServerID, p.image.UUID); err != nil {
		return errors.Trace(api.NewUpstreamError("manatee", "InstallImage", err))
	}

	progress("manatee: putting local service-API zone %s into proto mode", sapiZone.ID())
	if err := p.deps.Registry.SetMode(ctx, sapiZone.ID(), api.ModeProto); err != nil {
		return errors.Trace(api.NewUpstreamError("sapi", "SetMode", err))
	}

	progress("manatee: reprovisioning sole peer %s", sole.ID())
	if err := p.deps.Reprovisioner.Reprovision(ctx, sole.ID(), p.image.UUID); err != nil {
		// Best-effort: restore the service-API mode even though the
		// reprovision itself failed, so the fleet isn't left stuck in
		// proto mode on top of a failed update.
		_ = p.deps.Registry.SetMode(ctx, sapiZone.ID(), api.ModeFull)
		return errors.Trace(api.NewUpstreamError("manatee", "Reprovision", err))
	}

	if err := p.sleepToSettle(ctx, progress, "the reprovisioned sole peer"); err != nil {
		return err
	}

	progress("manatee: probing PostgreSQL on %s until it answers", sole.ServerID)
	if err := p.waitForPostgres(ctx, sole.ServerID); err != nil {
		return errors.Annotate(err, "manatee: PostgreSQL did not come back up")
	}

	progress("manatee: restoring local service-API zone %s to full mode", sapiZone.ID())
	if err := p.deps.Registry.SetMode(ctx, sapiZone.ID(), api.ModeFull); err != nil {
		return errors.Trace(api.NewUpstreamError("sapi", "SetMode", err))
	}
	return nil
}

// waitForPostgres polls serverUUID with a trivial query until PostgreSQL
// answers (spec §4.5.2: "poll PostgreSQL SELECT NOW()").
func (p *proc) waitForPostgres(ctx context.Context, serverUUID string) error {
	return pollCommand(ctx, p.deps.Nodes, serverUUID, postgresProbeScript, p.cfg.postgresPoll())
}

// localServiceAPIZone finds the sapi instance running on the same
// server as the manatee peer being reprovisioned. In a no-HA setup
// there must be exactly one such zone; more or fewer indicates the
// fleet is not in the single-peer/single-sapi-zone shape this branch
// assumes, and that assumption is worth asserting rather than trusting
// (spec §4.5.2's Open Question).
func (p *proc) localServiceAPIZone(peer inventory.Instance) (inventory.Instance, error) {
	var onServer []inventory.Instance
	for _, inst := range p.snap.InstancesOfService("sapi") {
		if inst.ServerID == peer.ServerID {
			onServer = append(onServer, inst)
		}
	}
	switch len(onServer) {
	case 1:
		return onServer[0], nil
	case 0:
		return inventory.Instance{}, api.NewUpdateError("manatee: no service-API zone found on server %s (no-HA branch requires one)", peer.ServerID)
	default:
		return inventory.Instance{}, api.NewUpdateError("manatee: %d service-API zones found on server %s, want exactly 1", len(onServer), peer.ServerID)
	}
}
