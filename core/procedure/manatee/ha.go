package manatee

import (
	"context"
	"fmt"

	"github.com/juju/errors"

	"github.com/kaizengarden/sdcadm/api"
)

// runHA drives the three-peer rolling update (spec §4.5.1): async first,
// then sync, then the original primary (after a new primary has been
// promoted, as observed from the former async peer), each time
// disabling the peer, waiting for the shard to reach the expected
// transitional status, installing the image only if that server doesn't
// already have it from an earlier step, reprovisioning, and letting the
// shard settle before moving on. The ordering matters - async is always
// the safest peer to take down first because losing it costs no
// acknowledged write.
func (p *proc) runHA(ctx context.Context, progress api.Progress) error {
	initial, err := p.obs.Observe(ctx, p.peers[0].ID())
	if err != nil {
		return errors.Trace(err)
	}
	if err := verifyFullHA(initial); err != nil {
		return api.NewUpdateError("%s", err)
	}

	primary, _ := initial.Peer(RolePrimary)
	sync, _ := initial.Peer(RoleSync)
	async, _ := initial.Peer(RoleAsync)

	asyncInst, ok := p.snap.InstanceByID(async.InstanceID)
	if !ok {
		return api.NewUpdateError("manatee: async peer %s not found in inventory", async.InstanceID)
	}
	syncInst, ok := p.snap.InstanceByID(sync.InstanceID)
	if !ok {
		return api.NewUpdateError("manatee: sync peer %s not found in inventory", sync.InstanceID)
	}
	primaryInst, ok := p.snap.InstanceByID(primary.InstanceID)
	if !ok {
		return api.NewUpdateError("manatee: primary peer %s not found in inventory", primary.InstanceID)
	}

	// --- async ---
	if err := p.disablePeer(ctx, progress, async, "async"); err != nil {
		return err
	}
	if _, err := waitForShard(ctx, p.obs, primary.InstanceID, StatusSync, p.cfg.shardPoll()); err != nil {
		return errors.Annotate(err, "manatee: waiting for shard to drop to sync-only before reprovisioning async")
	}
	if err := p.installAndReprovision(ctx, progress, asyncInst, async.ServerID == primary.ServerID); err != nil {
		return err
	}
	if err := p.sleepToSettle(ctx, progress, "the reprovisioned async peer"); err != nil {
		return err
	}
	if _, err := waitForShard(ctx, p.obs, primary.InstanceID, StatusAsync, p.cfg.shardPoll()); err != nil {
		return errors.Annotate(err, "manatee: waiting for async peer to rejoin")
	}

	// --- sync ---
	if err := p.disablePeer(ctx, progress, sync, "sync"); err != nil {
		return err
	}
	// With sync gone, async (which replicates from sync, not primary)
	// is no longer caught up - the shard reports this as transitional
	// rather than as any steady-state status.
	if _, err := waitForShard(ctx, p.obs, primary.InstanceID, StatusTransition, p.cfg.shardPoll()); err != nil {
		return errors.Annotate(err, "manatee: waiting for shard to reflect the disabled sync peer before reprovisioning it")
	}
	if err := p.installAndReprovision(ctx, progress, syncInst, sync.ServerID == primary.ServerID || sync.ServerID == async.ServerID); err != nil {
		return err
	}
	if err := p.sleepToSettle(ctx, progress, "the reprovisioned sync peer"); err != nil {
		return err
	}
	if _, err := waitForShard(ctx, p.obs, primary.InstanceID, StatusAsync, p.cfg.shardPoll()); err != nil {
		return errors.Annotate(err, "manatee: waiting for sync peer to rejoin")
	}

	// --- primary (a new primary is promoted; observed from the former async peer) ---
	if err := p.disablePeer(ctx, progress, primary, "primary"); err != nil {
		return err
	}
	progress("manatee: waiting for a new primary to be promoted (observed from %s)", async.InstanceID)
	if _, err := waitForPromotion(ctx, p.obs, async.InstanceID, primary.ID, p.cfg.promotionPoll()); err != nil {
		return errors.Annotate(err, "manatee: waiting for promotion")
	}
	if err := p.installAndReprovision(ctx, progress, primaryInst, primary.ServerID == sync.ServerID || primary.ServerID == async.ServerID); err != nil {
		return err
	}
	if err := p.sleepToSettle(ctx, progress, "the reprovisioned former-primary peer"); err != nil {
		return err
	}
	if _, err := waitForShard(ctx, p.obs, async.InstanceID, StatusAsync, p.cfg.shardPoll()); err != nil {
		return errors.Annotate(err, "manatee: waiting for shard to reach full HA after primary reprovision")
	}

	progress("manatee: shard back to full HA on image %s", p.image.UUID)
	return nil
}

func (p *proc) disablePeer(ctx context.Context, progress api.Progress, peer Peer, label string) error {
	progress("manatee: disabling %s peer %s", label, peer.InstanceID)
	cmd := fmt.Sprintf("manatee-adm freeze -r 'sdcadm update: reprovisioning %s peer'", label)
	result, err := p.deps.Nodes.CommandExecute(ctx, peer.ServerID, cmd)
	if err != nil {
		return errors.Trace(api.NewUpstreamError("manatee", "CommandExecute", err))
	}
	if !result.Succeeded() {
		return api.NewUpstreamError("manatee", "CommandExecute", errors.Errorf("freezing %s peer exited %d: %s", label, result.ExitStatus, result.Stderr))
	}
	return nil
}
