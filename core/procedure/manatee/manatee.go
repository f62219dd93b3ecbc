package manatee

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/kaizengarden/sdcadm/api"
	"github.com/kaizengarden/sdcadm/core/inventory"
	"github.com/kaizengarden/sdcadm/core/plan"
	"github.com/kaizengarden/sdcadm/core/procedure"
)

// ScriptManager fetches the user-data script a manatee zone needs to run
// the new image's proto-mode dance, and preserves the outgoing one in
// case the operator needs to roll back (spec §4.5.3(a)-(c)).
type ScriptManager interface {
	FetchReplacementScript(ctx context.Context, imageUUID string) (script string, err error)
	// SaveRollbackScript archives the user-script currently installed on
	// the manatee instance instanceID into workDir.
	SaveRollbackScript(ctx context.Context, workDir, instanceID string) error
}

// Config carries everything about the manatee procedure that is policy
// rather than cluster state: the poll cadences spec §4.5.1 and §4.5.2
// name explicitly, the script/workdir collaborators for the
// cross-cutting prep steps, and an injectable clock for tests.
type Config struct {
	Scripts ScriptManager
	WorkDir string
	Clock   clock.Clock

	ShardWaitInterval     time.Duration // default 5s
	ShardWaitAttempts     int           // default 180 (15 min)
	PromotionWaitAttempts int           // default 36 (3 min)
	SettleSleep           time.Duration // default 60s
	PostgresProbeAttempts int           // default 36 (3 min)
}

func (c Config) withDefaults() Config {
	if c.ShardWaitInterval == 0 {
		c.ShardWaitInterval = 5 * time.Second
	}
	if c.ShardWaitAttempts == 0 {
		c.ShardWaitAttempts = 180
	}
	if c.PromotionWaitAttempts == 0 {
		c.PromotionWaitAttempts = 36
	}
	if c.SettleSleep == 0 {
		c.SettleSleep = 60 * time.Second
	}
	if c.PostgresProbeAttempts == 0 {
		c.PostgresProbeAttempts = 36
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	return c
}

func (c Config) shardPoll() pollConfig {
	return pollConfig{Interval: c.ShardWaitInterval, Attempts: c.ShardWaitAttempts, Clock: c.Clock}
}

func (c Config) promotionPoll() pollConfig {
	return pollConfig{Interval: c.ShardWaitInterval, Attempts: c.PromotionWaitAttempts, Clock: c.Clock}
}

func (c Config) postgresPoll() pollConfig {
	return pollConfig{Interval: c.ShardWaitInterval, Attempts: c.PostgresProbeAttempts, Clock: c.Clock}
}

// NewFactory returns a procedure.ManateeProcedureFactory bound to cfg,
// ready to assign to procedure.Dependencies.ManateeFactory.
func NewFactory(cfg Config) procedure.ManateeProcedureFactory {
	cfg = cfg.withDefaults()
	return func(changes []plan.NormalizedChange, snap inventory.Snapshot, deps procedure.Dependencies) (procedure.Procedure, error) {
		return newProcedure(changes, snap, deps, cfg)
	}
}

// proc drives the replicated-DB state machine. Unlike the other
// procedure executors, it does not treat changes as independent units:
// all of a manatee update's changes are, by construction, one
// service-level update (spec §4.5's "the whole shard moves together").
type proc struct {
	changes []plan.NormalizedChange
	image   inventory.Image
	peers   []inventory.Instance // manatee instances, collector order
	snap    inventory.Snapshot

	deps procedure.Dependencies
	cfg  Config
	obs  Observer
}

func newProcedure(changes []plan.NormalizedChange, snap inventory.Snapshot, deps procedure.Dependencies, cfg Config) (procedure.Procedure, error) {
	if len(changes) == 0 {
		return nil, errors.New("manatee procedure constructed with no changes")
	}
	image := changes[0].Image
	peers := snap.InstancesOfService("manatee")
	if len(peers) != 1 && len(peers) != 3 {
		return nil, api.NewUpdateError("manatee: unsupported topology (%d instances, want 1 or 3)", len(peers))
	}

	byID := make(map[string]string, len(peers))
	for _, inst := range peers {
		byID[inst.ID()] = inst.ServerID
	}
	obs := RemoteObserver{
		Nodes: deps.Nodes,
		ServerOf: func(instanceID string) (string, bool) {
			s, ok := byID[instanceID]
			return s, ok
		},
	}

	return &proc{changes: changes, image: image, peers: peers, snap: snap, deps: deps, cfg: cfg, obs: obs}, nil
}

func (p *proc) Kind() procedure.Kind               { return procedure.KindUpdateManateeV2 }
func (p *proc) Changes() []plan.NormalizedChange    { return p.changes }

func (p *proc) Summarize() string {
	if len(p.peers) == 1 {
		return fmt.Sprintf("manatee: update sole peer to image %s (no-HA, proto-mode)", p.image.UUID)
	}
	return fmt.Sprintf("manatee: rolling update of %d-peer shard to image %s (async, then sync, then primary)", len(p.peers), p.image.UUID)
}

// Execute runs the cross-cutting prep (spec §4.5.3), then dispatches to
// the HA or no-HA branch by peer count. Spec's own Open Question for
// §4.5.2 asks that the no-HA branch assert its single-peer precondition
// rather than assume it; newProcedure already rejects any count other
// than 1 or 3, so the branch below only has to tell them apart.
func (p *proc) Execute(ctx context.Context, progress api.Progress) error {
	logger.Infof("manatee: starting update to image %s across %d peer(s)", p.image.UUID, len(p.peers))
	if err := p.prepare(ctx, progress); err != nil {
		return err
	}
	if len(p.peers) == 1 {
		return p.runNoHA(ctx, progress)
	}
	return p.runHA(ctx, progress)
}

// prepare runs the steps common to both topologies (spec §4.5.3(a)-(d)):
// fetch the replacement user-script, archive the outgoing one, push the
// new one to every DB zone, and point the service registry at the new
// image so future instance creates pick it up.
func (p *proc) prepare(ctx context.Context, progress api.Progress) error {
	if p.cfg.Scripts == nil {
		return nil
	}
	progress("manatee: fetching replacement user-script for image %s", p.image.UUID)
	script, err := p.cfg.Scripts.FetchReplacementScript(ctx, p.image.UUID)
	if err != nil {
		return errors.Annotate(err, "fetching manatee replacement user-script")
	}

	for _, inst := range p.peers {
		progress("manatee: archiving current user-script from %s", inst.ID())
		if err := p.cfg.Scripts.SaveRollbackScript(ctx, p.cfg.WorkDir, inst.ID()); err != nil {
			return errors.Annotatef(err, "archiving user-script for %s", inst.ID())
		}
		progress("manatee: pushing replacement user-script to %s", inst.ID())
		if err := p.applyUserScript(ctx, inst.ServerID, script); err != nil {
			return err
		}
	}

	if svc, ok := p.snap.ServiceByName("manatee"); ok && p.deps.Registry != nil {
		if err := p.deps.Registry.UpdateService(ctx, svc.UUID, map[string]interface{}{"image_uuid": p.image.UUID}); err != nil {
			return errors.Trace(api.NewUpstreamError("manatee", "UpdateService", err))
		}
	}
	return nil
}

func (p *proc) applyUserScript(ctx context.Context, serverUUID, script string) error {
	cmd := "cat > /opt/smartdc/boot/user-script <<'SDCADM_EOF'\n" + script + "\nSDCADM_EOF\n"
	result, err := p.deps.Nodes.CommandExecute(ctx, serverUUID, cmd)
	if err != nil {
		return errors.Trace(api.NewUpstreamError("manatee", "CommandExecute", err))
	}
	if !result.Succeeded() {
		return api.NewUpstreamError("manatee", "CommandExecute", errors.Errorf("user-script install exited %d: %s", result.ExitStatus, result.Stderr))
	}
	return nil
}

func (p *proc) installAndReprovision(ctx context.Context, progress api.Progress, inst inventory.Instance, skipInstall bool) error {
	if !skipInstall {
		progress("manatee: installing image %s on server %s", p.image.UUID, inst.ServerID)
		if err := p.deps.Reprovisioner.InstallImage(ctx, inst.ServerID, p.image.UUID); err != nil {
			return errors.Trace(api.NewUpstreamError("manatee", "InstallImage", err))
		}
	}
	progress("manatee: reprovisioning %s", inst.ID())
	if err := p.deps.Reprovisioner.Reprovision(ctx, inst.ID(), p.image.UUID); err != nil {
		return errors.Trace(api.NewUpstreamError("manatee", "Reprovision", err))
	}
	return nil
}

func (p *proc) sleepToSettle(ctx context.Context, progress api.Progress, why string) error {
	progress("manatee: waiting %s for %s to settle", p.cfg.SettleSleep, why)
	return sleepFor(ctx, p.cfg.Clock, p.cfg.SettleSleep)
}
