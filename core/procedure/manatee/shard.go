// Package manatee implements the replicated-DB procedure (spec §4.5),
// the hardest state machine in the module: it upgrades every peer of a
// three-role PostgreSQL cluster (primary, sync, async) to a new image
// while preserving write and replication availability throughout.
package manatee

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/retry"

	"github.com/kaizengarden/sdcadm/api"
)

var logger = loggo.GetLogger("sdcadm.core.procedure.manatee")

// Status is the shard's observable replication state (spec §4.5, spec
// §9: "Model states explicitly ... do not encode the sequence as nested
// callbacks").
type Status string

const (
	StatusEmpty      Status = "empty"
	StatusPrimary    Status = "primary"
	StatusSync       Status = "sync"
	StatusAsync      Status = "async"
	StatusTransition Status = "transition"
)

// Role identifies a peer's position in the replication topology.
type Role string

const (
	RolePrimary Role = "primary"
	RoleSync    Role = "sync"
	RoleAsync   Role = "async"
)

// Peer is one replica of the replicated database, as reported by a
// shard status query (spec GLOSSARY "Peer").
type Peer struct {
	Role Role
	// ID is the shard membership identity of this peer; parseShard sets
	// it to the zone uuid. waitForPromotion compares this across polls of
	// the same role to detect that a different physical peer now holds
	// the primary role.
	ID         string
	InstanceID string
	ServerID   string
}

// Shard is one point-in-time observation of the cluster's replication
// state, from the perspective of whichever peer was queried.
type Shard struct {
	Status Status
	Peers  map[Role]Peer
}

// Peer looks up a role, returning ok=false if that role is not
// currently represented in the shard.
func (s Shard) Peer(role Role) (Peer, bool) {
	p, ok := s.Peers[role]
	return p, ok
}

// Observer queries shard status as observed from one specific peer
// (spec §4.5.3(e): "queries shard status via the local DB peer").
// Different steps deliberately observe from different peers - e.g.
// waitForPromotion polls the *former async* peer, not the primary,
// because the primary is the one being disabled.
type Observer interface {
	Observe(ctx context.Context, fromInstanceID string) (Shard, error)
}

// pollConfig bundles a poll's interval, attempt cap, and clock so every
// wait-for-X step in this package shares one retry shape (spec §4.5's
// per-step "explicit poll interval and attempt cap").
type pollConfig struct {
	Interval time.Duration
	Attempts int
	Clock    clock.Clock
}

func (p pollConfig) clock() clock.Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return clock.WallClock
}

// waitForShard polls fromInstanceID every interval, up to attempts
// times, until the shard's Status equals want (spec §4.5.1 steps 3, 6,
// 7, 11: "waitForShard(sync|async)").
func waitForShard(ctx context.Context, obs Observer, fromInstanceID string, want Status, cfg pollConfig) (Shard, error) {
	var last Shard
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			sh, err := obs.Observe(ctx, fromInstanceID)
			if err != nil {
				return errors.Trace(err)
			}
			last = sh
			if sh.Status != want {
				return errors.Errorf("shard status is %q, want %q", sh.Status, want)
			}
			return nil
		},
		Attempts: cfg.Attempts,
		Delay:    cfg.Interval,
		Clock:    cfg.clock(),
		Stop:     ctx.Done(),
	})
	if err != nil {
		return Shard{}, errors.Annotatef(err, "waiting for shard status %q (observed from %s)", want, fromInstanceID)
	}
	return last, nil
}

// waitForPromotion polls fromInstanceID until the primary role's peer
// identity differs from originalPrimaryID, confirming a new peer has
// taken over as primary (spec §4.5.1 step 9).
func waitForPromotion(ctx context.Context, obs Observer, fromInstanceID, originalPrimaryID string, cfg pollConfig) (Shard, error) {
	var last Shard
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			sh, err := obs.Observe(ctx, fromInstanceID)
			if err != nil {
				return errors.Trace(err)
			}
			last = sh
			primary, ok := sh.Peer(RolePrimary)
			if !ok || primary.ID == originalPrimaryID {
				return errors.New("primary has not yet been promoted")
			}
			return nil
		},
		Attempts: cfg.Attempts,
		Delay:    cfg.Interval,
		Clock:    cfg.clock(),
		Stop:     ctx.Done(),
	})
	if err != nil {
		return Shard{}, errors.Annotate(err, "waiting for promotion")
	}
	return last, nil
}

// verifyFullHA checks that all three roles are present, per spec
// §4.5.1 step 1.
func verifyFullHA(sh Shard) error {
	for _, role := range []Role{RolePrimary, RoleSync, RoleAsync} {
		if _, ok := sh.Peer(role); !ok {
			return errors.Errorf("HA setup error: shard is missing role %q (status %q)", role, sh.Status)
		}
	}
	return nil
}

func sleepFor(ctx context.Context, clk clock.Clock, d time.Duration) error {
	select {
	case <-clk.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pollCommand retries running script on serverUUID until it exits zero,
// per cfg's interval/attempt cap. Used by the no-HA branch's PostgreSQL
// probe, where "is the shard ready" collapses to "does this command
// succeed" rather than needing Observer's richer Shard result.
func pollCommand(ctx context.Context, nodes api.NodeInventory, serverUUID, script string, cfg pollConfig) error {
	return retry.Call(retry.CallArgs{
		Func: func() error {
			result, err := nodes.CommandExecute(ctx, serverUUID, script)
			if err != nil {
				return errors.Trace(err)
			}
			if !result.Succeeded() {
				return errors.Errorf("command exited %d: %s", result.ExitStatus, result.Stderr)
			}
			return nil
		},
		Attempts: cfg.Attempts,
		Delay:    cfg.Interval,
		Clock:    cfg.clock(),
		Stop:     ctx.Done(),
	})
}
