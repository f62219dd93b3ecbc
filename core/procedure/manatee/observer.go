package manatee

import (
	"context"
	"encoding/json"

	"github.com/juju/errors"

	"github.com/kaizengarden/sdcadm/api"
)

// statusScript is the remote command run on a manatee zone to obtain its
// view of shard membership (spec §4.5.3(e): "queries shard status via
// the local DB peer"). Its JSON shape is fixed by the tool it shells
// out to, so parsing it is a one-off encoding/json job rather than
// something any of the pack's schema/serialization libraries fit -
// there is no schema to validate against, just three known keys.
const statusScript = "manatee-adm status -j"

type wireRole struct {
	ZoneUUID   string `json:"zoneId"`
	ServerUUID string `json:"serverId"`
	PgURL      string `json:"pgUrl"`
}

type wireShard struct {
	Primary *wireRole `json:"primary"`
	Sync    *wireRole `json:"sync"`
	Async   *wireRole `json:"async"`
}

// parseShard decodes statusScript's stdout into a Shard. The peer
// identity used for promotion detection is the zone's own uuid: once a
// different zone answers as primary, the primary's ID changes and
// waitForPromotion's comparison fires.
func parseShard(raw []byte) (Shard, error) {
	var w wireShard
	if err := json.Unmarshal(raw, &w); err != nil {
		return Shard{}, errors.Annotate(err, "decoding manatee-adm status output")
	}
	sh := Shard{Peers: map[Role]Peer{}}
	add := func(role Role, r *wireRole) {
		if r == nil {
			return
		}
		sh.Peers[role] = Peer{Role: role, ID: r.ZoneUUID, InstanceID: r.ZoneUUID, ServerID: r.ServerUUID}
	}
	add(RolePrimary, w.Primary)
	add(RoleSync, w.Sync)
	add(RoleAsync, w.Async)

	sh.Status = deriveStatus(w.Primary != nil, w.Sync != nil, w.Async != nil)
	return sh, nil
}

// deriveStatus maps role presence to the shard's overall status. Roles
// normally disappear from the tail in (async, sync, primary) order as
// peers are disabled for reprovisioning; async present without sync is
// the one combination that shouldn't occur in a healthy rolling update
// (async replicates from sync, not primary directly) and is reported as
// StatusTransition rather than forced into one of the steady states.
func deriveStatus(primary, sync, async bool) Status {
	switch {
	case !primary:
		return StatusEmpty
	case !sync && !async:
		return StatusPrimary
	case sync && !async:
		return StatusSync
	case !sync && async:
		return StatusTransition
	default:
		return StatusAsync
	}
}

// RemoteObserver queries shard status by running statusScript on
// whichever server currently hosts the instance asked about, via the
// same remote-exec surface the Procedure Coordinator's other executors
// use (api.NodeInventory).
type RemoteObserver struct {
	Nodes api.NodeInventory
	// ServerOf resolves an instance id to the server it currently runs
	// on; the procedure populates this from the inventory snapshot it
	// was built with.
	ServerOf func(instanceID string) (serverUUID string, ok bool)
}

func (o RemoteObserver) Observe(ctx context.Context, fromInstanceID string) (Shard, error) {
	server, ok := o.ServerOf(fromInstanceID)
	if !ok {
		return Shard{}, errors.NotFoundf("server for manatee instance %s", fromInstanceID)
	}
	result, err := o.Nodes.CommandExecute(ctx, server, statusScript)
	if err != nil {
		return Shard{}, errors.Trace(api.NewUpstreamError("manatee", "CommandExecute", err))
	}
	if !result.Succeeded() {
		return Shard{}, api.NewUpstreamError("manatee", "CommandExecute", errors.Errorf("manatee-adm status exited %d: %s", result.ExitStatus, result.Stderr))
	}
	return parseShard([]byte(result.Stdout))
}
