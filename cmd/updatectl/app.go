// Command updatectl is the minimal CLI front end wrapping the core
// (spec §1: the CLI is explicitly out of scope for the core itself).
// It is deliberately thin glue: flag parsing, config loading, and
// wiring core/plan, core/procedure, core/lock and core/history
// together for the two operator-facing mutating paths - genUpdatePlan
// and execUpdatePlan - plus --dry-run (print, don't write) and
// --just-images (retain only the image-prefetch procedure).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/kaizengarden/sdcadm/api"
	"github.com/kaizengarden/sdcadm/core/history"
	"github.com/kaizengarden/sdcadm/core/image"
	"github.com/kaizengarden/sdcadm/core/inventory"
	"github.com/kaizengarden/sdcadm/core/plan"
	"github.com/kaizengarden/sdcadm/core/procedure"
	"github.com/kaizengarden/sdcadm/internal/config"
)

// options collects the flags common to both subcommands.
type options struct {
	configPath   string
	snapshotPath string
	changesPath  string
	dryRun       bool
	justImages   bool
	workDir      string
}

// newDependencies is the one extension point a real sdcadm deployment
// fills in: concrete CloudAPI/SAPI/IMGAPI/ur adapters implementing the
// api package's collaborator interfaces. None of those are part of
// this module - spec §2's component table lists five core components,
// none of which is "talk to CloudAPI" - so the default here refuses to
// run anything that would need a live collaborator, rather than
// silently doing nothing against a nil one.
var newDependencies = func(cfg config.Config) (procedure.Dependencies, error) {
	return procedure.Dependencies{}, errors.NotImplementedf("live collaborator adapters (inject via newDependencies)")
}

// newImageResolver mirrors newDependencies for the Plan Builder's one
// live collaborator: resolving an image reference always consults the
// local image store first (core/image.Resolver.ResolveImage), so
// genUpdatePlan cannot run against a zero-value Resolver any more than
// execUpdatePlan can run against zero-value Dependencies.
var newImageResolver = func(cfg config.Config) (image.Resolver, error) {
	return image.Resolver{}, errors.NotImplementedf("live image store adapter (inject via newImageResolver)")
}

// genUpdatePlan implements the planning entrypoint: load a
// previously-collected inventory snapshot and a list of change
// requests, build an UpdatePlan, and either print it (--dry-run) or
// write it to workDir/<ISO8601Z>/plan.json (spec §6).
func genUpdatePlan(ctx context.Context, out io.Writer, opt options, cfg config.Config) error {
	snap, err := loadSnapshot(opt.snapshotPath)
	if err != nil {
		return err
	}
	requests, err := loadChangeRequests(opt.changesPath)
	if err != nil {
		return err
	}
	resolver, err := newImageResolver(cfg)
	if err != nil {
		return errors.Trace(err)
	}

	builder := plan.Builder{
		Snapshot: snap,
		Resolver: resolver,
		Safety:   cfg.Safety(),
	}
	p, err := builder.Build(ctx, requests, opt.justImages)
	if err != nil {
		return errors.Trace(err)
	}

	if opt.dryRun {
		dump, err := yaml.Marshal(p)
		if err != nil {
			return api.NewInternalError(err, "rendering dry-run plan")
		}
		_, err = out.Write(dump)
		return err
	}

	data, err := p.Serialize()
	if err != nil {
		return errors.Trace(err)
	}
	dir := filepath.Join(workDir(opt, cfg), timestamp())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return api.NewInternalError(err, "creating plan directory %s", dir)
	}
	planPath := filepath.Join(dir, "plan.json")
	if err := os.WriteFile(planPath, data, 0o644); err != nil {
		return api.NewInternalError(err, "writing %s", planPath)
	}
	fmt.Fprintf(out, "wrote %s\n", planPath)
	return nil
}

// execUpdatePlan implements the execution entrypoint: load a
// previously-written plan.json, partition it into procedures, run each
// one in order while streaming progress, and persist a history record
// bracketing the run (spec §3 "History record", §4.4).
func execUpdatePlan(ctx context.Context, out io.Writer, opt options, cfg config.Config) error {
	data, err := os.ReadFile(opt.changesPath)
	if err != nil {
		return api.NewInternalError(err, "reading plan %s", opt.changesPath)
	}
	p, err := plan.Deserialize(data)
	if err != nil {
		return errors.Trace(err)
	}
	snap, err := loadSnapshot(opt.snapshotPath)
	if err != nil {
		return err
	}

	deps, err := newDependencies(cfg)
	if err != nil {
		return errors.Trace(err)
	}

	procs, err := procedure.Coordinate(p, snap, deps)
	if err != nil {
		return errors.Trace(err)
	}

	if opt.dryRun {
		for _, s := range procs.Summaries() {
			fmt.Fprintln(out, s)
		}
		return nil
	}

	lk, err := cfg.LockManager().Acquire(ctx, progressPrinter(out), 0)
	if err != nil {
		return errors.Trace(err)
	}
	defer lk.Release()

	store := cfg.HistoryStore()
	rec := api.HistoryRecord{
		UUID:      history.NewUUID(),
		Changes:   p.Changes,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := store.SaveHistory(ctx, rec); err != nil {
		return errors.Trace(err)
	}

	runErr := runAll(ctx, procs, progressPrinter(out))

	rec.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := store.UpdateHistory(ctx, rec); err != nil {
		if runErr != nil {
			// The run's own result matters more than the audit trail
			// write failing on top of it; log the secondary failure
			// rather than letting it replace the primary one.
			logger.Errorf("recording history for failed run %s: %v", rec.UUID, err)
			return runErr
		}
		return errors.Trace(err)
	}
	return runErr
}

// runAll executes every procedure in order, aborting the remaining
// ones on the first failure (spec §ERROR HANDLING: "execution errors
// abort the remaining procedures").
func runAll(ctx context.Context, procs procedure.List, progress api.Progress) error {
	for _, p := range procs {
		progress("starting %s", p.Summarize())
		if err := p.Execute(ctx, progress); err != nil {
			return errors.Annotatef(err, "procedure %s", p.Kind())
		}
	}
	return nil
}

func progressPrinter(out io.Writer) api.Progress {
	return func(format string, args ...interface{}) {
		fmt.Fprintf(out, format+"\n", args...)
	}
}

func workDir(opt options, cfg config.Config) string {
	if opt.workDir != "" {
		return opt.workDir
	}
	if cfg.WorkDir != "" {
		return cfg.WorkDir
	}
	return "/var/sdcadm/updates"
}

func timestamp() string {
	return time.Now().UTC().Format("20060102T150405Z")
}

func loadSnapshot(path string) (inventory.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return inventory.Snapshot{}, api.NewInternalError(err, "reading snapshot %s", path)
	}
	var snap inventory.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return inventory.Snapshot{}, api.NewInternalError(err, "parsing snapshot %s", path)
	}
	return snap, nil
}

func loadChangeRequests(path string) ([]plan.ChangeRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, api.NewInternalError(err, "reading change requests %s", path)
	}
	var requests []plan.ChangeRequest
	if err := yaml.Unmarshal(data, &requests); err != nil {
		return nil, api.NewInternalError(err, "parsing change requests %s", path)
	}
	return requests, nil
}
