package plan

import (
	"context"
	"fmt"
	"sort"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/kaizengarden/sdcadm/api"
	"github.com/kaizengarden/sdcadm/core/image"
	"github.com/kaizengarden/sdcadm/core/inventory"
)

var logger = loggo.GetLogger("sdcadm.core.plan")

// SafetyConfig carries the Plan Builder's configured safety-gate
// thresholds (spec §4.3 "Safety gates"). It has no defaults: a builder
// constructed with a zero-value SafetyConfig enforces no minimums,
// which is appropriate for tests but not for production wiring.
type SafetyConfig struct {
	// MinPlatform is the minimum server current_platform build stamp a
	// vm-type change's affected server must be running.
	MinPlatform string
	// MinImageBuildDateByService is the minimum image build-date
	// (PublishedAt) per service name a vm-type change's current image
	// must already meet.
	MinImageBuildDateByService map[string]string
	// ForceSameImage disables the "drop update-service whose instances
	// already run the single candidate image" no-op rule.
	ForceSameImage bool
	// ForceRabbitmq allows a rabbitmq service update to proceed.
	ForceRabbitmq bool
}

// Builder implements the Plan Builder component (spec §4.3).
type Builder struct {
	Snapshot inventory.Snapshot
	Resolver image.Resolver
	Safety   SafetyConfig
}

// Build validates, normalizes, conflict-checks, and materializes
// requests into an UpdatePlan. Validation errors from every request are
// accumulated and returned together as *api.AggregateValidationError;
// any other failure aborts immediately.
func (b Builder) Build(ctx context.Context, requests []ChangeRequest, justImages bool) (UpdatePlan, error) {
	if err := validateAll(requests); err != nil {
		return UpdatePlan{}, err
	}

	normalized, err := b.normalizeAll(ctx, requests)
	if err != nil {
		return UpdatePlan{}, errors.Trace(err)
	}

	if err := detectConflicts(normalized); err != nil {
		return UpdatePlan{}, errors.Trace(err)
	}

	normalized, err = b.resolveImages(ctx, normalized)
	if err != nil {
		return UpdatePlan{}, errors.Trace(err)
	}

	normalized = b.dropNoOps(normalized)

	if err := b.applySafetyGates(normalized); err != nil {
		return UpdatePlan{}, errors.Trace(err)
	}

	targ := applyChanges(b.Snapshot.Instances, normalized)

	return UpdatePlan{
		V:          FormatVersion,
		Curr:       b.Snapshot.Instances,
		Targ:       targ,
		Changes:    normalized,
		JustImages: justImages,
	}, nil
}

func validateAll(requests []ChangeRequest) error {
	var errs []error
	for _, r := range requests {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &api.AggregateValidationError{Errors: errs}
	}
	return nil
}

func (b Builder) normalizeAll(ctx context.Context, requests []ChangeRequest) ([]NormalizedChange, error) {
	out := make([]NormalizedChange, 0, len(requests))
	for _, r := range requests {
		nc, err := b.normalizeOne(r)
		if err != nil {
			return nil, errors.Trace(err)
		}
		out = append(out, nc)
	}
	return out, nil
}

func (b Builder) normalizeOne(r ChangeRequest) (NormalizedChange, error) {
	nc := NormalizedChange{
		Type:           r.Type,
		ForceSameImage: r.ForceSameImage,
		ForceRabbitmq:  r.ForceRabbitmq,
	}

	if r.Service != "" {
		svc, ok := b.Snapshot.ServiceByName(r.Service)
		if !ok {
			return NormalizedChange{}, api.NewUpdateError("unknown service %q", r.Service)
		}
		nc.Service = svc
	}

	instanceRef := firstNonEmpty(r.Instance, r.UUID, r.Alias)
	if instanceRef != "" {
		inst, ok := b.lookupInstance(instanceRef)
		if !ok {
			return NormalizedChange{}, api.NewUpdateError("unknown instance %q", instanceRef)
		}
		nc.Instance = inst
		nc.HasInstance = true
		if nc.Service.Name == "" {
			svc, ok := b.Snapshot.ServiceByName(inst.ServiceName)
			if !ok {
				return NormalizedChange{}, api.NewUpdateError("instance %q references unknown service %q", instanceRef, inst.ServiceName)
			}
			nc.Service = svc
		}
	}

	if r.Server != "" {
		srv, ok := b.Snapshot.ServerByIDOrHostname(r.Server)
		if !ok {
			return NormalizedChange{}, api.NewUpdateError("unknown server %q", r.Server)
		}
		nc.Server = srv
		nc.HasServer = true
	}

	if r.Image != "" {
		img, err := b.Resolver.ResolveImage(context.Background(), r.Image)
		if err != nil {
			return NormalizedChange{}, errors.Trace(err)
		}
		nc.Image = img
		nc.HasImage = true
	}

	return nc, nil
}

func (b Builder) lookupInstance(ref string) (inventory.Instance, bool) {
	if inst, ok := b.Snapshot.InstanceByID(ref); ok {
		return inst, true
	}
	for _, inst := range b.Snapshot.Instances {
		if inst.Alias == ref {
			return inst, true
		}
	}
	return inventory.Instance{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// detectConflicts implements spec §4.3's pairwise conflict rules: two
// service-level changes on the same service, two instance-level changes
// on the same instance, or one service-level and one instance-level
// change on the same service.
func detectConflicts(changes []NormalizedChange) error {
	serviceLevel := map[string]int{}
	instanceLevel := map[string]int{}
	serviceOfInstanceLevel := map[string]int{}

	for i, c := range changes {
		if isServiceLevel(c) {
			if j, ok := serviceLevel[c.Service.Name]; ok {
				return conflictErr(changes[j], c, "service")
			}
			serviceLevel[c.Service.Name] = i
		}
		if isInstanceLevel(c) {
			key := c.Instance.ID()
			if j, ok := instanceLevel[key]; ok {
				return conflictErr(changes[j], c, "instance")
			}
			instanceLevel[key] = i
			serviceOfInstanceLevel[c.Service.Name] = i
		}
	}

	for svcName, instIdx := range serviceOfInstanceLevel {
		if svcIdx, ok := serviceLevel[svcName]; ok {
			return conflictErr(changes[svcIdx], changes[instIdx], "service and instance")
		}
	}
	return nil
}

func isServiceLevel(c NormalizedChange) bool {
	return c.Type == DeleteService || c.Type == UpdateService
}

func isInstanceLevel(c NormalizedChange) bool {
	return c.Type == UpdateInstance || (c.Type == DeleteInstance && c.HasInstance)
}

func conflictErr(a, b NormalizedChange, kind string) error {
	return api.NewUpdateError("conflict: %s and %s of that service (%s, %s)",
		describeChange(a), describeChange(b), kind, a.Service.Name)
}

func describeChange(c NormalizedChange) string {
	if c.HasInstance {
		return fmt.Sprintf("%s instance %s", c.Type, c.Instance.ID())
	}
	return fmt.Sprintf("%s service %s", c.Type, c.Service.Name)
}

// resolveImages runs the Image Resolver over every update-* change that
// was not already given an explicit image, selecting the newest
// candidate per spec §4.3's "Dependency resolution" step.
func (b Builder) resolveImages(ctx context.Context, changes []NormalizedChange) ([]NormalizedChange, error) {
	out := make([]NormalizedChange, len(changes))
	copy(out, changes)

	for i, c := range out {
		if c.HasImage {
			continue
		}
		if c.Type != UpdateService && c.Type != UpdateInstance {
			continue
		}
		currentInstances := b.Snapshot.InstancesOfService(c.Service.Name)
		target, ok, err := b.Resolver.Target(ctx, c.Service, currentInstances)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if !ok {
			// Empty candidate set: left unresolved here, dropped as a
			// no-op by dropNoOps.
			continue
		}
		out[i].Image = target
		out[i].HasImage = true
	}
	return out, nil
}

// dropNoOps implements spec §4.3's "No-op dropping": an update-* change
// with an empty candidate image set is dropped outright; an
// update-service whose every instance already runs the single candidate
// image is dropped unless forceSameImage.
func (b Builder) dropNoOps(changes []NormalizedChange) []NormalizedChange {
	out := make([]NormalizedChange, 0, len(changes))
	for _, c := range changes {
		if (c.Type == UpdateService || c.Type == UpdateInstance) && !c.HasImage {
			logger.Infof("dropping %s on %q: empty candidate image set", c.Type, c.Service.Name)
			continue
		}
		if c.Type == UpdateService && !b.Safety.ForceSameImage &&
			allInstancesRunImage(b.Snapshot.InstancesOfService(c.Service.Name), c.Image.UUID) {
			logger.Infof("dropping %s on %q: already on image %s", c.Type, c.Service.Name, c.Image.UUID)
			continue
		}
		out = append(out, c)
	}
	return out
}

func allInstancesRunImage(instances []inventory.Instance, imageUUID string) bool {
	if len(instances) == 0 {
		return false
	}
	for _, inst := range instances {
		if inst.ImageID != imageUUID {
			return false
		}
	}
	return true
}

// applySafetyGates implements spec §4.3's "Safety gates".
func (b Builder) applySafetyGates(changes []NormalizedChange) error {
	for _, c := range changes {
		if c.Service.Name == "rabbitmq" && (c.Type == UpdateService || c.Type == UpdateInstance) && !c.ForceRabbitmq && !b.Safety.ForceRabbitmq {
			return api.NewUpdateError("rabbitmq updates are rejected unless forceRabbitmq is set")
		}
		if c.Service.Type != inventory.ServiceTypeVM {
			continue
		}
		if c.Type != UpdateService && c.Type != UpdateInstance {
			continue
		}
		for _, inst := range b.affectedInstances(c) {
			if b.Safety.MinPlatform != "" {
				srv, ok := b.Snapshot.ServerByIDOrHostname(inst.ServerID)
				if !ok {
					return api.NewUpdateError("instance %s references unknown server %q", inst.ID(), inst.ServerID)
				}
				if srv.CurrentPlatform < b.Safety.MinPlatform {
					return api.NewUpdateError("server %q platform %q is below the configured minimum %q",
						srv.Hostname, srv.CurrentPlatform, b.Safety.MinPlatform)
				}
			}
			if minDate, ok := b.Safety.MinImageBuildDateByService[c.Service.Name]; ok {
				currentImg, err := b.Resolver.ResolveImage(context.Background(), inst.ImageID)
				if err != nil {
					return errors.Trace(err)
				}
				if currentImg.PublishedAt < minDate {
					return api.NewUpdateError("instance %s image build date %q is below the configured minimum %q for %q",
						inst.ID(), currentImg.PublishedAt, minDate, c.Service.Name)
				}
			}
		}
	}
	return nil
}

func (b Builder) affectedInstances(c NormalizedChange) []inventory.Instance {
	if c.HasInstance {
		return []inventory.Instance{c.Instance}
	}
	return b.Snapshot.InstancesOfService(c.Service.Name)
}

// applyChanges builds targ from curr by substituting each affected
// instance's image_id/version with the resolved image (spec §4.3 "Plan
// materialization").
func applyChanges(curr []inventory.Instance, changes []NormalizedChange) []inventory.Instance {
	targetImageByInstance := map[string]inventory.Image{}
	targetImageByService := map[string]inventory.Image{}
	for _, c := range changes {
		if !c.HasImage {
			continue
		}
		if c.HasInstance {
			targetImageByInstance[c.Instance.ID()] = c.Image
		} else {
			targetImageByService[c.Service.Name] = c.Image
		}
	}

	targ := make([]inventory.Instance, len(curr))
	for i, inst := range curr {
		clone := inst.Clone()
		if img, ok := targetImageByInstance[inst.ID()]; ok {
			clone.ImageID = img.UUID
			clone.Version = img.Version
		} else if img, ok := targetImageByService[inst.ServiceName]; ok {
			clone.ImageID = img.UUID
			clone.Version = img.Version
		}
		targ[i] = clone
	}
	return targ
}

// affectedServiceNames returns the set of service names touched by
// changes, in deterministic sorted order.
func affectedServiceNames(changes []NormalizedChange) []string {
	names := set.NewStrings()
	for _, c := range changes {
		names.Add(c.Service.Name)
	}
	result := names.SortedValues()
	sort.Strings(result)
	return result
}
