// Package image implements the Image Resolver (spec §4.2): for each
// target service, determine candidate image artifacts and select a
// single target image honoring the configured channel/version
// constraint.
package image

import (
	"context"
	"sort"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/kaizengarden/sdcadm/api"
	"github.com/kaizengarden/sdcadm/core/inventory"
)

var logger = loggo.GetLogger("sdcadm.core.image")

// VersionFilter is a single predicate on an image's version string,
// e.g. "matches the master channel" (spec §4.2: "implementation-visible
// as a 'version matches `master`' filter; the filter is configurable
// and must be a single predicate").
type VersionFilter func(version string) bool

// MasterChannel accepts any version; real deployments narrow this to
// match a channel suffix convention (e.g. "-master-" or "-release-").
// It is the default filter when none is configured.
func MasterChannel(version string) bool { return true }

// Resolver implements candidates(service, currentInstances) -> []Image
// and the two-tier resolveImage(uuid) lookup (spec §4.2).
type Resolver struct {
	Local    api.ImageStore
	Upstream api.ImageRegistry
	Filter   VersionFilter
}

func (r Resolver) filter() VersionFilter {
	if r.Filter != nil {
		return r.Filter
	}
	return MasterChannel
}

// Candidates returns the ordered candidate image set for service, given
// its currently-running instances, per spec §4.2's policy:
//
//	candidates = {images in use by any instance} ∪
//	             {images of the same name published after the oldest in-use image}
//
// If no instances exist, the set is seeded from the service's default
// image. The result is filtered by the configured version predicate and
// returned ordered by PublishedAt ascending; the caller selects the
// last (newest) entry as the target.
func (r Resolver) Candidates(ctx context.Context, svc inventory.Service, currentInstances []inventory.Instance) ([]inventory.Image, error) {
	inUseUUIDs := make([]string, 0, len(currentInstances))
	seen := map[string]bool{}
	for _, inst := range currentInstances {
		if inst.ImageID == "" || seen[inst.ImageID] {
			continue
		}
		seen[inst.ImageID] = true
		inUseUUIDs = append(inUseUUIDs, inst.ImageID)
	}

	if len(inUseUUIDs) == 0 {
		seedUUID := svc.DefaultImageUUID()
		if seedUUID == "" {
			return nil, nil
		}
		inUseUUIDs = []string{seedUUID}
	}

	inUseImages := make([]inventory.Image, 0, len(inUseUUIDs))
	oldest := (*inventory.Image)(nil)
	for _, uuid := range inUseUUIDs {
		img, err := r.resolveTolerant(ctx, uuid)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if img == nil {
			// ResourceNotFound: garbage-collected locally, not in the
			// upstream registry either. Omit from the candidate set.
			logger.Debugf("image %s in use by %s is gone upstream; omitting", uuid, svc.Name)
			continue
		}
		inUseImages = append(inUseImages, *img)
		if oldest == nil || img.PublishedAt < oldest.PublishedAt {
			oldest = img
		}
	}

	candidatesByUUID := map[string]inventory.Image{}
	for _, img := range inUseImages {
		candidatesByUUID[img.UUID] = img
	}

	if oldest != nil {
		newer, err := r.listImagesNamed(ctx, svc.Name)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, img := range newer {
			if img.PublishedAt > oldest.PublishedAt {
				candidatesByUUID[img.UUID] = img
			}
		}
	}

	filter := r.filter()
	out := make([]inventory.Image, 0, len(candidatesByUUID))
	for _, img := range candidatesByUUID {
		if filter(img.Version) {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt < out[j].PublishedAt })
	return out, nil
}

// Target returns the newest candidate for service, or ok=false if the
// candidate set is empty (the caller treats this as a no-op, spec
// §4.3's "no-op dropping").
func (r Resolver) Target(ctx context.Context, svc inventory.Service, currentInstances []inventory.Instance) (img inventory.Image, ok bool, err error) {
	candidates, err := r.Candidates(ctx, svc, currentInstances)
	if err != nil {
		return inventory.Image{}, false, errors.Trace(err)
	}
	if len(candidates) == 0 {
		return inventory.Image{}, false, nil
	}
	return candidates[len(candidates)-1], true, nil
}

// ResolveImage consults the local image service first, then the
// upstream registry, per spec §4.2. Not-found is signaled distinctly
// from transport errors via api.IsResourceNotFound.
func (r Resolver) ResolveImage(ctx context.Context, uuid string) (inventory.Image, error) {
	img, err := r.Local.GetImage(ctx, uuid)
	if err == nil {
		return toCoreImage(img), nil
	}
	if !errors.IsNotFound(err) {
		return inventory.Image{}, errors.Trace(api.NewUpstreamError("imgapi", "GetImage", err))
	}

	img, err = r.Upstream.GetImage(ctx, uuid)
	if err != nil {
		if errors.IsNotFound(err) {
			return inventory.Image{}, errors.NotFoundf("image %s", uuid)
		}
		return inventory.Image{}, errors.Trace(api.NewUpstreamError("updates.tritondatacenter.com", "GetImage", err))
	}
	return toCoreImage(img), nil
}

// resolveTolerant is ResolveImage but converts a not-found result into
// (nil, nil) instead of an error, per spec §4.2's "ResourceNotFound on a
// currently-used image is tolerated" rule.
func (r Resolver) resolveTolerant(ctx context.Context, uuid string) (*inventory.Image, error) {
	img, err := r.ResolveImage(ctx, uuid)
	if errors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &img, nil
}

func (r Resolver) listImagesNamed(ctx context.Context, name string) ([]inventory.Image, error) {
	wire, err := r.Local.ListImages(ctx, api.ImageFilter{Name: name})
	if err != nil {
		return nil, errors.Trace(api.NewUpstreamError("imgapi", "ListImages", err))
	}
	out := make([]inventory.Image, 0, len(wire))
	for _, img := range wire {
		out = append(out, toCoreImage(img))
	}
	return out, nil
}

func toCoreImage(img api.Image) inventory.Image {
	return inventory.Image{
		UUID:        img.UUID,
		Name:        img.Name,
		Version:     img.Version,
		PublishedAt: img.PublishedAt,
		Tags:        img.Tags,
	}
}
