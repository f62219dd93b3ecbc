package image_test

import (
	"context"
	"testing"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/kaizengarden/sdcadm/api"
	"github.com/kaizengarden/sdcadm/core/image"
	"github.com/kaizengarden/sdcadm/core/inventory"
)

func Test(t *testing.T) { gc.TestingT(t) }

type ResolverSuite struct{}

var _ = gc.Suite(&ResolverSuite{})

type fakeImages struct {
	byUUID map[string]api.Image
	byName map[string][]api.Image
}

func (f fakeImages) GetImage(ctx context.Context, uuid string) (api.Image, error) {
	img, ok := f.byUUID[uuid]
	if !ok {
		return api.Image{}, errors.NotFoundf("image %s", uuid)
	}
	return img, nil
}

func (f fakeImages) ListImages(ctx context.Context, filter api.ImageFilter) ([]api.Image, error) {
	return f.byName[filter.Name], nil
}

func (f fakeImages) GetImageFile(ctx context.Context, uuid, destPath string) error { return nil }

type emptyImages struct{}

func (emptyImages) GetImage(ctx context.Context, uuid string) (api.Image, error) {
	return api.Image{}, errors.NotFoundf("image %s", uuid)
}
func (emptyImages) ListImages(ctx context.Context, filter api.ImageFilter) ([]api.Image, error) {
	return nil, nil
}
func (emptyImages) GetImageFile(ctx context.Context, uuid, destPath string) error { return nil }

func (s *ResolverSuite) TestDropSameImageWhenOnlyCandidate(c *gc.C) {
	local := fakeImages{byUUID: map[string]api.Image{
		"img-a": {UUID: "img-a", Name: "cnapi", Version: "1.0.0", PublishedAt: "2020-01-01T00:00:00Z"},
	}, byName: map[string][]api.Image{
		"cnapi": {{UUID: "img-a", Name: "cnapi", Version: "1.0.0", PublishedAt: "2020-01-01T00:00:00Z"}},
	}}
	r := image.Resolver{Local: local, Upstream: emptyImages{}}

	svc := inventory.Service{Name: "cnapi", Type: inventory.ServiceTypeVM}
	instances := []inventory.Instance{{ServiceName: "cnapi", ImageID: "img-a"}}

	candidates, err := r.Candidates(context.Background(), svc, instances)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(candidates, gc.HasLen, 1)
	c.Check(candidates[0].UUID, gc.Equals, "img-a")
}

func (s *ResolverSuite) TestNewerCandidateSelected(c *gc.C) {
	local := fakeImages{byUUID: map[string]api.Image{
		"img-a": {UUID: "img-a", Name: "cnapi", Version: "1.0.0", PublishedAt: "2020-01-01T00:00:00Z"},
	}, byName: map[string][]api.Image{
		"cnapi": {
			{UUID: "img-a", Name: "cnapi", Version: "1.0.0", PublishedAt: "2020-01-01T00:00:00Z"},
			{UUID: "img-b", Name: "cnapi", Version: "1.1.0", PublishedAt: "2020-06-01T00:00:00Z"},
		},
	}}
	r := image.Resolver{Local: local, Upstream: emptyImages{}}

	svc := inventory.Service{Name: "cnapi", Type: inventory.ServiceTypeVM}
	instances := []inventory.Instance{{ServiceName: "cnapi", ImageID: "img-a"}}

	target, ok, err := r.Target(context.Background(), svc, instances)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ok, jc.IsTrue)
	c.Check(target.UUID, gc.Equals, "img-b")
}

func (s *ResolverSuite) TestGoneUpstreamImageOmitted(c *gc.C) {
	local := fakeImages{byUUID: map[string]api.Image{}, byName: map[string][]api.Image{}}
	r := image.Resolver{Local: local, Upstream: emptyImages{}}

	svc := inventory.Service{Name: "cnapi"}
	instances := []inventory.Instance{{ServiceName: "cnapi", ImageID: "img-gone"}}

	candidates, err := r.Candidates(context.Background(), svc, instances)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(candidates, gc.HasLen, 0)
}

func (s *ResolverSuite) TestNoInstancesSeedsFromServiceDefault(c *gc.C) {
	local := fakeImages{byUUID: map[string]api.Image{
		"img-default": {UUID: "img-default", Name: "cnapi", Version: "1.0.0", PublishedAt: "2020-01-01T00:00:00Z"},
	}, byName: map[string][]api.Image{"cnapi": {
		{UUID: "img-default", Name: "cnapi", Version: "1.0.0", PublishedAt: "2020-01-01T00:00:00Z"},
	}}}
	r := image.Resolver{Local: local, Upstream: emptyImages{}}
	svc := inventory.Service{Name: "cnapi", Params: map[string]interface{}{"image_uuid": "img-default"}}

	target, ok, err := r.Target(context.Background(), svc, nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ok, jc.IsTrue)
	c.Check(target.UUID, gc.Equals, "img-default")
}
