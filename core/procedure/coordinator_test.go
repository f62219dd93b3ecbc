package procedure_test

import (
	"context"
	"testing"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/kaizengarden/sdcadm/api"
	"github.com/kaizengarden/sdcadm/core/inventory"
	"github.com/kaizengarden/sdcadm/core/plan"
	"github.com/kaizengarden/sdcadm/core/procedure"
)

func Test(t *testing.T) { gc.TestingT(t) }

type CoordinatorSuite struct{}

var _ = gc.Suite(&CoordinatorSuite{})

type fakeImages struct {
	present map[string]bool
}

func (f fakeImages) GetImage(ctx context.Context, uuid string) (api.Image, error) {
	if f.present[uuid] {
		return api.Image{UUID: uuid}, nil
	}
	return api.Image{}, api.NewUpstreamError("imgapi", "GetImage", notFoundErr{})
}
func (f fakeImages) ListImages(ctx context.Context, filter api.ImageFilter) ([]api.Image, error) {
	return nil, nil
}
func (f fakeImages) GetImageFile(ctx context.Context, uuid, destPath string) error { return nil }

type notFoundErr struct{}

func (notFoundErr) Error() string  { return "not found" }
func (notFoundErr) NotFound() bool { return true }

func headnodeSnapshot(serviceName string, count int) inventory.Snapshot {
	hn := inventory.Server{UUID: "server-0", Hostname: "headnode", IsHeadnode: true}
	instances := make([]inventory.Instance, count)
	for i := range instances {
		instances[i] = inventory.Instance{
			ServiceName: serviceName,
			InstanceID:  serviceName + "-inst",
			ImageID:     "img-a",
			ServerID:    "server-0",
		}
	}
	return inventory.Snapshot{
		Services:  []inventory.Service{{Name: serviceName, Type: inventory.ServiceTypeVM}},
		Instances: instances,
		Servers:   []inventory.Server{hn},
	}
}

// scenario 2: simple stateless update.
func (s *CoordinatorSuite) TestSimpleStatelessProcedure(c *gc.C) {
	snap := headnodeSnapshot("cnapi", 1)
	deps := procedure.Dependencies{Images: fakeImages{present: map[string]bool{"img-b": true}}}

	p := plan.UpdatePlan{V: plan.FormatVersion, Changes: []plan.NormalizedChange{
		{
			Type:        plan.UpdateService,
			Service:     inventory.Service{Name: "cnapi", Type: inventory.ServiceTypeVM},
			Image:       inventory.Image{UUID: "img-b"},
			HasImage:    true,
		},
	}}

	procs, err := procedure.Coordinate(p, snap, deps)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(procs, gc.HasLen, 1)
	c.Check(procs[0].Kind(), gc.Equals, procedure.KindUpdateStatelessServicesV1)
}

// scenario 4: unsupported topology.
func (s *CoordinatorSuite) TestUnsupportedTopologyReportsError(c *gc.C) {
	snap := headnodeSnapshot("sapi", 2)
	deps := procedure.Dependencies{Images: fakeImages{present: map[string]bool{"img-b": true}}}

	p := plan.UpdatePlan{V: plan.FormatVersion, Changes: []plan.NormalizedChange{
		{
			Type:     plan.UpdateService,
			Service:  inventory.Service{Name: "sapi", Type: inventory.ServiceTypeVM},
			Image:    inventory.Image{UUID: "img-b"},
			HasImage: true,
		},
	}}

	_, err := procedure.Coordinate(p, snap, deps)
	c.Assert(err, gc.NotNil)
	c.Check(api.IsUpdateError(err), jc.IsTrue)
}

func (s *CoordinatorSuite) TestImagePrefetchDoesNotConsumeChange(c *gc.C) {
	snap := headnodeSnapshot("cnapi", 1)
	deps := procedure.Dependencies{Images: fakeImages{present: map[string]bool{}}} // image not present locally

	p := plan.UpdatePlan{V: plan.FormatVersion, Changes: []plan.NormalizedChange{
		{
			Type:     plan.UpdateService,
			Service:  inventory.Service{Name: "cnapi", Type: inventory.ServiceTypeVM},
			Image:    inventory.Image{UUID: "img-b"},
			HasImage: true,
		},
	}}

	procs, err := procedure.Coordinate(p, snap, deps)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(procs, gc.HasLen, 2)
	c.Check(procs[0].Kind(), gc.Equals, procedure.KindDownloadImages)
	c.Check(procs[1].Kind(), gc.Equals, procedure.KindUpdateStatelessServicesV1)
}

// A change that individually satisfies the single-headnode-instance
// topology constraint must still be bound into a procedure even when
// another change routed through the same grouped filter does not.
func (s *CoordinatorSuite) TestMixedTopologyBatchStillHandlesTheValidChange(c *gc.C) {
	hn := inventory.Server{UUID: "server-0", Hostname: "headnode", IsHeadnode: true}
	snap := inventory.Snapshot{
		Services: []inventory.Service{
			{Name: "amon", Type: inventory.ServiceTypeVM},
			{Name: "cnapi", Type: inventory.ServiceTypeVM},
		},
		Instances: []inventory.Instance{
			{ServiceName: "amon", InstanceID: "amon-inst", ImageID: "img-a", ServerID: "server-0"},
			{ServiceName: "cnapi", InstanceID: "cnapi-inst-0", ImageID: "img-a", ServerID: "server-0"},
			{ServiceName: "cnapi", InstanceID: "cnapi-inst-1", ImageID: "img-a", ServerID: "server-0"},
		},
		Servers: []inventory.Server{hn},
	}
	deps := procedure.Dependencies{Images: fakeImages{present: map[string]bool{"img-b": true}}}

	p := plan.UpdatePlan{V: plan.FormatVersion, Changes: []plan.NormalizedChange{
		{
			Type:     plan.UpdateService,
			Service:  inventory.Service{Name: "amon", Type: inventory.ServiceTypeVM},
			Image:    inventory.Image{UUID: "img-b"},
			HasImage: true,
		},
		{
			Type:     plan.UpdateService,
			Service:  inventory.Service{Name: "cnapi", Type: inventory.ServiceTypeVM},
			Image:    inventory.Image{UUID: "img-b"},
			HasImage: true,
		},
	}}

	// cnapi's 2-instance topology is unsupported, so the plan as a whole
	// still fails - but the error must name only cnapi, not amon, which
	// individually satisfies the single-headnode-instance constraint and
	// must have been bound into a procedure before the leftover cnapi
	// change made Coordinate return an error.
	_, err := procedure.Coordinate(p, snap, deps)
	c.Assert(err, gc.NotNil)
	c.Check(api.IsUpdateError(err), jc.IsTrue)
	c.Check(err, gc.ErrorMatches, ".*cnapi.*")
	c.Check(err, gc.Not(gc.ErrorMatches), ".*amon.*")
}

func (s *CoordinatorSuite) TestJustImagesRetainsOnlyDownload(c *gc.C) {
	snap := headnodeSnapshot("cnapi", 1)
	deps := procedure.Dependencies{Images: fakeImages{present: map[string]bool{}}}

	p := plan.UpdatePlan{V: plan.FormatVersion, JustImages: true, Changes: []plan.NormalizedChange{
		{
			Type:     plan.UpdateService,
			Service:  inventory.Service{Name: "cnapi", Type: inventory.ServiceTypeVM},
			Image:    inventory.Image{UUID: "img-b"},
			HasImage: true,
		},
	}}

	procs, err := procedure.Coordinate(p, snap, deps)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(procs, gc.HasLen, 1)
	c.Check(procs[0].Kind(), gc.Equals, procedure.KindDownloadImages)
}
