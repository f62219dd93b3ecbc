package inventory_test

import (
	"context"
	"testing"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/kaizengarden/sdcadm/api"
	"github.com/kaizengarden/sdcadm/core/inventory"
)

func Test(t *testing.T) { gc.TestingT(t) }

type CollectorSuite struct{}

var _ = gc.Suite(&CollectorSuite{})

type fakeRegistryAdapter struct {
	services  []api.Service
	instances map[string][]api.Instance
}

func (f fakeRegistryAdapter) ListAgentServices(ctx context.Context) ([]api.Service, error) {
	return f.services, nil
}

func (f fakeRegistryAdapter) ListAgentInstances(ctx context.Context, serviceUUID string) ([]api.Instance, error) {
	return f.instances[serviceUUID], nil
}

type fakeVMManager struct {
	vms []api.VM
}

func (f fakeVMManager) ListVMs(ctx context.Context, filter api.VMFilter) ([]api.VM, error) {
	return f.vms, nil
}

func (f fakeVMManager) AddNICs(ctx context.Context, vmUUID string, nics []api.NIC) error { return nil }

type fakeImageStore struct {
	images map[string]api.Image
}

func (f fakeImageStore) GetImage(ctx context.Context, uuid string) (api.Image, error) {
	img, ok := f.images[uuid]
	if !ok {
		return api.Image{}, api.NewUpstreamError("imgapi", "GetImage", notFoundErr{})
	}
	return img, nil
}

func (f fakeImageStore) ListImages(ctx context.Context, filter api.ImageFilter) ([]api.Image, error) {
	return nil, nil
}

func (f fakeImageStore) GetImageFile(ctx context.Context, uuid, destPath string) error { return nil }

type notFoundErr struct{}

func (notFoundErr) Error() string   { return "not found" }
func (notFoundErr) NotFound() bool  { return true }

type fakeNodeInventory struct {
	servers []api.Server
}

func (f fakeNodeInventory) ListServers(ctx context.Context, extras api.ServerExtras) ([]api.Server, error) {
	return f.servers, nil
}

func (f fakeNodeInventory) ListPlatforms(ctx context.Context) ([]string, error) { return nil, nil }

func (f fakeNodeInventory) CommandExecute(ctx context.Context, serverUUID, script string) (api.RemoteResult, error) {
	return api.RemoteResult{}, nil
}

func (f fakeNodeInventory) SetBootParams(ctx context.Context, serverUUID string, params map[string]string) error {
	return nil
}

func (s *CollectorSuite) TestCollectCrossReferencesEverything(c *gc.C) {
	headnode := api.Server{UUID: "server-0", Hostname: "headnode", IsHeadnode: true, SysInfo: api.SysInfo{Agents: []string{"config-agent"}}}

	reg := fakeRegistryAdapter{
		services: []api.Service{{UUID: "svc-cainstsvc", Name: "cainstsvc", Type: "agent"}},
		instances: map[string][]api.Instance{
			"svc-cainstsvc": {{UUID: "inst-1", ServerUUID: "server-0"}},
		},
	}
	vms := fakeVMManager{vms: []api.VM{
		{UUID: "vm-1", ImageUUID: "img-1", ServerID: "server-0", Tags: map[string]string{"smartdc_role": "cnapi"}, NICs: []api.NIC{{IP: "10.0.0.5", Primary: true}}},
		{UUID: "vm-2", ImageUUID: "img-2", ServerID: "server-0", Tags: map[string]string{}},
	}}
	images := fakeImageStore{images: map[string]api.Image{
		"img-1": {UUID: "img-1", Name: "cnapi", Version: "1.0.0"},
	}}
	nodes := fakeNodeInventory{servers: []api.Server{headnode}}

	coll := inventory.Collector{Registry: reg, VMs: vms, Images: images, Nodes: nodes, OwnerID: "owner-1"}
	snap, err := coll.Collect(context.Background())
	c.Assert(err, jc.ErrorIsNil)

	// vm-2 lacks smartdc_role and must be dropped.
	for _, inst := range snap.Instances {
		c.Check(inst.InstanceID, gc.Not(gc.Equals), "vm-2")
	}

	cnapiInstances := snap.InstancesOfService("cnapi")
	c.Assert(cnapiInstances, gc.HasLen, 1)
	c.Check(cnapiInstances[0].ImageID, gc.Equals, "img-1")
	c.Check(cnapiInstances[0].AdminIP, gc.Equals, "10.0.0.5")

	// registry-sourced agent instance and host-enumerated agent instance
	// both appear; the registry one keeps its real id.
	var sawRegistryInstance, sawHostAgent bool
	for _, inst := range snap.Instances {
		if inst.ServiceName == "cainstsvc" && inst.InstanceID == "inst-1" {
			sawRegistryInstance = true
		}
		if inst.ServiceName == "config-agent" {
			sawHostAgent = true
			c.Check(inst.ID(), gc.Equals, "server-0/config-agent")
		}
	}
	c.Check(sawRegistryInstance, jc.IsTrue)
	c.Check(sawHostAgent, jc.IsTrue)

	// synthetic assets service and known agent services are present.
	_, ok := snap.ServiceByName("assets")
	c.Check(ok, jc.IsTrue)
	_, ok = snap.ServiceByName("vm-agent")
	c.Check(ok, jc.IsTrue)

	srv, ok := snap.ServerByIDOrHostname("headnode")
	c.Assert(ok, jc.IsTrue)
	c.Check(srv.UUID, gc.Equals, "server-0")
}
