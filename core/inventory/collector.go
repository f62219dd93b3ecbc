package inventory

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/utils/v4/parallel"

	"github.com/kaizengarden/sdcadm/api"
)

var logger = loggo.GetLogger("sdcadm.core.inventory")

// maxParallelServerFetches bounds the fan-out across servers when
// collecting sysinfo/agent descriptors, per spec §5's "typical cap: 5".
const maxParallelServerFetches = 5

// assetsService is the synthetic catalog entry spec §4.1 step 5 requires:
// it has no registry presence of its own but must remain updateable.
const assetsService = "assets"

// knownAgentServices is the hard-coded list of agent services the
// registry does not yet enumerate (spec §4.1 step 5).
var knownAgentServices = []string{
	"cainstsvc", "config-agent", "firewaller", "hagfish-watcher",
	"net-agent", "smartlogin", "vm-agent",
}

// Collector gathers the inventory Snapshot from the external sources.
// OwnerID is the administrative account whose VMs are in scope for
// collection (spec §4.1 step 4).
type Collector struct {
	Registry ServiceRegistryAdapter
	VMs      api.VMManager
	Images   api.ImageStore
	Nodes    api.NodeInventory
	OwnerID  string
}

// ServiceRegistryAdapter narrows api.ServiceRegistry to the calls the
// collector needs, resolved against a single application (spec §4.1
// steps 1-2 operate against "the service registry").
type ServiceRegistryAdapter interface {
	ListAgentServices(ctx context.Context) ([]api.Service, error)
	ListAgentInstances(ctx context.Context, serviceUUID string) ([]api.Instance, error)
}

// Collect produces a consistent, cross-referenced Snapshot by querying
// every external inventory source, per spec §4.1's algorithm. Any
// upstream failure is propagated with provenance; partial inventories
// are never returned.
func (c Collector) Collect(ctx context.Context) (Snapshot, error) {
	servers, err := c.collectServers(ctx)
	if err != nil {
		return Snapshot{}, errors.Trace(err)
	}

	agentServices, agentServiceByUUID, err := c.collectAgentServices(ctx)
	if err != nil {
		return Snapshot{}, errors.Trace(err)
	}

	agentInstances, err := c.collectAgentInstancesFromRegistry(ctx, agentServiceByUUID)
	if err != nil {
		return Snapshot{}, errors.Trace(err)
	}

	hostAgentInstances, err := c.collectHostAgents(ctx, servers, agentInstances)
	if err != nil {
		return Snapshot{}, errors.Trace(err)
	}

	vmInstances, err := c.collectVMInstances(ctx)
	if err != nil {
		return Snapshot{}, errors.Trace(err)
	}

	services := c.augmentServices(agentServices, vmInstances)

	instances := make([]Instance, 0, len(agentInstances)+len(hostAgentInstances)+len(vmInstances))
	instances = append(instances, agentInstances...)
	instances = append(instances, hostAgentInstances...)
	instances = append(instances, vmInstances...)

	return Snapshot{Services: services, Instances: instances, Servers: servers}, nil
}

func (c Collector) collectServers(ctx context.Context) ([]Server, error) {
	wireServers, err := c.Nodes.ListServers(ctx, api.ServerExtras{SysInfo: true})
	if err != nil {
		return nil, errors.Trace(api.NewUpstreamError("cnapi", "ListServers", err))
	}
	out := make([]Server, 0, len(wireServers))
	for _, ws := range wireServers {
		out = append(out, Server{
			UUID:            ws.UUID,
			Hostname:        ws.Hostname,
			IsHeadnode:      ws.IsHeadnode,
			CurrentPlatform: ws.SysInfo.CurrentPlatform,
			Agents:          ws.SysInfo.Agents,
		})
	}
	return out, nil
}

func (c Collector) collectAgentServices(ctx context.Context) ([]Service, map[string]string, error) {
	wireServices, err := c.Registry.ListAgentServices(ctx)
	if err != nil {
		return nil, nil, errors.Trace(api.NewUpstreamError("sapi", "ListServices(agent)", err))
	}
	byUUID := make(map[string]string, len(wireServices))
	out := make([]Service, 0, len(wireServices))
	for _, ws := range wireServices {
		byUUID[ws.UUID] = ws.Name
		out = append(out, Service{Name: ws.Name, Type: ServiceTypeAgent, UUID: ws.UUID, Params: ws.Params})
	}
	return out, byUUID, nil
}

func (c Collector) collectAgentInstancesFromRegistry(ctx context.Context, serviceNameByUUID map[string]string) ([]Instance, error) {
	var out []Instance
	for svcUUID, svcName := range serviceNameByUUID {
		wireInstances, err := c.Registry.ListAgentInstances(ctx, svcUUID)
		if err != nil {
			return nil, errors.Trace(api.NewUpstreamError("sapi", fmt.Sprintf("ListInstances(%s)", svcName), err))
		}
		for _, wi := range wireInstances {
			out = append(out, Instance{
				ServiceName: svcName,
				Type:        ServiceTypeAgent,
				InstanceID:  wi.UUID,
				ServerID:    wi.ServerUUID,
			})
		}
	}
	return out, nil
}

// registryInstanceIndex builds a lookup of (server, service) -> instance
// id from the registry's own instance list, so that host-enumerated
// agents can prefer the registry's id when one exists (spec §4.1 step 3).
func registryInstanceIndex(registryInstances []Instance) map[string]string {
	idx := make(map[string]string, len(registryInstances))
	for _, inst := range registryInstances {
		idx[inst.ServerID+"/"+inst.ServiceName] = inst.ID()
	}
	return idx
}

func (c Collector) collectHostAgents(ctx context.Context, servers []Server, registryAgentInstances []Instance) ([]Instance, error) {
	idx := registryInstanceIndex(registryAgentInstances)
	registryHasSomeInstance := make(map[string]bool, len(idx))
	for key := range idx {
		registryHasSomeInstance[key] = true
	}

	type result struct {
		instances []Instance
	}
	results := make([]result, len(servers))

	run := parallel.NewRun(maxParallelServerFetches)
	for i, srv := range servers {
		i, srv := i, srv
		run.Do(func() error {
			var out []Instance
			for _, agentName := range srv.Agents {
				key := srv.UUID + "/" + agentName
				id := idx[key]
				out = append(out, Instance{
					ServiceName: agentName,
					Type:        ServiceTypeAgent,
					InstanceID:  id,
					ServerID:    srv.UUID,
					Hostname:    srv.Hostname,
				})
			}
			results[i].instances = out
			return nil
		})
	}
	if err := run.Wait(); err != nil {
		return nil, errors.Trace(api.NewUpstreamError("cnapi", "sysinfo agents", err))
	}

	var out []Instance
	for _, r := range results {
		out = append(out, r.instances...)
	}
	return out, nil
}

func (c Collector) collectVMInstances(ctx context.Context) ([]Instance, error) {
	vms, err := c.VMs.ListVMs(ctx, api.VMFilter{OwnerUUID: c.OwnerID, State: "active"})
	if err != nil {
		return nil, errors.Trace(api.NewUpstreamError("vmapi", "ListVms", err))
	}

	var out []Instance
	for _, vm := range vms {
		role, ok := vm.Tags["smartdc_role"]
		if !ok || role == "" {
			logger.Debugf("skipping vm %s: no smartdc_role tag", vm.UUID)
			continue
		}
		img, err := c.Images.GetImage(ctx, vm.ImageUUID)
		if err != nil {
			return nil, errors.Trace(api.NewUpstreamError("imgapi", fmt.Sprintf("GetImage(%s)", vm.ImageUUID), err))
		}
		adminIP := ""
		for _, nic := range vm.NICs {
			if nic.Primary {
				adminIP = nic.IP
				break
			}
		}
		if adminIP == "" && len(vm.NICs) > 0 {
			adminIP = vm.NICs[0].IP
		}
		out = append(out, Instance{
			ServiceName: role,
			Type:        ServiceTypeVM,
			InstanceID:  vm.UUID,
			ImageID:     img.UUID,
			Version:     img.Version,
			ServerID:    vm.ServerID,
			AdminIP:     adminIP,
			Alias:       vm.Alias,
		})
	}
	return out, nil
}

// augmentServices adds the synthetic "assets" entry and the hard-coded
// known-agent-service list to the registry's own service list, per spec
// §4.1 step 5, and folds in any vm-type services observed only via
// instances (defensive: a vm service should already be registered, but
// an instance with no matching registry service must still surface as
// a Service so the planner can target it).
func (c Collector) augmentServices(registryServices []Service, vmInstances []Instance) []Service {
	byName := make(map[string]Service, len(registryServices)+len(knownAgentServices)+1)
	for _, svc := range registryServices {
		byName[svc.Name] = svc
	}
	if _, ok := byName[assetsService]; !ok {
		byName[assetsService] = Service{Name: assetsService, Type: ServiceTypeAgent}
	}
	for _, name := range knownAgentServices {
		if _, ok := byName[name]; !ok {
			byName[name] = Service{Name: name, Type: ServiceTypeAgent}
		}
	}
	for _, inst := range vmInstances {
		if _, ok := byName[inst.ServiceName]; !ok {
			byName[inst.ServiceName] = Service{Name: inst.ServiceName, Type: ServiceTypeVM}
		}
	}

	out := make([]Service, 0, len(byName))
	for _, svc := range byName {
		out = append(out, svc)
	}
	return out
}
