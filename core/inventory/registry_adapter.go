package inventory

import (
	"context"

	"github.com/juju/errors"

	"github.com/kaizengarden/sdcadm/api"
)

// DefaultServiceRegistryAdapter adapts the generic api.ServiceRegistry
// (organized by application) into the agent-service-scoped view the
// Collector consumes (spec §4.1 steps 1-2).
type DefaultServiceRegistryAdapter struct {
	Registry      api.ServiceRegistry
	ApplicationID string
}

// ListAgentServices returns every service of type "agent" under the
// configured application.
func (a DefaultServiceRegistryAdapter) ListAgentServices(ctx context.Context) ([]api.Service, error) {
	services, err := a.Registry.ListServices(ctx, a.ApplicationID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	out := make([]api.Service, 0, len(services))
	for _, svc := range services {
		if svc.Type == string(ServiceTypeAgent) {
			out = append(out, svc)
		}
	}
	return out, nil
}

// ListAgentInstances returns every instance of type "agent" for the
// given service.
func (a DefaultServiceRegistryAdapter) ListAgentInstances(ctx context.Context, serviceUUID string) ([]api.Instance, error) {
	instances, err := a.Registry.ListInstances(ctx, serviceUUID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return instances, nil
}
