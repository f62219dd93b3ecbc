// Package inventory holds the core data model shared by every other
// package in this module: Service, Instance, Server and Image, plus the
// Snapshot that ties them together (spec §3).
package inventory

import "fmt"

// ServiceType discriminates the two kinds of service materialization
// tracked in the fleet (spec §3).
type ServiceType string

const (
	ServiceTypeVM    ServiceType = "vm"
	ServiceTypeAgent ServiceType = "agent"
)

// Service is a catalog entry for one updateable component. Name is
// globally unique within the system.
type Service struct {
	Name   string
	Type   ServiceType
	UUID   string
	Params map[string]interface{}
}

// DefaultImageUUID returns the service's configured default image, used
// to seed the Image Resolver's candidate set when no instances of the
// service exist yet (spec §4.2).
func (s Service) DefaultImageUUID() string {
	if s.Params == nil {
		return ""
	}
	v, _ := s.Params["image_uuid"].(string)
	return v
}

// Instance is a running materialization of a Service on exactly one
// Server (spec §3).
type Instance struct {
	ServiceName string
	Type        ServiceType
	InstanceID  string
	ImageID     string
	Version     string
	ServerID    string
	Hostname    string
	AdminIP     string
	Alias       string
}

// SyntheticAgentID builds the stable synthetic instance id used for
// legacy agent instances that the registry never assigned a real id to
// (spec §3: "the synthetic id `server_id/service_name`").
func SyntheticAgentID(serverID, serviceName string) string {
	return fmt.Sprintf("%s/%s", serverID, serviceName)
}

// ID returns the instance's stable identifier, falling back to the
// synthetic agent id when InstanceID was never populated.
func (i Instance) ID() string {
	if i.InstanceID != "" {
		return i.InstanceID
	}
	return SyntheticAgentID(i.ServerID, i.ServiceName)
}

// Clone returns a deep-enough copy of the instance for building a plan's
// target snapshot (spec §4.3 "Plan materialization").
func (i Instance) Clone() Instance {
	return i
}

// Server is a physical host in the fleet (spec §3). Exactly one server
// in the fleet has IsHeadnode set.
type Server struct {
	UUID            string
	Hostname        string
	IsHeadnode      bool
	CurrentPlatform string
	Agents          []string
}

// Image is an immutable artifact (spec §3). Ordering within a Name is by
// PublishedAt ascending.
type Image struct {
	UUID        string
	Name        string
	Version     string
	PublishedAt string // RFC3339
	Tags        map[string]string
}

// Snapshot is the consistent, cross-referenced view of the fleet the
// Inventory Collector produces (spec §4.1's collect() contract).
type Snapshot struct {
	Services  []Service
	Instances []Instance
	Servers   []Server
}

// ServiceByName returns the service with the given name, if present.
func (s Snapshot) ServiceByName(name string) (Service, bool) {
	for _, svc := range s.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return Service{}, false
}

// ServerByIDOrHostname resolves a server by its uuid or its hostname,
// matching spec §4.1's `ServerByIdOrHostname` collector output.
func (s Snapshot) ServerByIDOrHostname(idOrHostname string) (Server, bool) {
	for _, srv := range s.Servers {
		if srv.UUID == idOrHostname || srv.Hostname == idOrHostname {
			return srv, true
		}
	}
	return Server{}, false
}

// InstanceByID returns the instance with the given stable id.
func (s Snapshot) InstanceByID(id string) (Instance, bool) {
	for _, inst := range s.Instances {
		if inst.ID() == id {
			return inst, true
		}
	}
	return Instance{}, false
}

// InstancesOfService returns every instance belonging to the named
// service, in collector order.
func (s Snapshot) InstancesOfService(serviceName string) []Instance {
	var out []Instance
	for _, inst := range s.Instances {
		if inst.ServiceName == serviceName {
			out = append(out, inst)
		}
	}
	return out
}

// Headnode returns the fleet's single headnode server.
func (s Snapshot) Headnode() (Server, bool) {
	for _, srv := range s.Servers {
		if srv.IsHeadnode {
			return srv, true
		}
	}
	return Server{}, false
}
