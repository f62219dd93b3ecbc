package api

import "context"

// Mode is the operating mode of the service registry's publication of a
// service's addresses back to dependents. The no-HA manatee branch
// (spec §4.5.2) temporarily coerces the local service-API into proto
// mode so it can tolerate the sole database peer being unavailable.
type Mode string

const (
	ModeProto Mode = "proto"
	ModeFull  Mode = "full"
)

// ServiceRegistry abstracts the directory of services and instances
// (spec §6). It is the seam the Inventory Collector and Plan Builder
// read through, and the seam procedures write through when they move a
// service onto a new image or flip its mode.
type ServiceRegistry interface {
	ListApplications(ctx context.Context) ([]Application, error)
	ListServices(ctx context.Context, applicationID string) ([]Service, error)
	ListInstances(ctx context.Context, serviceID string) ([]Instance, error)
	CreateInstance(ctx context.Context, serviceID, serverID string, params map[string]string) (Instance, error)
	UpdateService(ctx context.Context, serviceID string, params map[string]interface{}) error
	SetMode(ctx context.Context, serviceID string, mode Mode) error
}

// Application is the top-level grouping a Service belongs to in the
// registry (e.g. "sdc", "manta").
type Application struct {
	UUID string
	Name string
}

// Service mirrors spec §3's Service shape as seen over the wire from the
// registry, before the Plan Builder resolves it into core/inventory.Service.
type Service struct {
	UUID   string
	Name   string
	Type   string
	Params map[string]interface{}
}

// Instance mirrors spec §3's Instance shape as seen over the wire.
type Instance struct {
	UUID        string
	ServiceUUID string
	ServerUUID  string
	Params      map[string]interface{}
}

// VMFilter narrows VMManager.ListVMs to administrative-owner VMs in
// active states, per spec §4.1 step 4.
type VMFilter struct {
	OwnerUUID string
	State     string
}

// VM is the wire shape of a virtual machine as returned by the VM
// manager; the Inventory Collector drops any VM lacking a
// "smartdc_role" tag and resolves the rest into core/inventory.Instance.
type VM struct {
	UUID      string
	Alias     string
	ImageUUID string
	ServerID  string
	Tags      map[string]string
	NICs      []NIC
}

// NIC is a single network interface attached to a VM.
type NIC struct {
	IP      string
	Primary bool
}

// VMManager abstracts the virtual-machine inventory API (spec §6).
type VMManager interface {
	ListVMs(ctx context.Context, filter VMFilter) ([]VM, error)
	AddNICs(ctx context.Context, vmUUID string, nics []NIC) error
}

// ImageFilter narrows ImageStore/ImageRegistry.ListImages calls.
type ImageFilter struct {
	Name    string
	State   string
	Channel string
}

// Image mirrors spec §3's Image shape as seen over the wire.
type Image struct {
	UUID        string
	Name        string
	Version     string
	PublishedAt string // RFC3339; ordering key per spec §3.
	Tags        map[string]string
}

// ImageStore is the local image service consulted before the upstream
// ImageRegistry (spec §4.2's resolveImage two-tier lookup).
type ImageStore interface {
	GetImage(ctx context.Context, uuid string) (Image, error)
	ListImages(ctx context.Context, filter ImageFilter) ([]Image, error)
	GetImageFile(ctx context.Context, uuid, destPath string) error
}

// ImageRegistry is the upstream image catalog.
type ImageRegistry interface {
	GetImage(ctx context.Context, uuid string) (Image, error)
	ListImages(ctx context.Context, filter ImageFilter) ([]Image, error)
	GetImageFile(ctx context.Context, uuid, destPath string) error
}

// SysInfo is the subset of a server's on-host descriptor the collector
// needs: its enumerated agents (spec §4.1 step 3) and platform image
// stamp (used by the Plan Builder's safety gates, spec §4.3).
type SysInfo struct {
	Agents          []string
	CurrentPlatform string
}

// ServerExtras selects which optional, possibly expensive fields
// NodeInventory.ListServers should populate.
type ServerExtras struct {
	SysInfo bool
}

// Server mirrors spec §3's Server shape as seen over the wire.
type Server struct {
	UUID       string
	Hostname   string
	IsHeadnode bool
	SysInfo    SysInfo
}

// RemoteResult is the structured envelope the remote-exec CLI returns
// for every shell command, per spec §9's "Remote command fanout" note.
type RemoteResult struct {
	Server     string
	ExitStatus int
	Stdout     string
	Stderr     string
}

// Succeeded reports whether the remote command exited zero.
func (r RemoteResult) Succeeded() bool { return r.ExitStatus == 0 }

// NodeInventory abstracts the physical-server inventory and remote
// command execution surface (spec §6).
type NodeInventory interface {
	ListServers(ctx context.Context, extras ServerExtras) ([]Server, error)
	ListPlatforms(ctx context.Context) ([]string, error)
	CommandExecute(ctx context.Context, serverUUID, script string) (RemoteResult, error)
	SetBootParams(ctx context.Context, serverUUID string, params map[string]string) error
}

// NetworkRegistry abstracts network/NIC metadata lookups used while
// resolving a VM's admin IP (spec §4.1 step 4, spec §6).
type NetworkRegistry interface {
	ListNetworks(ctx context.Context) ([]Network, error)
	ListNICs(ctx context.Context, ownerUUID string) ([]NIC, error)
}

// Network is a named L2/L3 network in the fleet.
type Network struct {
	UUID string
	Name string
}

// WorkflowEngine abstracts the job-tracking workflow engine that backs
// long-running operator-visible actions such as reprovisions (spec §6).
type WorkflowEngine interface {
	ListJobs(ctx context.Context, execution string, limit int) ([]Job, error)
}

// Reprovisioner abstracts the two cluster-mutating primitives every
// procedure executor drives a zone through: ensuring an image is
// present on a server, then replacing a zone's running image while
// preserving its identity (spec GLOSSARY "Reprovision"; spec §4.4's
// procedure classes all bottom out in these two calls).
type Reprovisioner interface {
	// InstallImage ensures imageUUID is present on serverUUID's local
	// image store, downloading it via the image registry if necessary.
	InstallImage(ctx context.Context, serverUUID, imageUUID string) error
	// Reprovision replaces instanceUUID's running zone with one built
	// from imageUUID, blocking until the workflow job backing the
	// operation completes.
	Reprovision(ctx context.Context, instanceUUID, imageUUID string) error
}

// Job is a workflow engine job record.
type Job struct {
	UUID      string
	Execution string
	Name      string
}

// RemoteShellFanout abstracts broadcast-or-targeted shell execution
// across the server fleet, returning one RemoteResult per targeted
// server (spec §6, §9).
type RemoteShellFanout interface {
	// Run executes script on every server in servers (all servers if
	// servers is empty), in parallel bounded by the caller's chosen
	// concurrency, and returns one result per targeted server.
	Run(ctx context.Context, servers []string, script string) ([]RemoteResult, error)
}

// DirectoryService abstracts the LDAP-style directory backing the
// name-service quorum (binder) and UFDS (spec §6).
type DirectoryService interface {
	Search(ctx context.Context, base, filter string) ([]DirectoryEntry, error)
}

// DirectoryEntry is a single LDAP-style search result.
type DirectoryEntry struct {
	DN         string
	Attributes map[string][]string
}

// HistoryRecord is the persisted audit trail for one planning/execution
// event (spec §3 "History record").
type HistoryRecord struct {
	UUID       string      `json:"uuid"`
	Changes    interface{} `json:"changes"`
	StartedAt  string      `json:"started_at"`
	FinishedAt string      `json:"finished_at,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// HistoryStore abstracts the durable store backing HistoryRecord
// persistence (spec §6).
type HistoryStore interface {
	SaveHistory(ctx context.Context, rec HistoryRecord) error
	UpdateHistory(ctx context.Context, rec HistoryRecord) error
}

// Progress is the caller-supplied print function progress messages
// stream through during plan execution (spec §7).
type Progress func(format string, args ...interface{})
