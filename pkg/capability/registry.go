// Package capability tracks which features each side of a session declared
// during the handshake and answers whether a method is permitted. A request
// method is only valid when the side expected to handle it declared the
// owning capability; everything else is answered with MethodNotFound.
package capability

import (
	"fmt"
	"sync"

	"github.com/mcpkit/mcp-core-go/pkg/protocol"
)

// Role identifies which end of the session this registry serves.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// String returns the role name.
func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Peer returns the opposite role.
func (r Role) Peer() Role {
	if r == RoleServer {
		return RoleClient
	}
	return RoleServer
}

// methodInfo maps a wire method to the capability namespace it belongs to
// and the role that must declare it (the side that handles the request).
type methodInfo struct {
	namespace        string
	declarer         Role
	requireSubscribe bool
}

var methodTable = map[string]methodInfo{
	protocol.MethodToolsList:                       {namespace: protocol.CapabilityTools, declarer: RoleServer},
	protocol.MethodToolsCall:                       {namespace: protocol.CapabilityTools, declarer: RoleServer},
	protocol.MethodNotificationToolsListChanged:    {namespace: protocol.CapabilityTools, declarer: RoleServer},
	protocol.MethodResourcesList:                   {namespace: protocol.CapabilityResources, declarer: RoleServer},
	protocol.MethodResourcesRead:                   {namespace: protocol.CapabilityResources, declarer: RoleServer},
	protocol.MethodResourcesSubscribe:              {namespace: protocol.CapabilityResources, declarer: RoleServer, requireSubscribe: true},
	protocol.MethodResourcesUnsubscribe:            {namespace: protocol.CapabilityResources, declarer: RoleServer, requireSubscribe: true},
	protocol.MethodNotificationResourcesListChanged: {namespace: protocol.CapabilityResources, declarer: RoleServer},
	protocol.MethodNotificationResourcesUpdated:     {namespace: protocol.CapabilityResources, declarer: RoleServer, requireSubscribe: true},
	protocol.MethodPromptsList:                     {namespace: protocol.CapabilityPrompts, declarer: RoleServer},
	protocol.MethodPromptsGet:                      {namespace: protocol.CapabilityPrompts, declarer: RoleServer},
	protocol.MethodNotificationPromptsListChanged:  {namespace: protocol.CapabilityPrompts, declarer: RoleServer},
	protocol.MethodCompletionComplete:              {namespace: protocol.CapabilityCompletions, declarer: RoleServer},
	protocol.MethodLoggingSetLevel:                 {namespace: protocol.CapabilityLogging, declarer: RoleServer},
	protocol.MethodNotificationMessage:             {namespace: protocol.CapabilityLogging, declarer: RoleServer},
	protocol.MethodSamplingCreateMessage:           {namespace: protocol.CapabilitySampling, declarer: RoleClient},
	protocol.MethodRootsList:                       {namespace: protocol.CapabilityRoots, declarer: RoleClient},
	protocol.MethodNotificationRootsListChanged:    {namespace: protocol.CapabilityRoots, declarer: RoleClient},
}

// alwaysAllowed are the lifecycle and utility methods valid regardless of
// declared capabilities.
var alwaysAllowed = map[string]struct{}{
	protocol.MethodInitialize:            {},
	protocol.MethodInitialized:           {},
	protocol.MethodPing:                  {},
	protocol.MethodNotificationCancelled: {},
	protocol.MethodNotificationProgress:  {},
}

// Namespace returns the capability namespace a method belongs to and the
// role that must declare it. ok is false for unknown methods and for the
// always-available utility methods.
func Namespace(method string) (namespace string, declarer Role, ok bool) {
	info, ok := methodTable[method]
	return info.namespace, info.declarer, ok
}

// Registry holds both sides' capability declarations for one session.
type Registry struct {
	mu     sync.RWMutex
	role   Role
	local  protocol.CapabilitySet
	remote protocol.CapabilitySet

	localSet  bool
	remoteSet bool

	// implicitCompletions treats completion/complete as available without a
	// declaration. The guides disagree on whether completions is a declared
	// capability, so it is policy here, off by default.
	implicitCompletions bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithImplicitCompletions allows completion/complete without a declared
// completions capability.
func WithImplicitCompletions(enabled bool) Option {
	return func(r *Registry) { r.implicitCompletions = enabled }
}

// NewRegistry creates a registry for the given local role.
func NewRegistry(role Role, opts ...Option) *Registry {
	r := &Registry{role: role}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Role returns the local role.
func (r *Registry) Role() Role { return r.role }

// DeclareLocal records this side's capabilities. Must be called exactly once,
// before initialize is sent or answered.
func (r *Registry) DeclareLocal(set protocol.CapabilitySet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.localSet {
		return fmt.Errorf("local capabilities already declared")
	}
	if set == nil {
		set = protocol.CapabilitySet{}
	}
	r.local = set.Clone()
	r.localSet = true
	return nil
}

// RecordRemote records the peer's capabilities from its handshake message.
// Must be called exactly once.
func (r *Registry) RecordRemote(set protocol.CapabilitySet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.remoteSet {
		return fmt.Errorf("remote capabilities already recorded")
	}
	if set == nil {
		set = protocol.CapabilitySet{}
	}
	r.remote = set.Clone()
	r.remoteSet = true
	return nil
}

// Local returns a copy of this side's declaration.
func (r *Registry) Local() protocol.CapabilitySet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local.Clone()
}

// Remote returns a copy of the peer's declaration.
func (r *Registry) Remote() protocol.CapabilitySet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.remote.Clone()
}

// Allowed reports whether the method is permitted given the declared
// capabilities. Unknown methods and methods whose capability is missing
// return false, which callers translate to MethodNotFound.
func (r *Registry) Allowed(method string) bool {
	if _, ok := alwaysAllowed[method]; ok {
		return true
	}

	info, ok := methodTable[method]
	if !ok {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if info.namespace == protocol.CapabilityCompletions && r.implicitCompletions {
		return true
	}

	declared := r.declaration(info.declarer)
	opts, ok := declared[info.namespace]
	if !ok {
		return false
	}
	if info.requireSubscribe && !opts.Subscribe {
		return false
	}
	return true
}

// ListChanged reports whether the declaring side advertised list_changed
// notifications for the namespace.
func (r *Registry) ListChanged(namespace string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if opts, ok := r.local[namespace]; ok && opts.ListChanged {
		return true
	}
	if opts, ok := r.remote[namespace]; ok && opts.ListChanged {
		return true
	}
	return false
}

// Subscribe reports whether the declaring side advertised subscriptions for
// the namespace.
func (r *Registry) Subscribe(namespace string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if opts, ok := r.local[namespace]; ok && opts.Subscribe {
		return true
	}
	if opts, ok := r.remote[namespace]; ok && opts.Subscribe {
		return true
	}
	return false
}

// declaration returns the capability set declared by the given role. Callers
// hold r.mu.
func (r *Registry) declaration(declarer Role) protocol.CapabilitySet {
	if declarer == r.role {
		return r.local
	}
	return r.remote
}
