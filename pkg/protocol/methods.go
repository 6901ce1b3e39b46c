package protocol

// Protocol revisions this module can negotiate, newest first.
const (
	ProtocolRevision       = "2025-03-26"
	ProtocolRevisionLegacy = "2024-11-05"
)

// SupportedProtocolVersions lists negotiable revisions, preferred first.
var SupportedProtocolVersions = []string{ProtocolRevision, ProtocolRevisionLegacy}

// SupportsProtocolVersion reports whether v is a revision this module can
// speak.
func SupportsProtocolVersion(v string) bool {
	for _, s := range SupportedProtocolVersions {
		if s == v {
			return true
		}
	}
	return false
}

// Lifecycle methods. The names are part of the wire contract.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"
)

// Utility methods, available in every session state.
const (
	MethodPing                  = "ping"
	MethodNotificationCancelled = "notifications/cancelled"
	MethodNotificationProgress  = "notifications/progress"
	MethodNotificationMessage   = "notifications/message"
)

// Capability-gated server methods.
const (
	MethodToolsList            = "tools/list"
	MethodToolsCall            = "tools/call"
	MethodResourcesList        = "resources/list"
	MethodResourcesRead        = "resources/read"
	MethodResourcesSubscribe   = "resources/subscribe"
	MethodResourcesUnsubscribe = "resources/unsubscribe"
	MethodPromptsList          = "prompts/list"
	MethodPromptsGet           = "prompts/get"
	MethodCompletionComplete   = "completion/complete"
	MethodLoggingSetLevel      = "logging/setLevel"
)

// Capability-gated client methods.
const (
	MethodSamplingCreateMessage = "sampling/createMessage"
	MethodRootsList             = "roots/list"
)

// Capability-gated notifications.
const (
	MethodNotificationToolsListChanged     = "notifications/tools/list_changed"
	MethodNotificationResourcesListChanged = "notifications/resources/list_changed"
	MethodNotificationResourcesUpdated     = "notifications/resources/updated"
	MethodNotificationPromptsListChanged   = "notifications/prompts/list_changed"
	MethodNotificationRootsListChanged     = "notifications/roots/list_changed"
)

// Capability namespaces declared during the handshake.
const (
	CapabilityTools       = "tools"
	CapabilityResources   = "resources"
	CapabilityPrompts     = "prompts"
	CapabilitySampling    = "sampling"
	CapabilityRoots       = "roots"
	CapabilityLogging     = "logging"
	CapabilityCompletions = "completions"
)
