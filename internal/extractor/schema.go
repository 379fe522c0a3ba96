package extractor

import "vdicollect/internal/graph"

// Target selects where a mapped field is stored on the entity.
type Target int

const (
	AsProperty Target = iota
	AsMetric
	// AsState stores a state value as a metric: numeric states are kept,
	// string states become 1 when available and 0 otherwise.
	AsState
)

// FieldMap copies one upstream field onto an entity. Fields missing from
// the record are skipped.
type FieldMap struct {
	Field string // upstream field name
	Key   string // property or metric key
	As    Target
}

// KindSchema is the field table for one entity kind.
type KindSchema struct {
	Kind   graph.Kind
	Fields []FieldMap
}

func prop(field, key string) FieldMap   { return FieldMap{Field: field, Key: key, As: AsProperty} }
func metric(field, key string) FieldMap { return FieldMap{Field: field, Key: key, As: AsMetric} }

var schemas = map[graph.Kind]KindSchema{
	graph.KindGlobalDesktopPool: {
		Kind: graph.KindGlobalDesktopPool,
		Fields: []FieldMap{
			prop("id", "id"),
			metric("enabled", "enabled"),
		},
	},
	graph.KindGlobalApplicationPool: {
		Kind: graph.KindGlobalApplicationPool,
		Fields: []FieldMap{
			prop("id", "id"),
			prop("scope", "scope"),
			metric("enabled", "enabled"),
		},
	},
	graph.KindPod: {
		Kind:   graph.KindPod,
		Fields: []FieldMap{prop("id", "id")},
	},
	graph.KindSite: {
		Kind:   graph.KindSite,
		Fields: []FieldMap{prop("id", "id")},
	},
	graph.KindLocalDesktopPool: {
		Kind: graph.KindLocalDesktopPool,
		Fields: []FieldMap{
			prop("id", "id"),
			prop("global_desktop_entitlement_id", "global_pool_id"),
			metric("enabled", "enabled"),
		},
	},
	graph.KindFarm: {
		Kind: graph.KindFarm,
		Fields: []FieldMap{
			prop("id", "id"),
			prop("type", "type"),
			metric("enabled", "enabled"),
		},
	},
	graph.KindLocalApplicationPool: {
		Kind: graph.KindLocalApplicationPool,
		Fields: []FieldMap{
			prop("id", "id"),
			prop("farm_id", "farm_id"),
			prop("global_application_entitlement_id", "global_pool_id"),
			prop("type", "type"),
			metric("enabled", "enabled"),
		},
	},
	graph.KindHost: {
		Kind: graph.KindHost,
		Fields: []FieldMap{
			prop("id", "id"),
			prop("farm_id", "farm_id"),
			prop("state", "state"),
			metric("enabled", "enabled"),
			{Field: "state", Key: "state", As: AsState},
			metric("session_count", "session_count"),
			metric("max_sessions_count", "max_session_count"),
			metric("max_sessions_count_configured", "max_session_count_configured"),
		},
	},
	graph.KindSession: {
		Kind: graph.KindSession,
		Fields: []FieldMap{
			prop("id", "id"),
			prop("session_state", "state"),
			prop("session_type", "type"),
			prop("agent_version", "version"),
			prop("session_protocol", "protocol"),
		},
	},
}

// availableStates are the host states reported as 1 by the state metric.
var availableStates = map[string]bool{
	"AVAILABLE": true,
	"CONNECTED": true,
	"ACTIVE":    true,
}

// Schema returns the field table for kind.
func Schema(kind graph.Kind) (KindSchema, bool) {
	s, ok := schemas[kind]
	return s, ok
}
