package generator

import (
	"vdicollect/internal/extractor"
	"vdicollect/internal/graph"
)

// AttributeDef describes one property or metric of an object type.
type AttributeDef struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

type ObjectTypeDef struct {
	Kind       string         `json:"kind"`
	Label      string         `json:"label"`
	Identifier AttributeDef   `json:"identifier"`
	Properties []AttributeDef `json:"properties"`
	Metrics    []AttributeDef `json:"metrics"`
}

type ParameterDef struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Default  string `json:"default,omitempty"`
	Secret   bool   `json:"secret,omitempty"`
}

// Definition tells the monitoring platform which object types, attributes
// and connection parameters this collector produces and needs.
type Definition struct {
	AdapterKind string          `json:"adapter_kind"`
	Name        string          `json:"name"`
	Parameters  []ParameterDef  `json:"parameters"`
	Credentials []ParameterDef  `json:"credentials"`
	ObjectTypes []ObjectTypeDef `json:"object_types"`
}

var kindLabels = map[graph.Kind]string{
	graph.KindGlobalDesktopPool:     "Global desktop pool",
	graph.KindGlobalApplicationPool: "Global application pool",
	graph.KindPod:                   "Pod",
	graph.KindSite:                  "Site",
	graph.KindLocalDesktopPool:      "Local desktop pool",
	graph.KindFarm:                  "RDS Farm",
	graph.KindLocalApplicationPool:  "Local application pool",
	graph.KindHost:                  "RDS Host",
	graph.KindSession:               "Local session",
}

// Session attributes filled from lookups rather than the session record.
var sessionExtras = struct {
	properties []string
	metrics    []string
}{
	properties: []string{"pool", "name", "farmName", "machineName", "rdsName"},
	metrics:    []string{"LogonTime"},
}

// BuildDefinition derives the object types from the builder field tables,
// so the definition cannot drift from what is collected.
func BuildDefinition() *Definition {
	def := &Definition{
		AdapterKind: AdapterKind,
		Name:        AdapterName,
		Parameters: []ParameterDef{
			{Key: "host", Label: "Host", Type: "string", Required: true},
			{Key: "port", Label: "TCP Port", Type: "int", Required: true, Default: "443"},
		},
		Credentials: []ParameterDef{
			{Key: "username", Label: "User Name", Type: "string", Required: true},
			{Key: "password", Label: "Password", Type: "string", Required: true, Secret: true},
			{Key: "domain", Label: "Domain", Type: "string"},
		},
	}

	for _, kind := range graph.Kinds {
		ot := ObjectTypeDef{
			Kind:       string(kind),
			Label:      kindLabels[kind],
			Identifier: AttributeDef{Key: "uuid", Label: "UUID"},
		}
		props := newAttrSet()
		metrics := newAttrSet()
		if kind != graph.KindSession {
			props.add("name")
		}
		if schema, ok := extractor.Schema(kind); ok {
			for _, f := range schema.Fields {
				if f.As == extractor.AsProperty {
					props.add(f.Key)
				} else {
					metrics.add(f.Key)
				}
			}
		}
		if kind == graph.KindSession {
			for _, p := range sessionExtras.properties {
				props.add(p)
			}
			for _, m := range sessionExtras.metrics {
				metrics.add(m)
			}
		}
		ot.Properties = props.list()
		ot.Metrics = metrics.list()
		def.ObjectTypes = append(def.ObjectTypes, ot)
	}
	return def
}

// ObjectType returns the definition of one kind.
func (d *Definition) ObjectType(kind graph.Kind) (ObjectTypeDef, bool) {
	for _, ot := range d.ObjectTypes {
		if ot.Kind == string(kind) {
			return ot, true
		}
	}
	return ObjectTypeDef{}, false
}

type attrSet struct {
	seen  map[string]bool
	items []AttributeDef
}

func newAttrSet() *attrSet {
	return &attrSet{seen: map[string]bool{}, items: []AttributeDef{}}
}

func (s *attrSet) add(key string) {
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	s.items = append(s.items, AttributeDef{Key: key, Label: key})
}

func (s *attrSet) list() []AttributeDef {
	return s.items
}
