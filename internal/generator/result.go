package generator

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"vdicollect/internal/graph"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	AdapterKind = "VDIInventory"
	AdapterName = "VDI Inventory"

	resultSchemaURL = "mem://vdicollect/result.schema.json"
)

//go:embed schema/result.schema.json
var resultSchemaJSON []byte

var (
	resultSchemaOnce sync.Once
	resultSchema     *jsonschema.Schema
	resultSchemaErr  error
)

// ObjectKey identifies an object on the monitoring platform. The collected
// id is carried as the "uuid" identifier.
type ObjectKey struct {
	AdapterKind string       `json:"adapter_kind"`
	ObjectKind  string       `json:"object_kind"`
	Name        string       `json:"name"`
	Identifiers []Identifier `json:"identifiers"`
}

type Identifier struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Property struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

type Object struct {
	Key        ObjectKey  `json:"key"`
	Properties []Property `json:"properties"`
	Metrics    []Metric   `json:"metrics"`
}

type Relationship struct {
	Parent   ObjectKey   `json:"parent"`
	Children []ObjectKey `json:"children"`
}

// ResultDocument is the collection result handed to the monitoring
// platform.
type ResultDocument struct {
	RunID         string         `json:"run_id"`
	CollectedAt   string         `json:"collected_at"`
	Objects       []Object       `json:"objects"`
	Relationships []Relationship `json:"relationships"`
	Errors        []string       `json:"errors,omitempty"`
}

func objectKey(e *graph.Entity) ObjectKey {
	return ObjectKey{
		AdapterKind: AdapterKind,
		ObjectKind:  string(e.Kind),
		Name:        e.Name,
		Identifiers: []Identifier{{Key: "uuid", Value: e.ID}},
	}
}

// BuildResult converts a collected graph into a result document. Objects
// follow collection order; properties and metrics are sorted by key.
func BuildResult(g *graph.Graph, runID string, collectedAt time.Time, errs []error) *ResultDocument {
	doc := &ResultDocument{
		RunID:         runID,
		CollectedAt:   collectedAt.UTC().Format(time.RFC3339),
		Objects:       []Object{},
		Relationships: []Relationship{},
	}
	ts := collectedAt.UnixMilli()

	for _, e := range g.Entities() {
		obj := Object{Key: objectKey(e), Properties: []Property{}, Metrics: []Metric{}}
		for _, k := range sortedKeys(e.Properties) {
			obj.Properties = append(obj.Properties, Property{Key: k, Value: e.Properties[k]})
		}
		for _, k := range sortedKeys(e.Metrics) {
			obj.Metrics = append(obj.Metrics, Metric{Key: k, Value: e.Metrics[k], Timestamp: ts})
		}
		doc.Objects = append(doc.Objects, obj)

		children := g.Children(e.Ref())
		if len(children) == 0 {
			continue
		}
		rel := Relationship{Parent: obj.Key}
		for _, c := range children {
			rel.Children = append(rel.Children, objectKey(c))
		}
		doc.Relationships = append(doc.Relationships, rel)
	}

	for _, err := range errs {
		doc.Errors = append(doc.Errors, err.Error())
	}
	return doc
}

// Validate checks the document against the embedded result schema.
func (d *ResultDocument) Validate() error {
	schema, err := compiledResultSchema()
	if err != nil {
		return fmt.Errorf("failed to compile result schema: %w", err)
	}

	var v any
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal result for schema validation: %w", err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("failed to normalize result for schema validation: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("result schema validation failed: %w", err)
	}
	return nil
}

// Save validates the document and writes it as indented JSON.
func (d *ResultDocument) Save(path string) error {
	if err := d.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0644)
}

func compiledResultSchema() (*jsonschema.Schema, error) {
	resultSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(resultSchemaURL, bytes.NewReader(resultSchemaJSON)); err != nil {
			resultSchemaErr = err
			return
		}
		resultSchema, resultSchemaErr = compiler.Compile(resultSchemaURL)
	})
	return resultSchema, resultSchemaErr
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
