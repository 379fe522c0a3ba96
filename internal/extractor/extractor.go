package extractor

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"vdicollect/internal/graph"

	"github.com/tidwall/gjson"
)

var (
	ErrMissingField = errors.New("missing required field")
	ErrUnknownKind  = errors.New("unknown entity kind")
)

// MissingFieldError reports a record that lacks a required field. The
// record is skipped; the rest of the page is still processed.
type MissingFieldError struct {
	Kind  graph.Kind
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s record: %s %q", e.Kind, ErrMissingField, e.Field)
}

func (e *MissingFieldError) Unwrap() error {
	return ErrMissingField
}

// Build maps a raw record to an entity of the given kind. id and name are
// required. Build is a pure function of the record.
func Build(kind graph.Kind, rec Record) (*graph.Entity, error) {
	if kind == graph.KindSession {
		return nil, fmt.Errorf("%s: use BuildSession: %w", kind, ErrUnknownKind)
	}
	schema, ok := schemas[kind]
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, ErrUnknownKind)
	}
	id, ok := rec.NonEmpty("id")
	if !ok {
		return nil, &MissingFieldError{Kind: kind, Field: "id"}
	}
	name, ok := rec.NonEmpty("name")
	if !ok {
		return nil, &MissingFieldError{Kind: kind, Field: "name"}
	}

	e := graph.NewEntity(kind, id, name)
	applyFields(e, schema, rec)
	return e, nil
}

// SessionEnrichment carries the names and logon time resolved for one
// session through secondary lookups. Empty fields mean the lookup was
// skipped or failed.
type SessionEnrichment struct {
	LoginName        string
	PoolName         string
	FarmName         string
	MachineName      string
	RDSName          string
	LogonTimeSeconds float64
}

// SessionName builds the display name of a session:
//
//	{login}:vdi:{pool}  when the desktop pool name resolved
//	{login}:rds:{rds}   when the RDS host name resolved
//	{login}             otherwise
//
// and falls back to the session id when even the login name is unknown.
func SessionName(id string, enr SessionEnrichment) string {
	switch {
	case enr.PoolName != "":
		return enr.LoginName + ":vdi:" + enr.PoolName
	case enr.RDSName != "":
		return enr.LoginName + ":rds:" + enr.RDSName
	case enr.LoginName != "":
		return enr.LoginName
	}
	return id
}

// BuildSession maps a session record plus its enrichment to an entity.
// Sessions carry no upstream name, so only id is required.
func BuildSession(rec Record, enr SessionEnrichment) (*graph.Entity, error) {
	id, ok := rec.NonEmpty("id")
	if !ok {
		return nil, &MissingFieldError{Kind: graph.KindSession, Field: "id"}
	}

	e := graph.NewEntity(graph.KindSession, id, SessionName(id, enr))
	applyFields(e, schemas[graph.KindSession], rec)
	e.SetProperty("pool", enr.PoolName)
	e.SetProperty("name", enr.LoginName)
	e.SetProperty("farmName", enr.FarmName)
	e.SetProperty("machineName", enr.MachineName)
	e.SetProperty("rdsName", enr.RDSName)
	e.SetMetric("LogonTime", enr.LogonTimeSeconds)
	return e, nil
}

// LogonSeconds converts a logon duration in milliseconds to whole seconds,
// rounding up.
func LogonSeconds(ms float64) float64 {
	if ms <= 0 {
		return 0
	}
	return math.Ceil(ms / 1000)
}

func applyFields(e *graph.Entity, schema KindSchema, rec Record) {
	for _, f := range schema.Fields {
		switch f.As {
		case AsProperty:
			if v, ok := rec.String(f.Field); ok {
				e.SetProperty(f.Key, v)
			}
		case AsMetric:
			if v, ok := rec.Number(f.Field); ok {
				e.SetMetric(f.Key, v)
			}
		case AsState:
			if v, ok := stateMetric(rec.Get(f.Field)); ok {
				e.SetMetric(f.Key, v)
			}
		}
	}
}

func stateMetric(res gjson.Result) (float64, bool) {
	switch res.Type {
	case gjson.Number:
		return res.Float(), true
	case gjson.True:
		return 1, true
	case gjson.False:
		return 0, true
	case gjson.String:
		if availableStates[strings.ToUpper(res.String())] {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
