package zaptec

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zaptec-community/go-zaptec/pkg/zaptec/zconst"
)

// Resource is a single API object held in the client registry. The
// concrete types are Installation and Charger.
type Resource interface {
	ID() string
	Name() string
	Kind() string
	QualID() string
	Model() string
	Get(key string) (any, bool)
	GetFloat(key string) (float64, bool)
	GetString(key string) string
	AsDict() map[string]any
	SetAttributes(data map[string]any)
	PollInfo(ctx context.Context) error
	PollState(ctx context.Context) error
}

// resource is the attribute bag shared by Installation and Charger.
// Attribute keys are normalized to snake case and values are converted
// with the converter table of the concrete type.
type resource struct {
	client *Client
	kind   string

	mu         sync.Mutex
	attrs      map[string]any
	converters map[string]convertFunc
}

func (r *resource) init(client *Client, kind string, converters map[string]convertFunc) {
	r.client = client
	r.kind = kind
	r.attrs = make(map[string]any)
	r.converters = converters
}

// ID returns the object id, or "" before the first attribute merge.
func (r *resource) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, _ := r.attrs["id"].(string)
	return id
}

// Name returns the human readable name of the object.
func (r *resource) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, _ := r.attrs["name"].(string)
	return name
}

// Kind returns "Installation" or "Charger".
func (r *resource) Kind() string { return r.kind }

// QualID returns a log friendly identifier such as "Charger[b3c5f7]",
// built from the kind and the id tail.
func (r *resource) QualID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.qualID()
}

func (r *resource) qualID() string {
	id, _ := r.attrs["id"].(string)
	if id == "" {
		return r.kind
	}
	tail := id
	if len(id) > 6 {
		tail = id[len(id)-6:]
	}
	return fmt.Sprintf("%s[%s]", r.kind, tail)
}

// Model returns the product name of the object.
func (r *resource) Model() string {
	return "Zaptec " + r.kind
}

// Get returns the attribute for key. The key may be given in either the
// API spelling or snake case.
func (r *resource) Get(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.attrs[zconst.ToUnder(key)]
	return v, ok
}

// GetFloat returns the attribute for key as a float.
func (r *resource) GetFloat(key string) (float64, bool) {
	v, ok := r.Get(key)
	if !ok {
		return 0, false
	}
	return asFloat(v)
}

// GetString returns the attribute for key as a string, or "" when unset.
func (r *resource) GetString(key string) string {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// AsDict returns a copy of all attributes.
func (r *resource) AsDict() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.attrs))
	for k, v := range r.attrs {
		out[k] = v
	}
	return out
}

// SetAttributes merges data into the attribute bag. Conversion failures
// keep the raw value and are logged.
func (r *resource) SetAttributes(data map[string]any) {
	red := r.client.Redactor()
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range data {
		key := zconst.ToUnder(k)
		value := v
		if conv, ok := r.converters[key]; ok {
			converted, err := conv(v)
			if err != nil {
				log.Error().Err(err).
					Str("object", r.qualID()).
					Str("attribute", key).
					Interface("value", red.RedactKey(v, k)).
					Msg("Failed to convert attribute")
			} else {
				value = converted
			}
		}
		old, exists := r.attrs[key]
		switch {
		case !exists:
			log.Debug().
				Str("object", r.qualID()).
				Str("attribute", key).
				Interface("value", red.RedactKey(value, k)).
				Msg("Adding attribute")
		case !reflect.DeepEqual(old, value):
			log.Debug().
				Str("object", r.qualID()).
				Str("attribute", key).
				Interface("value", red.RedactKey(value, k)).
				Interface("was", red.RedactKey(old, k)).
				Msg("Updating attribute")
		}
		r.attrs[key] = value
	}
}

// PollInfo is a no-op unless the concrete type overrides it.
func (r *resource) PollInfo(ctx context.Context) error { return nil }

// PollState is a no-op unless the concrete type overrides it.
func (r *resource) PollState(ctx context.Context) error { return nil }

// stateToAttrs converts a list of state records into an attribute dict.
// key names the record field carrying the observation id and names maps
// ids to attribute names. Records with an excluded id are dropped.
func stateToAttrs(records []map[string]any, key string, names zconst.IDMap, excludes map[string]bool) map[string]any {
	out := make(map[string]any, len(records))
	for _, item := range records {
		skey, ok := item[key]
		if !ok || skey == nil {
			log.Debug().Str("key", key).Interface("item", item).Msg("Missing key in state entry")
			continue
		}
		if excludes[codeKey(skey)] {
			log.Debug().Str("key", codeKey(skey)).Msg("Excluding state entry")
			continue
		}
		value, ok := item["Value"]
		if !ok {
			value, ok = item["ValueAsString"]
		}
		if !ok {
			continue
		}
		name := fmt.Sprintf("%s %v", key, skey)
		if id, ok := asInt(skey); ok {
			if n, ok := names.Name(id); ok {
				name = n
			}
		}
		if prev, dup := out[name]; dup {
			log.Debug().
				Str("attribute", name).
				Interface("old", prev).
				Interface("new", value).
				Msg("Duplicate state key")
		}
		out[name] = value
	}
	return out
}

// codeKey renders a numeric id the way it appears in json, so 710 and
// 710.0 both become "710".
func codeKey(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(v)
	}
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
