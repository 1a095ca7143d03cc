package zconst

import (
	"strconv"
	"sync"
)

// UpdateParams lists the parameters accepted by the charger settings
// endpoint (chargers/{id}/update).
var UpdateParams = []string{
	"maxChargeCurrent",
	"maxChargePhases",
	"minChargeCurrent",
	"offlineChargeCurrent",
	"offlineChargePhase",
	"meterValueInterval",
}

// ChargerModels maps charger model names to device serial number prefixes.
// From https://docs.zaptec.com/docs/identify-device-types
var ChargerModels = map[string][]string{
	"Zaptec Pro":   {"ZCS", "ZPR", "ZCH", "ZPG"},
	"Zaptec Go":    {"ZAP", "ZGB", "ZAG"},
	"Zaptec Go2":   {"GPN", "GPG"},
	"Zaptec Sense": {"APH", "APG", "APM"},
}

// SerialToModel returns a mapping of serial number prefixes to charger models.
func SerialToModel() map[string]string {
	out := make(map[string]string)
	for model, prefixes := range ChargerModels {
		for _, prefix := range prefixes {
			out[prefix] = model
		}
	}
	return out
}

// IDMap maps server-defined numeric ids to symbolic names and back.
type IDMap struct {
	names map[int]string
	ids   map[string]int
}

// Name returns the symbolic name for a numeric id.
func (m IDMap) Name(id int) (string, bool) {
	name, ok := m.names[id]
	return name, ok
}

// ID returns the numeric id for a symbolic name.
func (m IDMap) ID(name string) (int, bool) {
	id, ok := m.ids[name]
	return id, ok
}

// Len returns the number of id entries.
func (m IDMap) Len() int {
	return len(m.names)
}

func (m IDMap) add(name string, id int) {
	m.names[id] = name
	m.ids[name] = id
}

func newIDMap() IDMap {
	return IDMap{
		names: make(map[int]string),
		ids:   make(map[string]int),
	}
}

// Registry holds the enumeration and id tables declared by the Zaptec
// "constants" endpoint. The contents are replaced wholesale on every
// discovery pass, and the derived observation, setting and command id
// maps are re-specialized for the discovered device types.
type Registry struct {
	mu   sync.RWMutex
	data map[string]any

	observations IDMap
	settings     IDMap
	commands     IDMap
}

// NewRegistry returns an empty constants registry.
func NewRegistry() *Registry {
	return &Registry{
		data:         make(map[string]any),
		observations: newIDMap(),
		settings:     newIDMap(),
		commands:     newIDMap(),
	}
}

// Clear removes all loaded constants and derived id maps.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = make(map[string]any)
	r.observations = newIDMap()
	r.settings = newIDMap()
	r.commands = newIDMap()
}

// Update merges the given constants payload into the registry. Existing
// top-level categories are replaced.
func (r *Registry) Update(data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range data {
		r.data[k] = v
	}
}

// Len returns the number of loaded top-level categories.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

func (r *Registry) get(key string) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data[key]
}

// table returns a top-level category as a name to numeric code table.
func (r *Registry) table(key string) map[string]any {
	tbl, _ := r.get(key).(map[string]any)
	return tbl
}

// Remap builds an id map from the top-level tables named in wanted. When
// device types are given, the device-type-specific entries found under
// "Schema" are overlaid, since schema variants can assign different
// meanings to the same numeric ids. A device type matches a schema when
// it equals the schema name or the schema's DeviceType code.
func (r *Registry) Remap(wanted []string, deviceTypes []string) IDMap {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make(map[string]bool, len(deviceTypes))
	for _, dt := range deviceTypes {
		types[dt] = true
	}

	out := newIDMap()
	merge := func(tbl map[string]any) {
		for name, code := range tbl {
			if id, ok := asInt(code); ok {
				out.add(name, id)
			}
		}
	}

	for k, v := range r.data {
		for _, want := range wanted {
			if k == want {
				if tbl, ok := v.(map[string]any); ok {
					merge(tbl)
				}
			}
		}
		if k != "Schema" || len(types) == 0 {
			continue
		}
		schemas, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for name, sv := range schemas {
			schema, ok := sv.(map[string]any)
			if !ok {
				continue
			}
			if !types[name] && !types[codeKey(schema["DeviceType"])] {
				continue
			}
			for _, want := range wanted {
				if tbl, ok := schema[want].(map[string]any); ok {
					merge(tbl)
				}
			}
		}
	}
	return out
}

// UpdateIDsFromSchema re-derives the observation, setting and command id
// maps, specialized for the given device types. Command names are also
// registered under their snake_case aliases.
func (r *Registry) UpdateIDsFromSchema(deviceTypes []string) {
	observations := r.Remap([]string{"Observations", "ObservationIds"}, deviceTypes)
	settings := r.Remap([]string{"Settings", "SettingIds"}, deviceTypes)
	commands := r.Remap([]string{"Commands", "CommandIds"}, deviceTypes)

	for name, id := range commands.ids {
		commands.ids[ToUnder(name)] = id
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.observations = observations
	r.settings = settings
	r.commands = commands
}

// Observations returns the current observation id map.
func (r *Registry) Observations() IDMap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.observations
}

// Settings returns the current setting id map.
func (r *Registry) Settings() IDMap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// Commands returns the current command id map.
func (r *Registry) Commands() IDMap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commands
}

// OperationModeID returns the numeric code for a charger operation mode name.
func (r *Registry) OperationModeID(name string) (int, bool) {
	tbl := r.table("ChargerOperationModes")
	id, ok := asInt(tbl[name])
	return id, ok
}

// OperationModes returns the known charger operation mode names.
func (r *Registry) OperationModes() []string {
	tbl := r.table("ChargerOperationModes")
	out := make([]string, 0, len(tbl))
	for name := range tbl {
		out = append(out, name)
	}
	return out
}

// DeviceTypes returns the known device type names.
func (r *Registry) DeviceTypes() []string {
	tbl := r.table("DeviceTypes")
	out := make([]string, 0, len(tbl))
	for name := range tbl {
		out = append(out, name)
	}
	return out
}

// asInt converts a JSON-decoded numeric value to an int.
func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}
