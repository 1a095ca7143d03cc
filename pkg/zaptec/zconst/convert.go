package zconst

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// codeKey renders a JSON-decoded value as a lookup key. Whole floats
// render without a decimal point so 2.0 matches the code 2.
func codeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// reverse builds a code to name lookup from a name to code table.
func (r *Registry) reverse(key string) map[string]string {
	tbl := r.table(key)
	modes := make(map[string]string, len(tbl))
	for name, code := range tbl {
		modes[codeKey(code)] = name
	}
	return modes
}

func (r *Registry) lookupName(table string, v any) (any, error) {
	if name, ok := r.reverse(table)[codeKey(v)]; ok {
		return name, nil
	}
	return codeKey(v), nil
}

// AuthenticationType converts an authentication type code to its name.
func (r *Registry) AuthenticationType(v any) (any, error) {
	return r.lookupName("InstallationAuthenticationType", v)
}

// DeviceType converts a device type code to its name.
func (r *Registry) DeviceType(v any) (any, error) {
	return r.lookupName("DeviceTypes", v)
}

// NetworkType converts an electrical network type code to its name.
func (r *Registry) NetworkType(v any) (any, error) {
	return r.lookupName("NetworkTypes", v)
}

// ChargerOperationMode converts an operation mode code to its name.
func (r *Registry) ChargerOperationMode(v any) (any, error) {
	return r.lookupName("ChargerOperationModes", v)
}

// InstallationType converts an installation type code to its name. The
// InstallationTypes table entries are {Id, Name} records.
func (r *Registry) InstallationType(v any) (any, error) {
	tbl := r.table("InstallationTypes")
	key := codeKey(v)
	for _, entry := range tbl {
		rec, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if codeKey(rec["Id"]) == key {
			if name, ok := rec["Name"].(string); ok {
				return name, nil
			}
		}
	}
	return key, nil
}

// UserRoles converts a user role bit field to a comma-joined list of the
// role names fully contained in it, or "None" for zero.
func (r *Registry) UserRoles(v any) (any, error) {
	val, ok := asInt(v)
	if !ok {
		return nil, fmt.Errorf("invalid user roles value: %v", v)
	}
	if val == 0 {
		return "None", nil
	}
	type role struct {
		name string
		bits int
	}
	var roles []role
	for name, code := range r.table("UserRoles") {
		bits, ok := asInt(code)
		if !ok || bits == 0 {
			continue
		}
		if bits&val == bits {
			roles = append(roles, role{name, bits})
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].bits < roles[j].bits })
	names := make([]string, len(roles))
	for i, rl := range roles {
		names[i] = rl.name
	}
	return strings.Join(names, ", "), nil
}

// Ocmf parses an Open Charge Metering Format envelope. The format is
// pipe-delimited with the JSON payload in the second section.
// https://github.com/SAFE-eV/OCMF-Open-Charge-Metering-Format/blob/master/OCMF-en.md
func (r *Registry) Ocmf(v any) (any, error) {
	data, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("invalid OCMF data: %v", v)
	}
	sects := strings.Split(data, "|")
	if (len(sects) != 2 && len(sects) != 3) || sects[0] != "OCMF" {
		return nil, fmt.Errorf("invalid OCMF data: %s", data)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(sects[1]), &payload); err != nil {
		return nil, fmt.Errorf("invalid OCMF payload: %w", err)
	}
	return payload, nil
}

// CompletedSession parses a completed charge session record, converting
// the embedded SignedSession OCMF envelope when present.
func (r *Registry) CompletedSession(v any) (any, error) {
	raw, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("invalid completed session value: %v", v)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, err
	}
	if signed, ok := data["SignedSession"]; ok {
		conv, err := r.Ocmf(signed)
		if err != nil {
			return nil, err
		}
		data["SignedSession"] = conv
	}
	return data, nil
}

// Truthy reports whether a JSON-decoded value is one of the accepted
// true literals (true, 1, "true", "1", "on", "yes").
func Truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t == 1
	case int:
		return t == 1
	case string:
		return t == "true" || t == "1" || t == "on" || t == "yes"
	default:
		return false
	}
}

// OcmfMaxReaderValue returns the largest RV reading in an OCMF record's
// RD list, or 0 when the record has no readings.
func OcmfMaxReaderValue(v any) float64 {
	rec, ok := v.(map[string]any)
	if !ok {
		return 0
	}
	readings, ok := rec["RD"].([]any)
	if !ok {
		return 0
	}
	var max float64
	for _, rd := range readings {
		entry, ok := rd.(map[string]any)
		if !ok {
			continue
		}
		if rv, ok := entry["RV"].(float64); ok && rv > max {
			max = rv
		}
	}
	return max
}
