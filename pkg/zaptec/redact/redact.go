package redact

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// redactKeys are the field names whose values must never appear in logs
// or diagnostics output.
var redactKeys = map[string]bool{
	"Address":                true,
	"ChargerId":              true,
	"ChargerCurrentUserUuid": true,
	"CircuitId":              true,
	"City":                   true,
	"DeviceId":               true,
	"Id":                     true,
	"ID":                     true,
	"InstallationId":         true,
	"InstallationName":       true,
	"Latitude":               true,
	"LogoBase64":             true,
	"Longitude":              true,
	"LteIccid":               true,
	"LteImei":                true,
	"LteImsi":                true,
	"MacWiFi":                true,
	"MacMain":                true,
	"MacPlcModuleGrid":       true,
	"MID":                    true,
	"Name":                   true,
	"NewChargeCard":          true,
	"Pin":                    true,
	"PilotTestResults":       true,
	"ProductionTestResults":  true,
	"SerialNo":               true,
	"SupportGroup":           true,
	"ZipCode":                true,
}

// obsKeys are the record fields holding a numeric observation or setting id.
var obsKeys = []string{"SettingId", "StateId"}

// valueKeys are the record fields holding the observed value.
var valueKeys = []string{"Value", "ValueAsString"}

// Redactor replaces sensitive values with stable placeholders. The same
// input value always maps to the same placeholder, and known secrets are
// also replaced when they occur as substrings of unrelated strings.
type Redactor struct {
	enabled bool

	mu      sync.Mutex
	redacts map[string]string
	order   []string
	info    map[string]string
}

// New returns a redactor. When enabled is false every operation passes
// values through unchanged.
func New(enabled bool) *Redactor {
	return &Redactor{
		enabled: enabled,
		redacts: make(map[string]string),
		info:    make(map[string]string),
	}
}

// Enabled reports whether redaction is active.
func (r *Redactor) Enabled() bool {
	return r.enabled
}

// Add registers a secret and returns its placeholder.
func (r *Redactor) Add(secret string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.add(secret, "")
}

// AddUID registers an identifier, using a placeholder that keeps the name
// and the last six characters so log lines stay correlatable.
func (r *Redactor) AddUID(uid, name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tail := uid
	if len(tail) > 6 {
		tail = tail[len(tail)-6:]
	}
	return r.add(uid, fmt.Sprintf("<--%s[%s]-->", name, tail))
}

func (r *Redactor) add(secret, replaceBy string) string {
	if existing, ok := r.redacts[secret]; ok && replaceBy == "" {
		return existing
	}
	if replaceBy == "" {
		replaceBy = fmt.Sprintf("<--Redact #%d-->", len(r.redacts)+1)
	}
	if _, ok := r.redacts[secret]; !ok {
		r.order = append(r.order, secret)
	}
	r.redacts[secret] = replaceBy
	r.info[replaceBy] = secret
	return replaceBy
}

// Redact walks the value and replaces every known secret. No field name
// context is applied, so no new redactions are created except through
// substring matches.
func (r *Redactor) Redact(v any) any {
	return r.RedactKey(v, "")
}

// RedactKey walks the value with a field name context. Values stored
// under a sensitive field name are registered as new secrets.
func (r *Redactor) RedactKey(v any, key string) any {
	if !r.enabled {
		return v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.walk(v, key, false)
}

// SecondPass re-walks a structure applying only the already registered
// redactions, without treating any field name as sensitive.
func (r *Redactor) SecondPass(v any) any {
	if !r.enabled {
		return v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.walk(v, "", true)
}

func (r *Redactor) walk(v any, key string, secondPass bool) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = r.walk(item, key, secondPass)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			ik := k
			if secondPass {
				ik = key
			}
			out[k] = r.walk(item, ik, secondPass)
		}
		return out
	}

	str := asString(v)
	if placeholder, ok := r.redacts[str]; ok {
		return placeholder
	}

	if key != "" && redactKeys[key] && !neverRedact(v) {
		return r.add(str, "")
	}

	if s, ok := v.(string); ok {
		for _, secret := range r.order {
			if strings.Contains(s, secret) {
				s = strings.ReplaceAll(s, secret, r.redacts[secret])
			}
		}
		return s
	}
	return v
}

// RedactStateList redacts a list of state records in place. The id field
// is annotated with the resolved observation name, and the record value is
// redacted only when that name is itself sensitive. Records with an
// unresolvable id pass through untouched.
func (r *Redactor) RedactStateList(records []map[string]any, lookup func(int) (string, bool)) []map[string]any {
	if !r.enabled || lookup == nil {
		return records
	}
	for _, rec := range records {
		for _, key := range obsKeys {
			idv, ok := rec[key]
			if !ok {
				continue
			}
			id, ok := asInt(idv)
			if !ok {
				continue
			}
			name, ok := lookup(id)
			if !ok {
				continue
			}
			rec[key] = fmt.Sprintf("%v (%s)", idv, name)
			if !redactKeys[name] {
				continue
			}
			for _, vk := range valueKeys {
				if val, ok := rec[vk]; ok {
					rec[vk] = r.RedactKey(val, name)
				}
			}
		}
	}
	return records
}

// Dumps renders the redaction database for diagnostics output.
func (r *Redactor) Dumps() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, err := json.MarshalIndent(r.info, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", r.info)
	}
	return string(out)
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// neverRedact reports values that are too generic to be secrets, such as
// booleans and zero or one in their common spellings.
func neverRedact(v any) bool {
	switch t := v.(type) {
	case nil, bool:
		return true
	case string:
		switch t {
		case "", "true", "false", "0", "0.", "0.0", "1", "1.", "1.0":
			return true
		}
		return false
	case float64:
		return t == 0 || t == 1
	case int:
		return t == 0 || t == 1
	default:
		return false
	}
}

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
