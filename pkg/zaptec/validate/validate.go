package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const installationSchema = `{
	"type": "object",
	"required": ["Id", "Active", "AuthenticationType", "CurrentUserRoles", "InstallationType", "NetworkType"],
	"properties": {
		"Id": {"type": "string"},
		"Active": {"type": "boolean"},
		"AuthenticationType": {"type": "integer"},
		"CurrentUserRoles": {"type": "integer"},
		"InstallationType": {"type": "integer"},
		"NetworkType": {"type": "integer"}
	}
}`

const installationsSchema = `{
	"type": "object",
	"required": ["Data", "Pages"],
	"properties": {
		"Data": {"type": "array", "items": ` + installationSchema + `},
		"Pages": {"type": "integer"}
	}
}`

const chargerSchema = `{
	"type": "object",
	"required": ["Id", "Name", "Active", "DeviceType"],
	"properties": {
		"Id": {"type": "string"},
		"Name": {"type": "string"},
		"Active": {"type": "boolean"},
		"DeviceType": {"type": "integer"}
	}
}`

const chargersSchema = `{
	"type": "object",
	"required": ["Data", "Pages"],
	"properties": {
		"Data": {"type": "array", "items": ` + chargerSchema + `},
		"Pages": {"type": "integer"}
	}
}`

const circuitSchema = `{
	"type": "object",
	"required": ["Id", "Name", "Chargers"],
	"properties": {
		"Id": {"type": "string"},
		"Name": {"type": "string"},
		"Chargers": {"type": "array", "items": ` + chargerSchema + `}
	}
}`

const hierarchySchema = `{
	"type": "object",
	"required": ["Id", "Name", "NetworkType", "Circuits"],
	"properties": {
		"Id": {"type": "string"},
		"Name": {"type": "string"},
		"NetworkType": {"type": "integer"},
		"Circuits": {"type": "array", "items": ` + circuitSchema + `}
	}
}`

// StateId -1 (Pulse) has no ValueAsString field, so only the id is required.
const chargerStatesSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["StateId"],
		"properties": {
			"StateId": {"type": "integer"}
		}
	}
}`

// Chargers registered on the platform but not yet initialized lack the
// firmware fields, so only the charger id is required.
const chargerFirmwaresSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["ChargerId"],
		"properties": {
			"ChargerId": {"type": "string"},
			"DeviceType": {"type": "integer"},
			"IsOnline": {"type": "boolean"},
			"CurrentVersion": {"type": ["string", "null"]},
			"AvailableVersion": {"type": ["string", "null"]},
			"IsUpToDate": {"type": ["boolean", "null"]}
		}
	}
}`

// The localSettings call is undocumented and should go away once official
// API calls cover the same functionality.
const localSettingsSchema = `{
	"type": "object",
	"required": ["Id"],
	"properties": {
		"Id": {"type": "string"},
		"Name": {"type": ["string", "null"]},
		"DeviceId": {"type": ["string", "null"]}
	}
}`

const connectionDetailsSchema = `{
	"type": "object",
	"required": ["Host", "Password", "Port", "UseSSL", "Subscription", "Type", "Username", "Topic"],
	"properties": {
		"Host": {"type": "string"},
		"Password": {"type": "string"},
		"Port": {"type": "integer"},
		"UseSSL": {"type": "boolean"},
		"Subscription": {"type": "string"},
		"Type": {"type": "integer"},
		"Username": {"type": "string"},
		"Topic": {"type": "string"}
	}
}`

const chargerUpdatesSchema = `{
	"type": "object",
	"additionalProperties": {"type": "string"}
}`

const constantsSchema = `{
	"type": "object"
}`

type endpoint struct {
	pattern string
	re      *regexp.Regexp
	schema  string
}

// endpoints maps known API paths to their response schemas. An empty
// schema means the endpoint's response is not validated.
var endpoints = []endpoint{
	{pattern: "installation", schema: installationsSchema},
	{pattern: "chargers", schema: chargersSchema},
	{pattern: "constants", schema: constantsSchema},
	{pattern: `installation/[0-9a-f\-]+`, schema: installationSchema},
	{pattern: `installation/[0-9a-f\-]+/hierarchy`, schema: hierarchySchema},
	{pattern: `installation/[0-9a-f\-]+/update`},
	{pattern: `installation/[0-9a-f\-]+/messagingConnectionDetails`, schema: connectionDetailsSchema},
	{pattern: `chargers/[0-9a-f\-]+`, schema: chargerSchema},
	{pattern: `chargers/[0-9a-f\-]+/state`, schema: chargerStatesSchema},
	{pattern: `chargers/[0-9a-f\-]+/authorizecharge`},
	{pattern: `chargers/[0-9a-f\-]+/SendCommand/[0-9]+`},
	{pattern: `chargers/[0-9a-f\-]+/localSettings`, schema: localSettingsSchema},
	{pattern: `chargers/[0-9a-f\-]+/update`, schema: chargerUpdatesSchema},
	{pattern: `chargerFirmware/installation/[0-9a-f\-]+`, schema: chargerFirmwaresSchema},
}

func init() {
	for i := range endpoints {
		endpoints[i].re = regexp.MustCompile("^(?:" + endpoints[i].pattern + ")$")
	}
}

// Validator validates API response payloads against the schema registered
// for the request path. Compiled schemas are cached per path pattern.
type Validator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// New creates a Validator with an empty schema cache.
func New() *Validator {
	return &Validator{
		cache: make(map[string]*jsonschema.Schema),
	}
}

// Validate checks a decoded JSON payload against the schema for the given
// API path. Paths without a registered schema log a warning and pass, so
// new endpoints do not break the client.
func (v *Validator) Validate(data any, url string) error {
	for _, ep := range endpoints {
		if url != ep.pattern && !ep.re.MatchString(url) {
			continue
		}
		if ep.schema == "" {
			return nil
		}
		compiled, err := v.compile(ep)
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", ep.pattern, err)
		}
		if err := compiled.Validate(data); err != nil {
			log.Error().Str("url", url).Str("pattern", ep.pattern).Err(err).
				Msg("Failed to validate response data")
			return err
		}
		return nil
	}

	log.Warn().Str("url", url).Msg("Missing validator for url")
	return nil
}

func (v *Validator) compile(ep endpoint) (*jsonschema.Schema, error) {
	v.mu.RLock()
	if s, ok := v.cache[ep.pattern]; ok {
		v.mu.RUnlock()
		return s, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock
	if s, ok := v.cache[ep.pattern]; ok {
		return s, nil
	}

	var schemaMap any
	if err := json.Unmarshal([]byte(ep.schema), &schemaMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaMap); err != nil {
		return nil, fmt.Errorf("failed to add resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile: %w", err)
	}

	v.cache[ep.pattern] = compiled
	return compiled, nil
}
