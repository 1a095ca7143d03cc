package zaptec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/zaptec-community/go-zaptec/pkg/zaptec/redact"
	"github.com/zaptec-community/go-zaptec/pkg/zaptec/validate"
	"github.com/zaptec-community/go-zaptec/pkg/zaptec/zconst"
)

// Options adjusts Client behavior. The zero value uses the defaults.
type Options struct {
	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client

	// MaxRetryInterval caps the delay between request retries.
	// Defaults to 60 seconds.
	MaxRetryInterval time.Duration

	// DisableRedaction turns off redaction of ids and other sensitive
	// values in log output. Only use this for local debugging.
	DisableRedaction bool

	// APIURL and TokenURL override the production endpoints.
	APIURL   string
	TokenURL string
}

// Client is a session against a Zaptec account. It owns the HTTP
// pipeline, the registry of discovered objects, the constants registry
// and the log redactor.
//
// A client is safe for concurrent use.
type Client struct {
	username string
	password string

	httpClient *http.Client
	limiter    *rate.Limiter
	validator  *validate.Validator
	constants  *zconst.Registry
	redact     *redact.Redactor

	apiURL           string
	tokenURL         string
	maxRetryInterval time.Duration

	// streamConnect opens service bus receivers, swapped in tests.
	streamConnect streamConnectFunc

	tokenMu     sync.Mutex
	accessToken string

	mu      sync.RWMutex
	objects map[string]Resource
	built   bool
}

// NewClient creates a client for a Zaptec account. No network calls are
// made until Login or Build.
func NewClient(username, password string, opts *Options) *Client {
	if opts == nil {
		opts = &Options{}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: apiTimeout}
	}
	maxRetryInterval := opts.MaxRetryInterval
	if maxRetryInterval <= 0 {
		maxRetryInterval = apiRetryMaxInterval
	}
	apiURL := opts.APIURL
	if apiURL == "" {
		apiURL = APIURL
	}
	tokenURL := opts.TokenURL
	if tokenURL == "" {
		tokenURL = TokenURL
	}
	return &Client{
		username:         username,
		password:         password,
		httpClient:       httpClient,
		limiter:          rate.NewLimiter(apiRateLimit, apiRateBurst),
		validator:        validate.New(),
		constants:        zconst.NewRegistry(),
		redact:           redact.New(!opts.DisableRedaction),
		apiURL:           apiURL,
		tokenURL:         tokenURL,
		maxRetryInterval: maxRetryInterval,
		streamConnect:    connectServiceBus,
		objects:          make(map[string]Resource),
	}
}

// Const returns the API constants registry.
func (c *Client) Const() *zconst.Registry { return c.constants }

// Redactor returns the log redactor.
func (c *Client) Redactor() *redact.Redactor { return c.redact }

// IsBuilt reports whether Build has completed.
func (c *Client) IsBuilt() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.built
}

func (c *Client) setBuilt(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.built = v
}

// Get returns the registered object with the given id.
func (c *Client) Get(id string) (Resource, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.objects[id]
	return obj, ok
}

// IDs returns the ids of all registered objects, sorted.
func (c *Client) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.objects))
	for id := range c.objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Installations returns the discovered installations sorted by id.
func (c *Client) Installations() []*Installation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Installation, 0, len(c.objects))
	for _, obj := range c.objects {
		if inst, ok := obj.(*Installation); ok {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Chargers returns the discovered chargers sorted by id. This includes
// chargers that are not part of any installation.
func (c *Client) Chargers() []*Charger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Charger, 0, len(c.objects))
	for _, obj := range c.objects {
		if chg, ok := obj.(*Charger); ok {
			out = append(out, chg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// QualID returns the log identifier for the object with the given id,
// or the id itself when the object is unknown.
func (c *Client) QualID(id string) string {
	if obj, ok := c.Get(id); ok {
		return obj.QualID()
	}
	return id
}

func (c *Client) register(id string, obj Resource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.objects[id]; ok {
		return fmt.Errorf("object with id %s already registered", id)
	}
	c.objects[id] = obj
	return nil
}

func (c *Client) installation(id string) *Installation {
	obj, ok := c.Get(id)
	if !ok {
		return nil
	}
	inst, _ := obj.(*Installation)
	return inst
}

func (c *Client) charger(id string) *Charger {
	obj, ok := c.Get(id)
	if !ok {
		return nil
	}
	chg, _ := obj.(*Charger)
	return chg
}

func (c *Client) redactStr(v any) string {
	return fmt.Sprint(c.redact.Redact(v))
}

func (c *Client) token() string {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.accessToken
}

func (c *Client) setToken(token string) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.accessToken = token
}

// Login fetches an access token for the account credentials. Login is
// optional, the first request triggers it when needed, but calling it up
// front gives an early error on bad credentials.
func (c *Client) Login(ctx context.Context) error {
	return c.refreshToken(ctx)
}

// refreshToken fetches a fresh access token using the password grant.
// The token is valid for 24 hours and is renewed when a request gets 401.
func (c *Client) refreshToken(ctx context.Context) error {
	form := url.Values{
		"username":   {c.username},
		"password":   {c.password},
		"grant_type": {"password"},
	}
	log.Debug().Msg("Refreshing access token")
	_, err := c.do(ctx, apiRequest{
		method:      http.MethodPost,
		url:         c.tokenURL,
		payload:     []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
		handle: func(status int, body []byte) (any, bool, error) {
			switch status {
			case http.StatusOK:
				var data struct {
					AccessToken string `json:"access_token"`
				}
				if err := json.Unmarshal(body, &data); err != nil {
					return nil, true, &RequestDataError{
						Message: fmt.Sprintf("failed to decode token response: %v", err),
					}
				}
				c.setToken(data.AccessToken)
				return nil, true, nil
			case http.StatusBadRequest:
				var data struct {
					ErrorDescription string `json:"error_description"`
				}
				_ = json.Unmarshal(body, &data)
				return nil, true, &AuthenticationError{
					Message: fmt.Sprintf("failed to authenticate. %s", data.ErrorDescription),
				}
			default:
				return nil, true, &RequestError{
					Message:    fmt.Sprintf("POST request to %s failed with status %d", c.tokenURL, status),
					StatusCode: status,
				}
			}
		},
	})
	return err
}

// Request performs an API call for a path below the API base URL. A 401
// response triggers a token refresh and a replay. GET requests are
// retried on 500 responses, POST and PUT are not. 200 responses return
// the decoded and validated json, 201 and 204 return the raw body.
func (c *Client) Request(ctx context.Context, path, method string, data any) (any, error) {
	requestURL := c.apiURL + path

	var payload []byte
	var contentType string
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request data: %w", err)
		}
		payload = b
		contentType = "application/json"
	}

	return c.do(ctx, apiRequest{
		method:      method,
		url:         requestURL,
		payload:     payload,
		contentType: contentType,
		authorized:  true,
		handle: func(status int, body []byte) (any, bool, error) {
			switch status {
			case http.StatusUnauthorized:
				if err := c.refreshToken(ctx); err != nil {
					return nil, true, err
				}
				return nil, false, nil
			case http.StatusCreated, http.StatusNoContent:
				return body, true, nil
			case http.StatusOK:
				var decoded any
				if err := json.Unmarshal(body, &decoded); err != nil {
					return nil, true, &RequestDataError{
						Message: fmt.Sprintf("failed to decode json: %v", err),
					}
				}
				if err := c.validator.Validate(decoded, path); err != nil {
					return nil, true, &RequestDataError{
						Message: fmt.Sprintf("failed to validate data: %v", err),
					}
				}
				return decoded, true, nil
			default:
				reqErr := &RequestError{
					Message:    fmt.Sprintf("%s request to %s failed with status %d", method, requestURL, status),
					StatusCode: status,
				}
				// Zaptec returns 500 in various transient cases, so GET
				// requests get replayed. The response carries additional
				// detail worth logging.
				if status == http.StatusInternalServerError {
					text := string(body)
					if len(text) > maxErrorBodyLog {
						text = text[:maxErrorBodyLog] + "..."
					}
					log.Error().Str("url", c.redactStr(requestURL)).Str("payload", text).Msg(reqErr.Message)
					if method == http.MethodGet {
						return nil, false, reqErr
					}
				}
				return nil, true, reqErr
			}
		},
	})
}

// requestMap performs a GET request expected to return a json object.
func (c *Client) requestMap(ctx context.Context, path string) (map[string]any, error) {
	result, err := c.Request(ctx, path, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}
	m, ok := result.(map[string]any)
	if !ok {
		return nil, &RequestDataError{Message: fmt.Sprintf("unexpected response from %s", path)}
	}
	return m, nil
}

// requestList performs a GET request expected to return a json list of
// objects.
func (c *Client) requestList(ctx context.Context, path string) ([]map[string]any, error) {
	result, err := c.Request(ctx, path, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}
	items, ok := result.([]any)
	if !ok {
		return nil, &RequestDataError{Message: fmt.Sprintf("unexpected response from %s", path)}
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// apiRequest is one logical request run through the retry pipeline. The
// handle callback inspects each response and decides whether the call is
// done or should be retried.
type apiRequest struct {
	method      string
	url         string
	payload     []byte
	contentType string
	authorized  bool
	handle      func(status int, body []byte) (result any, done bool, err error)
}

// do runs req with rate limiting and a bounded number of attempts. The
// delay between attempts grows exponentially, reduced by the time the
// attempt itself took.
func (c *Client) do(ctx context.Context, req apiRequest) (any, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = apiRetryInitDelay
	bo.RandomizationFactor = apiRetryJitter
	bo.Multiplier = apiRetryFactor
	bo.MaxInterval = c.maxRetryInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	reqID := uuid.NewString()

	var lastErr error
	var sleep time.Duration

	for attempt := 1; attempt <= apiRetries; attempt++ {
		if sleep > 0 {
			log.Debug().Str("req_id", reqID).Dur("delay", sleep).Msg("Waiting before retry")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleep):
			}
		}

		log.Debug().
			Str("req_id", reqID).
			Str("method", req.method).
			Str("url", c.redactStr(req.url)).
			Int("attempt", attempt).
			Int("length", len(req.payload)).
			Msg("API request")

		start := time.Now()

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		status, body, err := c.send(ctx, req)

		// Next delay per the backoff schedule, minus the time this
		// attempt already took.
		sleep = bo.NextBackOff() - time.Since(start)

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			log.Debug().Err(err).Str("req_id", reqID).Int("attempt", attempt).Msg("API request failed")
			continue
		}

		log.Debug().
			Str("req_id", reqID).
			Int("status", status).
			Int("length", len(body)).
			Msg("API response")

		result, done, herr := req.handle(status, body)
		if done {
			return result, herr
		}
		if herr != nil {
			lastErr = herr
		}
	}

	return nil, terminalError(req.url, lastErr)
}

func (c *Client) send(ctx context.Context, req apiRequest) (int, []byte, error) {
	var body io.Reader
	if req.payload != nil {
		body = bytes.NewReader(req.payload)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return 0, nil, err
	}
	hreq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		hreq.Header.Set("Content-Type", req.contentType)
	}
	if req.authorized {
		hreq.Header.Set("Authorization", "Bearer "+c.token())
	}
	resp, err := c.httpClient.Do(hreq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

// terminalError classifies the error returned once all attempts are
// spent.
func terminalError(requestURL string, lastErr error) error {
	var ne net.Error
	if lastErr != nil && (errors.Is(lastErr, context.DeadlineExceeded) || (errors.As(lastErr, &ne) && ne.Timeout())) {
		return &RequestTimeoutError{
			Message: fmt.Sprintf("request to %s timed out after %d retries", requestURL, apiRetries),
			Err:     lastErr,
		}
	}
	msg := fmt.Sprintf("request to %s failed after %d retries", requestURL, apiRetries)
	var uerr *url.Error
	var operr *net.OpError
	if errors.As(lastErr, &uerr) || errors.As(lastErr, &operr) {
		return &RequestConnectionError{Message: msg, Err: lastErr}
	}
	return &RequestRetryError{Message: msg}
}

// Build discovers the account content and constructs the object
// hierarchy. Build may be called again to pick up new objects, existing
// objects are updated in place and never replaced.
func (c *Client) Build(ctx context.Context) error {
	log.Debug().Msg("Discover and build hierarchy")

	constants, err := c.requestMap(ctx, "constants")
	if err != nil {
		return fmt.Errorf("failed to fetch constants: %w", err)
	}
	c.constants.Clear()
	c.constants.Update(constants)
	c.constants.UpdateIDsFromSchema(nil)

	// Seed the redactor so ids of known objects never show in logs.
	c.mu.RLock()
	for id, obj := range c.objects {
		c.redact.AddUID(id, obj.Kind())
	}
	c.mu.RUnlock()

	installations, err := c.requestMap(ctx, "installation")
	if err != nil {
		return fmt.Errorf("failed to fetch installations: %w", err)
	}
	instItems, err := dataList(installations)
	if err != nil {
		return err
	}

	current := make(map[string]bool, len(instItems))
	for _, item := range instItems {
		instID, _ := item["Id"].(string)
		if instID == "" {
			continue
		}
		c.redact.AddUID(instID, "Inst")
		current[instID] = true

		inst := c.installation(instID)
		if inst != nil {
			log.Debug().Str("installation", c.redactStr(instID)).Msg("Updating installation")
			inst.SetAttributes(item)
		} else {
			log.Debug().Str("installation", c.redactStr(instID)).Msg("Adding installation")
			inst = newInstallation(c, item)
			if err := c.register(instID, inst); err != nil {
				return err
			}
		}
		if err := inst.Build(ctx); err != nil {
			return err
		}
	}

	// Objects that disappeared from the account stay registered until a
	// fresh client is built.
	var stale []string
	for _, inst := range c.Installations() {
		if !current[inst.ID()] {
			stale = append(stale, c.redactStr(inst.ID()))
		}
	}
	if len(stale) > 0 {
		log.Warn().Strs("installations", stale).
			Msg("These installations are no longer available but remain in use. To remove them, create a new client")
	}

	chargers, err := c.requestMap(ctx, "chargers")
	if err != nil {
		return fmt.Errorf("failed to fetch chargers: %w", err)
	}
	chgItems, err := dataList(chargers)
	if err != nil {
		return err
	}

	current = make(map[string]bool, len(chgItems))
	for _, item := range chgItems {
		if id, _ := item["Id"].(string); id != "" {
			current[id] = true
		}
	}
	stale = nil
	for _, chg := range c.Chargers() {
		if !current[chg.ID()] {
			stale = append(stale, c.redactStr(chg.ID()))
		}
	}
	if len(stale) > 0 {
		log.Warn().Strs("chargers", stale).
			Msg("These chargers are no longer available. To remove them, create a new client")
	}

	// Chargers already tied to an installation through the hierarchy.
	inInstallation := make(map[string]bool)
	for _, inst := range c.Installations() {
		for _, chg := range inst.Chargers() {
			inInstallation[chg.ID()] = true
		}
	}

	// Add the standalone chargers. Accounts without service access never
	// see the installation hierarchy, so all their chargers arrive here.
	for _, item := range chgItems {
		chgID, _ := item["Id"].(string)
		if chgID == "" {
			continue
		}
		c.redact.AddUID(chgID, "Charger")
		if inInstallation[chgID] {
			continue
		}

		chg := c.charger(chgID)
		if chg != nil {
			log.Debug().Str("charger", c.redactStr(chgID)).Msg("Updating standalone charger")
			chg.SetAttributes(item)
		} else {
			log.Debug().Str("charger", c.redactStr(chgID)).Msg("Adding standalone charger")
			chg = newCharger(c, item, nil)
			if err := c.register(chgID, chg); err != nil {
				return err
			}
		}

		// The charger listing may carry enough information to associate
		// the charger with its installation after all.
		if instID, _ := item["InstallationId"].(string); instID != "" {
			if inst := c.installation(instID); inst != nil {
				log.Debug().
					Str("charger", chg.QualID()).
					Str("installation", inst.QualID()).
					Msg("Able to associate charger with installation")
				chg.setInstallation(inst)
				inst.addCharger(chg)
			}
		}
	}

	// Narrow the id tables to the device types actually discovered.
	types := make(map[string]bool)
	for _, chg := range c.Chargers() {
		if dt := chg.GetString("DeviceType"); dt != "" {
			types[dt] = true
		}
	}
	deviceTypes := make([]string, 0, len(types))
	for dt := range types {
		deviceTypes = append(deviceTypes, dt)
	}
	sort.Strings(deviceTypes)
	c.constants.UpdateIDsFromSchema(deviceTypes)

	c.setBuilt(true)
	return nil
}

// PollOptions selects what Poll refreshes.
type PollOptions struct {
	Info     bool
	State    bool
	Firmware bool
}

// Poll refreshes data for the objects with the given ids. A nil ids
// polls every registered object. Access denials on individual endpoints
// are handled by the objects themselves, other errors abort the poll.
func (c *Client) Poll(ctx context.Context, ids []string, opts PollOptions) error {
	if ids == nil {
		ids = c.IDs()
	}
	for _, id := range ids {
		obj, ok := c.Get(id)
		if !ok {
			return errUnknownObject(id)
		}
		if opts.Info {
			if err := obj.PollInfo(ctx); err != nil {
				return err
			}
		}
		if opts.State {
			if err := obj.PollState(ctx); err != nil {
				return err
			}
		}
		if opts.Firmware {
			if inst, ok := obj.(*Installation); ok {
				if err := inst.PollFirmware(ctx); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func dataList(m map[string]any) ([]map[string]any, error) {
	items, ok := m["Data"].([]any)
	if !ok {
		return nil, &RequestDataError{Message: "missing Data list in response"}
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}
