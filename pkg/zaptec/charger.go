package zaptec

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zaptec-community/go-zaptec/pkg/zaptec/zconst"
)

// Charger is a single charge point.
type Charger struct {
	resource

	instMu       sync.Mutex
	installation *Installation
}

func newCharger(c *Client, data map[string]any, inst *Installation) *Charger {
	chg := &Charger{installation: inst}
	chg.init(c, "Charger", chargerConverters(c.Const()))
	chg.SetAttributes(data)
	return chg
}

// Installation returns the installation the charger belongs to, or nil
// for standalone chargers.
func (c *Charger) Installation() *Installation {
	c.instMu.Lock()
	defer c.instMu.Unlock()
	return c.installation
}

func (c *Charger) setInstallation(inst *Installation) {
	c.instMu.Lock()
	c.installation = inst
	c.instMu.Unlock()
}

// PollInfo fetches the charger details.
func (c *Charger) PollInfo(ctx context.Context) error {
	log.Debug().Str("charger", c.QualID()).Str("name", c.Name()).Msg("Poll info")

	data, err := c.client.requestMap(ctx, "chargers/"+c.ID())
	if err == nil {
		c.SetAttributes(data)
		return nil
	}
	if !IsForbidden(err) {
		return err
	}

	// The API sometimes returns 403 for chargers the account has access
	// to. The account charger listing still works, so use its entry.
	log.Debug().Str("charger", c.QualID()).Msg("Access denied to charger, using chargers list")
	chargers, err := c.client.requestMap(ctx, "chargers")
	if err != nil {
		return err
	}
	items, err := dataList(chargers)
	if err != nil {
		return err
	}
	for _, item := range items {
		if id, _ := item["Id"].(string); id == c.ID() {
			c.SetAttributes(item)
			break
		}
	}
	return nil
}

// PollState fetches the charger observations.
func (c *Charger) PollState(ctx context.Context) error {
	log.Debug().Str("charger", c.QualID()).Str("name", c.Name()).Msg("Poll state")

	records, err := c.client.requestList(ctx, "chargers/"+c.ID()+"/state")
	if err != nil {
		if IsForbidden(err) {
			log.Debug().Str("charger", c.QualID()).Msg("Access denied to charger state")
			return nil
		}
		return err
	}
	attrs := stateToAttrs(records, "StateId", c.client.Const().Observations(), chargerExcludes)
	c.SetAttributes(attrs)
	return nil
}

// Command sends a command to the charger. The command can be given in
// either the API spelling or snake case. The commonly used commands are
//
//   - deauthorize_and_stop: deauthorize the charger and stop it
//   - restart_charger: restart the charger
//   - resume_charging: resume charging
//   - stop_charging_final: stop charging and set final stop
//   - upgrade_firmware: upgrade the firmware
//
// The special command authorize_charge uses its own endpoint.
func (c *Charger) Command(ctx context.Context, command string) error {
	if command == "authorize_charge" || command == "AuthorizeCharge" {
		return c.AuthorizeCharge(ctx)
	}

	name := zconst.ToUnder(command)
	cmdID, ok := c.client.Const().Commands().ID(name)
	if !ok {
		return fmt.Errorf("unknown command %q", command)
	}
	return c.sendCommand(ctx, name, cmdID)
}

// CommandID sends a command to the charger by its numeric id.
func (c *Charger) CommandID(ctx context.Context, cmdID int) error {
	name, ok := c.client.Const().Commands().Name(cmdID)
	if !ok {
		return fmt.Errorf("unknown command %d", cmdID)
	}
	return c.sendCommand(ctx, zconst.ToUnder(name), cmdID)
}

func (c *Charger) sendCommand(ctx context.Context, name string, cmdID int) error {
	if msg := c.commandProblem(name); msg != "" {
		log.Warn().
			Str("charger", c.QualID()).
			Str("operation_mode", c.GetString("ChargerOperationMode")).
			Msg(msg)
		return errors.New(msg)
	}
	log.Debug().Str("command", name).Int("id", cmdID).Msg("Command")
	_, err := c.client.Request(ctx, fmt.Sprintf("chargers/%s/SendCommand/%d", c.ID(), cmdID), http.MethodPost, nil)
	return err
}

// commandProblem checks pause and resume commands against the charger
// state. The API accepts them in the wrong state but the charger ends up
// confused, so they are rejected up front.
func (c *Charger) commandProblem(name string) string {
	if name != "resume_charging" && name != "stop_charging_final" {
		return ""
	}
	mode := c.GetString("ChargerOperationMode")
	finalStop, _ := c.Get("FinalStopActive")
	paused := mode == "Connected_Finished" && zconst.Truthy(finalStop)

	if name == "stop_charging_final" && (paused || mode == "Disconnected") {
		return "pause/stop charging is not allowed if charging is already paused or disconnected"
	}
	if name == "resume_charging" && !paused {
		return "resume charging is not allowed if the charger is not paused"
	}
	return ""
}

// IsCommandValid reports whether the charger state currently allows the
// command.
func (c *Charger) IsCommandValid(command string) bool {
	return c.commandProblem(zconst.ToUnder(command)) == ""
}

// AuthorizeCharge authorizes the charger to start charging. This is an
// undocumented API call.
func (c *Charger) AuthorizeCharge(ctx context.Context) error {
	log.Debug().Str("charger", c.QualID()).Msg("Authorize charge")
	_, err := c.client.Request(ctx, "chargers/"+c.ID()+"/authorizecharge", http.MethodPost, nil)
	return err
}

// SetSettings updates charger settings. Only the keys listed in
// zconst.UpdateParams are accepted.
func (c *Charger) SetSettings(ctx context.Context, settings map[string]any) error {
	for key := range settings {
		if !slices.Contains(zconst.UpdateParams, key) {
			return fmt.Errorf("unknown setting %q", key)
		}
	}
	log.Debug().Str("charger", c.QualID()).Interface("settings", settings).Msg("Settings")
	_, err := c.client.Request(ctx, "chargers/"+c.ID()+"/update", http.MethodPost, settings)
	return err
}

// SetPermanentCableLock locks or unlocks the cable permanently in the
// charger. This is an undocumented API call.
func (c *Charger) SetPermanentCableLock(ctx context.Context, lock bool) error {
	log.Debug().Str("charger", c.QualID()).Bool("lock", lock).Msg("Set permanent cable lock")
	data := map[string]any{
		"Cable": map[string]any{
			"PermanentLock": lock,
		},
	}
	_, err := c.client.Request(ctx, "chargers/"+c.ID()+"/localSettings", http.MethodPost, data)
	return err
}

// SetHmiBrightness sets the brightness of the charger light strip, from
// 0 to 1. This is an undocumented API call.
func (c *Charger) SetHmiBrightness(ctx context.Context, brightness float64) error {
	log.Debug().Str("charger", c.QualID()).Float64("brightness", brightness).Msg("Set HMI brightness")
	data := map[string]any{
		"Device": map[string]any{
			"HmiBrightness": brightness,
		},
	}
	_, err := c.client.Request(ctx, "chargers/"+c.ID()+"/localSettings", http.MethodPost, data)
	return err
}

// IsCharging reports whether the charger is actively charging.
func (c *Charger) IsCharging() bool {
	return c.GetString("ChargerOperationMode") == "Connected_Charging"
}

// ModelPrefix returns the first three characters of the device id, which
// encode the charger model.
func (c *Charger) ModelPrefix() string {
	deviceID := c.GetString("DeviceId")
	if len(deviceID) > 3 {
		deviceID = deviceID[:3]
	}
	return strings.ToUpper(deviceID)
}

// Model returns the product name of the charger.
func (c *Charger) Model() string {
	if model, ok := zconst.SerialToModel()[c.ModelPrefix()]; ok {
		return model
	}
	return c.resource.Model()
}
