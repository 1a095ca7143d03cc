package zaptec

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
)

// Installation is a named site grouping circuits and chargers.
type Installation struct {
	resource

	chargersMu sync.Mutex
	chargers   []*Charger

	streamMu     sync.Mutex
	streamRecv   busReceiver
	streamCancel context.CancelFunc
	streamDone   chan struct{}
}

func newInstallation(c *Client, data map[string]any) *Installation {
	inst := &Installation{}
	inst.init(c, "Installation", installationConverters(c.Const()))
	inst.SetAttributes(data)
	return inst
}

// Chargers returns the chargers that belong to this installation.
func (i *Installation) Chargers() []*Charger {
	i.chargersMu.Lock()
	defer i.chargersMu.Unlock()
	out := make([]*Charger, len(i.chargers))
	copy(out, i.chargers)
	return out
}

func (i *Installation) setChargers(chargers []*Charger) {
	i.chargersMu.Lock()
	i.chargers = chargers
	i.chargersMu.Unlock()
}

func (i *Installation) addCharger(chg *Charger) {
	i.chargersMu.Lock()
	i.chargers = append(i.chargers, chg)
	i.chargersMu.Unlock()
}

// Build fetches the circuit and charger hierarchy of the installation.
// Accounts without service access get an empty hierarchy, which clears
// the charger list without failing.
func (i *Installation) Build(ctx context.Context) error {
	result, err := i.client.Request(ctx, "installation/"+i.ID()+"/hierarchy", http.MethodGet, nil)
	if err != nil {
		if !IsForbidden(err) {
			return err
		}
		log.Warn().Str("installation", i.QualID()).
			Msg("Access denied to installation hierarchy. The user might not have access")
		i.setChargers(nil)
		return nil
	}

	// Zaptec started returning 204 instead of 403 for missing access
	// late 2025, which arrives here as an empty body.
	hierarchy, ok := result.(map[string]any)
	if !ok || len(hierarchy) == 0 {
		log.Warn().Str("installation", i.QualID()).
			Msg("No hierarchy returned for installation. The user might not have access")
		i.setChargers(nil)
		return nil
	}

	red := i.client.Redactor()
	var chargers []*Charger

	circuits, _ := hierarchy["Circuits"].([]any)
	for _, cv := range circuits {
		circuit, ok := cv.(map[string]any)
		if !ok {
			continue
		}
		circuitID, _ := circuit["Id"].(string)
		red.AddUID(circuitID, "Circuit")
		log.Debug().Str("circuit", i.client.redactStr(circuitID)).Msg("Circuit")

		items, _ := circuit["Chargers"].([]any)
		for _, chv := range items {
			item, ok := chv.(map[string]any)
			if !ok {
				continue
			}
			chgID, _ := item["Id"].(string)
			if chgID == "" {
				continue
			}
			red.AddUID(chgID, "Charger")

			// Attach the circuit context to the charger attributes.
			item["InstallationId"] = i.ID()
			item["CircuitId"] = circuitID
			item["CircuitName"] = circuit["Name"]
			item["CircuitMaxCurrent"] = circuit["MaxCurrent"]

			chg := i.client.charger(chgID)
			if chg != nil {
				log.Debug().Str("charger", i.client.redactStr(chgID)).Msg("Updating charger")
				chg.SetAttributes(item)
			} else {
				log.Debug().Str("charger", i.client.redactStr(chgID)).Msg("Adding charger")
				chg = newCharger(i.client, item, i)
				if err := i.client.register(chgID, chg); err != nil {
					return err
				}
			}
			chargers = append(chargers, chg)
		}
	}

	i.setChargers(chargers)
	return nil
}

// PollInfo fetches the installation details.
func (i *Installation) PollInfo(ctx context.Context) error {
	log.Debug().Str("installation", i.QualID()).Str("name", i.Name()).Msg("Poll info")

	data, err := i.client.requestMap(ctx, "installation/"+i.ID())
	if err != nil {
		return err
	}

	// The support group logo is a large base64 blob with no use here.
	if sg, ok := data["SupportGroup"].(map[string]any); ok {
		if logo, ok := sg["LogoBase64"].(string); ok {
			sg["LogoBase64"] = fmt.Sprintf("<Removed, was %d bytes>", len(logo))
		}
	}

	i.SetAttributes(data)
	return nil
}

// PollFirmware fetches the firmware status of the chargers in the
// installation and merges it into the charger attributes.
func (i *Installation) PollFirmware(ctx context.Context) error {
	log.Debug().Str("installation", i.QualID()).Str("name", i.Name()).Msg("Poll firmware info")

	records, err := i.client.requestList(ctx, "chargerFirmware/installation/"+i.ID())
	if err != nil {
		if IsForbidden(err) {
			log.Debug().Str("installation", i.QualID()).Msg("Access denied to firmware info")
			return nil
		}
		return err
	}

	for _, fm := range records {
		chargerID, _ := fm["ChargerId"].(string)
		chg := i.client.charger(chargerID)
		if chg == nil {
			continue
		}
		if fm["CurrentVersion"] == nil || fm["AvailableVersion"] == nil || fm["IsUpToDate"] == nil {
			// Chargers registered on the platform but not yet
			// initialized have no firmware fields.
			log.Warn().Str("charger", chg.QualID()).
				Msg("Missing firmware info because the charger has not been initialized yet. Safe to ignore")
			continue
		}
		chg.SetAttributes(map[string]any{
			"firmware_current_version":   fm["CurrentVersion"],
			"firmware_available_version": fm["AvailableVersion"],
			"firmware_update_to_date":    fm["IsUpToDate"],
		})
	}
	return nil
}

// LimitCurrent selects the installation current limit. Set Available to
// limit all phases at once, or all three phase values to limit each
// phase individually. The two forms are mutually exclusive.
type LimitCurrent struct {
	Available *float64
	Phase1    *float64
	Phase2    *float64
	Phase3    *float64
}

// Float64 returns a pointer to v, for filling in LimitCurrent.
func Float64(v float64) *float64 { return &v }

// SetLimitCurrent sets how many amps the installation can deliver. The
// values must be between 0 and the installation max current.
func (i *Installation) SetLimitCurrent(ctx context.Context, limit LimitCurrent) error {
	hasAvailable := limit.Available != nil
	allPhases := limit.Phase1 != nil && limit.Phase2 != nil && limit.Phase3 != nil
	anyPhases := limit.Phase1 != nil || limit.Phase2 != nil || limit.Phase3 != nil

	if hasAvailable == allPhases {
		return errors.New("either Available or all of Phase1, Phase2 and Phase3 must be set")
	}
	if anyPhases && !allPhases {
		return errors.New("if any of Phase1, Phase2 and Phase3 are set, then all of them must be set")
	}

	// Use 32 as default if the installation has no max current.
	maxCurrent := 32.0
	if v, ok := i.GetFloat("max_current"); ok {
		maxCurrent = v
	}

	data := make(map[string]any, 3)
	set := func(key string, v *float64) error {
		if v == nil {
			return nil
		}
		if *v < 0 || *v > maxCurrent {
			return fmt.Errorf("%s must be between 0 and %.0f amps", key, maxCurrent)
		}
		data[key] = *v
		return nil
	}
	if err := set("availableCurrent", limit.Available); err != nil {
		return err
	}
	if err := set("availableCurrentPhase1", limit.Phase1); err != nil {
		return err
	}
	if err := set("availableCurrentPhase2", limit.Phase2); err != nil {
		return err
	}
	if err := set("availableCurrentPhase3", limit.Phase3); err != nil {
		return err
	}

	_, err := i.client.Request(ctx, "installation/"+i.ID()+"/update", http.MethodPost, data)
	return err
}

// SetThreeToOnePhaseSwitchCurrent sets the current where the installation
// switches from 3 phase to 1 phase charging.
func (i *Installation) SetThreeToOnePhaseSwitchCurrent(ctx context.Context, current float64) error {
	if current < 0 || current > 32 {
		return errors.New("current must be between 0 and 32 amps")
	}
	_, err := i.client.Request(ctx, "installation/"+i.ID()+"/update", http.MethodPost,
		map[string]any{"threeToOnePhaseSwitchCurrent": current})
	return err
}

// StreamConnectionDetails fetches the service bus credentials for the
// live message stream. The API call is marked deprecated but no
// replacement exists yet.
func (i *Installation) StreamConnectionDetails(ctx context.Context) (map[string]any, error) {
	return i.client.requestMap(ctx, "installation/"+i.ID()+"/messagingConnectionDetails")
}
