package zaptec

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	instID       = "11111111-1111-1111-1111-111111111111"
	circuitID    = "22222222-2222-2222-2222-222222222222"
	chargerID1   = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeee0001"
	chargerID2   = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeee0002"
	standaloneID = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeee0003"
	orphanID     = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeee0004"
)

func testConstants() map[string]any {
	return map[string]any{
		"ChargerOperationModes": map[string]any{
			"Unknown":              0,
			"Disconnected":         1,
			"Connected_Requesting": 2,
			"Connected_Charging":   3,
			"Connected_Finished":   5,
		},
		"DeviceTypes": map[string]any{
			"Unknown":  0,
			"Smart":    1,
			"Portable": 2,
			"HomeApm":  3,
			"Apollo":   4,
		},
		"InstallationAuthenticationType": map[string]any{
			"Native":     0,
			"WebHooks":   1,
			"Ocpp":       2,
			"OcppNative": 3,
		},
		"InstallationTypes": map[string]any{
			"Pro":   map[string]any{"Id": 0, "Name": "Pro"},
			"Smart": map[string]any{"Id": 1, "Name": "Smart"},
		},
		"NetworkTypes": map[string]any{
			"Unknown":    0,
			"IT_1_Phase": 1,
			"IT_3_Phase": 2,
			"TN_1_Phase": 3,
			"TN_3_Phase": 4,
		},
		"UserRoles": map[string]any{
			"None":       0,
			"User":       1,
			"Owner":      2,
			"Maintainer": 4,
		},
		"Observations": map[string]any{
			"ChargerOperationMode":  710,
			"TotalChargePower":      513,
			"FinalStopActive":       718,
			"MacMain":               950,
			"ProductionTestResults": 854,
		},
		"Commands": map[string]any{
			"RestartCharger":     102,
			"UpgradeFirmware":    200,
			"StopChargingFinal":  506,
			"ResumeCharging":     507,
			"DeauthorizeAndStop": 10001,
		},
		"Settings": map[string]any{
			"CommunicationMode": 1,
		},
		"Schema": map[string]any{
			"Apollo": map[string]any{
				"DeviceType":     4,
				"ObservationIds": map[string]any{"ApolloLedStrip": 999},
				"SettingIds":     map[string]any{},
				"CommandIds":     map[string]any{},
			},
		},
	}
}

func instItem() map[string]any {
	return map[string]any{
		"Id":                 instID,
		"Name":               "Home",
		"Active":             true,
		"AuthenticationType": 0,
		"CurrentUserRoles":   3,
		"InstallationType":   1,
		"NetworkType":        4,
		"MaxCurrent":         32.0,
	}
}

func chargerItem(id, name string) map[string]any {
	return map[string]any{
		"Id":         id,
		"Name":       name,
		"Active":     true,
		"DeviceType": 4,
		"DeviceId":   "zap123456",
	}
}

// buildMux serves a small account: one installation with one circuit of
// two chargers, a standalone charger tied to the installation through
// the listing, and an orphan charger. A nil hierarchy handler serves the
// default hierarchy.
func buildMux(hierarchy http.HandlerFunc) *http.ServeMux {
	if hierarchy == nil {
		hierarchy = func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{
				"Id":          instID,
				"Name":        "Home",
				"NetworkType": 4,
				"Circuits": []any{
					map[string]any{
						"Id":         circuitID,
						"Name":       "Garage",
						"MaxCurrent": 25.0,
						"Chargers": []any{
							chargerItem(chargerID1, "Left"),
							chargerItem(chargerID2, "Right"),
						},
					},
				},
			})
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenHandler("tok"))
	mux.HandleFunc("/api/constants", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, testConstants())
	})
	mux.HandleFunc("/api/installation", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"Data": []any{instItem()}, "Pages": 1})
	})
	mux.HandleFunc("/api/installation/"+instID+"/hierarchy", hierarchy)
	mux.HandleFunc("/api/chargers", func(w http.ResponseWriter, r *http.Request) {
		standalone := chargerItem(standaloneID, "Cabin")
		standalone["InstallationId"] = instID
		writeJSON(w, map[string]any{
			"Data": []any{
				chargerItem(chargerID1, "Left"),
				chargerItem(chargerID2, "Right"),
				standalone,
				chargerItem(orphanID, "Orphan"),
			},
			"Pages": 1,
		})
	})
	mux.HandleFunc("/api/chargers/", func(w http.ResponseWriter, r *http.Request) {
		id, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/api/chargers/"), "/state")
		if !ok || id == "" || strings.Contains(id, "/") {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, []any{})
	})
	return mux
}

func TestBuild(t *testing.T) {
	c := newTestClient(t, buildMux(nil))
	require.NoError(t, c.Build(context.Background()))
	assert.True(t, c.IsBuilt())

	insts := c.Installations()
	require.Len(t, insts, 1)
	inst := insts[0]
	assert.Equal(t, "Home", inst.Name())
	assert.Equal(t, "Installation", inst.Kind())

	assert.Len(t, c.Chargers(), 4)
	assert.Len(t, inst.Chargers(), 3)

	// Attributes are converted on merge.
	v, ok := inst.Get("network_type")
	require.True(t, ok)
	assert.Equal(t, "TN_3_Phase", v)
	v, _ = inst.Get("current_user_roles")
	assert.Equal(t, "User, Owner", v)
	v, _ = inst.Get("installation_type")
	assert.Equal(t, "Smart", v)
	v, _ = inst.Get("authentication_type")
	assert.Equal(t, "Native", v)

	chg := c.charger(chargerID1)
	require.NotNil(t, chg)
	v, _ = chg.Get("device_type")
	assert.Equal(t, "Apollo", v)

	// The hierarchy injects the circuit context.
	assert.Equal(t, "Garage", chg.GetString("CircuitName"))
	f, ok := chg.GetFloat("circuit_max_current")
	require.True(t, ok)
	assert.Equal(t, 25.0, f)
	assert.Equal(t, instID, chg.GetString("installation_id"))

	// The standalone charger is associated through the listing.
	cabin := c.charger(standaloneID)
	require.NotNil(t, cabin)
	assert.Same(t, inst, cabin.Installation())
	orphan := c.charger(orphanID)
	require.NotNil(t, orphan)
	assert.Nil(t, orphan.Installation())

	// Id tables are narrowed to the discovered device types.
	id, ok := c.Const().Commands().ID("resume_charging")
	require.True(t, ok)
	assert.Equal(t, 507, id)
	name, ok := c.Const().Observations().Name(999)
	require.True(t, ok)
	assert.Equal(t, "ApolloLedStrip", name)

	assert.Equal(t, "Charger[ee0001]", chg.QualID())
	assert.Equal(t, "Charger[ee0001]", c.QualID(chargerID1))
}

func TestBuildTwice(t *testing.T) {
	c := newTestClient(t, buildMux(nil))
	ctx := context.Background()
	require.NoError(t, c.Build(ctx))
	inst1 := c.Installations()[0]
	chg1 := c.charger(chargerID1)

	// A rebuild updates objects in place and never duplicates them.
	require.NoError(t, c.Build(ctx))
	assert.Len(t, c.Installations(), 1)
	assert.Len(t, c.Chargers(), 4)
	assert.Same(t, inst1, c.Installations()[0])
	assert.Same(t, chg1, c.charger(chargerID1))
	assert.Len(t, inst1.Chargers(), 3)
}

func TestBuildHierarchyAccessDenied(t *testing.T) {
	c := newTestClient(t, buildMux(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	require.NoError(t, c.Build(context.Background()))

	// Every charger arrives through the listing, only the one exposing
	// its installation id gets associated.
	inst := c.Installations()[0]
	require.Len(t, inst.Chargers(), 1)
	assert.Equal(t, standaloneID, inst.Chargers()[0].ID())
	assert.Len(t, c.Chargers(), 4)
}

func TestBuildHierarchyEmpty(t *testing.T) {
	c := newTestClient(t, buildMux(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	require.NoError(t, c.Build(context.Background()))

	inst := c.Installations()[0]
	require.Len(t, inst.Chargers(), 1)
	assert.Equal(t, standaloneID, inst.Chargers()[0].ID())
}

func TestPollState(t *testing.T) {
	mux := buildMux(nil)
	mux.HandleFunc("/api/chargers/"+chargerID1+"/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []any{
			map[string]any{"StateId": 710, "ValueAsString": "3"},
			map[string]any{"StateId": 513, "ValueAsString": "1500"},
			map[string]any{"StateId": 854, "ValueAsString": "<large test blob>"},
			map[string]any{"StateId": -1},
			map[string]any{"StateId": 12345, "ValueAsString": "x"},
		})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()
	require.NoError(t, c.Build(ctx))

	require.NoError(t, c.Poll(ctx, []string{chargerID1}, PollOptions{State: true}))

	chg := c.charger(chargerID1)
	v, ok := chg.Get("charger_operation_mode")
	require.True(t, ok)
	assert.Equal(t, "Connected_Charging", v)

	f, ok := chg.GetFloat("total_charge_power")
	require.True(t, ok)
	assert.Equal(t, 1500.0, f)

	_, ok = chg.Get("production_test_results")
	assert.False(t, ok, "excluded observations must not be stored")

	// Unknown observation ids get a synthetic name.
	v, ok = chg.Get("StateId 12345")
	require.True(t, ok)
	assert.Equal(t, "x", v)

	// StateId -1 has no value and is dropped.
	_, ok = chg.Get("StateId -1")
	assert.False(t, ok)
}

func TestPollAll(t *testing.T) {
	c := newTestClient(t, buildMux(nil))
	ctx := context.Background()
	require.NoError(t, c.Build(ctx))
	require.NoError(t, c.Poll(ctx, nil, PollOptions{State: true}))
}

func TestPollInfoInstallation(t *testing.T) {
	mux := buildMux(nil)
	mux.HandleFunc("/api/installation/"+instID, func(w http.ResponseWriter, r *http.Request) {
		item := instItem()
		item["SupportGroup"] = map[string]any{
			"Name":       "ACME Charging",
			"LogoBase64": strings.Repeat("A", 5000),
		}
		writeJSON(w, item)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()
	require.NoError(t, c.Build(ctx))

	require.NoError(t, c.Poll(ctx, []string{instID}, PollOptions{Info: true}))

	inst := c.Installations()[0]
	sg, ok := inst.Get("support_group")
	require.True(t, ok)
	m, ok := sg.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "<Removed, was 5000 bytes>", m["LogoBase64"])
	assert.Equal(t, "ACME Charging", m["Name"])
}

func TestPollFirmware(t *testing.T) {
	mux := buildMux(nil)
	mux.HandleFunc("/api/chargerFirmware/installation/"+instID, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []any{
			map[string]any{
				"ChargerId":        chargerID1,
				"DeviceType":       4,
				"IsOnline":         true,
				"CurrentVersion":   "5.0.1",
				"AvailableVersion": "5.0.2",
				"IsUpToDate":       false,
			},
			// Not yet initialized, no firmware fields.
			map[string]any{"ChargerId": chargerID2},
			// Not a known charger.
			map[string]any{"ChargerId": "ffffffff-0000-0000-0000-000000000000"},
		})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()
	require.NoError(t, c.Build(ctx))

	require.NoError(t, c.Poll(ctx, []string{instID}, PollOptions{Firmware: true}))

	chg := c.charger(chargerID1)
	assert.Equal(t, "5.0.1", chg.GetString("firmware_current_version"))
	assert.Equal(t, "5.0.2", chg.GetString("firmware_available_version"))
	v, ok := chg.Get("firmware_update_to_date")
	require.True(t, ok)
	assert.Equal(t, false, v)

	_, ok = c.charger(chargerID2).Get("firmware_current_version")
	assert.False(t, ok)
}

func TestPollFirmwareAccessDenied(t *testing.T) {
	mux := buildMux(nil)
	mux.HandleFunc("/api/chargerFirmware/installation/"+instID, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()
	require.NoError(t, c.Build(ctx))
	require.NoError(t, c.Poll(ctx, []string{instID}, PollOptions{Firmware: true}))
}

func TestPollUnknownObject(t *testing.T) {
	c := newTestClient(t, buildMux(nil))
	ctx := context.Background()
	require.NoError(t, c.Build(ctx))

	err := c.Poll(ctx, []string{"deadbeef"}, PollOptions{State: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
