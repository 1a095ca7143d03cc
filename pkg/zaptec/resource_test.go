package zaptec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBareClient returns a client with the test constants loaded and no
// API behind it, for exercising the attribute bag in isolation.
func newBareClient(t *testing.T) *Client {
	t.Helper()
	c := NewClient("user", "pass", nil)
	c.Const().Update(testConstants())
	c.Const().UpdateIDsFromSchema(nil)
	return c
}

func TestSetAttributesNormalizesKeys(t *testing.T) {
	chg := newCharger(newBareClient(t), map[string]any{"ChargerMaxCurrent": 32}, nil)

	v, ok := chg.Get("charger_max_current")
	require.True(t, ok)
	assert.Equal(t, 32.0, v)

	// The API spelling resolves to the same attribute.
	v, ok = chg.Get("ChargerMaxCurrent")
	require.True(t, ok)
	assert.Equal(t, 32.0, v)
}

func TestSetAttributesConversionFailure(t *testing.T) {
	chg := newCharger(newBareClient(t), map[string]any{"TotalChargePower": "garbage"}, nil)

	// A failed conversion keeps the raw value.
	v, ok := chg.Get("total_charge_power")
	require.True(t, ok)
	assert.Equal(t, "garbage", v)
	_, ok = chg.GetFloat("total_charge_power")
	assert.False(t, ok)
}

func TestSetAttributesTruthy(t *testing.T) {
	chg := newCharger(newBareClient(t), map[string]any{
		"IsOnline":           1,
		"PermanentCableLock": "0",
		"Active":             0,
	}, nil)

	v, _ := chg.Get("is_online")
	assert.Equal(t, true, v)
	v, _ = chg.Get("permanent_cable_lock")
	assert.Equal(t, false, v)
	v, _ = chg.Get("active")
	assert.Equal(t, false, v)
}

func TestGetVariants(t *testing.T) {
	chg := newCharger(newBareClient(t), map[string]any{
		"Id":          chargerID1,
		"Name":        "Left",
		"Humidity":    "52.5",
		"SessionTime": 95.0,
	}, nil)

	assert.Equal(t, chargerID1, chg.ID())
	assert.Equal(t, "Left", chg.Name())

	f, ok := chg.GetFloat("humidity")
	require.True(t, ok)
	assert.Equal(t, 52.5, f)

	// Unconverted attributes still read as float or string.
	f, ok = chg.GetFloat("session_time")
	require.True(t, ok)
	assert.Equal(t, 95.0, f)
	assert.Equal(t, "95", chg.GetString("session_time"))

	_, ok = chg.Get("no_such_key")
	assert.False(t, ok)
	assert.Equal(t, "", chg.GetString("no_such_key"))
}

func TestQualID(t *testing.T) {
	c := newBareClient(t)

	chg := newCharger(c, map[string]any{}, nil)
	assert.Equal(t, "Charger", chg.QualID())

	chg = newCharger(c, map[string]any{"Id": "abc"}, nil)
	assert.Equal(t, "Charger[abc]", chg.QualID())

	chg = newCharger(c, map[string]any{"Id": chargerID1}, nil)
	assert.Equal(t, "Charger[ee0001]", chg.QualID())
}

func TestAsDictCopy(t *testing.T) {
	inst := newInstallation(newBareClient(t), map[string]any{"Id": instID, "Name": "Home"})

	d := inst.AsDict()
	assert.Equal(t, "Home", d["name"])
	d["name"] = "tampered"
	assert.Equal(t, "Home", inst.Name())
}

func TestInstallationModel(t *testing.T) {
	inst := newInstallation(newBareClient(t), map[string]any{"Id": instID})
	assert.Equal(t, "Zaptec Installation", inst.Model())
}

func TestStateToAttrs(t *testing.T) {
	c := newBareClient(t)
	records := []map[string]any{
		{"NoStateId": 1},
		{"StateId": 854.0, "ValueAsString": "blob"},
		{"StateId": 710.0, "Value": 3.0, "ValueAsString": "9"},
		{"StateId": 513.0, "ValueAsString": "1500"},
		{"StateId": 99999.0, "ValueAsString": "mystery"},
		{"StateId": 513.0, "ValueAsString": "2000"},
	}

	attrs := stateToAttrs(records, "StateId", c.Const().Observations(), map[string]bool{"854": true})

	assert.Equal(t, map[string]any{
		"ChargerOperationMode": 3.0,
		"TotalChargePower":     "2000",
		"StateId 99999":        "mystery",
	}, attrs)
}
