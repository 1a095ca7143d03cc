package zaptec

import (
	"fmt"
	"strconv"

	"github.com/zaptec-community/go-zaptec/pkg/zaptec/zconst"
)

// convertFunc normalizes an attribute value from the API into its typed
// form. Conversion failures keep the raw value.
type convertFunc func(v any) (any, error)

func toBool(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case string:
		return t != "", nil
	case float64:
		return t != 0, nil
	case int:
		return t != 0, nil
	default:
		return true, nil
	}
}

func toFloat(v any) (any, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case bool:
		if t {
			return 1.0, nil
		}
		return 0.0, nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to float", t)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to float", v)
	}
}

func toString(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(v), nil
	}
}

func toTruthy(v any) (any, error) {
	return zconst.Truthy(v), nil
}

func installationConverters(zc *zconst.Registry) map[string]convertFunc {
	return map[string]convertFunc{
		"active":              toBool,
		"authentication_type": zc.AuthenticationType,
		"current_user_roles":  zc.UserRoles,
		"installation_type":   zc.InstallationType,
		"network_type":        zc.NetworkType,
	}
}

func chargerConverters(zc *zconst.Registry) map[string]convertFunc {
	return map[string]convertFunc{
		"active":                                toBool,
		"authentication_required":               toTruthy,
		"authentication_type":                   zc.AuthenticationType,
		"charge_current_installation_max_limit": toFloat,
		"charge_current_set":                    toFloat,
		"charger_max_current":                   toFloat,
		"charger_min_current":                   toFloat,
		"charger_operation_mode":                zc.ChargerOperationMode,
		"circuit_id":                            toString,
		"circuit_max_current":                   toFloat,
		"circuit_name":                          toString,
		"completed_session":                     zc.CompletedSession,
		"current_phase1":                        toFloat,
		"current_phase2":                        toFloat,
		"current_phase3":                        toFloat,
		"current_user_roles":                    zc.UserRoles,
		"device_type":                           zc.DeviceType,
		"humidity":                              toFloat,
		"is_authorization_required":             toTruthy,
		"is_online":                             toTruthy,
		"network_type":                          zc.NetworkType,
		"operating_mode":                        zc.ChargerOperationMode,
		"permanent_cable_lock":                  toTruthy,
		"signed_meter_value":                    zc.Ocmf,
		"temperature_internal5":                 toFloat,
		"total_charge_power":                    toFloat,
		"total_charge_power_session":            toFloat,
		"voltage_phase1":                        toFloat,
		"voltage_phase2":                        toFloat,
		"voltage_phase3":                        toFloat,
	}
}
