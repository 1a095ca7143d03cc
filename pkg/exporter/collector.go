package exporter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zaptec-community/go-zaptec/pkg/zaptec"
)

// Collector implements prometheus.Collector over the live object graph.
// Collect never touches the API, it reads whatever the pollers and the
// stream have merged so far.
type Collector struct {
	client *zaptec.Client

	up               *prometheus.Desc
	mode             *prometheus.Desc
	charging         *prometheus.Desc
	online           *prometheus.Desc
	power            *prometheus.Desc
	sessionEnergy    *prometheus.Desc
	phaseCurrent     *prometheus.Desc
	phaseVoltage     *prometheus.Desc
	humidity         *prometheus.Desc
	temperature      *prometheus.Desc
	firmwareUpToDate *prometheus.Desc
	chargerInfo      *prometheus.Desc
	instMaxCurrent   *prometheus.Desc
	instAvailable    *prometheus.Desc
	instInfo         *prometheus.Desc
}

// NewCollector creates a collector reading from client.
func NewCollector(client *zaptec.Client) *Collector {
	chargerLabels := []string{"charger_id", "charger_name"}
	phaseLabels := []string{"charger_id", "charger_name", "phase"}
	instLabels := []string{"installation_id", "installation_name"}

	return &Collector{
		client: client,
		up: prometheus.NewDesc(
			"zaptec_up",
			"Whether the Zaptec object graph has been built (1=yes, 0=no)",
			nil,
			nil,
		),
		mode: prometheus.NewDesc(
			"zaptec_charger_operation_mode",
			"Charger operation mode code (0=Unknown, 1=Disconnected, 2=Connected_Requesting, 3=Connected_Charging, 5=Connected_Finished)",
			chargerLabels,
			nil,
		),
		charging: prometheus.NewDesc(
			"zaptec_charger_charging",
			"Charger is currently delivering power (1=yes, 0=no)",
			chargerLabels,
			nil,
		),
		online: prometheus.NewDesc(
			"zaptec_charger_online",
			"Charger is online (1=yes, 0=no)",
			chargerLabels,
			nil,
		),
		power: prometheus.NewDesc(
			"zaptec_charger_power_watts",
			"Current total charge power in watts",
			chargerLabels,
			nil,
		),
		sessionEnergy: prometheus.NewDesc(
			"zaptec_charger_session_energy_kwh",
			"Energy delivered in the current session in kilowatt-hours",
			chargerLabels,
			nil,
		),
		phaseCurrent: prometheus.NewDesc(
			"zaptec_charger_phase_current_amps",
			"Current per phase in amps",
			phaseLabels,
			nil,
		),
		phaseVoltage: prometheus.NewDesc(
			"zaptec_charger_phase_voltage_volts",
			"Voltage per phase in volts",
			phaseLabels,
			nil,
		),
		humidity: prometheus.NewDesc(
			"zaptec_charger_humidity_percent",
			"Relative humidity measured by the charger in percent",
			chargerLabels,
			nil,
		),
		temperature: prometheus.NewDesc(
			"zaptec_charger_temperature_celsius",
			"Internal charger temperature in degrees celsius",
			chargerLabels,
			nil,
		),
		firmwareUpToDate: prometheus.NewDesc(
			"zaptec_charger_firmware_up_to_date",
			"Charger firmware is up to date (1=yes, 0=no)",
			chargerLabels,
			nil,
		),
		chargerInfo: prometheus.NewDesc(
			"zaptec_charger_info",
			"Charger information",
			[]string{"charger_id", "charger_name", "model", "device_id", "device_type", "installation_id"},
			nil,
		),
		instMaxCurrent: prometheus.NewDesc(
			"zaptec_installation_max_current_amps",
			"Installation maximum current in amps",
			instLabels,
			nil,
		),
		instAvailable: prometheus.NewDesc(
			"zaptec_installation_available_current_amps",
			"Installation available current in amps",
			instLabels,
			nil,
		),
		instInfo: prometheus.NewDesc(
			"zaptec_installation_info",
			"Installation information",
			[]string{"installation_id", "installation_name", "network_type", "authentication_type"},
			nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.mode
	ch <- c.charging
	ch <- c.online
	ch <- c.power
	ch <- c.sessionEnergy
	ch <- c.phaseCurrent
	ch <- c.phaseVoltage
	ch <- c.humidity
	ch <- c.temperature
	ch <- c.firmwareUpToDate
	ch <- c.chargerInfo
	ch <- c.instMaxCurrent
	ch <- c.instAvailable
	ch <- c.instInfo
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	up := 0.0
	if c.client.IsBuilt() {
		up = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, up)

	for _, inst := range c.client.Installations() {
		c.collectInstallation(inst, ch)
	}
	for _, chg := range c.client.Chargers() {
		c.collectCharger(chg, ch)
	}
}

func (c *Collector) collectInstallation(inst *zaptec.Installation, ch chan<- prometheus.Metric) {
	labels := []string{inst.ID(), inst.Name()}

	if v, ok := inst.GetFloat("max_current"); ok {
		ch <- prometheus.MustNewConstMetric(c.instMaxCurrent, prometheus.GaugeValue, v, labels...)
	}
	if v, ok := inst.GetFloat("available_current"); ok {
		ch <- prometheus.MustNewConstMetric(c.instAvailable, prometheus.GaugeValue, v, labels...)
	}

	ch <- prometheus.MustNewConstMetric(c.instInfo, prometheus.GaugeValue, 1,
		inst.ID(),
		inst.Name(),
		inst.GetString("network_type"),
		inst.GetString("authentication_type"),
	)
}

func (c *Collector) collectCharger(chg *zaptec.Charger, ch chan<- prometheus.Metric) {
	labels := []string{chg.ID(), chg.Name()}

	if mode := chg.GetString("ChargerOperationMode"); mode != "" {
		if code, ok := c.client.Const().OperationModeID(mode); ok {
			ch <- prometheus.MustNewConstMetric(c.mode, prometheus.GaugeValue, float64(code), labels...)
		}
		charging := 0.0
		if chg.IsCharging() {
			charging = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.charging, prometheus.GaugeValue, charging, labels...)
	}

	if v, ok := boolValue(chg.Get("is_online")); ok {
		ch <- prometheus.MustNewConstMetric(c.online, prometheus.GaugeValue, v, labels...)
	}
	if v, ok := chg.GetFloat("total_charge_power"); ok {
		ch <- prometheus.MustNewConstMetric(c.power, prometheus.GaugeValue, v, labels...)
	}
	if v, ok := chg.GetFloat("total_charge_power_session"); ok {
		ch <- prometheus.MustNewConstMetric(c.sessionEnergy, prometheus.GaugeValue, v, labels...)
	}
	if v, ok := chg.GetFloat("humidity"); ok {
		ch <- prometheus.MustNewConstMetric(c.humidity, prometheus.GaugeValue, v, labels...)
	}
	if v, ok := chg.GetFloat("temperature_internal5"); ok {
		ch <- prometheus.MustNewConstMetric(c.temperature, prometheus.GaugeValue, v, labels...)
	}
	if v, ok := boolValue(chg.Get("firmware_update_to_date")); ok {
		ch <- prometheus.MustNewConstMetric(c.firmwareUpToDate, prometheus.GaugeValue, v, labels...)
	}

	for i, key := range []string{"current_phase1", "current_phase2", "current_phase3"} {
		if v, ok := chg.GetFloat(key); ok {
			ch <- prometheus.MustNewConstMetric(c.phaseCurrent, prometheus.GaugeValue, v,
				chg.ID(), chg.Name(), phaseName(i))
		}
	}
	for i, key := range []string{"voltage_phase1", "voltage_phase2", "voltage_phase3"} {
		if v, ok := chg.GetFloat(key); ok {
			ch <- prometheus.MustNewConstMetric(c.phaseVoltage, prometheus.GaugeValue, v,
				chg.ID(), chg.Name(), phaseName(i))
		}
	}

	ch <- prometheus.MustNewConstMetric(c.chargerInfo, prometheus.GaugeValue, 1,
		chg.ID(),
		chg.Name(),
		chg.Model(),
		chg.GetString("DeviceId"),
		chg.GetString("device_type"),
		chg.GetString("installation_id"),
	)
}

func phaseName(i int) string {
	return []string{"1", "2", "3"}[i]
}

func boolValue(v any, ok bool) (float64, bool) {
	if !ok {
		return 0, false
	}
	b, ok := v.(bool)
	if !ok {
		return 0, false
	}
	if b {
		return 1, true
	}
	return 0, true
}
