package exporter

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthResponse is the body returned by GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Built     bool      `json:"built"`
	Chargers  int       `json:"chargers"`
	Timestamp time.Time `json:"timestamp"`
}

// health handles GET /health. The service is degraded until the object
// graph has been built.
func (r *Router) health(c *gin.Context) {
	built := r.client.IsBuilt()

	status := "healthy"
	httpStatus := http.StatusOK
	if !built {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Built:     built,
		Chargers:  len(r.client.Chargers()),
		Timestamp: time.Now(),
	})
}

// listInstallations handles GET /installations
func (r *Router) listInstallations(c *gin.Context) {
	installations := r.client.Installations()
	out := make([]any, 0, len(installations))
	for _, inst := range installations {
		out = append(out, map[string]any{
			"id":                  inst.ID(),
			"name":                inst.Name(),
			"network_type":        inst.GetString("network_type"),
			"authentication_type": inst.GetString("authentication_type"),
			"chargers":            len(inst.Chargers()),
		})
	}
	c.JSON(http.StatusOK, r.client.Redactor().Redact(out))
}

// listChargers handles GET /chargers
func (r *Router) listChargers(c *gin.Context) {
	chargers := r.client.Chargers()
	out := make([]any, 0, len(chargers))
	for _, chg := range chargers {
		item := map[string]any{
			"id":              chg.ID(),
			"name":            chg.Name(),
			"model":           chg.Model(),
			"operation_mode":  chg.GetString("ChargerOperationMode"),
			"installation_id": chg.GetString("installation_id"),
		}
		if online, ok := chg.Get("is_online"); ok {
			item["online"] = online
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, r.client.Redactor().Redact(out))
}

// getCharger handles GET /chargers/:id, returning the full redacted
// attribute dump of one charger.
func (r *Router) getCharger(c *gin.Context) {
	obj, ok := r.client.Get(c.Param("id"))
	if !ok || obj.Kind() != "Charger" {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown charger"})
		return
	}
	c.JSON(http.StatusOK, r.client.Redactor().SecondPass(obj.AsDict()))
}

// diagnostics handles GET /diagnostics, dumping the attributes of every
// object in the registry. Secrets registered by the redactor are replaced
// before the dump leaves the process.
func (r *Router) diagnostics(c *gin.Context) {
	objects := make(map[string]any)
	for _, id := range r.client.IDs() {
		obj, ok := r.client.Get(id)
		if !ok {
			continue
		}
		objects[obj.QualID()] = obj.AsDict()
	}

	c.JSON(http.StatusOK, gin.H{
		"built":   r.client.IsBuilt(),
		"objects": r.client.Redactor().SecondPass(objects),
	})
}
