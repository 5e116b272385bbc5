// Package httpstatus exposes a read-only HTTP telemetry surface
// alongside the serial wire protocol: GET /status for a heater/sensor/
// PID snapshot and GET /routes for a self-describing route list.
// It never accepts writes and is not part of the wire contract; it
// exists purely so a human (or a dashboard) can see what the core is
// doing without speaking the line protocol, the same role server.go's
// Mainframe/RouteTable played for the teacher's instrument HTTP APIs.
package httpstatus

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/bdube/extruderfin/controller"
)

// Snapshot is the JSON body GET /status returns.
type Snapshot struct {
	HeaterState string  `json:"heater_state"`
	HeaterCode  string  `json:"heater_code"`
	Setpoint    float64 `json:"setpoint"`
	Temperature float64 `json:"temperature"`

	SensorState string  `json:"sensor_state"`
	SensorTemp  float64 `json:"sensor_temperature"`

	PIDOutput float64 `json:"pid_output"`
}

// NewRouter returns a chi.Router exposing /status and /routes against c.
func NewRouter(c *controller.Controller) chi.Router {
	r := chi.NewRouter()
	r.Get("/status", statusHandler(c))
	r.Get("/routes", routesHandler(r))
	return r
}

func statusHandler(c *controller.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := Snapshot{
			HeaterState: string(c.Heater.State()),
			HeaterCode:  c.Heater.Code.String(),
			Setpoint:    c.Heater.Setpoint,
			Temperature: c.Heater.Temperature,
			SensorState: c.Sensor.State.String(),
			SensorTemp:  c.Sensor.Temperature,
			PIDOutput:   c.Heater.PID.Output,
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// routesHandler walks r's registered routes the way
// server.Mainframe.RouteGraph walked its RouteTable, so /routes remains
// self-describing as the router grows.
func routesHandler(router chi.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var routes []string
		walkErr := chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			routes = append(routes, method+" "+route)
			return nil
		})
		w.Header().Set("Content-Type", "application/json")
		if walkErr != nil {
			http.Error(w, walkErr.Error(), http.StatusInternalServerError)
			return
		}
		if err := json.NewEncoder(w).Encode(routes); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
