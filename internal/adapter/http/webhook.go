package http

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/couchcryptid/storm-alert-relay/internal/domain"
)

const (
	maxPayloadBytes = 1 << 20
	alertSchemaURL  = "https://storm-alert-relay/schema/alert.schema.json"

	endpointAlerts = "alerts"
	endpointTest   = "test"
)

//go:embed schema/alert.schema.json
var alertSchemaJSON []byte

var alertSchema = mustCompileSchema(alertSchemaURL, alertSchemaJSON)

func mustCompileSchema(url string, raw []byte) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("decode %s: %v", url, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		panic(fmt.Sprintf("add %s: %v", url, err))
	}
	return c.MustCompile(url)
}

type acceptedResponse struct {
	Success bool   `json:"success"`
	AlertID string `json:"alertId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleAlert acknowledges a webhook delivery as soon as the payload is
// valid. Processing continues after the response is written.
func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.reject(w, endpointAlerts, http.StatusBadRequest, err)
		return
	}
	alert, err := decodeAlert(body)
	if err != nil {
		s.reject(w, endpointAlerts, http.StatusBadRequest, err)
		return
	}
	s.accept(w, endpointAlerts, alert)
}

// handleTestAlert accepts a partial or empty payload and fills the gaps with
// synthetic values before the normal handoff.
func (s *Server) handleTestAlert(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.reject(w, endpointTest, http.StatusBadRequest, err)
		return
	}
	var raw domain.RawAlert
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			s.reject(w, endpointTest, http.StatusBadRequest, fmt.Errorf("%w: decode payload: %v", domain.ErrValidation, err))
			return
		}
	}
	domain.ApplySyntheticDefaults(&raw, s.clock.Now())
	alert := raw.ToAlert()
	if err := alert.Validate(); err != nil {
		s.reject(w, endpointTest, http.StatusBadRequest, err)
		return
	}
	s.accept(w, endpointTest, alert)
}

func (s *Server) accept(w http.ResponseWriter, endpoint string, alert domain.Alert) {
	if !s.alerts.Submit(alert) {
		s.reject(w, endpoint, http.StatusServiceUnavailable, errors.New("service is shutting down"))
		return
	}
	s.metrics.WebhooksReceived.WithLabelValues(endpoint, "accepted").Inc()
	s.logger.Info("alert accepted", "alert_id", alert.ID, "endpoint", endpoint, "severity", alert.Severity)
	sharedobs.WriteJSON(w, http.StatusOK, acceptedResponse{Success: true, AlertID: alert.ID})
}

func (s *Server) reject(w http.ResponseWriter, endpoint string, status int, err error) {
	s.metrics.WebhooksReceived.WithLabelValues(endpoint, "rejected").Inc()
	s.logger.Warn("alert rejected", "endpoint", endpoint, "status", status, "error", err)
	sharedobs.WriteJSON(w, status, errorResponse{Error: err.Error()})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read payload: %v", domain.ErrValidation, err)
	}
	return body, nil
}

// decodeAlert enforces the webhook schema, which only requires alert.id, then
// parses the rest leniently.
func decodeAlert(body []byte) (domain.Alert, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return domain.Alert{}, fmt.Errorf("%w: decode payload: %v", domain.ErrValidation, err)
	}
	if err := alertSchema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) && missingAlertID(doc) {
			return domain.Alert{}, fmt.Errorf("%w: alert.id is required", domain.ErrValidation)
		}
		return domain.Alert{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return domain.ParseAlert(body)
}

func missingAlertID(doc any) bool {
	root, ok := doc.(map[string]any)
	if !ok {
		return false
	}
	alert, ok := root["alert"].(map[string]any)
	if !ok {
		return true
	}
	id, ok := alert["id"].(string)
	return !ok || id == ""
}
