// Package pagerduty provides a client for creating incidents via the
// PagerDuty REST API.
package pagerduty

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client wraps PagerDuty incident creation calls
type Client struct {
	baseURL   string
	token     string
	serviceID string
	fromEmail string
	urgency   string
	client    *http.Client
}

// NewClient creates a new PagerDuty client
func NewClient(baseURL, token, serviceID, fromEmail, urgency string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://api.pagerduty.com"
	}
	if urgency == "" {
		urgency = "high"
	}
	return &Client{
		baseURL:   baseURL,
		token:     token,
		serviceID: serviceID,
		fromEmail: fromEmail,
		urgency:   urgency,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// incidentRequest is the POST /incidents payload
type incidentRequest struct {
	Incident incident `json:"incident"`
}

type incident struct {
	Type    string           `json:"type"`
	Title   string           `json:"title"`
	Service serviceReference `json:"service"`
	Urgency string           `json:"urgency"`
	Body    incidentBody     `json:"body"`
}

type serviceReference struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type incidentBody struct {
	Type    string `json:"type"`
	Details string `json:"details"`
}

// Trigger creates an incident with the given title and details. PagerDuty
// answers 201 on success; any other status is returned as an error with the
// response body for the caller to log.
func (c *Client) Trigger(ctx context.Context, title, details string) error {
	if c.token == "" || c.serviceID == "" {
		return fmt.Errorf("pagerduty credentials not configured")
	}

	payload := incidentRequest{
		Incident: incident{
			Type:    "incident",
			Title:   title,
			Service: serviceReference{ID: c.serviceID, Type: "service_reference"},
			Urgency: c.urgency,
			Body:    incidentBody{Type: "incident_body", Details: details},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal incident: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/incidents", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.pagerduty+json;version=2")
	req.Header.Set("Authorization", fmt.Sprintf("Token token=%s", c.token))
	req.Header.Set("From", c.fromEmail)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("pagerduty returned status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}
