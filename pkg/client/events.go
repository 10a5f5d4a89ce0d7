package client

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Event represents an event as returned by the API.
type Event struct {
	ID            string          `json:"id"`
	Seq           uint64          `json:"seq,omitempty"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Topic         string          `json:"topic"`
	Priority      string          `json:"priority"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	SchemaVersion string          `json:"schema_version,omitempty"`
}

// PublishRequest represents an event to publish.
type PublishRequest struct {
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Topic         string          `json:"topic"`
	Priority      string          `json:"priority,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
	SchemaVersion string          `json:"schema_version,omitempty"`
}

// PublishResponse is the response from publishing an event.
type PublishResponse struct {
	EventID string `json:"event_id"`
	Matched int    `json:"matched_subscriptions"`
}

// Publish sends one event to the broker.
func (c *Client) Publish(req PublishRequest) (*PublishResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest("POST", c.server+"/api/v1/events", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp, "publish failed")
	}

	var pubResp PublishResponse
	if err := json.NewDecoder(resp.Body).Decode(&pubResp); err != nil {
		return nil, err
	}

	return &pubResp, nil
}

// BatchItemResult is the per-event outcome of a batch publish.
type BatchItemResult struct {
	EventID string `json:"event_id,omitempty"`
	Matched int    `json:"matched_subscriptions,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BatchResponse is the response from a batch publish.
type BatchResponse struct {
	Results []BatchItemResult `json:"results"`
	Failed  int               `json:"failed_count"`
}

// PublishBatch sends up to 100 events in one request. Individual events
// can fail without failing the batch; check Failed and per-item errors.
func (c *Client) PublishBatch(reqs []PublishRequest) (*BatchResponse, error) {
	body, err := json.Marshal(map[string]any{"events": reqs})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest("POST", c.server+"/api/v1/events/batch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp, "batch publish failed")
	}

	var batchResp BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&batchResp); err != nil {
		return nil, err
	}

	return &batchResp, nil
}

// EventsQueryOptions configures event history queries.
type EventsQueryOptions struct {
	Topic  string
	Type   string
	Source string
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}

// EventsListResponse is the response from listing events.
type EventsListResponse struct {
	Events  []Event `json:"events"`
	Total   int     `json:"total"`
	Count   int     `json:"count"`
	HasMore bool    `json:"has_more"`
}

// EventsList queries stored events.
func (c *Client) EventsList(opts EventsQueryOptions) (*EventsListResponse, error) {
	u, _ := url.Parse(c.server + "/api/v1/events")
	q := u.Query()

	if opts.Topic != "" {
		q.Set("topic", opts.Topic)
	}
	if opts.Type != "" {
		q.Set("type", opts.Type)
	}
	if opts.Source != "" {
		q.Set("source", opts.Source)
	}
	if !opts.Since.IsZero() {
		q.Set("since", opts.Since.Format(time.RFC3339))
	}
	if !opts.Until.IsZero() {
		q.Set("until", opts.Until.Format(time.RFC3339))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return nil, err
	}
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp, "failed to list events")
	}

	var result EventsListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}
