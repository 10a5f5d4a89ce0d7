package client

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// TopicInfo describes a known topic.
type TopicInfo struct {
	Name            string     `json:"name"`
	SubscriberCount int        `json:"subscriber_count"`
	EventCount      int64      `json:"event_count"`
	LastEvent       *time.Time `json:"last_event,omitempty"`
	HasSchema       bool       `json:"has_schema"`
}

// TopicsListResponse is the response from listing topics.
type TopicsListResponse struct {
	Topics []TopicInfo `json:"topics"`
	Count  int         `json:"count"`
}

// TopicsList lists all known topics.
func (c *Client) TopicsList() (*TopicsListResponse, error) {
	req, err := http.NewRequest("GET", c.server+"/api/v1/topics", nil)
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
		return nil, errorFromResponse(resp, "failed to list topics")
	}

	var result TopicsListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

// TopicRegister registers a topic, optionally with a JSON schema that
// published payloads must satisfy.
func (c *Client) TopicRegister(name string, schema json.RawMessage) error {
	body, err := json.Marshal(map[string]any{
		"name":   name,
		"schema": schema,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", c.server+"/api/v1/topics", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return errorFromResponse(resp, "failed to register topic")
	}

	return nil
}
