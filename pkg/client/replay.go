package client

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// ReplayRequest starts a historical replay.
type ReplayRequest struct {
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
	Topic           string    `json:"topic,omitempty"`
	SubscriptionIDs []string  `json:"subscription_ids,omitempty"`
	Speed           float64   `json:"speed,omitempty"`
}

// ReplayInfo describes a replay run.
type ReplayInfo struct {
	ID              string     `json:"id"`
	State           string     `json:"state"`
	From            time.Time  `json:"from"`
	To              time.Time  `json:"to"`
	Topic           string     `json:"topic,omitempty"`
	SubscriptionIDs []string   `json:"subscription_ids,omitempty"`
	Speed           float64    `json:"speed"`
	EventsToReplay  int64      `json:"events_to_replay"`
	EventsReplayed  int64      `json:"events_replayed"`
	EstimatedMS     int64      `json:"estimated_duration_ms"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// ReplaysListResponse is the response from listing replays.
type ReplaysListResponse struct {
	Replays []ReplayInfo `json:"replays"`
	Count   int          `json:"count"`
}

// ReplayStart begins replaying stored events through matching
// subscriptions.
func (c *Client) ReplayStart(req ReplayRequest) (*ReplayInfo, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest("POST", c.server+"/api/v1/replays", bytes.NewReader(body))
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
		return nil, errorFromResponse(resp, "failed to start replay")
	}

	var info ReplayInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}

	return &info, nil
}

// ReplaysList lists replay runs, newest first.
func (c *Client) ReplaysList() (*ReplaysListResponse, error) {
	req, err := http.NewRequest("GET", c.server+"/api/v1/replays", nil)
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
		return nil, errorFromResponse(resp, "failed to list replays")
	}

	var result ReplaysListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

// ReplayGet retrieves the state of one replay run.
func (c *Client) ReplayGet(id string) (*ReplayInfo, error) {
	req, err := http.NewRequest("GET", c.server+"/api/v1/replays/"+id, nil)
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
		return nil, errorFromResponse(resp, "failed to get replay")
	}

	var info ReplayInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}

	return &info, nil
}

// ReplayCancel stops a running replay.
func (c *Client) ReplayCancel(id string) error {
	req, err := http.NewRequest("POST", c.server+"/api/v1/replays/"+id+"/cancel", nil)
	if err != nil {
		return err
	}
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errorFromResponse(resp, "failed to cancel replay")
	}

	return nil
}
