package client

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DeliveryAttempt is one recorded delivery attempt.
type DeliveryAttempt struct {
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   string    `json:"outcome"`
	LatencyMS int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
}

// DLQEntry is an event that exhausted its delivery attempts.
type DLQEntry struct {
	ID             string            `json:"id"`
	Event          *Event            `json:"event"`
	SubscriptionID string            `json:"subscription_id"`
	Attempts       []DeliveryAttempt `json:"attempts"`
	LastError      string            `json:"last_error,omitempty"`
	FailedAt       time.Time         `json:"failed_at"`
}

// DLQListResponse is the response from listing dead-letter entries.
type DLQListResponse struct {
	Entries []DLQEntry `json:"entries"`
	Count   int        `json:"count"`
}

// DLQList lists dead-letter entries, optionally scoped to a subscription.
func (c *Client) DLQList(subscriptionID string, limit int) (*DLQListResponse, error) {
	u, _ := url.Parse(c.server + "/api/v1/dlq")
	q := u.Query()
	if subscriptionID != "" {
		q.Set("subscription_id", subscriptionID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
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
		return nil, errorFromResponse(resp, "failed to list DLQ")
	}

	var result DLQListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

// DLQGet retrieves a specific dead-letter entry.
func (c *Client) DLQGet(id string) (*DLQEntry, error) {
	req, err := http.NewRequest("GET", c.server+"/api/v1/dlq/"+id, nil)
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
		return nil, errorFromResponse(resp, "failed to get DLQ entry")
	}

	var entry DLQEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, err
	}

	return &entry, nil
}

// DLQRedrive re-queues one dead-letter entry for delivery.
func (c *Client) DLQRedrive(id string) error {
	req, err := http.NewRequest("POST", c.server+"/api/v1/dlq/"+id+"/redrive", nil)
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
		return errorFromResponse(resp, "failed to redrive DLQ entry")
	}

	return nil
}

// DLQRedriveAll re-queues every dead-letter entry for a subscription.
// Returns the number of entries requeued.
func (c *Client) DLQRedriveAll(subscriptionID string) (int, error) {
	u, _ := url.Parse(c.server + "/api/v1/dlq/redrive-all")
	q := u.Query()
	q.Set("subscription_id", subscriptionID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequest("POST", u.String(), nil)
	if err != nil {
		return 0, err
	}
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, errorFromResponse(resp, "failed to redrive DLQ")
	}

	var result struct {
		Requeued int `json:"requeued"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, err
	}

	return result.Requeued, nil
}

// DLQDelete removes a dead-letter entry without redelivering it.
func (c *Client) DLQDelete(id string) error {
	req, err := http.NewRequest("DELETE", c.server+"/api/v1/dlq/"+id, nil)
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
		return errorFromResponse(resp, "failed to delete DLQ entry")
	}

	return nil
}

// DLQPurge deletes entries older than the given age. Returns the number
// of entries removed.
func (c *Client) DLQPurge(olderThan time.Duration) (int, error) {
	u, _ := url.Parse(c.server + "/api/v1/dlq/purge")
	if olderThan > 0 {
		q := u.Query()
		q.Set("older_than", olderThan.String())
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequest("DELETE", u.String(), nil)
	if err != nil {
		return 0, err
	}
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, errorFromResponse(resp, "failed to purge DLQ")
	}

	var result struct {
		Purged int `json:"purged"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, err
	}

	return result.Purged, nil
}
