package client

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// SubscriptionStats are cumulative delivery counters for a subscription.
type SubscriptionStats struct {
	Delivered    int64      `json:"delivered"`
	Failed       int64      `json:"failed"`
	Retried      int64      `json:"retried"`
	DeadLetter   int64      `json:"dead_letter"`
	LastDelivery *time.Time `json:"last_delivery,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// Subscription represents a registered subscription.
type Subscription struct {
	ID             string            `json:"id"`
	CallerID       string            `json:"caller_id"`
	Topic          string            `json:"topic"`
	Endpoint       string            `json:"endpoint"`
	ConnectionType string            `json:"connection_type"`
	Filter         json.RawMessage   `json:"filter,omitempty"`
	Options        json.RawMessage   `json:"options,omitempty"`
	Description    string            `json:"description,omitempty"`
	Status         string            `json:"status"`
	Stats          SubscriptionStats `json:"stats"`
	CreatedAt      time.Time         `json:"created_at"`
	CancelledAt    *time.Time        `json:"cancelled_at,omitempty"`
	QueueDepth     int               `json:"queue_depth,omitempty"`
}

// CreateSubscriptionRequest registers a new subscription.
type CreateSubscriptionRequest struct {
	Topic          string          `json:"topic"`
	Endpoint       string          `json:"endpoint,omitempty"`
	ConnectionType string          `json:"connection_type"`
	Filter         json.RawMessage `json:"filter,omitempty"`
	Options        json.RawMessage `json:"options,omitempty"`
	Description    string          `json:"description,omitempty"`
}

// SubscriptionsListResponse is the response from listing subscriptions.
type SubscriptionsListResponse struct {
	Subscriptions []Subscription `json:"subscriptions"`
	Count         int            `json:"count"`
}

// SubscriptionCreate registers a new subscription.
func (c *Client) SubscriptionCreate(req CreateSubscriptionRequest) (*Subscription, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest("POST", c.server+"/api/v1/subscriptions", bytes.NewReader(body))
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

	if resp.StatusCode != http.StatusCreated {
		return nil, errorFromResponse(resp, "failed to create subscription")
	}

	var sub Subscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, err
	}

	return &sub, nil
}

// SubscriptionsList lists the caller's subscriptions.
func (c *Client) SubscriptionsList() (*SubscriptionsListResponse, error) {
	req, err := http.NewRequest("GET", c.server+"/api/v1/subscriptions", nil)
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
		return nil, errorFromResponse(resp, "failed to list subscriptions")
	}

	var result SubscriptionsListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

// SubscriptionGet retrieves one subscription, including its live queue depth.
func (c *Client) SubscriptionGet(id string) (*Subscription, error) {
	req, err := http.NewRequest("GET", c.server+"/api/v1/subscriptions/"+id, nil)
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
		return nil, errorFromResponse(resp, "failed to get subscription")
	}

	var sub Subscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, err
	}

	return &sub, nil
}

// SubscriptionCancel cancels a subscription. Cancelling twice is a no-op.
func (c *Client) SubscriptionCancel(id string) error {
	return c.subscriptionAction("DELETE", id, "", "failed to cancel subscription")
}

// SubscriptionPause stops delivery without losing queued events.
func (c *Client) SubscriptionPause(id string) error {
	return c.subscriptionAction("POST", id, "/pause", "failed to pause subscription")
}

// SubscriptionResume resumes a paused or errored subscription.
func (c *Client) SubscriptionResume(id string) error {
	return c.subscriptionAction("POST", id, "/resume", "failed to resume subscription")
}

func (c *Client) subscriptionAction(method, id, suffix, fallback string) error {
	req, err := http.NewRequest(method, c.server+"/api/v1/subscriptions/"+id+suffix, nil)
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
		return errorFromResponse(resp, fallback)
	}

	return nil
}
