package client

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// StatsResponse is the broker-wide statistics snapshot.
type StatsResponse struct {
	PublishedTotal      int64            `json:"published_total"`
	PerTopic            map[string]int64 `json:"per_topic"`
	Delivered           int64            `json:"delivered"`
	Failed              int64            `json:"failed"`
	Retries             int64            `json:"retries"`
	DeadLetters         int64            `json:"dead_letters"`
	ActiveSubscriptions int64            `json:"active_subscriptions"`
	PendingRetries      int              `json:"pending_retries"`
	LatencyP50MS        int64            `json:"latency_p50_ms"`
	LatencyP95MS        int64            `json:"latency_p95_ms"`
	LatencyP99MS        int64            `json:"latency_p99_ms"`
	TopTopics           []string         `json:"top_topics"`
}

// Stats retrieves broker statistics. top limits the number of
// highest-volume topics returned (0 uses the server default).
func (c *Client) Stats(top int) (*StatsResponse, error) {
	u, _ := url.Parse(c.server + "/api/v1/stats")
	if top > 0 {
		q := u.Query()
		q.Set("top", strconv.Itoa(top))
		u.RawQuery = q.Encode()
	}

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
		return nil, errorFromResponse(resp, "failed to get stats")
	}

	var stats StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, err
	}

	return &stats, nil
}
