package starforgesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Starforge HTTP API client.
type Client struct {
	BaseURL     string
	GalaxyID    string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, galaxyID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		GalaxyID: galaxyID,
		Timeout:  10 * time.Second,
	}
}

// Issue represents the API issue model (partial).
type Issue struct {
	ID             string   `json:"id"`
	GalaxyID       string   `json:"galaxy_id"`
	Title          string   `json:"title"`
	AuthorID       string   `json:"author_id"`
	ContributorID  *string  `json:"contributor_id,omitempty"`
	Sunshines      float64  `json:"sunshines"`
	Stars          float64  `json:"stars"`
	ListHistory    []string `json:"list_history"`
	SolarForgeTxid *string  `json:"solar_forge_txid,omitempty"`
}

// StakeholderAward is one stakeholder's share of a forge.
type StakeholderAward struct {
	ID           string   `json:"id"`
	Roles        []string `json:"roles"`
	StarsAwarded float64  `json:"stars_awarded"`
}

// ForgeResult is the outcome of forging one issue.
type ForgeResult struct {
	IssueID           string             `json:"issue_id"`
	ForgeRecordID     string             `json:"forge_record_id"`
	SunshinesConsumed float64            `json:"sunshines_consumed"`
	TotalStars        float64            `json:"total_stars"`
	Stakeholders      []StakeholderAward `json:"stakeholders"`
}

// VersionForgeResult is the merged outcome of a batch forge.
type VersionForgeResult struct {
	VersionID              string             `json:"version_id"`
	Tag                    string             `json:"tag"`
	Stakeholders           []StakeholderAward `json:"stakeholders"`
	TotalIssuesProcessed   int                `json:"total_issues_processed"`
	TotalSunshinesConsumed float64            `json:"total_sunshines_consumed"`
	TotalStarsAwarded      float64            `json:"total_stars_awarded"`
}

// Version represents the API version model.
type Version struct {
	ID       string `json:"id"`
	GalaxyID string `json:"galaxy_id"`
	Tag      string `json:"tag"`
	Status   string `json:"status"`
}

// ReleaseOutcome pairs a version with its forge summary.
type ReleaseOutcome struct {
	Version Version             `json:"version"`
	Forge   *VersionForgeResult `json:"forge,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	GalaxyID   string `json:"galaxy_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateIssue creates an issue, optionally pre-funded with sunshines.
func (c *Client) CreateIssue(ctx context.Context, title string, sunshines float64) (Issue, error) {
	body := map[string]any{
		"title":     title,
		"sunshines": sunshines,
	}
	var resp Issue
	endpoint := fmt.Sprintf("v0/galaxies/%s/issues", url.PathEscape(c.GalaxyID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// FundIssue allocates sunshines from a funder onto an issue.
func (c *Client) FundIssue(ctx context.Context, issueID, funderID string, amount float64) (Issue, error) {
	body := map[string]any{
		"funder_id": funderID,
		"amount":    amount,
	}
	var resp Issue
	endpoint := fmt.Sprintf("v0/issues/%s/fund", url.PathEscape(issueID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ForgeIssue converts an issue's sunshines into stars.
func (c *Client) ForgeIssue(ctx context.Context, issueID string) (ForgeResult, error) {
	var resp ForgeResult
	endpoint := fmt.Sprintf("v0/issues/%s/forge", url.PathEscape(issueID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// SetVersionStatus assigns a version status. Setting release triggers
// the batch forge and returns its summary in the outcome.
func (c *Client) SetVersionStatus(ctx context.Context, versionID, status string, force bool) (ReleaseOutcome, error) {
	body := map[string]any{"status": status}
	var resp ReleaseOutcome
	endpoint := fmt.Sprintf("v0/versions/%s/status", url.PathEscape(versionID))
	if force {
		endpoint += "?force=true"
	}
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

// ForgeVersion batch forges every patched issue in a version.
func (c *Client) ForgeVersion(ctx context.Context, versionID string) (VersionForgeResult, error) {
	var resp VersionForgeResult
	endpoint := fmt.Sprintf("v0/versions/%s/forge", url.PathEscape(versionID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events returns log entries after the given cursor.
func (c *Client) Events(ctx context.Context, after int64, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("v0/events?galaxy_id=%s&after=%d", url.QueryEscape(c.GalaxyID), after)
	if limit > 0 {
		endpoint = fmt.Sprintf("%s&limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
