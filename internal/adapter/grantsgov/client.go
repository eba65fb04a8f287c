package grantsgov

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"grantradar/features/ingest"
)

const defaultBaseURL = "https://oursggrants.gov.sg"

// Client fetches the published grant metadata feed.
type Client struct {
	client  *http.Client
	baseURL string
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// feedItem mirrors one entry of the explore_grants payload.
type feedItem struct {
	ID              json.Number       `json:"id"`
	Value           string            `json:"value"` // slug
	Name            string            `json:"name"`
	AgencyName      string            `json:"agency_name"`
	Desc            string            `json:"desc"`
	GrantAmount     float64           `json:"grant_amount"`
	Categories      []string          `json:"categories"`
	ApplicableTo    []string          `json:"applicable_to"`
	ClosingDates    map[string]string `json:"closing_dates"`
	Available       map[string]bool   `json:"available"`
	UpdatedAt       string            `json:"updated_at"`
	OriginalURL     string            `json:"original_url"`
	DeactivationURL string            `json:"deactivation_url"`
	CallToActionURL string            `json:"call_to_action_url"`
}

func (c *Client) Fetch(ctx context.Context) ([]ingest.RawGrant, error) {
	url := c.baseURL + "/api/v1/grant_metadata/explore_grants"

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("grants feed error: %d", resp.StatusCode)
	}

	var payload struct {
		GrantMetadata []feedItem `json:"grant_metadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	grants := make([]ingest.RawGrant, 0, len(payload.GrantMetadata))
	for _, item := range payload.GrantMetadata {
		id := item.ID.String()
		if id == "" || item.Value == "" {
			continue
		}
		grants = append(grants, c.toRawGrant(id, item))
	}
	return grants, nil
}

func (c *Client) toRawGrant(id string, item feedItem) ingest.RawGrant {
	raw := ingest.RawGrant{
		ID:             id,
		Name:           item.Name,
		Agency:         item.AgencyName,
		Description:    item.Desc,
		FullText:       feedText(item),
		MaxFunding:     int64(item.GrantAmount),
		IsOpen:         determineIsOpen(item),
		Deadline:       closingSummary(item.ClosingDates),
		OriginalURL:    pickURL(item),
		ApplicationURL: c.baseURL + "/grants/" + item.Value + "/instruction",
	}

	if item.UpdatedAt != "" {
		if t, err := time.Parse("2006-01-02", item.UpdatedAt); err == nil {
			raw.UpdatedAt = &t
		}
	}
	return raw
}

// determineIsOpen derives the open flag from closing_dates and available.
// Any closing status containing "open" wins; otherwise any available
// applicant type wins; closing dates with neither mean closed; no data at
// all defaults to open.
func determineIsOpen(item feedItem) bool {
	for _, status := range item.ClosingDates {
		if strings.Contains(strings.ToLower(status), "open") {
			return true
		}
	}
	for _, available := range item.Available {
		if available {
			return true
		}
	}
	if len(item.ClosingDates) > 0 {
		return false
	}
	return true
}

// closingSummary flattens the per-applicant closing statuses into one
// display string, sorted for stable output.
func closingSummary(closingDates map[string]string) *string {
	if len(closingDates) == 0 {
		return nil
	}
	keys := make([]string, 0, len(closingDates))
	for k := range closingDates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, closingDates[k]))
	}
	s := strings.Join(parts, "; ")
	return &s
}

func pickURL(item feedItem) string {
	if item.OriginalURL != "" {
		return item.OriginalURL
	}
	if item.DeactivationURL != "" {
		return item.DeactivationURL
	}
	return item.CallToActionURL
}

// feedText builds the searchable text for grants whose detail page is never
// scraped. Extraction replaces it when the slow path runs a full pass.
func feedText(item feedItem) string {
	audience := "Not specified"
	if len(item.ApplicableTo) > 0 {
		audience = strings.Join(item.ApplicableTo, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Grant Name: %s\n", item.Name)
	fmt.Fprintf(&b, "Agency: %s\n", item.AgencyName)
	fmt.Fprintf(&b, "Description: %s\n", item.Desc)
	fmt.Fprintf(&b, "Target Audience: %s\n", audience)
	fmt.Fprintf(&b, "Funding Amount: %.0f\n", item.GrantAmount)
	fmt.Fprintf(&b, "Categories: %s\n", strings.Join(item.Categories, ", "))
	return b.String()
}
