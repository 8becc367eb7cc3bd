package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// Experience is one work-history entry on a profile.
type Experience struct {
	CompanyName    string   `json:"company_name"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Location       string   `json:"location,omitempty"`
	Skills         []string `json:"skills,omitempty"`
	EmploymentType string   `json:"employment_type,omitempty"`
}

// Education is one education entry on a profile.
type Education struct {
	Institution  string `json:"institution"`
	Degree       string `json:"degree"`
	FieldOfStudy string `json:"field_of_study,omitempty"`
}

// Profile is a professional-network member profile.
type Profile struct {
	ID             string       `json:"id"`
	ProfileURL     string       `json:"linkedin_url"`
	FullName       string       `json:"full_name"`
	Headline       string       `json:"headline,omitempty"`
	Summary        string       `json:"summary,omitempty"`
	Location       string       `json:"location,omitempty"`
	Experience     []Experience `json:"experience,omitempty"`
	Education      []Education  `json:"education,omitempty"`
	Skills         []string     `json:"skills,omitempty"`
	Certifications []string     `json:"certifications,omitempty"`
	Languages      []string     `json:"languages,omitempty"`
}

// SearchResult is one page of profile search results.
type SearchResult struct {
	Profiles   []Profile `json:"profiles"`
	Total      int       `json:"total"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// searchResponse is the upstream wire format for search responses.
type searchResponse struct {
	Elements []Profile `json:"elements"`
	Total    int       `json:"total"`
	Next     string    `json:"next"`
}

// SearchProfiles searches member profiles matching criteria. criteria is an
// opaque set of search parameters serialized into the q query parameter;
// limit caps the page size and cursor resumes a previous page. The call is
// idempotent and safe to retry.
func (c *Client) SearchProfiles(ctx context.Context, criteria map[string]any, limit int, cursor string) (*SearchResult, error) {
	if len(criteria) == 0 {
		return nil, fmt.Errorf("search criteria cannot be empty")
	}
	if limit <= 0 {
		limit = 10
	}

	q, err := json.Marshal(criteria)
	if err != nil {
		return nil, fmt.Errorf("encode search criteria: %w", err)
	}

	params := url.Values{}
	params.Set("q", string(q))
	params.Set("count", strconv.Itoa(limit))
	if cursor != "" {
		params.Set("start", cursor)
	}

	var resp searchResponse
	if err := c.GetJSON(ctx, SearchPath, params, &resp); err != nil {
		return nil, err
	}

	return &SearchResult{
		Profiles:   resp.Elements,
		Total:      resp.Total,
		NextCursor: resp.Next,
	}, nil
}

// GetProfile fetches a single member profile by ID.
func (c *Client) GetProfile(ctx context.Context, id string) (*Profile, error) {
	if id == "" {
		return nil, fmt.Errorf("profile id cannot be empty")
	}

	var profile Profile
	if err := c.GetJSON(ctx, ProfilePath+"/"+url.PathEscape(id), nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Health probes the upstream health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.GetJSON(ctx, HealthPath, nil, nil)
}
