package gigescrowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal gigescrow HTTP API client. Every call acts as the
// party the credentials belong to.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credentials are set. Servers only
	// honor it with the legacy header enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// As returns a copy of the client that authenticates with the legacy actor
// header as actorID.
func (c *Client) As(actorID string) *Client {
	cp := *c
	cp.APIKey = ""
	cp.BearerToken = ""
	cp.ActorID = actorID
	return &cp
}

type Job struct {
	ID               string   `json:"id"`
	ClientID         string   `json:"client_id"`
	FreelancerID     *string  `json:"freelancer_id,omitempty"`
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	Budget           uint64   `json:"budget"`
	Deadline         string   `json:"deadline,omitempty"`
	RequiredSkills   []string `json:"required_skills,omitempty"`
	AttachmentHashes []string `json:"attachment_hashes,omitempty"`
	Status           string   `json:"status"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
}

type Proposal struct {
	ID            string `json:"id"`
	JobID         string `json:"job_id"`
	FreelancerID  string `json:"freelancer_id"`
	Price         uint64 `json:"price"`
	EstimatedTime string `json:"estimated_time,omitempty"`
	CoverLetter   string `json:"cover_letter,omitempty"`
	Status        string `json:"status"`
}

type Milestone struct {
	ID          string  `json:"id"`
	JobID       string  `json:"job_id"`
	Description string  `json:"description,omitempty"`
	Amount      uint64  `json:"amount"`
	Deadline    string  `json:"deadline,omitempty"`
	Status      string  `json:"status"`
	PaymentID   *string `json:"payment_id,omitempty"`
}

type Payment struct {
	ID           string `json:"id"`
	JobID        string `json:"job_id"`
	MilestoneID  string `json:"milestone_id"`
	ClientID     string `json:"client_id"`
	FreelancerID string `json:"freelancer_id"`
	Amount       uint64 `json:"amount"`
	Status       string `json:"status"`
	Payout       uint64 `json:"payout"`
	Fee          uint64 `json:"fee"`
}

type Settlement struct {
	Milestone Milestone `json:"milestone"`
	Payment   Payment   `json:"payment"`
	Payout    uint64    `json:"payout"`
	Fee       uint64    `json:"fee"`
	JobStatus string    `json:"job_status"`
}

type Review struct {
	ID         string `json:"id"`
	JobID      string `json:"job_id"`
	ReviewerID string `json:"reviewer_id"`
	RevieweeID string `json:"reviewee_id"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment,omitempty"`
}

type Reputation struct {
	PartyID     string  `json:"party_id"`
	TotalRating uint64  `json:"total_rating"`
	ReviewCount uint64  `json:"review_count"`
	Average     float64 `json:"average"`
}

type Account struct {
	PartyID string `json:"party_id"`
	Balance uint64 `json:"balance"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	JobID      string         `json:"job_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the stable error code from the
// response envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type CreateJobInput struct {
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	Budget           uint64   `json:"budget"`
	Deadline         string   `json:"deadline,omitempty"`
	RequiredSkills   []string `json:"required_skills,omitempty"`
	AttachmentHashes []string `json:"attachment_hashes,omitempty"`
}

func (c *Client) CreateJob(ctx context.Context, in CreateJobInput) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, "jobs", in, &resp)
	return resp, err
}

func (c *Client) GetJob(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodGet, "jobs/"+url.PathEscape(jobID), nil, &resp)
	return resp, err
}

func (c *Client) CancelJob(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, jobPath(jobID, "cancel"), nil, &resp)
	return resp, err
}

func (c *Client) SubmitProposal(ctx context.Context, jobID string, price uint64, estimatedTime, coverLetter string) (Proposal, error) {
	body := map[string]any{
		"price":          price,
		"estimated_time": estimatedTime,
		"cover_letter":   coverLetter,
	}
	var resp Proposal
	err := c.do(ctx, http.MethodPost, jobPath(jobID, "proposals"), body, &resp)
	return resp, err
}

func (c *Client) ListProposals(ctx context.Context, jobID, status string) ([]Proposal, error) {
	endpoint := jobPath(jobID, "proposals")
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Proposal
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AcceptProposal binds the proposal's freelancer and returns the updated job.
func (c *Client) AcceptProposal(ctx context.Context, jobID, proposalID string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, jobPath(jobID, "proposals", proposalID, "accept"), nil, &resp)
	return resp, err
}

func (c *Client) WithdrawProposal(ctx context.Context, jobID, proposalID string) (Proposal, error) {
	var resp Proposal
	err := c.do(ctx, http.MethodPost, jobPath(jobID, "proposals", proposalID, "withdraw"), nil, &resp)
	return resp, err
}

func (c *Client) CreateMilestone(ctx context.Context, jobID string, amount uint64, description string) (Milestone, error) {
	body := map[string]any{"amount": amount, "description": description}
	var resp Milestone
	err := c.do(ctx, http.MethodPost, jobPath(jobID, "milestones"), body, &resp)
	return resp, err
}

func (c *Client) ListMilestones(ctx context.Context, jobID string) ([]Milestone, error) {
	var resp []Milestone
	err := c.do(ctx, http.MethodGet, jobPath(jobID, "milestones"), nil, &resp)
	return resp, err
}

// FundMilestone deposits the milestone amount into escrow.
func (c *Client) FundMilestone(ctx context.Context, jobID, milestoneID string) (Payment, error) {
	var resp Payment
	err := c.do(ctx, http.MethodPost, jobPath(jobID, "milestones", milestoneID, "fund"), nil, &resp)
	return resp, err
}

func (c *Client) ReleaseMilestone(ctx context.Context, jobID, milestoneID string) (Settlement, error) {
	var resp Settlement
	err := c.do(ctx, http.MethodPost, jobPath(jobID, "milestones", milestoneID, "release"), nil, &resp)
	return resp, err
}

func (c *Client) CancelMilestone(ctx context.Context, jobID, milestoneID string) (Milestone, error) {
	var resp Milestone
	err := c.do(ctx, http.MethodPost, jobPath(jobID, "milestones", milestoneID, "cancel"), nil, &resp)
	return resp, err
}

func (c *Client) SubmitReview(ctx context.Context, jobID string, rating int, comment string) (Review, error) {
	body := map[string]any{"rating": rating, "comment": comment}
	var resp Review
	err := c.do(ctx, http.MethodPost, jobPath(jobID, "reviews"), body, &resp)
	return resp, err
}

func (c *Client) Reputation(ctx context.Context, partyID string) (Reputation, error) {
	var resp Reputation
	err := c.do(ctx, http.MethodGet, "reputation/"+url.PathEscape(partyID), nil, &resp)
	return resp, err
}

func (c *Client) Balance(ctx context.Context, partyID string) (Account, error) {
	var resp Account
	err := c.do(ctx, http.MethodGet, "accounts/"+url.PathEscape(partyID), nil, &resp)
	return resp, err
}

// FundAccount credits partyID. Only the deployment owner may call it.
func (c *Client) FundAccount(ctx context.Context, partyID string, amount uint64) (Account, error) {
	var resp Account
	err := c.do(ctx, http.MethodPost, "accounts/"+url.PathEscape(partyID)+"/fund", map[string]any{"amount": amount}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader = http.NoBody
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func jobPath(jobID string, parts ...string) string {
	segs := []string{"jobs", url.PathEscape(jobID)}
	for _, p := range parts {
		segs = append(segs, url.PathEscape(p))
	}
	return strings.Join(segs, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
