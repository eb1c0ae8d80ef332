package openmcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Connect may wait for the user, so keep it generous.
const DefaultHTTPTimeout = 3 * time.Minute

// Client wraps the HTTP interactions with the walletd control API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Status is the orchestrator state reported by walletd.
type Status struct {
	Adapter   string `json:"adapter"`
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	SessionID string `json:"session_id,omitempty"`
	Identity  string `json:"identity,omitempty"`
}

// UserInfo mirrors the profile record returned for the connected user.
type UserInfo struct {
	Email        string `json:"email,omitempty"`
	Name         string `json:"name,omitempty"`
	ProfileImage string `json:"profile_image,omitempty"`
	Verifier     string `json:"verifier,omitempty"`
	VerifierID   string `json:"verifier_id,omitempty"`
}

// Account is the on-chain view of the connected account.
type Account struct {
	Address string   `json:"address"`
	Balance *big.Int `json:"balance"`
	Nonce   uint64   `json:"nonce"`
	Chain   struct {
		ChainID     string `json:"chain_id"`
		BlockNumber string `json:"block_number"`
		Notes       string `json:"notes,omitempty"`
	} `json:"chain"`
}

// Record is one lifecycle event relayed by walletd.
type Record struct {
	ID             string    `json:"id"`
	Adapter        string    `json:"adapter"`
	Event          string    `json:"event"`
	SessionID      string    `json:"session_id,omitempty"`
	Reconnected    bool      `json:"reconnected,omitempty"`
	AgentInitiated bool      `json:"agent_initiated,omitempty"`
	ErrorCode      string    `json:"error_code,omitempty"`
	Error          string    `json:"error,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("walletd api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("walletd api error (%d): %s", e.StatusCode, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// NewClient instantiates a client for the walletd API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, dialer: websocket.DefaultDialer}, nil
}

// Status returns the current orchestrator state.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	err := c.get(ctx, "/api/v1/wallet/status", nil, &status)
	return status, err
}

// Connect runs the wallet handshake and returns the resulting state.
func (c *Client) Connect(ctx context.Context) (Status, error) {
	var status Status
	err := c.post(ctx, "/api/v1/wallet/connect", &status)
	return status, err
}

// Disconnect ends the wallet session.
func (c *Client) Disconnect(ctx context.Context) (Status, error) {
	var status Status
	err := c.post(ctx, "/api/v1/wallet/disconnect", &status)
	return status, err
}

// UserInfo fetches the profile of the connected user.
func (c *Client) UserInfo(ctx context.Context) (UserInfo, error) {
	var info UserInfo
	err := c.get(ctx, "/api/v1/wallet/userinfo", nil, &info)
	return info, err
}

// Account reads balance and nonce of the connected account.
func (c *Client) Account(ctx context.Context) (Account, error) {
	var account Account
	err := c.get(ctx, "/api/v1/wallet/account", nil, &account)
	return account, err
}

// Events lists recent lifecycle records, oldest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Record, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var records []Record
	err := c.get(ctx, "/api/v1/wallet/events", query, &records)
	return records, err
}

// Stream delivers lifecycle records as they happen until ctx is cancelled
// or the connection drops.
func (c *Client) Stream(ctx context.Context, handle func(Record)) error {
	u := c.endpoint("/api/v1/wallet/events/stream", nil)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return decodeError(resp)
		}
		return fmt.Errorf("dial event stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		var rec Record
		if err := conn.ReadJSON(&rec); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read event stream: %w", err)
		}
		handle(rec)
	}
}

func (c *Client) post(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(endpoint, nil).String(), http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(endpoint, query).String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) endpoint(endpoint string, query url.Values) *url.URL {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	return c.baseURL.ResolveReference(rel)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, apiErr)
	}
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return apiErr
}
