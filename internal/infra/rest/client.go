package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"copytrade_go/internal/domain"
	"copytrade_go/internal/infra"
	"copytrade_go/internal/infra/httputil"
)

const maxBodyBytes = 4 << 20

var (
	_ domain.HistoryFetcher    = (*Client)(nil)
	_ domain.BalanceFetcher    = (*Client)(nil)
	_ domain.MembershipFetcher = (*Client)(nil)
	_ domain.ConnectionRemote  = (*Client)(nil)
	_ domain.TradeSubmitter    = (*Client)(nil)
	_ domain.PreferenceRemote  = (*Client)(nil)
	_ domain.PriceFetcher      = (*Client)(nil)
)

// Client is the copy-trading REST API client. It implements every pull and
// command collaborator the desk needs: history, balances, membership,
// lifecycle transitions, trade submission and favorites.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	writeRetry httputil.RetryConfig
	logger     *slog.Logger
}

// NewClient creates a client from the api section of cfg.
func NewClient(cfg *infra.Config) *Client {
	writeRetry := httputil.DefaultRetry
	if cfg.API.MaxAttempts > 0 {
		writeRetry.MaxAttempts = cfg.API.MaxAttempts
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.API.BaseURL, "/"),
		token:   cfg.API.Token,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout(),
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		writeRetry: writeRetry,
		logger:     slog.Default().With("module", "rest_client"),
	}
}

// FetchHistory fetches one page of trade history for the query's subject.
// Records that fail validation are dropped.
func (c *Client) FetchHistory(ctx context.Context, q domain.HistoryQuery) (domain.HistoryPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(max(q.Page, 1)))
	if q.PageSize > 0 {
		query.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if q.SortBy != "" {
		query.Set("sortBy", q.SortBy)
	}
	if q.SortDir != "" {
		query.Set("sortDir", string(q.SortDir))
	}

	var resp historyResponse
	path := pathTrades + url.PathEscape(q.SubjectKey)
	if err := c.call(ctx, "fetch_history", q.SubjectKey, httputil.NoRetry, http.MethodGet, path, query, nil, &resp); err != nil {
		return domain.HistoryPage{}, err
	}

	page := domain.HistoryPage{
		Items:      make([]domain.TradeEvent, 0, len(resp.Items)),
		TotalCount: resp.TotalCount,
	}
	for _, rec := range resp.Items {
		ev, err := rec.ToEvent(q.SubjectKey)
		if err != nil {
			c.logger.Warn("Dropping malformed history record", "subject", q.SubjectKey, "error", err)
			continue
		}
		page.Items = append(page.Items, ev)
	}
	return page, nil
}

// FetchBalance fetches the SOL balance of one wallet.
func (c *Client) FetchBalance(ctx context.Context, address string) (domain.BalanceQuote, error) {
	var resp balanceResponse
	path := pathWallets + url.PathEscape(address) + "/balance"
	if err := c.call(ctx, "fetch_balance", address, httputil.NoRetry, http.MethodGet, path, nil, nil, &resp); err != nil {
		return domain.BalanceQuote{}, err
	}
	return domain.BalanceQuote{SolBalance: resp.SolBalance, SolBalanceUSD: resp.SolBalanceUSD}, nil
}

// FetchSolPrice fetches the current SOL/USD price.
func (c *Client) FetchSolPrice(ctx context.Context) (decimal.Decimal, error) {
	var resp priceResponse
	if err := c.call(ctx, "fetch_sol_price", "", httputil.NoRetry, http.MethodGet, pathSolPrice, nil, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.PriceUSD, nil
}

// FetchMembership pulls the master's connections and groups.
// Connections with an unknown status or missing identity are dropped.
func (c *Client) FetchMembership(ctx context.Context, masterID string) ([]domain.Connection, []domain.Group, error) {
	var resp membershipResponse
	path := pathMasters + url.PathEscape(masterID) + "/connections"
	if err := c.call(ctx, "fetch_membership", masterID, httputil.NoRetry, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, nil, err
	}

	conns := make([]domain.Connection, 0, len(resp.Connections))
	for _, rec := range resp.Connections {
		status, ok := domain.ParseConnectionStatus(rec.Status)
		if !ok {
			c.logger.Warn("Dropping connection with unknown status", "member", rec.MemberID, "status", rec.Status)
			continue
		}
		conn := domain.Connection{
			MemberID:       rec.MemberID,
			MemberAddress:  rec.MemberAddress,
			Status:         status,
			JoinedGroupIDs: rec.JoinedGroupIDs,
		}
		if err := conn.Validate(); err != nil {
			c.logger.Warn("Dropping malformed connection", "error", err)
			continue
		}
		conns = append(conns, conn)
	}

	groups := make([]domain.Group, 0, len(resp.Groups))
	for _, g := range resp.Groups {
		if g.ID == "" {
			continue
		}
		groups = append(groups, domain.Group{ID: g.ID, Enabled: g.Enabled})
	}
	return conns, groups, nil
}

// Connect asks the remote to start copying for memberID.
func (c *Client) Connect(ctx context.Context, memberID string) error {
	return c.transition(ctx, "connect", memberID)
}

// Pause asks the remote to pause copying for memberID.
func (c *Client) Pause(ctx context.Context, memberID string) error {
	return c.transition(ctx, "pause", memberID)
}

// Disconnect asks the remote to end the relationship with memberID.
func (c *Client) Disconnect(ctx context.Context, memberID string) error {
	return c.transition(ctx, "disconnect", memberID)
}

// Reconnect asks the remote to resume a paused or disconnected relationship.
func (c *Client) Reconnect(ctx context.Context, memberID string) error {
	return c.transition(ctx, "reconnect", memberID)
}

// transition is sent once; capital-affecting commands are never replayed.
func (c *Client) transition(ctx context.Context, action, memberID string) error {
	path := pathConnections + url.PathEscape(memberID) + "/" + action
	return c.call(ctx, action, memberID, httputil.NoRetry, http.MethodPost, path, nil, nil, nil)
}

// SubmitTrade sends the trade for every member in the payload.
func (c *Client) SubmitTrade(ctx context.Context, p domain.TradePayload) (domain.TradeResult, error) {
	req := submitTradeRequest{
		ClientOrderID: p.ClientOrderID,
		Side:          strings.ToLower(string(p.Side)),
		Token:         p.TokenAddress,
		Quantity:      p.Quantity,
		Price:         p.Price,
		MemberIDs:     p.MemberIDs,
	}

	var resp submitTradeResponse
	if err := c.call(ctx, "submit_trade", p.TokenAddress, httputil.NoRetry, http.MethodPost, pathSubmitTrade, nil, req, &resp); err != nil {
		return domain.TradeResult{}, err
	}
	return domain.TradeResult{Success: resp.Success, Message: resp.Message}, nil
}

// SetFavorite stores the favorite flag remotely. The PUT is idempotent and retried.
func (c *Client) SetFavorite(ctx context.Context, tokenAddress string, favorite bool) error {
	path := pathTokens + url.PathEscape(tokenAddress) + "/favorite"
	return c.call(ctx, "set_favorite", tokenAddress, c.writeRetry, http.MethodPut, path, nil, favoriteRequest{Favorite: favorite}, nil)
}

// call performs one API request and classifies the outcome: transport
// failures and 5xx become TransientFetchError, 4xx become RemoteRejectionError.
func (c *Client) call(ctx context.Context, op, key string, retry httputil.RetryConfig, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		payload = b
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	resp, err := httputil.Do(ctx, c.httpClient, retry, func() (*http.Request, error) {
		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequest(method, reqURL, r)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		return req, nil
	})
	if err != nil {
		infra.GlobalMetrics.RecordFetchError()
		return domain.NewTransientFetchError(op, key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domain.NewTransientFetchError(op, key, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 400 {
		reason := rejectionReason(resp.StatusCode, data)
		c.logger.Warn("Request rejected", "op", op, "key", key, "status", resp.StatusCode, "reason", reason)
		return &domain.RemoteRejectionError{Op: op, Key: key, Reason: reason}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return domain.NewTransientFetchError(op, key, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func rejectionReason(status int, body []byte) string {
	var er errorResponse
	if json.Unmarshal(body, &er) == nil {
		if er.Message != "" {
			return er.Message
		}
		if er.Error != "" {
			return er.Error
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" && len(s) <= 200 {
		return s
	}
	return http.StatusText(status)
}
