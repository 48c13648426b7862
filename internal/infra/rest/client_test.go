package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"copytrade_go/internal/domain"
	"copytrade_go/internal/infra"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := &infra.Config{}
	cfg.API.BaseURL = srv.URL + "/"
	cfg.API.Token = "tok"
	cfg.API.TimeoutSec = 5
	cfg.API.MaxAttempts = 1
	return NewClient(cfg)
}

func TestFetchHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/trades/TOKEN" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("page") != "1" || q.Get("pageSize") != "20" || q.Get("sortBy") != "timestamp" || q.Get("sortDir") != "desc" {
			t.Errorf("query = %v", q)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"totalCount":3,"items":[
			{"txHash":"a","timestamp":2000,"side":"buy","priceUsd":1.2,"amount":5},
			{"txHash":"","timestamp":1500,"side":"sell"},
			{"txHash":"b","timestamp":1000,"side":"SELL","walletAddress":"w1"}
		]}`))
	})

	page, err := c.FetchHistory(context.Background(), domain.HistoryQuery{
		SubjectKey: "TOKEN", Page: 1, PageSize: 20, SortBy: "timestamp", SortDir: domain.SortDesc,
	})
	if err != nil {
		t.Fatalf("FetchHistory() error = %v", err)
	}
	if page.TotalCount != 3 || len(page.Items) != 2 {
		t.Fatalf("page = %+v, want 2 valid items", page)
	}
	if page.Items[0].ID != "a" || page.Items[0].SubjectKey != "TOKEN" || page.Items[1].Side != domain.SideSell {
		t.Errorf("items = %+v", page.Items)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		reason    string
	}{
		{"server error", http.StatusBadGateway, "down", true, ""},
		{"client error with message", http.StatusBadRequest, `{"message":"insufficient balance"}`, false, "insufficient balance"},
		{"client error plain", http.StatusForbidden, "", false, "Forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.FetchBalance(context.Background(), "w1")
			if tt.transient {
				var tfe *domain.TransientFetchError
				if !errors.As(err, &tfe) || tfe.Op != "fetch_balance" || tfe.Key != "w1" {
					t.Fatalf("error = %v, want TransientFetchError", err)
				}
				return
			}
			var rre *domain.RemoteRejectionError
			if !errors.As(err, &rre) {
				t.Fatalf("error = %v, want RemoteRejectionError", err)
			}
			if rre.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", rre.Reason, tt.reason)
			}
		})
	}
}

func TestTransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := &infra.Config{}
	cfg.API.BaseURL = srv.URL
	srv.Close()

	err := NewClient(cfg).Connect(context.Background(), "m1")
	if !domain.IsRetriable(err) {
		t.Errorf("error = %v, want retriable", err)
	}
}

func TestFetchBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/wallets/w1/balance" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"solBalance":2.5,"solBalanceUsd":375}`))
	})

	q, err := c.FetchBalance(context.Background(), "w1")
	if err != nil {
		t.Fatalf("FetchBalance() error = %v", err)
	}
	if q.SolBalance != 2.5 || q.SolBalanceUSD != 375 {
		t.Errorf("quote = %+v", q)
	}
}

func TestFetchMembership(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/copy-trading/masters/master-1/connections" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"connections":[
				{"memberId":"m1","memberAddress":"w1","status":"CONNECTED","joinedGroupIds":["A"]},
				{"memberId":"m2","memberAddress":"w2","status":"not_connected"},
				{"memberId":"m3","memberAddress":"w3","status":"exploded"},
				{"memberId":"m4","status":"paused"}
			],
			"groups":[{"id":"A","enabled":true},{"id":"","enabled":true},{"id":"B"}]
		}`))
	})

	conns, groups, err := c.FetchMembership(context.Background(), "master-1")
	if err != nil {
		t.Fatalf("FetchMembership() error = %v", err)
	}
	if len(conns) != 2 {
		t.Fatalf("connections = %+v, want m1 and m2", conns)
	}
	if conns[0].Status != domain.StatusConnected || conns[1].Status != domain.StatusNotConnected {
		t.Errorf("statuses = %v, %v", conns[0].Status, conns[1].Status)
	}
	if len(groups) != 2 || !groups[0].Enabled || groups[1].Enabled {
		t.Errorf("groups = %+v", groups)
	}
}

func TestTransitions(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		mu.Lock()
		got = append(got, r.URL.Path)
		mu.Unlock()
	})

	ctx := context.Background()
	for _, fn := range []func(context.Context, string) error{c.Connect, c.Pause, c.Reconnect, c.Disconnect} {
		if err := fn(ctx, "m1"); err != nil {
			t.Fatalf("transition error = %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		"/api/copy-trading/connections/m1/connect",
		"/api/copy-trading/connections/m1/pause",
		"/api/copy-trading/connections/m1/reconnect",
		"/api/copy-trading/connections/m1/disconnect",
	}
	if len(got) != len(want) {
		t.Fatalf("paths = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("path[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSubmitTrade(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/copy-trading/trades" || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("request = %s %s", r.URL.Path, r.Header.Get("Content-Type"))
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if body["side"] != "buy" || body["quantity"] != "1.5" || body["clientOrderId"] != "oid-1" {
			t.Errorf("body = %v", body)
		}
		w.Write([]byte(`{"success":false,"message":"slippage"}`))
	})

	res, err := c.SubmitTrade(context.Background(), domain.TradePayload{
		ClientOrderID: "oid-1",
		Side:          domain.SideBuy,
		TokenAddress:  "TOKEN",
		Quantity:      decimal.RequireFromString("1.5"),
		Price:         decimal.Zero,
		MemberIDs:     []string{"m1"},
	})
	if err != nil {
		t.Fatalf("SubmitTrade() error = %v", err)
	}
	if res.Success || res.Message != "slippage" {
		t.Errorf("result = %+v", res)
	}
}

func TestSetFavoriteRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Method != http.MethodPut || string(body) != `{"favorite":true}` {
			t.Errorf("request = %s %s", r.Method, body)
		}
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := &infra.Config{}
	cfg.API.BaseURL = srv.URL
	cfg.API.MaxAttempts = 2
	c := NewClient(cfg)

	if err := c.SetFavorite(context.Background(), "BONK", true); err != nil {
		t.Fatalf("SetFavorite() error = %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
}

func TestFetchSolPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/prices/sol" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"priceUsd":"151.25"}`))
	})

	price, err := c.FetchSolPrice(context.Background())
	if err != nil {
		t.Fatalf("FetchSolPrice() error = %v", err)
	}
	if !price.Equal(decimal.RequireFromString("151.25")) {
		t.Errorf("price = %v", price)
	}
}
