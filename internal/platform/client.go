// Package platform is a client for the trading platform's manager API. It
// creates trading accounts, moves balance and reads account state.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/brokerdesk/internal/apperr"
	"github.com/dukerupert/brokerdesk/internal/model"
)

// Kind selects the platform group a new account is created in.
type Kind string

const (
	Demo Kind = "demo"
	Real Kind = "real"
)

func (k Kind) group() string {
	if k == Real {
		return `real\itrade`
	}
	return `demo\itrade`
}

// Balance operation comments recognised by the back office.
const (
	CommentDemoInitial = "demo_initial"
	CommentDemo        = "demo"
	CommentWithdrawal  = "Withdrawal_CRMClient"
	CommentRefund      = "ADJ_Cancel_Refund"
)

// Config holds manager API settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls the manager API. It never retries; every call is a single
// round trip bounded by the configured timeout.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client. Zero values fall back to the local manager
// endpoint and a 15 second timeout.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:3000"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// CreateAccount opens a new trading account and returns its login. The
// password is used for both the main and investor passwords.
func (c *Client) CreateAccount(ctx context.Context, kind Kind, email, password string) (string, error) {
	params := url.Values{
		"group":         {kind.group()},
		"name":          {"N/A"},
		"pass_main":     {password},
		"pass_investor": {password},
		"email":         {email},
	}
	env, err := c.get(ctx, "/api/user/add", params)
	if err != nil {
		return "", fmt.Errorf("create %s account: %w: %w", kind, apperr.ErrProvisioning, err)
	}
	if !env.done() {
		return "", fmt.Errorf("create %s account: %w: retcode %s", kind, apperr.ErrProvisioning, env.retcodeText())
	}
	login := lookupString(env.answerFields(), "login")
	if login == "" {
		return "", fmt.Errorf("create %s account: %w: no login returned", kind, apperr.ErrProvisioning)
	}
	return login, nil
}

// ErrNoTicket is returned when the platform accepts a balance operation but
// reports no deal ticket. The balance has usually moved already.
var ErrNoTicket = fmt.Errorf("%w: no deal ticket returned", apperr.ErrSettlement)

// AdjustBalance applies a signed balance operation and returns its deal
// ticket. An accepted operation without a ticket fails with ErrNoTicket.
func (c *Client) AdjustBalance(ctx context.Context, login string, delta decimal.Decimal, comment string) (string, error) {
	params := url.Values{
		"login":   {login},
		"type":    {"2"},
		"balance": {delta.String()},
		"comment": {comment},
	}
	env, err := c.get(ctx, "/api/trade/balance", params)
	if err != nil {
		return "", fmt.Errorf("adjust balance: %w: %w", apperr.ErrSettlement, err)
	}
	if !env.done() {
		return "", fmt.Errorf("adjust balance: %w: retcode %s", apperr.ErrSettlement, env.retcodeText())
	}
	ticket := env.ticket()
	if ticket == "" {
		return "", fmt.Errorf("adjust balance %s: %w", login, ErrNoTicket)
	}
	return ticket, nil
}

// SeedDemoBalance credits a new demo account with its starting balance. Demo
// credits are not settled, so a missing ticket is accepted.
func (c *Client) SeedDemoBalance(ctx context.Context, login string, amount decimal.Decimal) error {
	if _, err := c.AdjustBalance(ctx, login, amount, CommentDemoInitial); err != nil && !errors.Is(err, ErrNoTicket) {
		return err
	}
	return nil
}

// GetAccount returns the live balance view of a login.
func (c *Client) GetAccount(ctx context.Context, login string) (*model.AccountSummary, error) {
	env, err := c.get(ctx, "/api/user/account/get", url.Values{"login": {login}})
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if !env.done() {
		return nil, fmt.Errorf("get account %s: %w", login, apperr.ErrNotFound)
	}
	return normalizeAccount(login, env.answerFields()), nil
}

// CheckPassword asks the platform whether password matches the login's main
// or investor password.
func (c *Client) CheckPassword(ctx context.Context, login, password, passwordType string) (bool, error) {
	env, err := c.get(ctx, "/api/user/check_password", url.Values{
		"login":    {login},
		"password": {password},
		"type":     {passwordTypeOrMain(passwordType)},
	})
	if err != nil {
		return false, fmt.Errorf("check password: %w", err)
	}
	if env.Valid != nil {
		return env.done() && *env.Valid, nil
	}
	return env.done(), nil
}

// ChangePassword sets a new main or investor password on the platform.
func (c *Client) ChangePassword(ctx context.Context, login, passwordType, password string) error {
	env, err := c.get(ctx, "/api/user/change_password", url.Values{
		"login":    {login},
		"type":     {passwordTypeOrMain(passwordType)},
		"password": {password},
	})
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	if !env.done() {
		return fmt.Errorf("change password: retcode %s", env.retcodeText())
	}
	return nil
}

func passwordTypeOrMain(t string) string {
	if t == "" {
		return "main"
	}
	return t
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*envelope, error) {
	u := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}

	var env envelope
	if len(strings.TrimSpace(string(body))) == 0 {
		// an empty 200 is how some balance operations acknowledge success
		env.empty = true
		return &env, nil
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &env, nil
}
