// Package mailtm is a client for the mail.tm disposable mailbox API.
//
// The client holds no credentials; every authenticated call takes the
// account's Token.
package mailtm

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

	"github.io/infrasutra/mailstash/internal/model"
	"github.io/infrasutra/mailstash/internal/rules"
)

const (
	DefaultBaseURL = "https://api.mail.tm"
	DefaultTimeout = 10 * time.Second

	messagesPageSize = 20
	domainsPageSize  = 100
)

// Token is a bearer token issued by Login.
type Token string

type User struct {
	ID         string    `json:"id"`
	Address    string    `json:"address"`
	Quota      int64     `json:"quota"`
	Used       int64     `json:"used"`
	IsDisabled bool      `json:"isDisabled"`
	IsDeleted  bool      `json:"isDeleted"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Domain struct {
	ID        string    `json:"id"`
	Domain    string    `json:"domain"`
	IsActive  bool      `json:"isActive"`
	IsPrivate bool      `json:"isPrivate"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MessagePage is one page of the inbox.
type MessagePage struct {
	Messages []model.Message `json:"messages"`
	Total    int             `json:"total"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status      int
	Description string
}

func (e *APIError) Error() string {
	return e.Description
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Login(ctx context.Context, address, password string) (Token, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"address": address, "password": password}
	if err := c.do(ctx, http.MethodPost, "/token", "", nil, body, &resp); err != nil {
		return "", err
	}
	return Token(resp.Token), nil
}

func (c *Client) CreateAccount(ctx context.Context, address, password string) (User, error) {
	var user User
	body := map[string]string{"address": address, "password": password}
	err := c.do(ctx, http.MethodPost, "/accounts", "", nil, body, &user)
	return user, err
}

func (c *Client) Me(ctx context.Context, tok Token) (User, error) {
	var user User
	err := c.do(ctx, http.MethodGet, "/me", tok, nil, nil, &user)
	return user, err
}

func (c *Client) DeleteAccount(ctx context.Context, tok Token) error {
	return c.do(ctx, http.MethodDelete, "/me", tok, nil, nil, nil)
}

func (c *Client) Domains(ctx context.Context) ([]Domain, error) {
	var resp struct {
		Members []Domain `json:"hydra:member"`
	}
	query := url.Values{"page-size": {strconv.Itoa(domainsPageSize)}}
	if err := c.do(ctx, http.MethodGet, "/domains", "", query, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Members == nil {
		return []Domain{}, nil
	}
	return resp.Members, nil
}

func (c *Client) Messages(ctx context.Context, tok Token, page int) (MessagePage, error) {
	if page < 1 {
		page = 1
	}
	var resp struct {
		Members []model.Message `json:"hydra:member"`
		Total   int             `json:"hydra:totalItems"`
	}
	query := url.Values{
		"page":      {strconv.Itoa(page)},
		"page-size": {strconv.Itoa(messagesPageSize)},
	}
	if err := c.do(ctx, http.MethodGet, "/messages", tok, query, nil, &resp); err != nil {
		return MessagePage{}, err
	}
	if resp.Members == nil {
		resp.Members = []model.Message{}
	}
	return MessagePage{Messages: resp.Members, Total: resp.Total}, nil
}

func (c *Client) Message(ctx context.Context, tok Token, id string) (model.Message, error) {
	var msg model.Message
	err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(id), tok, nil, nil, &msg)
	return msg, err
}

func (c *Client) DeleteMessage(ctx context.Context, tok Token, id string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(id), tok, nil, nil, nil)
}

func (c *Client) MarkSeen(ctx context.Context, tok Token, id string) (model.Message, error) {
	var msg model.Message
	body := map[string]bool{"seen": true}
	err := c.do(ctx, http.MethodPatch, "/messages/"+url.PathEscape(id), tok, nil, body, &msg)
	return msg, err
}

// FilterMessages returns the messages of the first page whose subject or
// intro contains keyword.
func (c *Client) FilterMessages(ctx context.Context, tok Token, keyword string) ([]model.Message, error) {
	page, err := c.Messages(ctx, tok, 1)
	if err != nil {
		return nil, err
	}
	matched := []model.Message{}
	for _, msg := range page.Messages {
		if rules.MatchKeyword(msg, keyword) {
			matched = append(matched, msg)
		}
	}
	return matched, nil
}

func (c *Client) do(ctx context.Context, method, path string, tok Token, query url.Values, in, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		contentType := "application/json"
		if method == http.MethodPatch {
			contentType = "application/merge-patch+json"
		}
		req.Header.Set("Content-Type", contentType)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+string(tok))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{
		Status:      resp.StatusCode,
		Description: fmt.Sprintf("request failed with status code %d", resp.StatusCode),
	}
	var payload struct {
		Description string `json:"hydra:description"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &payload) == nil && payload.Description != "" {
		apiErr.Description = payload.Description
	}
	return apiErr
}
