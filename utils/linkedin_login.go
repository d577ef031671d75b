package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// SenderCredentials is the decrypted credential set for one sender.
type SenderCredentials struct {
	Email      string
	Password   string
	TOTPSecret string
}

// LoginBootstrapper performs interactive authentication and yields a
// reusable session token. The production implementation drives a
// browser bridge; tests substitute a fake.
type LoginBootstrapper interface {
	Login(creds SenderCredentials) (string, error)
}

// BrowserClient talks to the browser-automation bridge that handles
// the interactive login flow, including second-factor challenges.
type BrowserClient struct {
	BridgeURL string

	client *fasthttp.Client
}

func NewBrowserClient(bridgeURL string) *BrowserClient {
	return &BrowserClient{
		BridgeURL: bridgeURL,
		client: &fasthttp.Client{
			// Interactive login can sit on a challenge screen for a while.
			ReadTimeout:  3 * time.Minute,
			WriteTimeout: 30 * time.Second,
		},
	}
}

type loginRequest struct {
	RequestID  string `json:"request_id"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	TOTPSecret string `json:"totp_secret,omitempty"`
}

type loginResponse struct {
	OK           bool   `json:"ok"`
	SessionToken string `json:"session_token"`
	Error        string `json:"error,omitempty"`
}

// Login authenticates through the bridge and returns the session token.
func (bc *BrowserClient) Login(creds SenderCredentials) (string, error) {
	payload := loginRequest{
		RequestID:  uuid.NewString(),
		Email:      creds.Email,
		Password:   creds.Password,
		TOTPSecret: creds.TOTPSecret,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(bc.BridgeURL + "/login")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := bc.client.Do(req, resp); err != nil {
		return "", fmt.Errorf("login bridge unreachable: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return "", fmt.Errorf("login bridge returned HTTP %d", resp.StatusCode())
	}

	var parsed loginResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return "", err
	}
	if !parsed.OK {
		return "", errors.New("login failed: " + parsed.Error)
	}

	LogEvent("session_bootstrap", map[string]interface{}{
		"request_id": payload.RequestID,
		"email":      creds.Email,
	})
	return parsed.SessionToken, nil
}
