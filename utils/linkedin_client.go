package utils

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

// Standardized backend error vocabulary. The worker's failure
// classification keys off these values.
const (
	ErrorRateLimited        = "rate_limited"
	ErrorAuthExpired        = "auth_expired"
	ErrorUnauthorized       = "unauthorized"
	ErrorIPBlocked          = "ip_blocked"
	ErrorCheckpointDetected = "checkpoint_detected"
	ErrorNotConnected       = "not_connected"
)

// ActionResult is the classified outcome of one platform call.
type ActionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

// LinkedInClient is the execution backend capability interface. Both
// the direct API client and the login-capable browser bridge satisfy
// it; callers never branch on which implementation they hold.
type LinkedInClient interface {
	ViewProfile(profileURL string) ActionResult
	SendConnectionRequest(profileURL, note string) ActionResult
	SendMessage(profileURL, text string) ActionResult
	CheckConnectionStatus(profileURL string) ActionResult
}

// APIClient performs platform actions directly over HTTP using a
// previously established session token.
type APIClient struct {
	BaseURL      string
	SessionToken string

	client *fasthttp.Client
}

func NewAPIClient(baseURL, sessionToken string) *APIClient {
	return &APIClient{
		BaseURL:      baseURL,
		SessionToken: sessionToken,
		client: &fasthttp.Client{
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

type apiActionRequest struct {
	ProfileURL string `json:"profile_url"`
	Note       string `json:"note,omitempty"`
	Text       string `json:"text,omitempty"`
}

type apiActionResponse struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Details   string `json:"details,omitempty"`
	Connected *bool  `json:"connected,omitempty"`
}

func (c *APIClient) ViewProfile(profileURL string) ActionResult {
	return c.do("/api/profile/view", apiActionRequest{ProfileURL: profileURL})
}

func (c *APIClient) SendConnectionRequest(profileURL, note string) ActionResult {
	return c.do("/api/connections/request", apiActionRequest{ProfileURL: profileURL, Note: note})
}

func (c *APIClient) SendMessage(profileURL, text string) ActionResult {
	return c.do("/api/messages/send", apiActionRequest{ProfileURL: profileURL, Text: text})
}

func (c *APIClient) CheckConnectionStatus(profileURL string) ActionResult {
	result := c.do("/api/connections/status", apiActionRequest{ProfileURL: profileURL})
	return result
}

func (c *APIClient) do(path string, payload apiActionRequest) ActionResult {
	body, err := json.Marshal(payload)
	if err != nil {
		return ActionResult{Error: "encode", Details: err.Error()}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.BaseURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+c.SessionToken)
	req.SetBody(body)

	if err := c.client.Do(req, resp); err != nil {
		LogEvent("linkedin_request_failed", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return ActionResult{Error: "network", Details: err.Error()}
	}

	if classified := classifyStatus(resp.StatusCode()); classified != "" {
		return ActionResult{
			Error:   classified,
			Details: fmt.Sprintf("HTTP %d", resp.StatusCode()),
		}
	}

	var parsed apiActionResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return ActionResult{Error: "decode", Details: err.Error()}
	}

	if !parsed.OK {
		return ActionResult{Error: parsed.Error, Details: parsed.Details}
	}

	details := parsed.Details
	if parsed.Connected != nil {
		raw, _ := json.Marshal(map[string]bool{"connected": *parsed.Connected})
		details = string(raw)
	}
	return ActionResult{Success: true, Details: details}
}

// classifyStatus maps HTTP status codes onto the backend error
// vocabulary. 999 is the platform's bot-detection response.
func classifyStatus(status int) string {
	switch {
	case status == fasthttp.StatusTooManyRequests:
		return ErrorRateLimited
	case status == fasthttp.StatusUnauthorized:
		return ErrorAuthExpired
	case status == fasthttp.StatusForbidden:
		return ErrorUnauthorized
	case status == 999:
		return ErrorIPBlocked
	case status == fasthttp.StatusPermanentRedirect || status == fasthttp.StatusTemporaryRedirect:
		return ErrorCheckpointDetected
	case status >= 200 && status < 300:
		return ""
	default:
		return "http_error"
	}
}

// LogEvent logs an event with structured context.
func LogEvent(eventType string, data map[string]interface{}) {
	logrus.WithFields(logrus.Fields(data)).Info(eventType)
}
