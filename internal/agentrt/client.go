package agentrt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kitt-bench/controller/internal/domain"
)

// defaultHTTPClient mirrors the teacher's controller-side HTTP client
// timeout convention: the agent talks to one controller, so a single
// package-level client with a generous fixed timeout is enough.
var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

// ControllerClient is the agent's view of the controller's HTTP surface
// (spec §4.6/§6): register once, then heartbeat in a loop and report
// quick-test logs/status as commands are dispatched.
type ControllerClient struct {
	BaseURL string
	Token   string // bearer token; register requests use the register token instead
	HTTP    *http.Client
}

// NewControllerClient builds a client against baseURL (e.g.
// "http://controller:8080").
func NewControllerClient(baseURL, token string) *ControllerClient {
	return &ControllerClient{BaseURL: strings.TrimRight(baseURL, "/"), Token: token, HTTP: defaultHTTPClient}
}

// RegisterRequest is the body POSTed to /api/v1/agents/register.
type RegisterRequest struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name"`
	Host     string          `json:"host"`
	Port     int             `json:"port"`
	Hardware domain.Hardware `json:"hardware"`
	IsTest   bool            `json:"is_test_agent"`
	Version  string          `json:"kitt_version"`
}

// RegisterResponse is the decoded response to a successful registration.
type RegisterResponse struct {
	Agent domain.Agent `json:"agent"`
	Token string       `json:"token"`
}

// Register registers this host with the controller using the shared
// registration token (spec §6: "agents authenticate registration with a
// pre-shared register token, then receive a per-agent bearer token").
func (c *ControllerClient) Register(ctx context.Context, registerToken string, req RegisterRequest) (RegisterResponse, error) {
	var resp RegisterResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/agents/register", registerToken, req, &resp)
	return resp, err
}

// HeartbeatRequest is the body POSTed to /api/v1/agents/{id}/heartbeat.
type HeartbeatRequest struct {
	Status         domain.AgentStatus `json:"status"`
	Hardware       domain.Hardware    `json:"hardware"`
	StorageFreeGB  float64            `json:"storage_free_gb"`
	GPUUtilPercent float64            `json:"gpu_util_percent"`
	GPUMemGB       float64            `json:"gpu_mem_gb"`
	UptimeSeconds  int64              `json:"uptime_seconds"`
}

// HeartbeatResponse is the decoded response to a heartbeat: the next poll
// interval, any commands to run, and the agent's current settings.
type HeartbeatResponse struct {
	IntervalS int                      `json:"interval_s"`
	Commands  []domain.PendingCommand  `json:"commands"`
	Settings  map[string]string        `json:"settings"`
}

// ErrNotRegistered is returned by Heartbeat when the controller no longer
// recognizes the agent ID (404): the caller should re-register (spec §6,
// P8 "heartbeat recovery... preserves the agent's name").
var ErrNotRegistered = fmt.Errorf("agentrt: agent not registered with controller")

func (c *ControllerClient) Heartbeat(ctx context.Context, agentID string, req HeartbeatRequest) (HeartbeatResponse, error) {
	var resp HeartbeatResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/agents/"+agentID+"/heartbeat", c.Token, req, &resp)
	if err != nil && errors404(err) {
		return resp, ErrNotRegistered
	}
	return resp, err
}

// ReportStatus reports a quick test's terminal or intermediate status.
func (c *ControllerClient) ReportStatus(ctx context.Context, quickTestID string, status domain.QuickTestStatus, errMsg, resultID string) error {
	body := map[string]string{"status": string(status)}
	if errMsg != "" {
		body["error"] = errMsg
	}
	if resultID != "" {
		body["result_id"] = resultID
	}
	return c.do(ctx, http.MethodPost, "/api/v1/quicktest/"+quickTestID+"/status", c.Token, body, nil)
}

// AppendLog appends one line to a quick test's log stream.
func (c *ControllerClient) AppendLog(ctx context.Context, quickTestID, line string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/quicktest/"+quickTestID+"/logs", c.Token, map[string]string{"line": line}, nil)
}

type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("agentrt: controller returned %d: %s", e.code, e.body)
}

func errors404(err error) bool {
	se, ok := err.(*httpStatusError)
	return ok && se.code == http.StatusNotFound
}

func (c *ControllerClient) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("agentrt: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("agentrt: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = defaultHTTPClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agentrt: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return &httpStatusError{code: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("agentrt: decode response from %s: %w", path, err)
	}
	return nil
}
