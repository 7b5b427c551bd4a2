package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// DeviceAuthClient handles the OAuth 2.0 Device Authorization Grant
// flow (RFC 8628) against the ReplyForge backend.
type DeviceAuthClient struct {
	baseURL       string
	clientVersion string
	httpClient    *http.Client
}

// DeviceCodeResponse is returned by the /start endpoint.
type DeviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// TokenResponse is a successful token grant.
type TokenResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Plan      string `json:"plan,omitempty"`
	ExpiresIn int    `json:"expires_in"`
}

// tokenError is an error response from the /token endpoint.
type tokenError struct {
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	Interval         int    `json:"interval,omitempty"` // for slow_down
}

type startFlowRequest struct {
	ClientID      string `json:"client_id"`
	ClientVersion string `json:"client_version"`
	Hostname      string `json:"hostname,omitempty"`
}

type tokenRequest struct {
	DeviceCode string `json:"device_code"`
	GrantType  string `json:"grant_type"`
}

// NewDeviceAuthClient creates a device authorization client.
func NewDeviceAuthClient(baseURL, clientVersion string) *DeviceAuthClient {
	return &DeviceAuthClient{
		baseURL:       baseURL,
		clientVersion: clientVersion,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// StartFlow requests a device/user code pair.
func (c *DeviceAuthClient) StartFlow() (*DeviceCodeResponse, error) {
	hostname, _ := os.Hostname()

	reqBody := startFlowRequest{
		ClientID:      "replyforge-cli",
		ClientVersion: c.clientVersion,
		Hostname:      hostname,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.httpClient.Post(c.baseURL+"/api/device-auth/start", "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to authentication service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusServiceUnavailable:
		return nil, fmt.Errorf("authentication service is temporarily unavailable")
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("rate limit exceeded, please try again in a few minutes")
	default:
		return nil, fmt.Errorf("authentication service returned status %d", resp.StatusCode)
	}

	var response DeviceCodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if response.Interval == 0 {
		response.Interval = 5
	}
	return &response, nil
}

// PollForToken polls the /token endpoint until authorization completes,
// the code expires, or the flow is denied.
func (c *DeviceAuthClient) PollForToken(deviceCode string, interval int) (*TokenResponse, error) {
	if interval <= 0 {
		interval = 5
	}
	wait := time.Duration(interval) * time.Second

	for {
		time.Sleep(wait)

		reqBody := tokenRequest{
			DeviceCode: deviceCode,
			GrantType:  "urn:ietf:params:oauth:grant-type:device_code",
		}
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal token request: %w", err)
		}

		resp, err := c.httpClient.Post(c.baseURL+"/api/device-auth/token", "application/json", bytes.NewReader(jsonData))
		if err != nil {
			// Transient network error: keep polling.
			continue
		}

		if resp.StatusCode == http.StatusOK {
			var token TokenResponse
			err := json.NewDecoder(resp.Body).Decode(&token)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to parse token response: %w", err)
			}
			return &token, nil
		}

		var terr tokenError
		err = json.NewDecoder(resp.Body).Decode(&terr)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
		}

		switch terr.ErrorCode {
		case "authorization_pending":
			continue
		case "slow_down":
			if terr.Interval > 0 {
				wait = time.Duration(terr.Interval) * time.Second
			} else {
				wait += 5 * time.Second
			}
			continue
		case "expired_token":
			return nil, fmt.Errorf("device code expired, please run login again")
		case "access_denied":
			return nil, fmt.Errorf("authorization was denied")
		default:
			return nil, fmt.Errorf("device authorization failed: %s", terr.ErrorCode)
		}
	}
}
