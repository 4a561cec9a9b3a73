package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ukydev/busflow/internal/app"
	"github.com/ukydev/busflow/internal/models"
	"github.com/ukydev/busflow/internal/tracking"
)

// Publisher delivers device samples to BusFlow.
type Publisher interface {
	Publish(ctx context.Context, s tracking.Sample) error
}

// apiClient talks to the BusFlow HTTP API as the logged-in driver.
type apiClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Login starts a driver session and keeps its token.
func (c *apiClient) Login(ctx context.Context, email string) (models.User, error) {
	var resp models.LoginResponse
	err := c.do(ctx, http.MethodPost, "/session/login", models.LoginRequest{Email: email, Role: models.RoleDriver}, &resp)
	if err != nil {
		return models.User{}, err
	}
	c.token = resp.Token
	return resp.User, nil
}

// StartShift turns tracking on for the driver's bus.
func (c *apiClient) StartShift(ctx context.Context) (app.ShiftStatus, error) {
	var st app.ShiftStatus
	err := c.do(ctx, http.MethodPost, "/driver/shift/start", nil, &st)
	return st, err
}

// Shift reads the shift state.
func (c *apiClient) Shift(ctx context.Context) (app.ShiftStatus, error) {
	var st app.ShiftStatus
	err := c.do(ctx, http.MethodGet, "/driver/shift", nil, &st)
	return st, err
}

// Publish uploads one sample.
func (c *apiClient) Publish(ctx context.Context, s tracking.Sample) error {
	return c.do(ctx, http.MethodPost, "/driver/position", s, nil)
}

// mqttPublisher sends samples to the driver's position topic.
type mqttPublisher struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
}

func newMQTTPublisher(client mqtt.Client, prefix, driverID string) *mqttPublisher {
	return &mqttPublisher{
		client:  client,
		topic:   tracking.PositionTopic(prefix, driverID),
		timeout: 5 * time.Second,
	}
}

// Publish sends one sample with QoS 1.
func (p *mqttPublisher) Publish(ctx context.Context, s tracking.Sample) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}
	tok := p.client.Publish(p.topic, 1, false, data)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return fmt.Errorf("publish %s: %w", p.topic, context.DeadlineExceeded)
	}
}
