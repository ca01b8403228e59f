// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/widgethost/core/ref"
)

var _ IntegrationManager = (*ScalarClient)(nil)

// ScalarClient talks to a scalar-compatible integration manager over
// its REST API. Tokens are fetched once and cached for the lifetime of
// the client; the manager invalidates them server-side on logout.
type ScalarClient struct {
	apiBase string
	uiBase  string
	client  *http.Client

	// OnOpen, when set, is invoked with the fully resolved UI URL when
	// a widget asks for a manager screen. The embedding UI renders it.
	OnOpen func(uiURL string)

	mu    sync.Mutex
	token string
}

// NewScalarClient creates a client for the manager at apiBase. The UI
// base is where configuration screens are served; it may equal the API
// base.
func NewScalarClient(apiBase, uiBase string) *ScalarClient {
	return &ScalarClient{
		apiBase: strings.TrimRight(apiBase, "/"),
		uiBase:  strings.TrimRight(uiBase, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// APIBase implements IntegrationManager.
func (s *ScalarClient) APIBase() string { return s.apiBase }

// Token implements IntegrationManager. The first call registers with
// the manager; later calls return the cached token.
func (s *ScalarClient) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	cached := s.token
	s.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBase+"/register?v=1.1", strings.NewReader("{}"))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("registering with integration manager: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("integration manager register: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		ScalarToken string `json:"scalar_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding register response: %w", err)
	}
	if body.ScalarToken == "" {
		return "", fmt.Errorf("integration manager returned an empty token")
	}

	s.mu.Lock()
	s.token = body.ScalarToken
	s.mu.Unlock()
	return body.ScalarToken, nil
}

// Open implements IntegrationManager. It resolves the configuration
// screen URL and hands it to OnOpen.
func (s *ScalarClient) Open(ctx context.Context, roomID ref.RoomID, screen, integrationID string) error {
	token, err := s.Token(ctx)
	if err != nil {
		return err
	}

	query := url.Values{}
	query.Set("scalar_token", token)
	if !roomID.IsZero() {
		query.Set("room_id", roomID.String())
	}
	if screen != "" {
		query.Set("screen", screen)
	}
	if integrationID != "" {
		query.Set("integ_id", integrationID)
	}

	uiURL := s.uiBase + "/?" + query.Encode()
	if s.OnOpen == nil {
		return fmt.Errorf("no integration manager UI is attached")
	}
	s.OnOpen(uiURL)
	return nil
}
