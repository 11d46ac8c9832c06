// Package client is the calling-side SDK: a store API client, and a
// controller that drives one call at a time through media acquisition,
// signaling and peer transport.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/carelink/callsignal/internal/errors"
	"github.com/carelink/callsignal/internal/httputil"
	"github.com/carelink/callsignal/internal/model"
	"github.com/carelink/callsignal/internal/service"
)

// StoreClient is everything the controller and pollers need from the call
// session store. Tests substitute an in-memory fake.
type StoreClient interface {
	CreateCall(ctx context.Context, params service.CreateCallParams) (*service.CreateCallResult, error)
	AcceptCall(ctx context.Context, legID, calleeID string) (*service.AcceptResult, error)
	RejectCall(ctx context.Context, legID, calleeID string) (*service.EndResult, error)
	EndCall(ctx context.Context, legID, actorID string) (*service.EndResult, error)
	EndGroupCall(ctx context.Context, groupSessionID, actorID string) (*service.EndResult, error)
	GetStatus(ctx context.Context, legID string) (*model.CallSession, error)
	ListIncoming(ctx context.Context, calleeID string) ([]model.CallSession, error)
	ListOutgoing(ctx context.Context, callerID string) ([]model.CallSession, error)
	Roster(ctx context.Context, groupSessionID, excludeUserID string) ([]model.RosterMember, error)
}

// HTTPStoreClient talks to the store's /v1 API.
type HTTPStoreClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPStoreClient(baseURL string) *HTTPStoreClient {
	return &HTTPStoreClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *HTTPStoreClient) CreateCall(ctx context.Context, params service.CreateCallParams) (*service.CreateCallResult, error) {
	var result service.CreateCallResult
	if err := c.do(ctx, http.MethodPost, "/v1/calls", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPStoreClient) AcceptCall(ctx context.Context, legID, calleeID string) (*service.AcceptResult, error) {
	var result service.AcceptResult
	path := fmt.Sprintf("/v1/calls/%s/accept", url.PathEscape(legID))
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"calleeId": calleeID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPStoreClient) RejectCall(ctx context.Context, legID, calleeID string) (*service.EndResult, error) {
	var result service.EndResult
	path := fmt.Sprintf("/v1/calls/%s/reject", url.PathEscape(legID))
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"calleeId": calleeID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPStoreClient) EndCall(ctx context.Context, legID, actorID string) (*service.EndResult, error) {
	var result service.EndResult
	path := fmt.Sprintf("/v1/calls/%s/end", url.PathEscape(legID))
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"actorId": actorID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPStoreClient) EndGroupCall(ctx context.Context, groupSessionID, actorID string) (*service.EndResult, error) {
	var result service.EndResult
	path := fmt.Sprintf("/v1/groups/%s/end", url.PathEscape(groupSessionID))
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"actorId": actorID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPStoreClient) GetStatus(ctx context.Context, legID string) (*model.CallSession, error) {
	var leg model.CallSession
	path := fmt.Sprintf("/v1/calls/%s", url.PathEscape(legID))
	if err := c.do(ctx, http.MethodGet, path, nil, &leg); err != nil {
		return nil, err
	}
	return &leg, nil
}

func (c *HTTPStoreClient) ListIncoming(ctx context.Context, calleeID string) ([]model.CallSession, error) {
	var legs []model.CallSession
	path := "/v1/calls/incoming?calleeId=" + url.QueryEscape(calleeID)
	if err := c.do(ctx, http.MethodGet, path, nil, &legs); err != nil {
		return nil, err
	}
	return legs, nil
}

func (c *HTTPStoreClient) ListOutgoing(ctx context.Context, callerID string) ([]model.CallSession, error) {
	var legs []model.CallSession
	path := "/v1/calls/outgoing?callerId=" + url.QueryEscape(callerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &legs); err != nil {
		return nil, err
	}
	return legs, nil
}

func (c *HTTPStoreClient) Roster(ctx context.Context, groupSessionID, excludeUserID string) ([]model.RosterMember, error) {
	var roster []model.RosterMember
	path := fmt.Sprintf("/v1/groups/%s/roster?exclude=%s",
		url.PathEscape(groupSessionID), url.QueryEscape(excludeUserID))
	if err := c.do(ctx, http.MethodGet, path, nil, &roster); err != nil {
		return nil, err
	}
	return roster, nil
}

func (c *HTTPStoreClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Signaling(err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return apperrors.Signaling(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Signaling(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Signaling(err)
		}
	}
	return nil
}

// decodeError reconstructs the store's AppError so client code can branch
// on the same codes the server raises.
func decodeError(resp *http.Response) error {
	var errResp httputil.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&errResp); err != nil || errResp.Code == "" {
		return apperrors.Signaling(fmt.Errorf("store returned status %d", resp.StatusCode))
	}
	appErr := apperrors.New(errResp.Code, errResp.Error)
	if errResp.Details != nil {
		appErr = appErr.WithDetails(errResp.Details)
	}
	return appErr
}
