// Package api implements the REST client for the remote social service,
// including the bearer-token transport with one-shot refresh.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbit-social/orbit/internal/profile"
	"github.com/orbit-social/orbit/internal/session"
)

const (
	authorizationHeaderName = "Authorization"
	bearerSchemePrefix      = "Bearer "
	userIDHeaderName        = "X-User-Id"
	requestIDHeaderName     = "X-Request-Id"
	contentTypeHeaderName   = "Content-Type"
	jsonContentType         = "application/json"

	refreshPathSuffix = "/auth/refresh"

	defaultDialTimeout           = 5 * time.Second
	defaultTLSHandshakeTimeout   = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultRequestTimeout        = 15 * time.Second

	logMessageRequest        = "api request"
	logMessageRefreshFailure = "token refresh failed"
	logFieldMethod           = "method"
	logFieldURL              = "url"
	logFieldStatus           = "status"
	logFieldRequestID        = "request_id"
)

type refreshRequestBody struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponseBody struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// sessionTransport attaches the viewer's bearer token and user id to every
// request and performs a single refresh-and-retry on 401/403 responses. A
// failed refresh clears the stored session and publishes an invalidation
// event on the bus.
type sessionTransport struct {
	inner       http.RoundTripper
	sessions    session.Store
	bus         *session.Bus
	refreshURL  string
	logger      *zap.Logger
	refreshLock sync.Mutex
}

func newSessionTransport(inner http.RoundTripper, sessions session.Store, bus *session.Bus, refreshURL string, logger *zap.Logger) *sessionTransport {
	if inner == nil {
		inner = defaultTransport()
	}
	return &sessionTransport{
		inner:      inner,
		sessions:   sessions,
		bus:        bus,
		refreshURL: refreshURL,
		logger:     logger,
	}
}

func defaultTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: defaultDialTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
	}
}

func (transport *sessionTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	requestID := uuid.NewString()
	viewerSession, _ := transport.sessions.Load()

	response, err := transport.send(request, viewerSession.AccessToken, viewerSession.Identity, requestID)
	if err != nil {
		return nil, err
	}
	if response.StatusCode != http.StatusUnauthorized && response.StatusCode != http.StatusForbidden {
		return response, nil
	}

	refreshed, refreshErr := transport.refreshSession(request, viewerSession)
	if refreshErr != nil {
		transport.logger.Warn(logMessageRefreshFailure, zap.Error(refreshErr), zap.String(logFieldRequestID, requestID))
		if clearErr := transport.sessions.Clear(); clearErr != nil {
			transport.logger.Warn(logMessageRefreshFailure, zap.Error(clearErr))
		}
		transport.bus.Invalidate()
		return response, nil
	}

	drainAndClose(response.Body)
	return transport.send(request, refreshed.AccessToken, refreshed.Identity, requestID)
}

func (transport *sessionTransport) send(request *http.Request, accessToken string, viewerID profile.Identity, requestID string) (*http.Response, error) {
	attempt := request.Clone(request.Context())
	if request.GetBody != nil {
		restored, restoreErr := request.GetBody()
		if restoreErr != nil {
			return nil, restoreErr
		}
		attempt.Body = restored
	}

	if accessToken != "" {
		attempt.Header.Set(authorizationHeaderName, bearerSchemePrefix+accessToken)
	}
	if !viewerID.Zero() {
		attempt.Header.Set(userIDHeaderName, strconv.FormatInt(int64(viewerID), 10))
	}
	attempt.Header.Set(requestIDHeaderName, requestID)

	response, err := transport.inner.RoundTrip(attempt)
	if err != nil {
		return nil, err
	}
	transport.logger.Debug(logMessageRequest,
		zap.String(logFieldMethod, attempt.Method),
		zap.String(logFieldURL, attempt.URL.String()),
		zap.Int(logFieldStatus, response.StatusCode),
		zap.String(logFieldRequestID, requestID),
	)
	return response, nil
}

func (transport *sessionTransport) refreshSession(request *http.Request, stale session.Session) (session.Session, error) {
	transport.refreshLock.Lock()
	defer transport.refreshLock.Unlock()

	// Another request may have refreshed while this one waited on the lock.
	current, loadErr := transport.sessions.Load()
	if loadErr == nil && current.AccessToken != "" && current.AccessToken != stale.AccessToken {
		return current, nil
	}
	if stale.RefreshToken == "" {
		return session.Session{}, fmt.Errorf("no refresh token available")
	}

	body, marshalErr := json.Marshal(refreshRequestBody{RefreshToken: stale.RefreshToken})
	if marshalErr != nil {
		return session.Session{}, marshalErr
	}
	refreshRequest, buildErr := http.NewRequestWithContext(request.Context(), http.MethodPost, transport.refreshURL, bytes.NewReader(body))
	if buildErr != nil {
		return session.Session{}, buildErr
	}
	refreshRequest.Header.Set(contentTypeHeaderName, jsonContentType)

	refreshResponse, sendErr := transport.inner.RoundTrip(refreshRequest)
	if sendErr != nil {
		return session.Session{}, sendErr
	}
	defer drainAndClose(refreshResponse.Body)

	if refreshResponse.StatusCode < 200 || refreshResponse.StatusCode >= 300 {
		return session.Session{}, fmt.Errorf("refresh returned status %d", refreshResponse.StatusCode)
	}
	var decoded refreshResponseBody
	if decodeErr := json.NewDecoder(refreshResponse.Body).Decode(&decoded); decodeErr != nil {
		return session.Session{}, decodeErr
	}
	if decoded.AccessToken == "" {
		return session.Session{}, fmt.Errorf("refresh returned no access token")
	}

	stale.AccessToken = decoded.AccessToken
	if decoded.RefreshToken != "" {
		stale.RefreshToken = decoded.RefreshToken
	}
	if saveErr := transport.sessions.Save(stale); saveErr != nil {
		return session.Session{}, saveErr
	}
	return stale, nil
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1024))
	_ = body.Close()
}
