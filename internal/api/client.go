package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/orbit-social/orbit/internal/profile"
	"github.com/orbit-social/orbit/internal/session"
)

const (
	defaultBaseURLString = "http://localhost:8762/api"

	profilePathFormat           = "/profile/%s"
	profileUpdatePath           = "/profile"
	avatarUploadPath            = "/profile/avatar"
	coverUploadPath             = "/profile/cover"
	followPathFormat            = "/follows/%d"
	relationshipPathFormat      = "/follows/relationship/%d"
	statsPathFormat             = "/follows/stats/%d"
	pendingRequestsPath         = "/follows/requests"
	acceptRequestPathFormat     = "/follows/requests/%d/accept"
	rejectRequestPathFormat     = "/follows/requests/%d/reject"
	multipartFileFieldName      = "file"
	errMessageUnexpectedStatus  = "unexpected status"
	errMessageDecodeResponse    = "decode response"
	requestTimestampLayout      = time.RFC3339
	maxErrorResponseBodyBytes   = 4 * 1024
	errorResponseMessageField   = "message"
	validationErrorGenericField = "profile"
)

// Config customizes a Client instance.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Sessions   session.Store
	Bus        *session.Bus
	Logger     *zap.Logger
}

// Client is the HTTP client for the remote social API. It implements the
// fetcher interfaces consumed by the profile cache, the relationship
// resolver and the mutation pipeline.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	logger     *zap.Logger
}

// NewClient constructs a Client with the session-aware transport and
// bounded request timeouts.
func NewClient(configuration Config) (*Client, error) {
	baseURLString := configuration.BaseURL
	if strings.TrimSpace(baseURLString) == "" {
		baseURLString = defaultBaseURLString
	}
	parsedBaseURL, parseErr := url.Parse(baseURLString)
	if parseErr != nil {
		return nil, fmt.Errorf("parse base url: %w", parseErr)
	}

	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := configuration.Bus
	if bus == nil {
		bus = session.NewBus()
	}

	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	} else {
		clonedClient := *httpClient
		httpClient = &clonedClient
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = defaultRequestTimeout
	}
	refreshURL := parsedBaseURL.JoinPath(refreshPathSuffix).String()
	httpClient.Transport = newSessionTransport(httpClient.Transport, configuration.Sessions, bus, refreshURL, logger)

	return &Client{
		httpClient: httpClient,
		baseURL:    parsedBaseURL,
		logger:     logger,
	}, nil
}

// FetchProfile retrieves the raw profile payload for a handle.
func (client *Client) FetchProfile(ctx context.Context, handle string) (profile.ProfilePayload, error) {
	var payload profile.ProfilePayload
	err := client.doJSON(ctx, http.MethodGet, fmt.Sprintf(profilePathFormat, url.PathEscape(handle)), nil, &payload)
	return payload, err
}

// UpdateProfile submits a partial profile edit and returns the server's
// authoritative payload.
func (client *Client) UpdateProfile(ctx context.Context, edit profile.Edit) (profile.ProfilePayload, error) {
	var payload profile.ProfilePayload
	err := client.doJSON(ctx, http.MethodPut, profileUpdatePath, editBodyFrom(edit), &payload)
	return payload, err
}

// UploadAvatar uploads an avatar image and returns the normalized image URL.
func (client *Client) UploadAvatar(ctx context.Context, fileName string, content io.Reader) (string, error) {
	return client.uploadImage(ctx, avatarUploadPath, fileName, content)
}

// UploadCover uploads a cover image and returns the normalized image URL.
func (client *Client) UploadCover(ctx context.Context, fileName string, content io.Reader) (string, error) {
	return client.uploadImage(ctx, coverUploadPath, fileName, content)
}

// Follow issues a follow call for the target identity.
func (client *Client) Follow(ctx context.Context, target profile.Identity) (profile.MutationPayload, error) {
	var payload profile.MutationPayload
	err := client.doJSON(ctx, http.MethodPost, fmt.Sprintf(followPathFormat, target), nil, &payload)
	return payload, err
}

// Unfollow removes the relationship toward the target identity. It also
// cancels a pending request; the server exposes one removal call for both.
func (client *Client) Unfollow(ctx context.Context, target profile.Identity) (profile.MutationPayload, error) {
	var payload profile.MutationPayload
	err := client.doJSON(ctx, http.MethodDelete, fmt.Sprintf(followPathFormat, target), nil, &payload)
	return payload, err
}

// FetchRelationship retrieves the viewer's relationship to the target.
func (client *Client) FetchRelationship(ctx context.Context, target profile.Identity) (profile.RelationshipPayload, error) {
	var payload profile.RelationshipPayload
	err := client.doJSON(ctx, http.MethodGet, fmt.Sprintf(relationshipPathFormat, target), nil, &payload)
	return payload, err
}

// FetchStats retrieves the follow statistics for the target.
func (client *Client) FetchStats(ctx context.Context, target profile.Identity) (profile.StatsPayload, error) {
	var payload profile.StatsPayload
	err := client.doJSON(ctx, http.MethodGet, fmt.Sprintf(statsPathFormat, target), nil, &payload)
	return payload, err
}

// FetchPendingRequests lists inbound follow requests awaiting the viewer's
// decision.
func (client *Client) FetchPendingRequests(ctx context.Context) ([]profile.FollowRequest, error) {
	var payloads []followRequestPayload
	if err := client.doJSON(ctx, http.MethodGet, pendingRequestsPath, nil, &payloads); err != nil {
		return nil, err
	}
	requests := make([]profile.FollowRequest, 0, len(payloads))
	for _, payload := range payloads {
		requests = append(requests, payload.normalize())
	}
	return requests, nil
}

// AcceptRequest confirms an inbound follow request from the requester.
func (client *Client) AcceptRequest(ctx context.Context, requester profile.Identity) error {
	return client.doJSON(ctx, http.MethodPost, fmt.Sprintf(acceptRequestPathFormat, requester), nil, nil)
}

// RejectRequest declines an inbound follow request from the requester.
func (client *Client) RejectRequest(ctx context.Context, requester profile.Identity) error {
	return client.doJSON(ctx, http.MethodDelete, fmt.Sprintf(rejectRequestPathFormat, requester), nil, nil)
}

type editBody struct {
	FullName   *string `json:"fullName,omitempty"`
	Bio        *string `json:"bio,omitempty"`
	Website    *string `json:"website,omitempty"`
	Location   *string `json:"location,omitempty"`
	BirthDate  *string `json:"birthDate,omitempty"`
	Gender     *string `json:"gender,omitempty"`
	Visibility *string `json:"visibility,omitempty"`
}

func editBodyFrom(edit profile.Edit) editBody {
	body := editBody{
		FullName:  edit.DisplayName,
		Bio:       edit.Bio,
		Website:   edit.Website,
		Location:  edit.Location,
		BirthDate: edit.BirthDate,
		Gender:    edit.Gender,
	}
	if edit.Visibility != nil {
		visibility := string(*edit.Visibility)
		body.Visibility = &visibility
	}
	return body
}

type followRequestPayload struct {
	UserID      int64  `json:"userId"`
	Username    string `json:"username"`
	FullName    string `json:"fullName"`
	AvatarURL   string `json:"avatarUrl"`
	RequestedAt string `json:"requestedAt"`
}

func (payload followRequestPayload) normalize() profile.FollowRequest {
	requestedAt, _ := time.Parse(requestTimestampLayout, payload.RequestedAt)
	displayName := payload.FullName
	if displayName == "" {
		displayName = payload.Username
	}
	return profile.FollowRequest{
		Requester:   profile.Identity(payload.UserID),
		Handle:      payload.Username,
		DisplayName: displayName,
		AvatarURL:   payload.AvatarURL,
		RequestedAt: requestedAt,
	}
}

func (client *Client) uploadImage(ctx context.Context, path string, fileName string, content io.Reader) (string, error) {
	var formBuffer bytes.Buffer
	formWriter := multipart.NewWriter(&formBuffer)
	filePart, createErr := formWriter.CreateFormFile(multipartFileFieldName, fileName)
	if createErr != nil {
		return "", fmt.Errorf("create form file: %w", createErr)
	}
	if _, copyErr := io.Copy(filePart, content); copyErr != nil {
		return "", fmt.Errorf("copy upload content: %w", copyErr)
	}
	if closeErr := formWriter.Close(); closeErr != nil {
		return "", fmt.Errorf("finalize form: %w", closeErr)
	}

	request, buildErr := http.NewRequestWithContext(ctx, http.MethodPut, client.baseURL.JoinPath(path).String(), bytes.NewReader(formBuffer.Bytes()))
	if buildErr != nil {
		return "", buildErr
	}
	request.Header.Set(contentTypeHeaderName, formWriter.FormDataContentType())

	var payload profile.ImagePayload
	if err := client.execute(request, &payload); err != nil {
		return "", err
	}
	return payload.ResolveURL()
}

func (client *Client) doJSON(ctx context.Context, method string, path string, body interface{}, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		encoded, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return fmt.Errorf("encode request body: %w", marshalErr)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, buildErr := http.NewRequestWithContext(ctx, method, client.baseURL.JoinPath(path).String(), bodyReader)
	if buildErr != nil {
		return buildErr
	}
	if body != nil {
		request.Header.Set(contentTypeHeaderName, jsonContentType)
	}
	return client.execute(request, out)
}

func (client *Client) execute(request *http.Request, out interface{}) error {
	response, sendErr := client.httpClient.Do(request)
	if sendErr != nil {
		return fmt.Errorf("%w: %v", profile.ErrNetwork, sendErr)
	}
	defer drainAndClose(response.Body)

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return statusError(response)
	}
	if out == nil {
		return nil
	}
	if decodeErr := json.NewDecoder(response.Body).Decode(out); decodeErr != nil {
		return fmt.Errorf("%s: %w", errMessageDecodeResponse, decodeErr)
	}
	return nil
}

func statusError(response *http.Response) error {
	switch response.StatusCode {
	case http.StatusNotFound:
		return profile.ErrNotFound
	case http.StatusConflict:
		return profile.ErrConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &profile.ValidationError{Field: validationErrorGenericField, Reason: responseMessage(response)}
	}
	return fmt.Errorf("%s %d", errMessageUnexpectedStatus, response.StatusCode)
}

func responseMessage(response *http.Response) string {
	raw, readErr := io.ReadAll(io.LimitReader(response.Body, maxErrorResponseBodyBytes))
	if readErr != nil {
		return response.Status
	}
	var decoded map[string]interface{}
	if unmarshalErr := json.Unmarshal(raw, &decoded); unmarshalErr == nil {
		if message, ok := decoded[errorResponseMessageField].(string); ok && message != "" {
			return message
		}
	}
	return response.Status
}
