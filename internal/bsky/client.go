package bsky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultServiceURLString      = "https://bsky.social"
	listFollowersPath            = "/xrpc/app.bsky.graph.getFollowers"
	getProfilePath               = "/xrpc/app.bsky.actor.getProfile"
	getAuthorFeedPath            = "/xrpc/app.bsky.feed.getAuthorFeed"
	createRecordPath             = "/xrpc/com.atproto.repo.createRecord"
	refreshSessionPath           = "/xrpc/com.atproto.server.refreshSession"
	queryParamActor              = "actor"
	queryParamCursor             = "cursor"
	queryParamLimit              = "limit"
	blockRecordCollection        = "app.bsky.graph.block"
	blockRecordType              = "app.bsky.graph.block"
	contentTypeHeaderName        = "Content-Type"
	authorizationHeaderName      = "Authorization"
	bearerPrefix                 = "Bearer "
	jsonContentType              = "application/json"
	errMessageParseServiceURL    = "parse service url"
	errMessageDecodeResponse     = "decode response"
	unknownErrorCode             = "UnknownError"
	maxErrorBodyBytes            = 8 * 1024
	defaultDialTimeout           = 5 * time.Second
	defaultTLSHandshakeTimeout   = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultHTTPTimeout           = 30 * time.Second
)

// Credentials holds the bearer tokens for an authenticated session.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Config customizes an HTTPClient instance.
type Config struct {
	ServiceURL  string
	Client      *http.Client
	Credentials Credentials
}

// HTTPClient implements Client against an XRPC-style HTTP service.
type HTTPClient struct {
	client           *http.Client
	baseURL          *url.URL
	credentialsMutex sync.RWMutex
	credentials      Credentials
}

// NewHTTPClient constructs an HTTPClient with conservative transport defaults.
func NewHTTPClient(configuration Config) (*HTTPClient, error) {
	serviceURLString := configuration.ServiceURL
	if strings.TrimSpace(serviceURLString) == "" {
		serviceURLString = defaultServiceURLString
	}
	parsedServiceURL, err := url.Parse(serviceURLString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageParseServiceURL, err)
	}

	httpClient := configuration.Client
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = defaultHTTPTimeout
	}

	return &HTTPClient{
		client:      httpClient,
		baseURL:     parsedServiceURL,
		credentials: configuration.Credentials,
	}, nil
}

// SetCredentials replaces the session tokens used for subsequent calls.
func (httpClient *HTTPClient) SetCredentials(credentials Credentials) {
	httpClient.credentialsMutex.Lock()
	defer httpClient.credentialsMutex.Unlock()
	httpClient.credentials = credentials
}

// ListFollowers fetches one page of the follower listing for an account.
func (httpClient *HTTPClient) ListFollowers(ctx context.Context, actorDID string, cursor string, limit int) (FollowersPage, error) {
	queryValues := url.Values{}
	queryValues.Set(queryParamActor, actorDID)
	queryValues.Set(queryParamLimit, strconv.Itoa(limit))
	if cursor != "" {
		queryValues.Set(queryParamCursor, cursor)
	}

	var payload struct {
		Followers []followerWire `json:"followers"`
		Cursor    string         `json:"cursor"`
	}
	if err := httpClient.getJSON(ctx, listFollowersPath, queryValues, &payload); err != nil {
		return FollowersPage{}, err
	}

	page := FollowersPage{Cursor: payload.Cursor, Followers: make([]FollowerRecord, 0, len(payload.Followers))}
	for _, follower := range payload.Followers {
		page.Followers = append(page.Followers, follower.toRecord())
	}
	return page, nil
}

// GetProfile fetches the detailed profile snapshot for an account.
func (httpClient *HTTPClient) GetProfile(ctx context.Context, actorDID string) (ProfileSnapshot, error) {
	queryValues := url.Values{}
	queryValues.Set(queryParamActor, actorDID)

	var payload profileWire
	if err := httpClient.getJSON(ctx, getProfilePath, queryValues, &payload); err != nil {
		return ProfileSnapshot{}, err
	}
	return payload.toSnapshot(), nil
}

// GetRecentActivity fetches the first page of an account's author feed.
func (httpClient *HTTPClient) GetRecentActivity(ctx context.Context, actorDID string, limit int) (ActivityPage, error) {
	queryValues := url.Values{}
	queryValues.Set(queryParamActor, actorDID)
	queryValues.Set(queryParamLimit, strconv.Itoa(limit))

	var payload struct {
		Feed []json.RawMessage `json:"feed"`
	}
	if err := httpClient.getJSON(ctx, getAuthorFeedPath, queryValues, &payload); err != nil {
		return ActivityPage{}, err
	}
	return ActivityPage{ItemCount: len(payload.Feed)}, nil
}

// CreateBlockRecord writes a block record for the target account into the viewer's repository.
func (httpClient *HTTPClient) CreateBlockRecord(ctx context.Context, viewerDID string, targetDID string, createdAt time.Time) error {
	requestBody := map[string]any{
		"repo":       viewerDID,
		"collection": blockRecordCollection,
		"record": map[string]any{
			"$type":     blockRecordType,
			"subject":   targetDID,
			"createdAt": createdAt.UTC().Format(time.RFC3339),
		},
	}
	return httpClient.postJSON(ctx, createRecordPath, requestBody, nil)
}

// RefreshSession exchanges the refresh token for a new access token pair.
func (httpClient *HTTPClient) RefreshSession(ctx context.Context) error {
	httpClient.credentialsMutex.RLock()
	refreshToken := httpClient.credentials.RefreshToken
	httpClient.credentialsMutex.RUnlock()
	if refreshToken == "" {
		return ErrMissingRefreshToken
	}

	requestURL := httpClient.baseURL.ResolveReference(&url.URL{Path: refreshSessionPath}).String()
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, nil)
	if err != nil {
		return err
	}
	httpRequest.Header.Set(authorizationHeaderName, bearerPrefix+refreshToken)

	var payload struct {
		AccessJWT  string `json:"accessJwt"`
		RefreshJWT string `json:"refreshJwt"`
	}
	if err := httpClient.doJSON(httpRequest, &payload); err != nil {
		return err
	}

	httpClient.credentialsMutex.Lock()
	httpClient.credentials = Credentials{AccessToken: payload.AccessJWT, RefreshToken: payload.RefreshJWT}
	httpClient.credentialsMutex.Unlock()
	return nil
}

func (httpClient *HTTPClient) getJSON(ctx context.Context, path string, queryValues url.Values, target any) error {
	requestURL := httpClient.baseURL.ResolveReference(&url.URL{Path: path, RawQuery: queryValues.Encode()}).String()
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return err
	}
	if err := httpClient.authorize(httpRequest); err != nil {
		return err
	}
	return httpClient.doJSON(httpRequest, target)
}

func (httpClient *HTTPClient) postJSON(ctx context.Context, path string, requestBody any, target any) error {
	encodedBody, err := json.Marshal(requestBody)
	if err != nil {
		return err
	}
	requestURL := httpClient.baseURL.ResolveReference(&url.URL{Path: path}).String()
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(encodedBody))
	if err != nil {
		return err
	}
	httpRequest.Header.Set(contentTypeHeaderName, jsonContentType)
	if err := httpClient.authorize(httpRequest); err != nil {
		return err
	}
	return httpClient.doJSON(httpRequest, target)
}

func (httpClient *HTTPClient) authorize(httpRequest *http.Request) error {
	httpClient.credentialsMutex.RLock()
	accessToken := httpClient.credentials.AccessToken
	httpClient.credentialsMutex.RUnlock()
	if accessToken == "" {
		return ErrMissingAccessToken
	}
	httpRequest.Header.Set(authorizationHeaderName, bearerPrefix+accessToken)
	return nil
}

func (httpClient *HTTPClient) doJSON(httpRequest *http.Request, target any) error {
	httpResponse, err := httpClient.client.Do(httpRequest)
	if err != nil {
		return err
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		return decodeAPIError(httpResponse)
	}
	if target == nil {
		_, copyErr := io.Copy(io.Discard, io.LimitReader(httpResponse.Body, maxErrorBodyBytes))
		return copyErr
	}
	if err := json.NewDecoder(httpResponse.Body).Decode(target); err != nil {
		return fmt.Errorf("%s: %w", errMessageDecodeResponse, err)
	}
	return nil
}

func decodeAPIError(httpResponse *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(httpResponse.Body, maxErrorBodyBytes))
	apiError := &APIError{StatusCode: httpResponse.StatusCode, Code: unknownErrorCode}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if unmarshalErr := json.Unmarshal(bodyBytes, &payload); unmarshalErr == nil && payload.Error != "" {
		apiError.Code = payload.Error
		apiError.Message = payload.Message
	}
	return apiError
}

type followerWire struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
	Viewer      struct {
		Blocking string `json:"blocking"`
	} `json:"viewer"`
}

func (wire followerWire) toRecord() FollowerRecord {
	return FollowerRecord{
		DID:             wire.DID,
		Handle:          wire.Handle,
		DisplayName:     wire.DisplayName,
		Avatar:          wire.Avatar,
		BlockedByViewer: wire.Viewer.Blocking != "",
	}
}

type profileWire struct {
	DID            string `json:"did"`
	Handle         string `json:"handle"`
	FollowersCount int    `json:"followersCount"`
	FollowsCount   int    `json:"followsCount"`
	IndexedAt      string `json:"indexedAt"`
	Viewer         struct {
		Following  string `json:"following"`
		FollowedBy string `json:"followedBy"`
	} `json:"viewer"`
}

func (wire profileWire) toSnapshot() ProfileSnapshot {
	snapshot := ProfileSnapshot{
		DID:              wire.DID,
		Handle:           wire.Handle,
		FollowersCount:   wire.FollowersCount,
		FollowsCount:     wire.FollowsCount,
		ViewerFollowing:  wire.Viewer.Following != "",
		ViewerFollowedBy: wire.Viewer.FollowedBy != "",
	}
	if wire.IndexedAt != "" {
		if indexedAt, parseErr := time.Parse(time.RFC3339, wire.IndexedAt); parseErr == nil {
			snapshot.IndexedAt = &indexedAt
		}
	}
	return snapshot
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: defaultHTTPTimeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          100,
			MaxConnsPerHost:       100,
			ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		},
	}
}
