package call

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const dailyBaseURL = "https://api.daily.co/v1"

// DailyClient talks to the Daily.co REST API. It implements
// RoomProvider.
type DailyClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewDailyClient() *DailyClient {
	return &DailyClient{
		apiKey:     os.Getenv("DAILY_API_KEY"),
		baseURL:    dailyBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// NewDailyClientWithBaseURL exists for tests against a local server.
func NewDailyClientWithBaseURL(apiKey, baseURL string) *DailyClient {
	return &DailyClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type dailyRoomResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (c *DailyClient) CreateRoom(ctx context.Context, params CreateRoomParams) (*Room, error) {
	properties := map[string]interface{}{
		"enable_chat":        true,
		"enable_screenshare": !params.AudioOnly,
	}
	if params.AudioOnly {
		properties["start_video_off"] = true
	}
	if params.TTL > 0 {
		properties["exp"] = time.Now().Add(params.TTL).Unix()
	}

	privacy := params.Privacy
	if privacy == "" {
		privacy = "public"
	}

	payload := map[string]interface{}{
		"name":       params.Name,
		"privacy":    privacy,
		"properties": properties,
	}

	body, err := c.do(ctx, http.MethodPost, "/rooms", payload)
	if err != nil {
		return nil, err
	}

	var room dailyRoomResponse
	if err := json.Unmarshal(body, &room); err != nil {
		return nil, &RoomError{Kind: ErrorKindNetwork, Message: fmt.Sprintf("invalid response from room provider: %v", err)}
	}
	return &Room{Name: room.Name, URL: room.URL}, nil
}

func (c *DailyClient) GetRoomDetails(ctx context.Context, name string) (*Room, error) {
	body, err := c.do(ctx, http.MethodGet, "/rooms/"+name, nil)
	if err != nil {
		var re *RoomError
		if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	var room dailyRoomResponse
	if err := json.Unmarshal(body, &room); err != nil {
		return nil, &RoomError{Kind: ErrorKindNetwork, Message: fmt.Sprintf("invalid response from room provider: %v", err)}
	}
	return &Room{Name: room.Name, URL: room.URL}, nil
}

// DeleteRoom treats an already-deleted room as success.
func (c *DailyClient) DeleteRoom(ctx context.Context, name string) error {
	_, err := c.do(ctx, http.MethodDelete, "/rooms/"+name, nil)
	if err != nil {
		var re *RoomError
		if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}

func (c *DailyClient) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RoomError{Kind: ErrorKindNetwork, Message: fmt.Sprintf("could not reach room provider: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RoomError{Kind: ErrorKindNetwork, Message: fmt.Sprintf("error reading provider response: %v", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, classifyStatus(resp.StatusCode, body)
}

// classifyStatus distinguishes credential misconfiguration from request
// and connectivity problems.
func classifyStatus(status int, body []byte) *RoomError {
	msg := providerMessage(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &RoomError{
			Kind:       ErrorKindAuth,
			StatusCode: status,
			Message:    "authentication with the video service failed; check the room provider API key",
		}
	case status >= 400 && status < 500:
		if msg == "" {
			msg = "the room request was rejected"
		}
		return &RoomError{Kind: ErrorKindValidation, StatusCode: status, Message: msg}
	default:
		if msg == "" {
			msg = "the video service is unavailable"
		}
		return &RoomError{Kind: ErrorKindNetwork, StatusCode: status, Message: msg}
	}
}

func providerMessage(body []byte) string {
	var errResp struct {
		Error string `json:"error"`
		Info  string `json:"info"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return ""
	}
	if errResp.Info != "" {
		return errResp.Info
	}
	return errResp.Error
}
