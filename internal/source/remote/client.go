// Package remote fetches next-token distributions from an inference
// server over HTTP, and serves a local source over the same protocol.
//
//	GET  /info  -> {"vocab_size": 32000, "max_seq_length": 128}
//	POST /infer <- {"window": [..]}  -> {"probs": [..]}
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

var ErrServer = errors.New("remote: server error")

type Info struct {
	VocabSize    int `json:"vocab_size"`
	MaxSeqLength int `json:"max_seq_length"`
}

type InferRequest struct {
	Window []int `json:"window"`
}

type InferResponse struct {
	Probs []float32 `json:"probs"`
	Error string    `json:"error,omitempty"`
}

// Client implements inference.ProbabilitySource against a remote server.
type Client struct {
	baseURL string
	client  *http.Client
}

// New returns a client for baseURL. A nil httpClient uses a client with a
// 30 second timeout.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("remote: base url is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, client: httpClient}, nil
}

// Info fetches the model shape so callers can check it against their
// vocabulary and window size before decoding.
func (c *Client) Info(ctx context.Context) (Info, error) {
	var info Info
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/info", nil)
	if err != nil {
		return info, err
	}
	if err := c.do(req, &info); err != nil {
		return info, fmt.Errorf("remote info: %w", err)
	}
	return info, nil
}

// CheckShape compares the server's model shape with the local settings.
func (c *Client) CheckShape(ctx context.Context, vocabSize, maxSeqLength int) error {
	info, err := c.Info(ctx)
	if err != nil {
		return err
	}
	if info.VocabSize != vocabSize {
		return fmt.Errorf("remote: server vocab size %d, configured %d", info.VocabSize, vocabSize)
	}
	if info.MaxSeqLength != 0 && info.MaxSeqLength != maxSeqLength {
		return fmt.Errorf("remote: server max sequence length %d, configured %d", info.MaxSeqLength, maxSeqLength)
	}
	return nil
}

func (c *Client) Infer(ctx context.Context, window []int) ([]float32, error) {
	body, err := json.Marshal(InferRequest{Window: window})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/infer", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out InferResponse
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("remote infer: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("remote infer: %w: %s", ErrServer, out.Error)
	}
	return out.Probs, nil
}

func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: %s", ErrServer, resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
