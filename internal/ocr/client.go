// Package ocr calls the vision API that reads part-number labels from camera
// frames. It owns the upload size budget, the timeout/retry policy and the
// error taxonomy the UI needs to pick the right message: rate-limited,
// auth-denied, timeout and generic network failures are all distinct.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
)

var (
	// ErrRateLimited means the service imposed a cooldown. Callers must
	// not retry until it elapses; errors.As against *RateLimitError
	// recovers the wait.
	ErrRateLimited = errors.New("recognition service rate limited")
	// ErrAuthDenied means the API key was rejected. Not retryable;
	// operator intervention required.
	ErrAuthDenied = errors.New("recognition service denied access")
	// ErrTimeout means the call exceeded its deadline. Retryable.
	ErrTimeout = errors.New("recognition request timed out")
	// ErrNoResult means the service answered but found no part number.
	ErrNoResult = errors.New("no part number recognized")
)

// RateLimitError carries the cooldown the service asked for.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("recognition service rate limited, retry after %s", e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) hold for RateLimitError values.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Result is a recognized label.
type Result struct {
	PartNumber string  `json:"part_number"`
	Confidence float64 `json:"confidence"`
}

// Options configures the client.
type Options struct {
	// Endpoint of the chat-completions style vision API.
	Endpoint string
	APIKey   string
	Model    string
	// Timeout bounds one attempt. Defaults to 30 seconds.
	Timeout time.Duration
	// MaxAttempts bounds retries of retryable failures. Defaults to 2.
	MaxAttempts int
	// MaxDimension bounds the longer image edge before upload.
	// Defaults to 1024.
	MaxDimension int
	Client       *http.Client
	Logger       zerolog.Logger
}

// Client calls the recognition service.
type Client struct {
	opts Options
	log  zerolog.Logger
}

const prompt = `Read the product label in this photo and return only JSON of the form {"part_number":"...","confidence":0.0}. The part number is the alphanumeric code printed on the label. Use an empty part_number when none is visible.`

// NewClient creates a recognition client.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 2
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = 1024
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	return &Client{
		opts: opts,
		log:  opts.Logger.With().Str("component", "ocr").Logger(),
	}
}

// Recognize uploads a camera frame and returns the recognized part number.
// Timeouts and generic network failures are retried up to MaxAttempts; rate
// limits and auth failures are surfaced immediately.
func (c *Client) Recognize(ctx context.Context, img image.Image) (Result, error) {
	payload, err := c.compress(img)
	if err != nil {
		return Result{}, fmt.Errorf("preparing frame: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		res, err := c.recognizeOnce(ctx, payload)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrAuthDenied) || errors.Is(err, ErrNoResult) {
			return Result{}, err
		}
		if ctx.Err() != nil {
			break
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("recognition attempt failed")
	}
	return Result{}, lastErr
}

// compress downscales the frame to the upload budget and re-encodes it as a
// lossy JPEG.
func (c *Client) compress(img image.Image) ([]byte, error) {
	b := img.Bounds()
	if b.Dx() > c.opts.MaxDimension || b.Dy() > c.opts.MaxDimension {
		if b.Dx() >= b.Dy() {
			img = imaging.Resize(img, c.opts.MaxDimension, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, c.opts.MaxDimension, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(70)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Client) recognizeOnce(ctx context.Context, jpeg []byte) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	body, err := json.Marshal(c.requestBody(jpeg))
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	resp, err := c.opts.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() == context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Result{}, fmt.Errorf("recognition request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, &RateLimitError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{}, fmt.Errorf("%w: HTTP %d", ErrAuthDenied, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Result{}, fmt.Errorf("recognition request: HTTP %d", resp.StatusCode)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("decoding recognition response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, ErrNoResult
	}

	res, err := parseContent(parsed.Choices[0].Message.Content)
	if err != nil {
		return Result{}, err
	}
	if res.PartNumber == "" {
		return Result{}, ErrNoResult
	}
	return res, nil
}

func (c *Client) requestBody(jpeg []byte) map[string]any {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)
	return map[string]any{
		"model": c.opts.Model,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": prompt},
					{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
				},
			},
		},
		"max_tokens": 100,
	}
}

// parseContent extracts the JSON result from the model reply, tolerating
// fenced code blocks around it.
func parseContent(content string) (Result, error) {
	content = strings.TrimSpace(content)
	if i := strings.Index(content, "{"); i >= 0 {
		if j := strings.LastIndex(content, "}"); j > i {
			content = content[i : j+1]
		}
	}

	var res Result
	if err := json.Unmarshal([]byte(content), &res); err != nil {
		return Result{}, fmt.Errorf("%w: unparseable reply", ErrNoResult)
	}
	return res, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 30 * time.Second
}
