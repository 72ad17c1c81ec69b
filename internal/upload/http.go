package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/sorosurance/soro/internal/api"
	"github.com/sorosurance/soro/internal/pcm"
	"github.com/sorosurance/soro/internal/session"
)

const maxResponseBytes = 1 << 20

// HTTPClient posts the recording as a multipart WAV upload.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClient targets endpoint, the full /api/transcribe URL. A nil client
// uses http.DefaultClient; per-call deadlines come from ctx.
func NewHTTPClient(endpoint string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{endpoint: strings.TrimSpace(endpoint), client: client}
}

func (c *HTTPClient) Transcribe(ctx context.Context, up session.Upload) (session.Result, error) {
	body, contentType, err := multipartUpload(up)
	if err != nil {
		return session.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return session.Result{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return session.Result{}, fmt.Errorf("post %s: %w", c.endpoint, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return session.Result{}, fmt.Errorf("read upload response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return session.Result{}, fmt.Errorf("HTTP %d: %s", res.StatusCode, errorSummary(raw))
	}

	var resp api.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return session.Result{}, fmt.Errorf("malformed transcription response: %w", err)
	}
	return toResult(resp)
}

func multipartUpload(up session.Upload) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile(api.FieldAudio, "recording.wav")
	if err != nil {
		return nil, "", fmt.Errorf("build upload body: %w", err)
	}
	rate := up.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	if err := pcm.EncodeWAV(part, up.Audio, rate, up.Channels); err != nil {
		return nil, "", fmt.Errorf("encode wav: %w", err)
	}

	fields := [][2]string{
		{api.FieldLanguage, up.LanguageHint},
		{api.FieldDuration, strconv.Itoa(up.DurationSeconds)},
		{api.FieldSessionID, up.SessionID},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("build upload body: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("build upload body: %w", err)
	}
	return &body, w.FormDataContentType(), nil
}

// errorSummary prefers the JSON error field and falls back to a trimmed body.
func errorSummary(raw []byte) string {
	var resp api.Response
	if json.Unmarshal(raw, &resp) == nil && strings.TrimSpace(resp.Error) != "" {
		return resp.Error
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return "empty body"
	}
	return text
}
