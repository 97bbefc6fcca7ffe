// Package scorer talks to the remote danger-scoring service.
package scorer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"voice-guard-go/internal/apperr"
	"voice-guard-go/internal/httpx"
	"voice-guard-go/internal/types"
)

type analyzeResponse struct {
	DangerScore *float64 `json:"danger_score"`
}

// Client posts audio and transcript to {base}/analyze.
type Client struct {
	endpoint string
	http     *httpx.Client
	log      *logrus.Entry
}

func NewClient(baseURL string, http *httpx.Client, log *logrus.Entry) *Client {
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/analyze",
		http:     http,
		log:      log.WithField("module", "scorer"),
	}
}

// Score returns the service's danger_score for the pair. Parts carry the
// artifacts' client file names when they have one. Any transport error,
// non-2xx status or missing score is a scoring error.
func (c *Client) Score(ctx context.Context, audioArt types.AudioArtifact, tr types.TranscriptArtifact) (float64, error) {
	audio, err := os.ReadFile(audioArt.Path)
	if err != nil {
		return 0, apperr.New(apperr.Scoring, "read audio", err)
	}
	text, err := os.ReadFile(tr.Path)
	if err != nil {
		return 0, apperr.New(apperr.Scoring, "read transcript", err)
	}

	newReq := func(ctx context.Context) (*http.Request, error) {
		var b bytes.Buffer
		w := multipart.NewWriter(&b)
		if err := writeFile(w, "audio_file", partName(audioArt.Name, audioArt.Path), audio); err != nil {
			return nil, err
		}
		if err := writeFile(w, "text_file", partName(tr.Name, tr.Path), text); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &b)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		return req, nil
	}

	start := time.Now()
	var resp analyzeResponse
	if err := c.http.DoJSON(ctx, newReq, &resp); err != nil {
		return 0, apperr.New(apperr.Scoring, "analyze", err)
	}
	if resp.DangerScore == nil {
		return 0, apperr.New(apperr.Scoring, "analyze", errors.New("response has no danger_score"))
	}

	c.log.WithFields(logrus.Fields{
		"danger_score": *resp.DangerScore,
		"duration_ms":  time.Since(start).Milliseconds(),
	}).Info("score received")
	return *resp.DangerScore, nil
}

func partName(name, path string) string {
	if name != "" {
		return name
	}
	return filepath.Base(path)
}

func writeFile(w *multipart.Writer, field, name string, data []byte) error {
	part, err := w.CreateFormFile(field, name)
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	_, err = io.Copy(part, bytes.NewReader(data))
	return err
}
