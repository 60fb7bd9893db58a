package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// defaultFaceTimeout bounds a single detection request.
	defaultFaceTimeout = 5 * time.Second

	// loadTimeout bounds the model load request; loading weights is slow.
	loadTimeout = 2 * time.Minute
)

// FaceServiceClient is a Classifier backed by the local face analysis
// sidecar. The sidecar exposes:
//
//	POST /v1/models/load            load detector, age and gender models
//	POST /v1/detect (image/jpeg)    detect faces in one frame
type FaceServiceClient struct {
	httpClient *http.Client
	baseURL    string
}

var _ Classifier = (*FaceServiceClient)(nil)

// NewFaceServiceClient creates a client for the sidecar at baseURL
// (for example http://127.0.0.1:8090).
func NewFaceServiceClient(baseURL string) *FaceServiceClient {
	return &FaceServiceClient{
		httpClient: &http.Client{Timeout: loadTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// --- API response types ---

type detectResponse struct {
	Faces []faceJSON `json:"faces"`
	Error string     `json:"error,omitempty"`
}

type faceJSON struct {
	Box struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"box"`
	Age               float64 `json:"age"`
	Gender            string  `json:"gender"`
	GenderProbability float64 `json:"genderProbability"`
}

type loadResponse struct {
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

// --- Classifier ---

// Load asks the sidecar to load its models and waits for the result.
func (c *FaceServiceClient) Load(ctx context.Context) error {
	log.Debug().Str("base_url", c.baseURL).Msg("Loading face models")
	body, err := c.post(ctx, "/v1/models/load", "application/json", []byte("{}"), loadTimeout)
	if err != nil {
		return fmt.Errorf("load face models: %w", err)
	}
	var resp loadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parse load response: %w", err)
	}
	if !resp.Ready {
		return fmt.Errorf("face service not ready: %s", resp.Error)
	}
	return nil
}

// Detect sends img (downscaled to MaxFrameWidth) and returns the faces
// with boxes mapped back to img's coordinates.
func (c *FaceServiceClient) Detect(ctx context.Context, img image.Image) ([]Face, error) {
	frame, factor, err := EncodeFrame(img)
	if err != nil {
		return nil, err
	}
	body, err := c.post(ctx, "/v1/detect", "image/jpeg", frame, defaultFaceTimeout)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse detect response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("face service: %s", resp.Error)
	}

	origin := img.Bounds().Min
	faces := make([]Face, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		x0 := origin.X + int(f.Box.X*factor)
		y0 := origin.Y + int(f.Box.Y*factor)
		faces = append(faces, Face{
			Box:               image.Rect(x0, y0, x0+int(f.Box.Width*factor), y0+int(f.Box.Height*factor)),
			Age:               f.Age,
			Gender:            strings.ToLower(f.Gender),
			GenderProbability: f.GenderProbability,
		})
	}
	return faces, nil
}

// --- Internal helpers ---

func (c *FaceServiceClient) post(ctx context.Context, path, contentType string, payload []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("POST %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
