// Package extractor talks to the face embedding servers. Each server detects
// faces in an uploaded image and returns one embedding per face.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

const (
	defaultTimeout = 30 * time.Second
	representPath  = "/represent"
	healthPath     = "/health"

	// duplicateIoU is the overlap above which two detections are one face.
	duplicateIoU = 0.7
)

// Options configures a Client.
type Options struct {
	BaseURL  string
	Kind     facematch.Kind
	Model    string
	Detector string
	Timeout  time.Duration
	// RateLimit caps requests per second; 0 disables limiting.
	RateLimit float64
	// MaxImageSize downscales probes whose longer side exceeds it; 0 disables.
	MaxImageSize int
}

// Client computes face embeddings using one embedding server.
type Client struct {
	baseURL      string
	kind         facematch.Kind
	model        string
	detector     string
	maxImageSize int
	limiter      *rate.Limiter
	client       *http.Client
}

// NewClient creates a new extractor client.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return &Client{
		baseURL:      strings.TrimSuffix(opts.BaseURL, "/"),
		kind:         opts.Kind,
		model:        opts.Model,
		detector:     opts.Detector,
		maxImageSize: opts.MaxImageSize,
		limiter:      limiter,
		client:       &http.Client{Timeout: timeout},
	}
}

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the represent endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Kind returns the embedding kind this client produces.
func (c *Client) Kind() facematch.Kind {
	return c.kind
}

// Model returns the model name being used
func (c *Client) Model() string {
	return c.model
}

// Detector returns the face detector backend name.
func (c *Client) Detector() string {
	return c.detector
}

// Extract returns the embedding of the primary face in image. It returns
// facematch.ErrNoFaceDetected when no face is found and a
// *facematch.ExtractorError for every other failure.
func (c *Client) Extract(ctx context.Context, image []byte) (facematch.Embedding, error) {
	resp, err := c.DetectFaces(ctx, image)
	if err != nil {
		return facematch.Embedding{}, &facematch.ExtractorError{Kind: c.kind, Err: err}
	}
	if resp.FacesCount == 0 || len(resp.Faces) == 0 {
		return facematch.Embedding{}, facematch.ErrNoFaceDetected
	}

	face := PrimaryFace(resp.Faces)
	if len(face.Embedding) == 0 {
		return facematch.Embedding{}, &facematch.ExtractorError{Kind: c.kind, Err: errors.New("empty embedding returned")}
	}
	return facematch.NewEmbedding(c.kind, face.Embedding), nil
}

// DetectFaces uploads image and returns every detected face.
func (c *Client) DetectFaces(ctx context.Context, image []byte) (*FaceResponse, error) {
	if len(image) == 0 {
		return nil, errors.New("empty image")
	}
	if c.maxImageSize > 0 {
		resized, err := ResizeImage(image, c.maxImageSize)
		if err != nil {
			return nil, err
		}
		image = resized
	}

	body, err := c.postMultipartImage(ctx, representPath, image)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(faceResp.Faces) > 1 {
		faceResp.Faces = DistinctFaces(faceResp.Faces, duplicateIoU)
		faceResp.FacesCount = len(faceResp.Faces)
	}
	return &faceResp, nil
}

// Health checks that the embedding server is reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// postMultipartImage posts the image as the "file" part together with the
// model and detector fields.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	for name, value := range map[string]string{"model": c.model, "detector": c.detector} {
		if value == "" {
			continue
		}
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write %s field: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}
