// Package extractor implements C6: the vision-model client that turns
// a label image into structured ExtractedFields. Oversized images are
// downscaled before submission; the model's structured JSON response
// is parsed first, with a best-effort regex fallback if the model
// replies with unstructured prose.
package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/image/draw"

	"github.com/ttbverify/labelverify/pkg/models"
)

// ErrExtractionFailed is returned when neither structured parsing nor
// the regex fallback recovers anything usable.
var ErrExtractionFailed = errors.New("extractor: extraction failed")

// maxEdge is the longest allowed image dimension before downscaling,
// per spec §4.4.
const maxEdge = 1024

// Client calls an external vision model over HTTP.
type Client struct {
	endpoint string
	token    string
	client   *http.Client
}

// New builds an extractor Client.
func New(endpoint, token string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}
}

type extractRequest struct {
	ImageBase64 string `json:"image_base64"`
	ContentType string `json:"content_type"`
	Prompt      string `json:"prompt"`
}

type extractResponse struct {
	Brand             *string  `json:"brand"`
	ClassType         *string  `json:"class_type"`
	ABVPercent        *float64 `json:"abv_percent"`
	NetContents       *string  `json:"net_contents"`
	ProducerName      *string  `json:"producer_name"`
	ProducerAddress   *string  `json:"producer_address"`
	CountryOfOrigin   *string  `json:"country_of_origin"`
	GovernmentWarning *string  `json:"government_warning"`
	Vintage           *string  `json:"vintage"`
	RawText           *string  `json:"raw_text"`
	Error             *string  `json:"error,omitempty"`
}

const prompt = "Extract from this beverage label image: brand, class/type, " +
	"ABV, net contents, producer name, producer address, government warning " +
	"text, vintage, and country of origin. Reply with the structured fields " +
	"only."

// Extract resizes imageBytes if needed, submits it to the vision
// model, and parses the response into ExtractedFields.
func (c *Client) Extract(ctx context.Context, imageBytes []byte, contentType string) (*models.ExtractedFields, error) {
	resized, resizedType, err := resizeIfNeeded(imageBytes, contentType)
	if err != nil {
		return nil, fmt.Errorf("extractor: resize: %w", err)
	}

	reqBody, err := json.Marshal(extractRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(resized),
		ContentType: resizedType,
		Prompt:      prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("extractor: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("extractor: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("extractor: request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("extractor: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extractor: vision model returned %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed extractResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.Error != nil {
		fields, ok := regexFallback(respBody)
		if !ok {
			return nil, ErrExtractionFailed
		}
		return fields, nil
	}

	fields := &models.ExtractedFields{
		Brand:             parsed.Brand,
		ClassType:         parsed.ClassType,
		ABVPercent:        validABVOrNil(parsed.ABVPercent),
		NetContents:       parsed.NetContents,
		ProducerName:      parsed.ProducerName,
		ProducerAddress:   parsed.ProducerAddress,
		CountryOfOrigin:   parsed.CountryOfOrigin,
		GovernmentWarning: parsed.GovernmentWarning,
		Vintage:           parsed.Vintage,
		RawText:           parsed.RawText,
	}
	if allFieldsEmpty(fields) {
		return nil, ErrExtractionFailed
	}
	return fields, nil
}

// resizeIfNeeded decodes the image, downsamples it if its longest edge
// exceeds maxEdge, and re-encodes to a canonical JPEG (quality 85) or
// PNG depending on the original content type.
func resizeIfNeeded(data []byte, contentType string) ([]byte, string, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	longest := bounds.Dx()
	if bounds.Dy() > longest {
		longest = bounds.Dy()
	}

	img := src
	if longest > maxEdge {
		scale := float64(maxEdge) / float64(longest)
		newW := int(float64(bounds.Dx()) * scale)
		newH := int(float64(bounds.Dy()) * scale)
		dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	switch contentType {
	case "image/png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("encode png: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	default:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			return nil, "", fmt.Errorf("encode jpeg: %w", err)
		}
		return buf.Bytes(), "image/jpeg", nil
	}
}

// validABVOrNil enforces spec §4.3's ABV range rejection: a parsed
// value outside [0, 100] is not a usable ABV reading and is dropped
// rather than passed through to validation.
func validABVOrNil(v *float64) *float64 {
	if v == nil || *v < 0 || *v > 100 {
		return nil
	}
	return v
}

func allFieldsEmpty(f *models.ExtractedFields) bool {
	return f.Brand == nil && f.ClassType == nil && f.ABVPercent == nil &&
		f.NetContents == nil && f.ProducerName == nil && f.ProducerAddress == nil &&
		f.CountryOfOrigin == nil && f.GovernmentWarning == nil && f.Vintage == nil && f.RawText == nil
}

var (
	abvPattern       = regexp.MustCompile(`(?i)(\d{1,2}(?:\.\d)?)\s*%|alc\.?\s*(\d{1,2}(?:\.\d)?)`)
	warningPattern   = regexp.MustCompile(`(?is)(GOVERNMENT WARNING:.*)`)
	netContentsRegex = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(mL|ml|L|l|fl\s*oz|oz)\b`)
)

// regexFallback does a best-effort scrape of raw text when the model's
// structured response can't be parsed, per spec §4.4.
func regexFallback(raw []byte) (*models.ExtractedFields, bool) {
	text := string(raw)
	fields := &models.ExtractedFields{}
	found := false

	if m := abvPattern.FindStringSubmatch(text); m != nil {
		num := m[1]
		if num == "" {
			num = m[2]
		}
		if v, err := strconv.ParseFloat(num, 64); err == nil && v >= 0 && v <= 100 {
			fields.ABVPercent = &v
			found = true
		}
	}
	if m := warningPattern.FindStringSubmatch(text); m != nil {
		w := m[1]
		fields.GovernmentWarning = &w
		found = true
	}
	if m := netContentsRegex.FindString(text); m != "" {
		fields.NetContents = &m
		found = true
	}

	if !found {
		return nil, false
	}
	raw2 := text
	fields.RawText = &raw2
	return fields, true
}
