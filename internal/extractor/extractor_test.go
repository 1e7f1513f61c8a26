package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 50, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestClient_Extract_StructuredResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req extractRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		brand := "Stone Creek"
		abv := 13.5
		json.NewEncoder(w).Encode(extractResponse{Brand: &brand, ABVPercent: &abv})
	}))
	defer srv.Close()

	client := New(srv.URL, "test-token", 5*time.Second)
	fields, err := client.Extract(context.Background(), testJPEG(t, 100, 100), "image/jpeg")
	require.NoError(t, err)
	require.NotNil(t, fields.Brand)
	assert.Equal(t, "Stone Creek", *fields.Brand)
	assert.Equal(t, 13.5, *fields.ABVPercent)
}

func TestClient_Extract_RejectsOutOfRangeStructuredABV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		brand := "Stone Creek"
		abv := 150.0
		json.NewEncoder(w).Encode(extractResponse{Brand: &brand, ABVPercent: &abv})
	}))
	defer srv.Close()

	client := New(srv.URL, "", 5*time.Second)
	fields, err := client.Extract(context.Background(), testJPEG(t, 100, 100), "image/jpeg")
	require.NoError(t, err)
	assert.Nil(t, fields.ABVPercent)
}

func TestValidABVOrNil_RejectsOutOfRangeValues(t *testing.T) {
	inRange := 50.0
	tooHigh := 101.0
	tooLow := -1.0

	assert.Equal(t, &inRange, validABVOrNil(&inRange))
	assert.Nil(t, validABVOrNil(&tooHigh))
	assert.Nil(t, validABVOrNil(&tooLow))
	assert.Nil(t, validABVOrNil(nil))
}

func TestClient_Extract_ResizesOversizedImage(t *testing.T) {
	var gotSize, gotW, gotH int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req extractRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotSize = len(req.ImageBase64)
		raw, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		require.NoError(t, err)
		cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
		require.NoError(t, err)
		gotW, gotH = cfg.Width, cfg.Height
		brand := "Stone Creek"
		json.NewEncoder(w).Encode(extractResponse{Brand: &brand})
	}))
	defer srv.Close()

	client := New(srv.URL, "", 5*time.Second)
	_, err := client.Extract(context.Background(), testJPEG(t, 2000, 1000), "image/jpeg")
	require.NoError(t, err)
	assert.NotZero(t, gotSize)
	assert.Equal(t, 1024, gotW)
	assert.Equal(t, 512, gotH)
}

func TestClient_Extract_RegexFallbackOnUnstructuredResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("The label shows ALC 13.5% BY VOL and 750 mL, GOVERNMENT WARNING: test body."))
	}))
	defer srv.Close()

	client := New(srv.URL, "", 5*time.Second)
	fields, err := client.Extract(context.Background(), testJPEG(t, 100, 100), "image/jpeg")
	require.NoError(t, err)
	require.NotNil(t, fields.ABVPercent)
	assert.Equal(t, 13.5, *fields.ABVPercent)
	require.NotNil(t, fields.NetContents)
}

func TestClient_Extract_FailsWhenNothingRecovered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("no usable fields in this text at all"))
	}))
	defer srv.Close()

	client := New(srv.URL, "", 5*time.Second)
	_, err := client.Extract(context.Background(), testJPEG(t, 100, 100), "image/jpeg")
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestClient_Extract_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	client := New(srv.URL, "", 5*time.Second)
	_, err := client.Extract(context.Background(), testJPEG(t, 100, 100), "image/jpeg")
	assert.Error(t, err)
}
