package ingress

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"image"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttbverify/labelverify/internal/blobstore"
	"github.com/ttbverify/labelverify/internal/cryptobox"
	"github.com/ttbverify/labelverify/internal/jobstore"
	"github.com/ttbverify/labelverify/internal/queue"
	"github.com/ttbverify/labelverify/pkg/models"
)

// withChiURLParam injects a chi route param into the request context,
// mirroring what chi's router does when dispatching to a handler.
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	// Random pixels keep the encoded JPEG above the handler's 1 KiB
	// minimum; a solid-colour 64x64 JPEG encodes to about 660 bytes.
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	_, err := rand.Read(img.Pix)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func newTestHandlers(t *testing.T) (*Handlers, jobstore.Store, blobstore.Store, queue.Queue) {
	t.Helper()
	key := make([]byte, cryptobox.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	box, err := cryptobox.New(key)
	require.NoError(t, err)

	jobs := jobstore.NewMemoryStore()
	blobs := blobstore.NewMemoryStore()
	q := queue.NewMemoryQueue()
	return NewHandlers(box, blobs, jobs, q), jobs, blobs, q
}

func buildMultipart(t *testing.T, imageBytes []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	partHeader := textproto.MIMEHeader{}
	partHeader.Set("Content-Disposition", `form-data; name="image"; filename="label.jpg"`)
	partHeader.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(partHeader)
	require.NoError(t, err)
	_, err = part.Write(imageBytes)
	require.NoError(t, err)

	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestSubmit_ValidImage_CreatesPendingJobAndEnqueues(t *testing.T) {
	h, jobs, blobs, q := newTestHandlers(t)

	body, contentType := buildMultipart(t, testJPEG(t), map[string]string{
		"brand_name":   "Stone Creek",
		"class_type":   "TABLE WINE",
		"expected_abv": "13.2",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify/", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Submit(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, string(models.JobPending), resp.Status)

	job, err := jobs.Get(req.Context(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.State)
	require.NotNil(t, job.Expected)
	assert.Equal(t, "Stone Creek", *job.Expected.Brand)
	assert.InDelta(t, 13.2, *job.Expected.ABV, 0.001)

	_, err = blobs.Get(req.Context(), job.BlobKey)
	require.NoError(t, err)

	id, ok, err := q.Dequeue(req.Context(), 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, resp.JobID, id)
}

func TestSubmit_NoExpectedFields_CreatesJobWithNilExpected(t *testing.T) {
	h, jobs, _, _ := newTestHandlers(t)

	body, contentType := buildMultipart(t, testJPEG(t), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify/", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Submit(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	job, err := jobs.Get(req.Context(), resp.JobID)
	require.NoError(t, err)
	assert.Nil(t, job.Expected)
}

func TestSubmit_MissingImagePart_BadRequest(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("brand_name", "Stone Creek"))
	require.NoError(t, writer.Close())
	contentType := writer.FormDataContentType()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify/", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Submit(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmit_ImageTooSmall_RequestEntityTooLarge(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	body, contentType := buildMultipart(t, []byte("tiny"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify/", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Submit(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSubmit_ExpectedABVOutOfRange_BadRequest(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	body, contentType := buildMultipart(t, testJPEG(t), map[string]string{"expected_abv": "250"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify/", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Submit(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmit_NonImageBytes_UnsupportedMediaType(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	junk := bytes.Repeat([]byte{0x00, 0x01, 0x02, 0x03}, 512)
	body, contentType := buildMultipart(t, junk, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify/", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Submit(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestStatus_KnownJob_ReturnsState(t *testing.T) {
	h, jobs, _, _ := newTestHandlers(t)
	ctx := httptest.NewRequest(http.MethodGet, "/api/v1/verify/job-1", nil).Context()

	require.NoError(t, jobs.Create(ctx, &models.Job{ID: "job-1", State: models.JobPending, BlobKey: "k"}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/verify/job-1", nil)
	req = withChiURLParam(req, "jobID", "job-1")
	rec := httptest.NewRecorder()

	h.Status(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, models.JobPending, resp.State)
}

func TestStatus_UnknownJob_NotFound(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/verify/nope", nil)
	req = withChiURLParam(req, "jobID", "nope")
	rec := httptest.NewRecorder()

	h.Status(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
