package executor

import (
	"bytes"
	"context"
	"crypto/rand"
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

	"github.com/ttbverify/labelverify/internal/beveragestore"
	"github.com/ttbverify/labelverify/internal/blobstore"
	"github.com/ttbverify/labelverify/internal/cache"
	"github.com/ttbverify/labelverify/internal/cryptobox"
	"github.com/ttbverify/labelverify/internal/extractor"
	"github.com/ttbverify/labelverify/internal/jobstore"
	"github.com/ttbverify/labelverify/internal/matchhistory"
	"github.com/ttbverify/labelverify/internal/queue"
	"github.com/ttbverify/labelverify/internal/registry"
	"github.com/ttbverify/labelverify/internal/ruletables"
	"github.com/ttbverify/labelverify/pkg/models"
)

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for x := 0; x < 32; x++ {
		for y := 0; y < 32; y++ {
			img.Set(x, y, color.RGBA{R: 180, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// extractResponseFields mirrors extractor's unexported extractResponse
// wire shape, so the test's fake vision-model server can produce a
// response the real client will successfully decode.
type extractResponseFields struct {
	Brand             *string  `json:"brand"`
	ClassType         *string  `json:"class_type"`
	ABVPercent        *float64 `json:"abv_percent"`
	NetContents       *string  `json:"net_contents"`
	GovernmentWarning *string  `json:"government_warning"`
}

func strp(s string) *string   { return &s }
func f64p(f float64) *float64 { return &f }

type testHarness struct {
	svc   *Service
	jobs  jobstore.Store
	blobs blobstore.Store
	q     queue.Queue
	box   *cryptobox.Box
}

func newTestHarness(t *testing.T, extractSrv *httptest.Server) testHarness {
	t.Helper()

	key := make([]byte, cryptobox.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	box, err := cryptobox.New(key)
	require.NoError(t, err)

	jobs := jobstore.NewMemoryStore()
	blobs := blobstore.NewMemoryStore()
	q := queue.NewMemoryQueue()
	history := matchhistory.NewMemoryStore()
	rules := ruletables.Load()
	beverages := beveragestore.NewMemoryStore()
	reg := registry.New("http://127.0.0.1:1", 50*time.Millisecond)
	c := cache.New(beverages, reg)
	extract := extractor.New(extractSrv.URL, "", 5*time.Second)

	svc := New(jobs, blobs, box, extract, c, history, rules, q, Config{Concurrency: 1, MaxRetries: 1})
	return testHarness{svc: svc, jobs: jobs, blobs: blobs, q: q, box: box}
}

func (h testHarness) enqueueJob(t *testing.T, id string, expected *models.ExpectedFields) {
	t.Helper()
	ctx := context.Background()

	plaintext := testJPEG(t)
	ciphertext, err := h.box.Encrypt(plaintext)
	require.NoError(t, err)

	blobKey := id + "-blob"
	require.NoError(t, h.blobs.Put(ctx, blobKey, ciphertext))

	job := &models.Job{ID: id, State: models.JobPending, BlobKey: blobKey, Expected: expected}
	require.NoError(t, h.jobs.Create(ctx, job))
	require.NoError(t, h.q.Enqueue(ctx, id))
}

func TestService_ProcessJob_Success(t *testing.T) {
	rules := ruletables.Load()
	warning := rules.Warning.Marker + rules.Warning.Body

	extractSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(extractResponseFields{
			Brand:             strp("Stone Creek"),
			ClassType:         strp("TABLE WINE"),
			ABVPercent:        f64p(13.0),
			NetContents:       strp("750 mL"),
			GovernmentWarning: strp(warning),
		})
	}))
	defer extractSrv.Close()

	h := newTestHarness(t, extractSrv)
	h.enqueueJob(t, "job-1", &models.ExpectedFields{Brand: strp("Stone Creek")})

	require.NoError(t, h.svc.processJob(context.Background(), "job-1"))

	job, err := h.jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.State)
	require.NotNil(t, job.Result)
	require.NotNil(t, job.Extracted)
	assert.Equal(t, "Stone Creek", *job.Extracted.Brand)
}

func TestService_ProcessJob_DecryptFailure_MarksJobFailed(t *testing.T) {
	extractSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(extractResponseFields{})
	}))
	defer extractSrv.Close()

	h := newTestHarness(t, extractSrv)
	ctx := context.Background()

	blobKey := "bad-blob"
	require.NoError(t, h.blobs.Put(ctx, blobKey, []byte("not-valid-ciphertext")))
	job := &models.Job{ID: "job-bad", State: models.JobPending, BlobKey: blobKey}
	require.NoError(t, h.jobs.Create(ctx, job))
	require.NoError(t, h.q.Enqueue(ctx, job.ID))

	err := h.svc.processJob(ctx, "job-bad")
	require.Error(t, err)

	stored, err := h.jobs.Get(ctx, "job-bad")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, stored.State)
	require.NotNil(t, stored.Error)
}

func TestService_ProcessJob_ExtractionFailure_NotRetriedAndMarksFailed(t *testing.T) {
	attempts := 0
	extractSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		// Every field empty: extractor.Client.Extract returns ErrExtractionFailed.
		json.NewEncoder(w).Encode(extractResponseFields{})
	}))
	defer extractSrv.Close()

	h := newTestHarness(t, extractSrv)
	h.enqueueJob(t, "job-2", nil)

	err := h.svc.processJob(context.Background(), "job-2")
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "extraction failure should not be retried")

	job, err := h.jobs.Get(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.State)
}

func TestService_StartStop_DrainsQueuedJob(t *testing.T) {
	rules := ruletables.Load()
	warning := rules.Warning.Marker + rules.Warning.Body

	extractSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(extractResponseFields{
			Brand:             strp("Stone Creek"),
			ClassType:         strp("TABLE WINE"),
			ABVPercent:        f64p(13.0),
			NetContents:       strp("750 mL"),
			GovernmentWarning: strp(warning),
		})
	}))
	defer extractSrv.Close()

	h := newTestHarness(t, extractSrv)
	h.enqueueJob(t, "job-3", nil)

	h.svc.Start()
	defer h.svc.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := h.jobs.Get(context.Background(), "job-3")
		require.NoError(t, err)
		if job.State == models.JobCompleted {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("job was not drained from the queue within the deadline")
}
