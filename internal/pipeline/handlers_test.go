package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuning-platform/internal/adapter"
	apperrors "github.com/tuning-platform/internal/errors"
	"github.com/tuning-platform/internal/logging"
	"github.com/tuning-platform/internal/models"
	"github.com/tuning-platform/internal/queue"
	"github.com/tuning-platform/internal/script"
	"github.com/tuning-platform/internal/staging"
	"github.com/tuning-platform/internal/storage"
	"github.com/tuning-platform/internal/types"
)

type fakeRequestStore struct {
	mu   sync.Mutex
	byID map[string]*models.FileServiceRequest
}

func newFakeRequestStore() *fakeRequestStore {
	return &fakeRequestStore{byID: make(map[string]*models.FileServiceRequest)}
}

func (s *fakeRequestStore) put(req *models.FileServiceRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[req.ID] = req
}

func (s *fakeRequestStore) setStatus(id string, status types.RequestStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id].Status = status
}

func (s *fakeRequestStore) Get(ctx context.Context, id string) (*models.FileServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNoRows
	}
	clone := *req
	return &clone, nil
}

func (s *fakeRequestStore) Advance(ctx context.Context, id string, from, to types.RequestStatus) error {
	if !types.CanAdvance(from, to) {
		return fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, from, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.byID[id]
	if !ok {
		return storage.ErrNoRows
	}
	if req.Status != from {
		return fmt.Errorf("%w: request %s not in status %s", storage.ErrInvalidTransition, id, from)
	}
	req.Status = to
	return nil
}

func (s *fakeRequestStore) MarkFailed(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.byID[id]
	if !ok {
		return storage.ErrNoRows
	}
	req.Status = types.StatusFailed
	req.LastError = &reason
	return nil
}

func (s *fakeRequestStore) SetFiles(ctx context.Context, req *models.FileServiceRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[req.ID]
	if !ok {
		return storage.ErrNoRows
	}
	stored.DecodedFile = req.DecodedFile
	stored.ModWithoutEncode = req.ModWithoutEncode
	stored.ModFinal = req.ModFinal
	return nil
}

type fakeJobStore struct {
	mu   sync.Mutex
	byID map[string]*models.SlaveJob
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{byID: make(map[string]*models.SlaveJob)}
}

func (s *fakeJobStore) put(job *models.SlaveJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[job.UniqueID] = job
}

func (s *fakeJobStore) Get(ctx context.Context, uniqueID string) (*models.SlaveJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.byID[uniqueID]
	if !ok {
		return nil, storage.ErrNoRows
	}
	clone := *job
	return &clone, nil
}

func (s *fakeJobStore) Update(ctx context.Context, job *models.SlaveJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[job.UniqueID]; !ok {
		return storage.ErrNoRows
	}
	clone := *job
	s.byID[job.UniqueID] = &clone
	return nil
}

func (s *fakeJobStore) MarkFailed(ctx context.Context, uniqueID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.byID[uniqueID]
	if !ok {
		return storage.ErrNoRows
	}
	job.Status = types.JobFailed
	job.LastError = &reason
	return nil
}

type fakeScriptStore struct {
	byID map[string]*models.Script
}

func (s *fakeScriptStore) Get(ctx context.Context, id string) (*models.Script, error) {
	sc, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNoRows
	}
	return sc, nil
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	messages []*queue.Message
}

func (e *fakeEnqueuer) Enqueue(ctx context.Context, msg *queue.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, msg)
	return nil
}

type fakeVendorAdapter struct {
	vendor      types.Vendor
	decodeCalls int32
	encodeCalls int32
	decodeFunc  func(ctx context.Context, job *models.SlaveJob) (*adapter.DecodeResult, error)
	encodeFunc  func(ctx context.Context, job *models.SlaveJob, modifiedFilePath string) (string, error)
}

func (a *fakeVendorAdapter) Vendor() types.Vendor {
	return a.vendor
}

func (a *fakeVendorAdapter) Decode(ctx context.Context, job *models.SlaveJob) (*adapter.DecodeResult, error) {
	atomic.AddInt32(&a.decodeCalls, 1)
	if a.decodeFunc == nil {
		return nil, errors.New("decode not scripted")
	}
	return a.decodeFunc(ctx, job)
}

func (a *fakeVendorAdapter) Encode(ctx context.Context, job *models.SlaveJob, modifiedFilePath string) (string, error) {
	atomic.AddInt32(&a.encodeCalls, 1)
	if a.encodeFunc == nil {
		return "", errors.New("encode not scripted")
	}
	return a.encodeFunc(ctx, job, modifiedFilePath)
}

type pipelineFixture struct {
	requests *fakeRequestStore
	jobs     *fakeJobStore
	scripts  *fakeScriptStore
	enqueuer *fakeEnqueuer
	gateway  *staging.Gateway
	vendor   *fakeVendorAdapter
	pipe     *Pipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	active := &fakeVendorAdapter{vendor: types.VendorAutoTuner}
	adapters := []adapter.SlaveAdapter{active}
	for _, v := range types.AllVendors {
		if v != active.vendor {
			adapters = append(adapters, &fakeVendorAdapter{vendor: v})
		}
	}
	registry, err := adapter.NewRegistry(adapters...)
	require.NoError(t, err)

	f := &pipelineFixture{
		requests: newFakeRequestStore(),
		jobs:     newFakeJobStore(),
		scripts:  &fakeScriptStore{byID: make(map[string]*models.Script)},
		enqueuer: &fakeEnqueuer{},
		gateway:  staging.NewGateway(t.TempDir(), staging.NewFSObjectStore(t.TempDir())),
		vendor:   active,
	}
	f.pipe = New(f.requests, f.jobs, f.scripts, nil, registry, f.gateway, f.enqueuer,
		logging.NewLogger(logging.LevelError, logging.FormatText))
	return f
}

// seedRequest stores a request and its active job and stages the uploaded
// original in the job's scratch directory.
func (f *pipelineFixture) seedRequest(t *testing.T, status types.RequestStatus) (*models.FileServiceRequest, *models.SlaveJob) {
	t.Helper()

	originalPath, err := f.gateway.WriteFile("tenant-1", "job-1", "read.bin", []byte{0x01, 0x02})
	require.NoError(t, err)

	jobID := "job-1"
	req := &models.FileServiceRequest{
		ID:           "req-1",
		TenantID:     "tenant-1",
		CustomerID:   "cust-1",
		Car:          "golf-7",
		Controller:   "edc17",
		Vendor:       f.vendor.vendor,
		Status:       status,
		OriginalFile: "read.bin",
		ActiveJobID:  &jobID,
	}
	job := &models.SlaveJob{
		UniqueID:     jobID,
		TenantID:     "tenant-1",
		RequestID:    req.ID,
		Vendor:       f.vendor.vendor,
		Status:       types.JobCreated,
		OriginalFile: originalPath,
		Mode:         types.ModeOBD,
	}
	f.requests.put(req)
	f.jobs.put(job)
	return req, job
}

func (f *pipelineFixture) message(kind queue.Kind) *queue.Message {
	msg := queue.NewMessage(kind, "tenant-1", "req-1")
	msg.JobID = "job-1"
	msg.Vendor = f.vendor.vendor
	return msg
}

func (f *pipelineFixture) request(t *testing.T) *models.FileServiceRequest {
	t.Helper()
	req, err := f.requests.Get(context.Background(), "req-1")
	require.NoError(t, err)
	return req
}

func (f *pipelineFixture) job(t *testing.T) *models.SlaveJob {
	t.Helper()
	job, err := f.jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	return job
}

func TestHandleDecode_StagesDecodedFile(t *testing.T) {
	f := newPipelineFixture(t)
	f.seedRequest(t, types.StatusNew)

	decoded := []byte{0x10, 0x20, 0x30, 0x40}
	f.vendor.decodeFunc = func(ctx context.Context, job *models.SlaveJob) (*adapter.DecodeResult, error) {
		path, err := f.gateway.WriteFile(job.TenantID, job.UniqueID, "decoded.bin", decoded)
		require.NoError(t, err)
		return &adapter.DecodeResult{DecodedFilePath: path, DecodedFileName: "decoded.bin"}, nil
	}

	require.NoError(t, f.pipe.handleDecode(context.Background(), f.message(queue.KindDecode)))

	req := f.request(t)
	assert.Equal(t, types.StatusAwaitingSelection, req.Status)
	require.NotNil(t, req.DecodedFile)
	assert.Equal(t, "decoded.bin", *req.DecodedFile)

	job := f.job(t)
	assert.Equal(t, types.JobCompleted, job.Status)
	require.NotNil(t, job.DecodedFile)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.vendor.decodeCalls))
}

func TestHandleDecode_RedeliveryDetectsDecodedArtifact(t *testing.T) {
	f := newPipelineFixture(t)
	f.seedRequest(t, types.StatusNew)

	f.vendor.decodeFunc = func(ctx context.Context, job *models.SlaveJob) (*adapter.DecodeResult, error) {
		path, err := f.gateway.WriteFile(job.TenantID, job.UniqueID, "decoded.bin", []byte{0x10})
		require.NoError(t, err)
		return &adapter.DecodeResult{DecodedFilePath: path, DecodedFileName: "decoded.bin"}, nil
	}
	require.NoError(t, f.pipe.handleDecode(context.Background(), f.message(queue.KindDecode)))

	// Redelivery of a message whose first delivery died between the vendor
	// call and the status advance: the decoded artifact on the job is found
	// and the vendor is not called again.
	f.requests.setStatus("req-1", types.StatusDecoding)
	require.NoError(t, f.pipe.handleDecode(context.Background(), f.message(queue.KindDecode)))

	assert.Equal(t, types.StatusAwaitingSelection, f.request(t).Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.vendor.decodeCalls))
}

func TestHandleDecode_PastDecodeSkips(t *testing.T) {
	f := newPipelineFixture(t)
	f.seedRequest(t, types.StatusReady)

	require.NoError(t, f.pipe.handleDecode(context.Background(), f.message(queue.KindDecode)))

	assert.Equal(t, types.StatusReady, f.request(t).Status)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.vendor.decodeCalls))
}

func TestHandleDecode_TerminalFailureCleansScratch(t *testing.T) {
	f := newPipelineFixture(t)
	_, job := f.seedRequest(t, types.StatusNew)

	f.vendor.decodeFunc = func(ctx context.Context, job *models.SlaveJob) (*adapter.DecodeResult, error) {
		return nil, apperrors.NewVendorRejectedError(types.VendorAutoTuner, "unsupported file")
	}

	// A terminal rejection acknowledges the message.
	require.NoError(t, f.pipe.handleDecode(context.Background(), f.message(queue.KindDecode)))

	req := f.request(t)
	assert.Equal(t, types.StatusFailed, req.Status)
	require.NotNil(t, req.LastError)
	assert.Contains(t, *req.LastError, "unsupported file")
	assert.Equal(t, types.JobFailed, f.job(t).Status)

	// The scratch directory is gone with the request.
	_, err := os.Stat(job.OriginalFile)
	assert.True(t, os.IsNotExist(err))
}

func TestHandleDecode_TransientFaultLeavesRequestInFlight(t *testing.T) {
	f := newPipelineFixture(t)
	_, job := f.seedRequest(t, types.StatusNew)

	f.vendor.decodeFunc = func(ctx context.Context, job *models.SlaveJob) (*adapter.DecodeResult, error) {
		return nil, errors.New("connection reset")
	}

	err := f.pipe.handleDecode(context.Background(), f.message(queue.KindDecode))
	require.Error(t, err)

	// The request stays in decoding for the redelivery and its scratch files
	// survive for the next attempt.
	assert.Equal(t, types.StatusDecoding, f.request(t).Status)
	_, statErr := os.Stat(job.OriginalFile)
	assert.NoError(t, statErr)
}

func TestHandleBuild_AppliesSelectedScripts(t *testing.T) {
	f := newPipelineFixture(t)
	req, _ := f.seedRequest(t, types.StatusAwaitingSelection)

	decoded := []byte{0x00, 0x10, 0x20, 0x30}
	modified := []byte{0x00, 0xFF, 0x20, 0x30}
	_, err := f.gateway.WriteFile("tenant-1", "job-1", "decoded.bin", decoded)
	require.NoError(t, err)

	artifact, err := script.Capture("admin-1", "golf-7", "edc17", "decoded.bin", decoded, modified)
	require.NoError(t, err)
	diff, err := script.Marshal(artifact)
	require.NoError(t, err)
	f.scripts.byID["script-1"] = &models.Script{
		ID:             "script-1",
		TenantID:       "tenant-1",
		Car:            "golf-7",
		Controller:     "edc17",
		Label:          "stage1",
		OriginalLength: len(decoded),
		Diff:           diff,
	}

	decodedName := "decoded.bin"
	req.DecodedFile = &decodedName
	req.RequestedScriptIDs = []string{"script-1"}

	require.NoError(t, f.pipe.handleBuild(context.Background(), f.message(queue.KindBuild)))

	got := f.request(t)
	assert.Equal(t, types.StatusEncoding, got.Status)
	require.NotNil(t, got.ModWithoutEncode)
	assert.Equal(t, "mod_decoded.bin", *got.ModWithoutEncode)

	modPath, err := f.gateway.Path("tenant-1", "job-1", "mod_decoded.bin")
	require.NoError(t, err)
	written, err := os.ReadFile(modPath)
	require.NoError(t, err)
	assert.Equal(t, modified, written)

	require.Len(t, f.enqueuer.messages, 1)
	assert.Equal(t, queue.KindEncode, f.enqueuer.messages[0].Kind)
	assert.Equal(t, "job-1", f.enqueuer.messages[0].JobID)
}

func TestHandleBuild_ReplayConflictFailsRequest(t *testing.T) {
	f := newPipelineFixture(t)
	req, _ := f.seedRequest(t, types.StatusAwaitingSelection)

	decoded := []byte{0x00, 0x10, 0x20, 0x30}
	_, err := f.gateway.WriteFile("tenant-1", "job-1", "decoded.bin", decoded)
	require.NoError(t, err)

	// Captured against a different base, so byte 1 diverges on replay.
	other := []byte{0x00, 0xAA, 0x20, 0x30}
	patched := []byte{0x00, 0xFF, 0x20, 0x30}
	artifact, err := script.Capture("admin-1", "golf-7", "edc17", "other.bin", other, patched)
	require.NoError(t, err)
	diff, err := script.Marshal(artifact)
	require.NoError(t, err)
	f.scripts.byID["script-1"] = &models.Script{ID: "script-1", OriginalLength: len(other), Diff: diff}

	decodedName := "decoded.bin"
	req.DecodedFile = &decodedName
	req.RequestedScriptIDs = []string{"script-1"}

	require.NoError(t, f.pipe.handleBuild(context.Background(), f.message(queue.KindBuild)))

	got := f.request(t)
	assert.Equal(t, types.StatusFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "script-1")
}

func TestHandleEncode_ArchivesAndMarksReady(t *testing.T) {
	f := newPipelineFixture(t)
	req, _ := f.seedRequest(t, types.StatusEncoding)

	mod := []byte{0x0A, 0x0B}
	_, err := f.gateway.WriteFile("tenant-1", "job-1", "mod_decoded.bin", mod)
	require.NoError(t, err)
	modName := "mod_decoded.bin"
	req.ModWithoutEncode = &modName

	encoded := []byte{0xEC, 0x0D}
	f.vendor.encodeFunc = func(ctx context.Context, job *models.SlaveJob, modifiedFilePath string) (string, error) {
		assert.Contains(t, modifiedFilePath, "mod_decoded.bin")
		return f.gateway.WriteFile(job.TenantID, job.UniqueID, "encoded.bin", encoded)
	}

	require.NoError(t, f.pipe.handleEncode(context.Background(), f.message(queue.KindEncode)))

	got := f.request(t)
	assert.Equal(t, types.StatusReady, got.Status)
	require.NotNil(t, got.ModFinal)
	assert.Equal(t, "encoded.bin", *got.ModFinal)
	assert.Equal(t, types.JobCompleted, f.job(t).Status)

	// Both round-trip artifacts are archived in the object store.
	fetched, err := f.gateway.Download(context.Background(), "tenant-1", "job-1",
		staging.ArtifactKey("tenant-1", "job-1", "encoded.bin"), "fetched.bin")
	require.NoError(t, err)
	data, err := os.ReadFile(fetched)
	require.NoError(t, err)
	assert.Equal(t, encoded, data)
}

func TestHandleEncode_RedeliverySkipsVendorCall(t *testing.T) {
	f := newPipelineFixture(t)
	req, job := f.seedRequest(t, types.StatusEncoding)

	mod := "mod_decoded.bin"
	req.ModWithoutEncode = &mod
	_, err := f.gateway.WriteFile("tenant-1", "job-1", mod, []byte{0x0A})
	require.NoError(t, err)

	encodedName := "encoded.bin"
	_, err = f.gateway.WriteFile("tenant-1", "job-1", encodedName, []byte{0xEC})
	require.NoError(t, err)
	job.EncodedFile = &encodedName
	f.jobs.put(job)

	require.NoError(t, f.pipe.handleEncode(context.Background(), f.message(queue.KindEncode)))

	assert.Equal(t, types.StatusReady, f.request(t).Status)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.vendor.encodeCalls))
}

func TestExhausted_MarksRequestFailed(t *testing.T) {
	f := newPipelineFixture(t)
	_, job := f.seedRequest(t, types.StatusDecoding)

	f.pipe.Exhausted(context.Background(), f.message(queue.KindDecode), errors.New("connection refused"))

	req := f.request(t)
	assert.Equal(t, types.StatusFailed, req.Status)
	require.NotNil(t, req.LastError)
	assert.Contains(t, *req.LastError, "retries exhausted")
	assert.Contains(t, *req.LastError, "connection refused")

	_, err := os.Stat(job.OriginalFile)
	assert.True(t, os.IsNotExist(err))
}

func TestExhausted_TerminalRequestUntouched(t *testing.T) {
	f := newPipelineFixture(t)
	f.seedRequest(t, types.StatusDelivered)

	f.pipe.Exhausted(context.Background(), f.message(queue.KindDecode), errors.New("connection refused"))

	assert.Equal(t, types.StatusDelivered, f.request(t).Status)
}
