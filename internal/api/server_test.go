package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkb/openkb/internal/agent"
	"github.com/openkb/openkb/internal/ask"
	"github.com/openkb/openkb/internal/guardrail"
	"github.com/openkb/openkb/internal/ingest"
	"github.com/openkb/openkb/internal/kb"
	"github.com/openkb/openkb/internal/storage"
	"github.com/openkb/openkb/internal/testutil"
)

// fakeKBs is an in-memory KBStore applying the same validation as the
// real one.
type fakeKBs struct {
	mu    sync.Mutex
	bases map[uuid.UUID]kb.KnowledgeBase
}

func newFakeKBs() *fakeKBs { return &fakeKBs{bases: make(map[uuid.UUID]kb.KnowledgeBase)} }

func (f *fakeKBs) Create(_ context.Context, name string, typ kb.Type, cc kb.ChunkConfig) (kb.KnowledgeBase, error) {
	if strings.TrimSpace(name) == "" {
		return kb.KnowledgeBase{}, kb.ErrEmptyName
	}
	if !typ.Valid() {
		return kb.KnowledgeBase{}, kb.ErrInvalidType
	}
	if err := kb.ValidateChunkConfig(cc); err != nil {
		return kb.KnowledgeBase{}, err
	}
	base := kb.KnowledgeBase{
		ID:        uuid.New(),
		Name:      name,
		Type:      typ,
		Chunking:  cc,
		CreatedAt: time.Now().UTC(),
	}
	f.mu.Lock()
	f.bases[base.ID] = base
	f.mu.Unlock()
	return base, nil
}

func (f *fakeKBs) Get(_ context.Context, id uuid.UUID) (kb.KnowledgeBase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	base, ok := f.bases[id]
	if !ok {
		return kb.KnowledgeBase{}, kb.ErrNotFound
	}
	return base, nil
}

func (f *fakeKBs) List(context.Context) ([]kb.KnowledgeBase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]kb.KnowledgeBase, 0, len(f.bases))
	for _, b := range f.bases {
		out = append(out, b)
	}
	return out, nil
}

// fakeJobs is an in-memory JobStore enforcing the job state machine.
type fakeJobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*ingest.Job
}

func newFakeJobs() *fakeJobs { return &fakeJobs{jobs: make(map[uuid.UUID]*ingest.Job)} }

func (f *fakeJobs) CreateJob(_ context.Context, kbID uuid.UUID) (ingest.Job, error) {
	job := ingest.Job{ID: uuid.New(), KBID: kbID, State: ingest.StateCreated, CreatedAt: time.Now().UTC()}
	f.mu.Lock()
	f.jobs[job.ID] = &job
	f.mu.Unlock()
	return job, nil
}

func (f *fakeJobs) SetFiles(_ context.Context, jobID uuid.UUID, files []ingest.FileDescriptor) error {
	if len(files) == 0 {
		return ingest.ErrNoFiles
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return ingest.ErrJobNotFound
	}
	if !job.State.CanTransition(ingest.StatePopulated) {
		return ingest.ErrInvalidTransition
	}
	job.State = ingest.StatePopulated
	job.Files = nil
	for _, fd := range files {
		job.Files = append(job.Files, ingest.JobFile{FileDescriptor: fd, Status: ingest.FilePending})
	}
	return nil
}

func (f *fakeJobs) GetJob(_ context.Context, jobID uuid.UUID) (ingest.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return ingest.Job{}, ingest.ErrJobNotFound
	}
	return *job, nil
}

func (f *fakeJobs) ListJobs(_ context.Context, kbID uuid.UUID) ([]ingest.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ingest.Job
	for _, job := range f.jobs {
		if job.KBID == kbID {
			out = append(out, *job)
		}
	}
	return out, nil
}

// Trigger makes fakeJobs double as the JobRunner.
func (f *fakeJobs) Trigger(_ context.Context, jobID uuid.UUID) (ingest.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return ingest.Job{}, ingest.ErrJobNotFound
	}
	if !job.State.CanTransition(ingest.StateTriggered) {
		return ingest.Job{}, ingest.ErrInvalidTransition
	}
	job.State = ingest.StateTriggered
	now := time.Now().UTC()
	job.TriggeredAt = &now
	return *job, nil
}

// fakeRails is an in-memory GuardrailStore.
type fakeRails struct {
	mu    sync.Mutex
	rails map[uuid.UUID]guardrail.Guardrail
}

func newFakeRails() *fakeRails { return &fakeRails{rails: make(map[uuid.UUID]guardrail.Guardrail)} }

func (f *fakeRails) Create(_ context.Context, g guardrail.Guardrail) (guardrail.Guardrail, error) {
	if strings.TrimSpace(g.Name) == "" {
		return guardrail.Guardrail{}, guardrail.ErrEmptyName
	}
	if g.Threshold == 0 {
		g.Threshold = guardrail.DefaultThreshold
	}
	if g.Threshold < 0 || g.Threshold > 1 {
		return guardrail.Guardrail{}, guardrail.ErrInvalidThreshold
	}
	g.ID = uuid.New()
	g.CreatedAt = time.Now().UTC()
	f.mu.Lock()
	f.rails[g.ID] = g
	f.mu.Unlock()
	return g, nil
}

func (f *fakeRails) Get(_ context.Context, id uuid.UUID) (guardrail.Guardrail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.rails[id]
	if !ok {
		return guardrail.Guardrail{}, guardrail.ErrNotFound
	}
	return g, nil
}

func (f *fakeRails) GetByIDs(_ context.Context, ids []uuid.UUID) ([]guardrail.Guardrail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]guardrail.Guardrail, 0, len(ids))
	for _, id := range ids {
		g, ok := f.rails[id]
		if !ok {
			return nil, fmt.Errorf("guardrail %s: %w", id, guardrail.ErrNotFound)
		}
		out = append(out, g)
	}
	return out, nil
}

func (f *fakeRails) List(context.Context) ([]guardrail.Guardrail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]guardrail.Guardrail, 0, len(f.rails))
	for _, g := range f.rails {
		out = append(out, g)
	}
	return out, nil
}

// fakeAgents is an in-memory AgentStore.
type fakeAgents struct {
	mu        sync.Mutex
	templates map[uuid.UUID]agent.Template
	layers    map[uuid.UUID]agent.ExecutionLayer
	agents    map[uuid.UUID]agent.Agent
}

func newFakeAgents() *fakeAgents {
	return &fakeAgents{
		templates: make(map[uuid.UUID]agent.Template),
		layers:    make(map[uuid.UUID]agent.ExecutionLayer),
		agents:    make(map[uuid.UUID]agent.Agent),
	}
}

func (f *fakeAgents) CreateTemplate(_ context.Context, name, content string) (agent.Template, error) {
	if strings.TrimSpace(name) == "" {
		return agent.Template{}, agent.ErrEmptyName
	}
	t := agent.Template{ID: uuid.New(), Name: name, Content: content, CreatedAt: time.Now().UTC()}
	f.mu.Lock()
	f.templates[t.ID] = t
	f.mu.Unlock()
	return t, nil
}

func (f *fakeAgents) ListTemplates(context.Context) ([]agent.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]agent.Template, 0, len(f.templates))
	for _, t := range f.templates {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeAgents) CreateLayer(_ context.Context, name string, kind agent.LayerKind, config json.RawMessage) (agent.ExecutionLayer, error) {
	if strings.TrimSpace(name) == "" {
		return agent.ExecutionLayer{}, agent.ErrEmptyName
	}
	if !kind.Valid() {
		return agent.ExecutionLayer{}, agent.ErrInvalidKind
	}
	if kind == agent.LayerKnowledgeBaseSearch {
		var c agent.KBSearchConfig
		if err := json.Unmarshal(config, &c); err != nil || c.KnowledgeBase == uuid.Nil {
			return agent.ExecutionLayer{}, agent.ErrInvalidLayerConfig
		}
	}
	l := agent.ExecutionLayer{ID: uuid.New(), Name: name, Kind: kind, Config: config, CreatedAt: time.Now().UTC()}
	f.mu.Lock()
	f.layers[l.ID] = l
	f.mu.Unlock()
	return l, nil
}

func (f *fakeAgents) GetLayer(_ context.Context, id uuid.UUID) (agent.ExecutionLayer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.layers[id]
	if !ok {
		return agent.ExecutionLayer{}, agent.ErrLayerNotFound
	}
	return l, nil
}

func (f *fakeAgents) ListLayers(context.Context) ([]agent.ExecutionLayer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]agent.ExecutionLayer, 0, len(f.layers))
	for _, l := range f.layers {
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeAgents) CreateAgent(_ context.Context, name string, templateID *uuid.UUID, layerIDs []uuid.UUID) (agent.Agent, error) {
	if strings.TrimSpace(name) == "" {
		return agent.Agent{}, agent.ErrEmptyName
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if templateID != nil {
		if _, ok := f.templates[*templateID]; !ok {
			return agent.Agent{}, agent.ErrTemplateNotFound
		}
	}
	a := agent.Agent{ID: uuid.New(), Name: name, TemplateID: templateID, CreatedAt: time.Now().UTC()}
	for _, id := range layerIDs {
		l, ok := f.layers[id]
		if !ok {
			return agent.Agent{}, agent.ErrLayerNotFound
		}
		a.Layers = append(a.Layers, l)
	}
	f.agents[a.ID] = a
	return a, nil
}

func (f *fakeAgents) GetAgent(_ context.Context, id uuid.UUID) (agent.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return agent.Agent{}, agent.ErrNotFound
	}
	return a, nil
}

func (f *fakeAgents) ListAgents(context.Context) ([]agent.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]agent.Agent, 0, len(f.agents))
	for _, a := range f.agents {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAgents) SetGuardrails(_ context.Context, agentID uuid.UUID, guardrailIDs []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[agentID]
	if !ok {
		return agent.ErrNotFound
	}
	a.GuardrailIDs = guardrailIDs
	f.agents[agentID] = a
	return nil
}

// fakeAsk echoes a canned answer and rejects empty questions like the
// real service does.
type fakeAsk struct {
	resp ask.Response
	last ask.Request
}

func (f *fakeAsk) Ask(_ context.Context, req ask.Request) (ask.Response, error) {
	if strings.TrimSpace(req.Question) == "" {
		return ask.Response{}, ask.ErrEmptyQuery
	}
	f.last = req
	resp := f.resp
	resp.QueryID = uuid.New()
	resp.ConversationID = uuid.New()
	return resp, nil
}

type testServer struct {
	http    *httptest.Server
	kbs     *fakeKBs
	jobs    *fakeJobs
	rails   *fakeRails
	agents  *fakeAgents
	ask     *fakeAsk
	uploads *storage.Local
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	uploads, err := storage.NewLocal(t.TempDir(), []byte("0123456789abcdef0123456789abcdef"), time.Minute, testutil.DiscardLogger())
	require.NoError(t, err)

	ts := &testServer{
		kbs:     newFakeKBs(),
		jobs:    newFakeJobs(),
		rails:   newFakeRails(),
		agents:  newFakeAgents(),
		ask:     &fakeAsk{resp: ask.Response{Response: []ask.Fragment{{Answer: "canned"}}}},
		uploads: uploads,
	}

	srv, err := NewServer(ServerConfig{
		Logger:     testutil.DiscardLogger(),
		KBs:        ts.kbs,
		Uploads:    uploads,
		Jobs:       ts.jobs,
		Runner:     ts.jobs,
		Guardrails: ts.rails,
		Agents:     ts.agents,
		Ask:        ts.ask,
		RateBurst:  1000,
	})
	require.NoError(t, err)

	ts.http = httptest.NewServer(srv.Handler())
	t.Cleanup(ts.http.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, reader)
	require.NoError(t, err)
	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, data
}

func (ts *testServer) createKB(t *testing.T, name string) kb.KnowledgeBase {
	t.Helper()
	base, err := ts.kbs.Create(context.Background(), name, kb.TypeQuery, kb.ChunkConfig{Size: 400, Overlap: 200})
	require.NoError(t, err)
	return base
}

func decodeJSON[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func TestCreateKnowledgeBase(t *testing.T) {
	ts := newTestServer(t)

	resp, data := ts.do(t, http.MethodPost, "/knowledge-base/", map[string]any{
		"name": "docs",
		"type": "query",
		"paragraphs": map[string]int{
			"chunkSize":    400,
			"chunkOverlap": 200,
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeJSON[map[string]any](t, data)
	assert.Equal(t, "docs", body["name"])
	assert.Equal(t, "query", body["type"])
	assert.NotEmpty(t, body["id"])
	assert.NotEmpty(t, body["dateCreated"])
	paragraphs, ok := body["paragraphs"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 400, paragraphs["chunkSize"])
	assert.EqualValues(t, 200, paragraphs["chunkOverlap"])
}

func TestCreateKnowledgeBaseInvalidChunkConfig(t *testing.T) {
	ts := newTestServer(t)

	resp, data := ts.do(t, http.MethodPost, "/knowledge-base/", map[string]any{
		"name":       "docs",
		"type":       "query",
		"paragraphs": map[string]int{"chunkSize": 100, "chunkOverlap": 100},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeJSON[map[string]map[string]string](t, data)
	assert.Equal(t, "validation_failed", body["error"]["code"])
	assert.NotEmpty(t, body["error"]["message"])
}

func TestGetKnowledgeBaseNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp, data := ts.do(t, http.MethodGet, "/knowledge-base/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeJSON[map[string]map[string]string](t, data)
	assert.Equal(t, "kb_not_found", body["error"]["code"])
}

func TestUploadLinkFlow(t *testing.T) {
	ts := newTestServer(t)
	base := ts.createKB(t, "docs")

	resp, data := ts.do(t, http.MethodGet,
		"/connectors/local/s3-upload-links?kb="+base.ID.String()+"&fileName=report.txt", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	links := decodeJSON[map[string]string](t, data)
	uploadURI, ok := links["report.txt"]
	require.True(t, ok, "response maps fileName to uploadUri")

	req, err := http.NewRequest(http.MethodPut, ts.http.URL+uploadURI, strings.NewReader("hello upload"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	putResp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	defer putResp.Body.Close()
	require.Equal(t, http.StatusOK, putResp.StatusCode)

	content, contentType, err := ts.uploads.Read(context.Background(), base.ID, "report.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello upload", string(content))
	assert.Equal(t, "text/plain", contentType)
}

func TestUploadRejectsTamperedSignature(t *testing.T) {
	ts := newTestServer(t)
	base := ts.createKB(t, "docs")

	link, err := ts.uploads.SignUploadLink(base.ID, "report.txt")
	require.NoError(t, err)

	tampered := strings.Replace(link.UploadURI, "report.txt?", "other.txt?", 1)
	req, err := http.NewRequest(http.MethodPut, ts.http.URL+tampered, strings.NewReader("x"))
	require.NoError(t, err)
	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUploadLinksUnknownKB(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodGet,
		"/connectors/local/s3-upload-links?kb="+uuid.NewString()+"&fileName=a.txt", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobLifecycle(t *testing.T) {
	ts := newTestServer(t)
	base := ts.createKB(t, "docs")

	resp, data := ts.do(t, http.MethodPost, "/knowledge-base/"+base.ID.String()+"/jobs", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeJSON[map[string]string](t, data)
	jobID := created["jobId"]
	require.NotEmpty(t, jobID)

	files := []map[string]any{{
		"fileName":     "report.txt",
		"lastModified": time.Now().UTC().Format(time.RFC3339),
		"connector":    "local",
	}}
	resp, data = ts.do(t, http.MethodPut, "/knowledge-base/"+base.ID.String()+"/jobs/"+jobID, files)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	populated := decodeJSON[map[string]any](t, data)
	assert.Equal(t, "populated", populated["status"])

	resp, data = ts.do(t, http.MethodPost, "/knowledge-base/"+base.ID.String()+"/jobs/"+jobID+"/trigger", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	triggered := decodeJSON[map[string]any](t, data)
	assert.Equal(t, "triggered", triggered["status"])

	// Triggering twice violates the job protocol.
	resp, data = ts.do(t, http.MethodPost, "/knowledge-base/"+base.ID.String()+"/jobs/"+jobID+"/trigger", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	conflict := decodeJSON[map[string]map[string]string](t, data)
	assert.Equal(t, "invalid_job_state", conflict["error"]["code"])
}

func TestJobTriggerWithoutFiles(t *testing.T) {
	ts := newTestServer(t)
	base := ts.createKB(t, "docs")

	resp, data := ts.do(t, http.MethodPost, "/knowledge-base/"+base.ID.String()+"/jobs", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	jobID := decodeJSON[map[string]string](t, data)["jobId"]

	resp, _ = ts.do(t, http.MethodPost, "/knowledge-base/"+base.ID.String()+"/jobs/"+jobID+"/trigger", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateGuardrail(t *testing.T) {
	ts := newTestServer(t)
	denylist := ts.createKB(t, "banned-topics")

	resp, data := ts.do(t, http.MethodPost, "/users/guard-rails", map[string]any{
		"name":        "no-competitors",
		"description": "blocks competitor questions",
		"sourceFabric": map[string]any{
			"name": "knowledge-base",
			"config": map[string]any{
				"knowledgeBase": denylist.ID.String(),
				"threshold":     0.85,
				"severity":      "high",
				"message":       "restricted topic",
			},
		},
		"responseBlocking": true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeJSON[map[string]any](t, data)
	assert.Equal(t, "no-competitors", body["name"])
	assert.Equal(t, true, body["responseBlocking"])
	assert.EqualValues(t, 0.85, body["threshold"])
}

func TestCreateGuardrailUnknownKB(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodPost, "/users/guard-rails", map[string]any{
		"name": "r",
		"sourceFabric": map[string]any{
			"name":   "knowledge-base",
			"config": map[string]any{"knowledgeBase": uuid.NewString()},
		},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAgentComposition(t *testing.T) {
	ts := newTestServer(t)
	base := ts.createKB(t, "docs")

	resp, data := ts.do(t, http.MethodPost, "/ask/templates", map[string]string{
		"name":    "support",
		"content": "You are a support assistant.",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tpl := decodeJSON[map[string]any](t, data)

	resp, data = ts.do(t, http.MethodPost, "/users/agents/execution-layers", map[string]any{
		"name":   "docs search",
		"kind":   "knowledge-base-search",
		"config": map[string]any{"knowledgeBase": base.ID.String(), "topK": 3},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	layer := decodeJSON[map[string]any](t, data)

	resp, data = ts.do(t, http.MethodPost, "/users/agents", map[string]any{
		"name":            "helper",
		"template":        tpl["id"],
		"executionLayers": []any{layer["id"]},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ag := decodeJSON[map[string]any](t, data)
	assert.Equal(t, "helper", ag["name"])

	rail, err := ts.rails.Create(context.Background(), guardrail.Guardrail{Name: "r", KBID: base.ID})
	require.NoError(t, err)

	resp, data = ts.do(t, http.MethodPatch, "/users/agents/"+ag["id"].(string), map[string]any{
		"guardRails": []any{rail.ID.String()},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	patched := decodeJSON[map[string]any](t, data)
	guardRails, ok := patched["guardRails"].([]any)
	require.True(t, ok)
	assert.Equal(t, rail.ID.String(), guardRails[0])
}

func TestPatchAgentUnknownGuardrail(t *testing.T) {
	ts := newTestServer(t)
	ag, err := ts.agents.CreateAgent(context.Background(), "helper", nil, nil)
	require.NoError(t, err)

	resp, data := ts.do(t, http.MethodPatch, "/users/agents/"+ag.ID.String(), map[string]any{
		"guardRails": []any{uuid.NewString()},
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeJSON[map[string]map[string]string](t, data)
	assert.Equal(t, "guardrail_not_found", body["error"]["code"])
}

func TestCreateLayerInvalidConfig(t *testing.T) {
	ts := newTestServer(t)

	// knowledge-base-search without a knowledgeBase is rejected up front.
	resp, data := ts.do(t, http.MethodPost, "/users/agents/execution-layers", map[string]any{
		"name":   "broken",
		"kind":   "knowledge-base-search",
		"config": map[string]any{"topK": 3},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeJSON[map[string]map[string]string](t, data)
	assert.Equal(t, "validation_failed", body["error"]["code"])
}

func TestGetExecutionLayer(t *testing.T) {
	ts := newTestServer(t)
	base := ts.createKB(t, "docs")

	config, err := json.Marshal(map[string]any{"knowledgeBase": base.ID.String()})
	require.NoError(t, err)
	layer, err := ts.agents.CreateLayer(context.Background(), "docs search", agent.LayerKnowledgeBaseSearch, config)
	require.NoError(t, err)

	resp, data := ts.do(t, http.MethodGet, "/users/agents/execution-layers/"+layer.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[map[string]any](t, data)
	assert.Equal(t, layer.ID.String(), body["id"])
	assert.Equal(t, "docs search", body["name"])

	resp, data = ts.do(t, http.MethodGet, "/users/agents/execution-layers/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	missing := decodeJSON[map[string]map[string]string](t, data)
	assert.Equal(t, "layer_not_found", missing["error"]["code"])
}

func TestAskQuery(t *testing.T) {
	ts := newTestServer(t)
	base := ts.createKB(t, "docs")

	resp, data := ts.do(t, http.MethodPost,
		"/ask/query?q=what+is+openkb&kb="+base.ID.String()+"&withReference=true&topK=3", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON[map[string]any](t, data)
	require.Contains(t, body, "response")
	require.Contains(t, body, "queryId")
	require.Contains(t, body, "conversationId")

	assert.Equal(t, "what is openkb", ts.ask.last.Question)
	assert.True(t, ts.ask.last.WithReference)
	assert.Equal(t, 3, ts.ask.last.TopK)
	require.NotNil(t, ts.ask.last.KBID)
	assert.Equal(t, base.ID, *ts.ask.last.KBID)
}

func TestAskQueryMissingQuestion(t *testing.T) {
	ts := newTestServer(t)
	resp, data := ts.do(t, http.MethodPost, "/ask/query", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeJSON[map[string]map[string]string](t, data)
	assert.Equal(t, "validation_failed", body["error"]["code"])
}

func TestAskQueryInvalidThreshold(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodPost, "/ask/query?q=hi&threshold=1.5", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAskAgentQuery(t *testing.T) {
	ts := newTestServer(t)
	ag, err := ts.agents.CreateAgent(context.Background(), "helper", nil, nil)
	require.NoError(t, err)

	resp, _ := ts.do(t, http.MethodPost, "/ask/agents/"+ag.ID.String()+"/query?q=hello", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, ts.ask.last.AgentID)
	assert.Equal(t, ag.ID, *ts.ask.last.AgentID)
}

func TestHealthProbes(t *testing.T) {
	ts := newTestServer(t)

	resp, data := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeJSON[map[string]string](t, data)["status"])

	resp, data = ts.do(t, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeJSON[map[string]string](t, data)["status"])
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodGet, "/knowledge-base/", nil)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
