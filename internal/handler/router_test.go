package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"learnpilot/internal/config"
	"learnpilot/internal/middleware"
	"learnpilot/internal/model"
	"learnpilot/internal/repository"
	"learnpilot/internal/service"
	"learnpilot/pkg/embedding"
	"learnpilot/pkg/llm"
	"learnpilot/pkg/pdfqa"
	"learnpilot/pkg/tasks"
	"learnpilot/pkg/tika"
	"learnpilot/pkg/token"
	"learnpilot/pkg/websearch"
	"learnpilot/pkg/youtube"
)

type memSessions struct {
	mu        sync.Mutex
	blacklist map[string]bool
	stops     map[string]uint
}

func newMemSessions() *memSessions {
	return &memSessions{blacklist: map[string]bool{}, stops: map[string]uint{}}
}

func (m *memSessions) BlacklistToken(_ context.Context, tok string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blacklist[tok] = true
	return nil
}

func (m *memSessions) IsBlacklisted(_ context.Context, tok string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blacklist[tok], nil
}

func (m *memSessions) SaveStopToken(_ context.Context, tok string, userID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops[tok] = userID
	return nil
}

func (m *memSessions) ConsumeStopToken(_ context.Context, tok string, userID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, found := m.stops[tok]
	if !found || owner != userID {
		return false, nil
	}
	delete(m.stops, tok)
	return true, nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *memStore) PutObject(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = data
	return nil
}

func (s *memStore) GetObject(_ context.Context, name string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return io.NopCloser(bytes.NewReader(s.objects[name])), nil
}

func (s *memStore) PresignedURL(_ context.Context, name string, _ time.Duration) (string, error) {
	return "https://objects.test/" + name, nil
}

func (s *memStore) RemoveObject(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, name)
	return nil
}

type recordingProducer struct {
	tasks []tasks.SourceProcessingTask
}

func (p *recordingProducer) ProduceSourceTask(_ context.Context, task tasks.SourceProcessingTask) error {
	p.tasks = append(p.tasks, task)
	return nil
}

type testServer struct {
	router   *gin.Engine
	sessions *memSessions
	store    *memStore
	producer *recordingProducer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))

	sessions := newMemSessions()
	store := &memStore{objects: map[string][]byte{}}
	producer := &recordingProducer{}

	var (
		sessionRepo repository.SessionRepository = sessions
		llmClient                                = llm.NewClient(config.LLMConfig{})
		embedder                                 = embedding.NewClient(config.EmbeddingConfig{})
		extractor                                = tika.NewClient(config.TikaConfig{})
	)
	sourceRepo := repository.NewSourceRepository(db)
	chatRepo := repository.NewChatRepository(db)
	jwtManager := token.NewJWTManager("test-secret", 1, 1)
	videos, err := youtube.NewClient(context.Background(), config.YouTubeConfig{}, nil, nil)
	require.NoError(t, err)

	userService := service.NewUserService(repository.NewUserRepository(db), sessionRepo, jwtManager, true)
	chatService := service.NewChatService(chatRepo)
	searchService := service.NewSearchService(embedder, nil, "learning_sources", sourceRepo)
	pathwayService := service.NewPathwayService(repository.NewPathwayRepository(db), repository.NewSubjectRepository(db), chatService, llmClient)
	intentService := service.NewIntentService(llmClient)
	tutorService := service.NewTutorService(chatService, intentService, service.NewRoadmapGenerator(llmClient), searchService, llmClient)
	practiceService := service.NewPracticeService(llmClient, chatService, searchService, config.PracticeConfig{})
	researchService := service.NewResearchService(websearch.NewClient(config.WebSearchConfig{}), videos, chatService)
	sourceService := service.NewSourceService(sourceRepo, store, producer, nil, searchService,
		extractor, embedder, llmClient, pdfqa.NewClient(config.PDFQAConfig{}), chatService, config.PDFQAConfig{Mode: "local"})
	progressService := service.NewProgressService(chatRepo, chatService, practiceService)

	router := NewRouter(RouterConfig{
		Auth:                middleware.OptionalAuth(jwtManager, userService, sessionRepo),
		UserHandler:         NewUserHandler(userService),
		AuthHandler:         NewAuthHandler(userService),
		ChatHandler:         NewChatHandler(tutorService, userService, sessionRepo, jwtManager),
		ConversationHandler: NewConversationHandler(chatService, pathwayService),
		PathwayHandler:      NewPathwayHandler(pathwayService),
		PracticeHandler:     NewPracticeHandler(practiceService, intentService),
		ResearchHandler:     NewResearchHandler(researchService),
		UploadHandler:       NewUploadHandler(sourceService),
		SearchHandler:       NewSearchHandler(sourceService),
		ProgressHandler:     NewProgressHandler(progressService),
	})
	return &testServer{router: router, sessions: sessions, store: store, producer: producer}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body interface{}) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return s.serve(t, req)
}

func (s *testServer) serve(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v))
}

func (s *testServer) login(t *testing.T, email string) string {
	t.Helper()
	status, _ := s.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{"email": email, "password": "secret1", "name": "Ada"})
	require.Equal(t, http.StatusOK, status)
	status, env := s.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": email, "password": "secret1"})
	require.Equal(t, http.StatusOK, status)
	var out struct {
		Token string `json:"token"`
	}
	decode(t, env.Data, &out)
	require.NotEmpty(t, out.Token)
	return out.Token
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAuth_RegisterLoginMe(t *testing.T) {
	s := newTestServer(t)
	tok := s.login(t, "ada@example.com")

	status, env := s.do(t, http.MethodGet, "/api/v1/users/me", tok, nil)
	require.Equal(t, http.StatusOK, status)
	var me model.User
	decode(t, env.Data, &me)
	assert.Equal(t, "ada@example.com", me.EmailValue())

	status, env = s.do(t, http.MethodGet, "/api/v1/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, http.StatusUnauthorized, env.Code)
}

func TestAuth_WrongPassword(t *testing.T) {
	s := newTestServer(t)
	s.login(t, "ada@example.com")
	status, env := s.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "ada@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "null", string(env.Data))
}

func TestAuth_DuplicateRegisterConflicts(t *testing.T) {
	s := newTestServer(t)
	s.login(t, "ada@example.com")
	status, _ := s.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{"email": "ada@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusConflict, status)
}

func TestAuth_LogoutDegradesToGuest(t *testing.T) {
	s := newTestServer(t)
	tok := s.login(t, "ada@example.com")

	status, _ := s.do(t, http.MethodPost, "/api/v1/auth/logout", tok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, s.sessions.blacklist[tok])

	status, _ = s.do(t, http.MethodGet, "/api/v1/users/me", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env := s.do(t, http.MethodPost, "/api/v1/chats", tok, gin.H{"title": "after logout"})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), "after logout")
}

func TestAuth_MalformedTokenFallsBackToGuest(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(t, http.MethodPost, "/api/v1/chats", "not-a-jwt", gin.H{"title": "guest chat"})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), "guest chat")
}

func TestOpenSession(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(t, http.MethodPost, "/api/v1/auth/session", "", gin.H{"email": "grace@example.com", "name": "Grace"})
	require.Equal(t, http.StatusOK, status)
	var out struct {
		User  model.User `json:"user"`
		Token string     `json:"token"`
	}
	decode(t, env.Data, &out)
	assert.Equal(t, "grace@example.com", out.User.EmailValue())
	assert.NotEmpty(t, out.Token)
}

func TestChats_CreateListGetRenameDelete(t *testing.T) {
	s := newTestServer(t)
	tok := s.login(t, "ada@example.com")

	status, env := s.do(t, http.MethodPost, "/api/v1/chats", tok, gin.H{"title": "Graphs"})
	require.Equal(t, http.StatusOK, status)
	var created struct {
		ID string `json:"id"`
	}
	decode(t, env.Data, &created)
	require.NotEmpty(t, created.ID)

	status, env = s.do(t, http.MethodGet, "/api/v1/chats", tok, nil)
	require.Equal(t, http.StatusOK, status)
	var list []service.ChatSummary
	decode(t, env.Data, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Graphs", list[0].Title)

	status, env = s.do(t, http.MethodPatch, "/api/v1/chats/"+created.ID, tok, gin.H{"title": "Graph theory"})
	require.Equal(t, http.StatusOK, status)
	var snap service.ChatSnapshot
	decode(t, env.Data, &snap)
	assert.Equal(t, "Graph theory", snap.Title)

	status, _ = s.do(t, http.MethodDelete, "/api/v1/chats/"+created.ID, tok, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = s.do(t, http.MethodGet, "/api/v1/chats/"+created.ID, tok, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, http.StatusNotFound, env.Code)
}

func TestChats_OtherUsersChatIsNotFound(t *testing.T) {
	s := newTestServer(t)
	owner := s.login(t, "ada@example.com")
	other := s.login(t, "bob@example.com")

	_, env := s.do(t, http.MethodPost, "/api/v1/chats", owner, gin.H{"title": "private"})
	var created struct {
		ID string `json:"id"`
	}
	decode(t, env.Data, &created)

	status, _ := s.do(t, http.MethodGet, "/api/v1/chats/"+created.ID, other, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = s.do(t, http.MethodDelete, "/api/v1/chats/"+created.ID, other, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestChats_TurnsAndPerformance(t *testing.T) {
	s := newTestServer(t)
	_, env := s.do(t, http.MethodPost, "/api/v1/chats", "", gin.H{})
	var created struct {
		ID string `json:"id"`
	}
	decode(t, env.Data, &created)

	status, _ := s.do(t, http.MethodPost, "/api/v1/chats/"+created.ID+"/turns", "", gin.H{
		"userMsg": gin.H{"type": "user", "content": "What is BFS?"},
		"aiMsg":   gin.H{"type": "ai", "content": "Breadth-first search."},
	})
	require.Equal(t, http.StatusOK, status)

	status, env = s.do(t, http.MethodPost, "/api/v1/chats/"+created.ID+"/performance", "", gin.H{
		"entries": []gin.H{{"kind": "mcq", "question": "q1", "accuracy": 1}, {"kind": "text", "question": "q2", "accuracy": 0.5}},
	})
	require.Equal(t, http.StatusOK, status)
	var count struct {
		Count int `json:"count"`
	}
	decode(t, env.Data, &count)
	assert.Equal(t, 2, count.Count)

	status, env = s.do(t, http.MethodGet, "/api/v1/chats/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, status)
	var snap service.ChatSnapshot
	decode(t, env.Data, &snap)
	assert.Len(t, snap.Messages, 2)
	assert.Equal(t, "What is BFS?", snap.Title)
	assert.Len(t, snap.Performance, 2)

	status, env = s.do(t, http.MethodGet, "/api/v1/progress/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, status)
	var summary service.ProgressSummary
	decode(t, env.Data, &summary)
	assert.InDelta(t, 0.75, summary.MeanAccuracy, 1e-9)
}

func TestChats_RecordPerformanceRequiresEntries(t *testing.T) {
	s := newTestServer(t)
	status, _ := s.do(t, http.MethodPost, "/api/v1/chats/abc/performance", "", gin.H{})
	assert.Equal(t, http.StatusBadRequest, status)
}

var samplePlan = []gin.H{
	{"type": "TOPIC", "name": "Graphs", "subtopics": []gin.H{{"type": "SUBTOPIC", "name": "BFS"}, {"type": "SUBTOPIC", "name": "DFS"}}},
	{"type": "TOPIC", "name": "Trees", "subtopics": []gin.H{}},
}

func TestPathways_CreateAndGetTree(t *testing.T) {
	s := newTestServer(t)
	tok := s.login(t, "ada@example.com")

	status, env := s.do(t, http.MethodPost, "/api/v1/pathways", tok, gin.H{"plan": samplePlan})
	require.Equal(t, http.StatusOK, status, env.Message)
	var res struct {
		PathwayID    string   `json:"pathwayId"`
		TopicNodeIDs []string `json:"topicNodeIds"`
		Linked       bool     `json:"linked"`
	}
	decode(t, env.Data, &res)
	assert.Len(t, res.TopicNodeIDs, 2)
	assert.True(t, res.Linked)

	status, env = s.do(t, http.MethodGet, "/api/v1/pathways/"+res.PathwayID, tok, nil)
	require.Equal(t, http.StatusOK, status)
	var tree service.PathwayTree
	decode(t, env.Data, &tree)
	assert.Equal(t, "Learning Path: Graphs", tree.Pathway.Title)

	status, _ = s.do(t, http.MethodPost, "/api/v1/pathways/"+res.PathwayID+"/relink", tok, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodGet, "/api/v1/pathways/missing", tok, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestPathways_InvalidPlan(t *testing.T) {
	s := newTestServer(t)
	for _, plan := range []interface{}{gin.H{"type": "TOPIC"}, []gin.H{{"type": "NOPE", "name": "x"}}, nil} {
		status, env := s.do(t, http.MethodPost, "/api/v1/pathways", "", gin.H{"plan": plan})
		assert.Equal(t, http.StatusBadRequest, status, env.Message)
	}
}

func TestChats_AttachPlan(t *testing.T) {
	s := newTestServer(t)
	_, env := s.do(t, http.MethodPost, "/api/v1/chats", "", gin.H{})
	var created struct {
		ID string `json:"id"`
	}
	decode(t, env.Data, &created)

	status, env := s.do(t, http.MethodPost, "/api/v1/chats/"+created.ID+"/plan", "", gin.H{"plan": samplePlan})
	require.Equal(t, http.StatusOK, status)
	var first service.AttachResult
	decode(t, env.Data, &first)
	assert.True(t, first.Created)

	_, env = s.do(t, http.MethodPost, "/api/v1/chats/"+created.ID+"/plan", "", gin.H{"plan": samplePlan})
	var second service.AttachResult
	decode(t, env.Data, &second)
	assert.False(t, second.Created)
	assert.Equal(t, first.PathwayID, second.PathwayID)
}

func TestRoadmapIngest(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(t, http.MethodPost, "/api/v1/roadmaps/ingest", "", gin.H{"subjectKey": "algo", "subjectName": "Algorithms", "roadmap": samplePlan})
	require.Equal(t, http.StatusOK, status, env.Message)
	var res service.IngestResult
	decode(t, env.Data, &res)
	assert.NotEmpty(t, res.ChatID)
	assert.NotEmpty(t, res.PathwayID)
}

func TestPractice_GenerateWithoutModelIsUnavailable(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(t, http.MethodPost, "/api/v1/practice/generate", "", gin.H{"topic": "Graphs"})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, http.StatusServiceUnavailable, env.Code)
}

func TestPractice_GradeMCQLocally(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(t, http.MethodPost, "/api/v1/practice/grade/mcq", "", gin.H{
		"question": "2+2?", "options": []string{"3", "4", "5", "6"}, "correctIndex": 1, "userIndex": 2,
	})
	require.Equal(t, http.StatusOK, status)
	var grade service.MCQGrade
	decode(t, env.Data, &grade)
	assert.False(t, grade.Correct)
	assert.Equal(t, 0.0, grade.Score)
	assert.Equal(t, "Incorrect. (Local check: expected option 2.)", grade.Rationale)
}

func TestPractice_GradeTextHeuristic(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(t, http.MethodPost, "/api/v1/practice/grade/text", "", gin.H{
		"prompt": "Explain BFS", "userAnswer": strings.Repeat("queue based traversal ", 3),
	})
	require.Equal(t, http.StatusOK, status)
	var grade service.TextGrade
	decode(t, env.Data, &grade)
	assert.Equal(t, 0.6, grade.Score)

	status, _ = s.do(t, http.MethodPost, "/api/v1/practice/grade/text", "", gin.H{"prompt": " "})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestClassify_FailsOpenToChat(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(t, http.MethodPost, "/api/v1/nlu/classify", "", gin.H{"prompt": "make me a roadmap"})
	require.Equal(t, http.StatusOK, status)
	var intent service.Intent
	decode(t, env.Data, &intent)
	assert.Equal(t, service.IntentChat, intent.Type)
	assert.Equal(t, 0.0, intent.Confidence)
}

func TestResearch(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodGet, "/api/v1/research/videos", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodGet, "/api/v1/research/videos?q=graphs", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, env := s.do(t, http.MethodPost, "/api/v1/research/web", "", gin.H{"query": "graphs"})
	require.Equal(t, http.StatusOK, status)
	var res websearch.Result
	decode(t, env.Data, &res)
	assert.Contains(t, res.Text, "missing on the server")
}

func multipartRequest(t *testing.T, path string, fields map[string]string, fileName string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestSources_UploadListDownloadDelete(t *testing.T) {
	s := newTestServer(t)

	status, env := s.serve(t, multipartRequest(t, "/api/v1/sources", nil, "notes.pdf", []byte("%PDF-1.4 graph notes")))
	require.Equal(t, http.StatusOK, status, env.Message)
	var src model.LearningSource
	decode(t, env.Data, &src)
	assert.Equal(t, model.SourcePending, src.Status)
	require.Len(t, s.producer.tasks, 1)
	assert.Equal(t, src.ID, s.producer.tasks[0].SourceID)
	assert.Len(t, s.store.objects, 1)

	// 相同内容再次上传返回已有记录
	status, env = s.serve(t, multipartRequest(t, "/api/v1/sources", nil, "copy.pdf", []byte("%PDF-1.4 graph notes")))
	require.Equal(t, http.StatusOK, status)
	var again model.LearningSource
	decode(t, env.Data, &again)
	assert.Equal(t, src.ID, again.ID)
	assert.Len(t, s.producer.tasks, 1)

	status, env = s.do(t, http.MethodGet, "/api/v1/sources", "", nil)
	require.Equal(t, http.StatusOK, status)
	var list []model.LearningSource
	decode(t, env.Data, &list)
	assert.Len(t, list, 1)

	status, env = s.do(t, http.MethodGet, "/api/v1/sources/"+jsonID(src.ID)+"/download", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), "https://objects.test/sources/")

	status, _ = s.do(t, http.MethodDelete, "/api/v1/sources/"+jsonID(src.ID), "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, s.store.objects)

	status, _ = s.do(t, http.MethodGet, "/api/v1/sources/"+jsonID(src.ID)+"/download", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func jsonID(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestSources_BadRequests(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodGet, "/api/v1/sources/abc/download", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.serve(t, multipartRequest(t, "/api/v1/sources", nil, "", nil))
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodGet, "/api/v1/sources/search", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.serve(t, multipartRequest(t, "/api/v1/pdf/query", nil, "", nil))
	assert.Equal(t, http.StatusBadRequest, status)

	status, env := s.serve(t, multipartRequest(t, "/api/v1/pdf/query", nil, "notes.txt", []byte("plain")))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.Message, "Please upload a PDF file")
}

func TestSources_SearchWithoutIndexIsEmpty(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(t, http.MethodGet, "/api/v1/sources/search?query=graphs", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "[]", string(env.Data))
}

func TestPDFQuery_LocalWithoutTikaIsUnavailable(t *testing.T) {
	s := newTestServer(t)
	status, _ := s.serve(t, multipartRequest(t, "/api/v1/pdf/query", map[string]string{"query": "summarize"}, "a.pdf", []byte("%PDF")))
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestPDFTopicsAndContent_Validation(t *testing.T) {
	s := newTestServer(t)

	status, env := s.serve(t, multipartRequest(t, "/api/v1/pdf/topics", nil, "a.pdf", []byte("%PDF")))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.Message, "query is required")

	status, _ = s.serve(t, multipartRequest(t, "/api/v1/pdf/topics", map[string]string{"query": "graphs"}, "a.pdf", []byte("%PDF")))
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, env = s.serve(t, multipartRequest(t, "/api/v1/pdf/content", map[string]string{"subtopic": "BFS"}, "a.txt", []byte("plain")))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.Message, "Please upload a PDF file")

	status, _ = s.serve(t, multipartRequest(t, "/api/v1/pdf/content", nil, "a.pdf", []byte("%PDF")))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestProgressOverview(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(t, http.MethodGet, "/api/v1/progress", "", nil)
	require.Equal(t, http.StatusOK, status)
	var overview service.ProgressOverview
	decode(t, env.Data, &overview)
	assert.Empty(t, overview.Chats)
}
