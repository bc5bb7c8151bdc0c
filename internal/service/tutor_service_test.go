package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnpilot/internal/config"
	"learnpilot/internal/model"
	"learnpilot/internal/repository"
	"learnpilot/pkg/embedding"
)

type frameRecorder struct {
	frames []map[string]interface{}
}

func (r *frameRecorder) WriteMessage(_ int, data []byte) error {
	var f map[string]interface{}
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *frameRecorder) chunks() string {
	var out string
	for _, f := range r.frames {
		if c, ok := f["chunk"].(string); ok {
			out += c
		}
	}
	return out
}

func newTutorFixture(t *testing.T, client *stubLLM) (TutorService, ChatService) {
	t.Helper()
	db := newTestDB(t)
	chats := NewChatService(repository.NewChatRepository(db))
	search := NewSearchService(embedding.NewClient(config.EmbeddingConfig{}), nil, "", repository.NewSourceRepository(db))
	return NewTutorService(chats, NewIntentService(client), NewRoadmapGenerator(client), search, client), chats
}

func TestTutor_ChatTurnStreamsAndPersists(t *testing.T) {
	client := &stubLLM{enabled: true, replies: []string{`{"type":"chat","confidence":0.8}`, "Vectors have magnitude and direction."}}
	svc, chats := newTutorFixture(t, client)
	ctx := context.Background()
	rec := &frameRecorder{}

	chatID, err := svc.StreamResponse(ctx, 1, "", "what is a vector?", rec, nil)
	require.NoError(t, err)
	require.NotEmpty(t, chatID)
	assert.Equal(t, chatID, rec.frames[0]["chatId"])
	assert.Equal(t, "Vectors have magnitude and direction.", rec.chunks())
	assert.Equal(t, "completion", rec.frames[len(rec.frames)-1]["type"])

	streamCall := client.calls[1]
	assert.Contains(t, streamCall.Messages[0].Content, "You are an expert teacher.")
	assert.Equal(t, "what is a vector?", streamCall.Messages[len(streamCall.Messages)-1].Content)

	chat, err := chats.GetChat(ctx, 1, chatID)
	require.NoError(t, err)
	meta := chat.MetaData()
	require.Len(t, meta.Messages, 2)
	assert.Equal(t, model.MessageTypeAI, meta.Messages[1].Type)
	require.Len(t, meta.History, 1)
	assert.Equal(t, "what is a vector?", meta.History[0].User)
	assert.Equal(t, "what is a vector?", chat.Title)
}

func TestTutor_RoadmapTurn(t *testing.T) {
	client := &stubLLM{enabled: true, replies: []string{
		`{"type":"roadmap","confidence":0.95}`,
		`{"topics":[{"type":"TOPIC","name":"Basics","subtopics":[{"type":"SUBTOPIC","name":"Syntax","content":""}]}]}`,
	}}
	svc, chats := newTutorFixture(t, client)
	ctx := context.Background()
	chat, err := chats.CreateChat(ctx, 1, CreateChatInput{Title: "go"})
	require.NoError(t, err)
	rec := &frameRecorder{}

	_, err = svc.StreamResponse(ctx, 1, chat.ID, "Create a roadmap on Go", rec, nil)
	require.NoError(t, err)
	require.Contains(t, rec.frames[0], "roadmap")
	assert.Contains(t, rec.chunks(), "Basics")

	got, err := chats.GetChat(ctx, 1, chat.ID)
	require.NoError(t, err)
	meta := got.MetaData()
	require.Len(t, meta.Roadmap, 1)
	assert.Equal(t, DefaultSubtopicContent("Syntax"), meta.Roadmap[0].Subtopics[0].Content)
}

func TestTutor_StopSuppressesChunks(t *testing.T) {
	client := &stubLLM{enabled: true, replies: []string{`{"type":"chat","confidence":0.1}`, "one two three"}}
	svc, _ := newTutorFixture(t, client)
	rec := &frameRecorder{}

	_, err := svc.StreamResponse(context.Background(), 1, "", "hi", rec, func() bool { return true })
	require.NoError(t, err)
	assert.Empty(t, rec.chunks())
}

func TestTutor_ForeignChat(t *testing.T) {
	client := &stubLLM{enabled: true}
	svc, chats := newTutorFixture(t, client)
	chat, err := chats.CreateChat(context.Background(), 1, CreateChatInput{Title: "mine"})
	require.NoError(t, err)

	_, err = svc.StreamResponse(context.Background(), 2, chat.ID, "hi", &frameRecorder{}, nil)
	assert.ErrorIs(t, err, ErrChatNotFound)
}
