package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnpilot/internal/model"
	"learnpilot/internal/repository"
)

var algebra = model.Roadmap{{Type: model.NodeTypeTopic, Name: "Algebra", Subtopics: []model.RoadmapSubtopic{{Type: model.NodeTypeSubtopic, Name: "Linear Equations"}}}}

func TestChatService_CreateAndSnapshot(t *testing.T) {
	svc := NewChatService(repository.NewChatRepository(newTestDB(t)))
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, 1, CreateChatInput{
		Messages: []model.ChatMessage{{Type: model.MessageTypeUser, Content: "teach me algebra"}},
		Roadmap:  algebra,
		InitialMeta: model.MetaPatch{
			UI: map[string]interface{}{"tab": "roadmap"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "teach me algebra", chat.Title)

	meta := chat.MetaData()
	require.Len(t, meta.Events, 1)
	assert.Equal(t, "createChat", meta.Events[0].Type)
	assert.NotEmpty(t, meta.Messages[0].ID)
	assert.Equal(t, "roadmap", meta.UI["tab"])

	snap, err := svc.GetSnapshot(ctx, 1, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, algebra, snap.Roadmap)
	assert.Empty(t, snap.History)

	_, err = svc.GetSnapshot(ctx, 2, chat.ID)
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestChatService_EmptySubtopicsSurviveRoundTrip(t *testing.T) {
	svc := NewChatService(repository.NewChatRepository(newTestDB(t)))
	ctx := context.Background()
	intro := model.Roadmap{{Type: model.NodeTypeTopic, Name: "Intro", Subtopics: []model.RoadmapSubtopic{}}}

	chat, err := svc.CreateChat(ctx, 1, CreateChatInput{Roadmap: intro})
	require.NoError(t, err)

	snap, err := svc.GetSnapshot(ctx, 1, chat.ID)
	require.NoError(t, err)
	raw, err := json.Marshal(snap.Roadmap)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"TOPIC","name":"Intro","subtopics":[]}]`, string(raw))

	plan, ok := TryExtractRoadmap(string(raw))
	require.True(t, ok)
	assert.Equal(t, intro, plan)
}

func TestChatService_SaveSnapshotReplacesMessagesAndRoadmap(t *testing.T) {
	svc := NewChatService(repository.NewChatRepository(newTestDB(t)))
	ctx := context.Background()
	chat, err := svc.CreateChat(ctx, 1, CreateChatInput{
		Messages: []model.ChatMessage{{ID: "a", Type: model.MessageTypeUser, Content: "old"}},
		Roadmap:  algebra,
	})
	require.NoError(t, err)

	saved, err := svc.SaveSnapshot(ctx, 1, SnapshotInput{
		ChatID:   chat.ID,
		Messages: []model.ChatMessage{{ID: "b", Type: model.MessageTypeUser, Content: "new"}},
		Meta:     model.MetaPatch{Events: []model.Event{{Type: "snapshot"}}},
	})
	require.NoError(t, err)
	meta := saved.MetaData()
	require.Len(t, meta.Messages, 1)
	assert.Equal(t, "b", meta.Messages[0].ID)
	assert.Nil(t, meta.Roadmap)
	assert.Len(t, meta.Events, 2)
	assert.Equal(t, "old", saved.Title)
}

func TestChatService_AppendTurn(t *testing.T) {
	svc := NewChatService(repository.NewChatRepository(newTestDB(t)))
	ctx := context.Background()
	chat, err := svc.CreateChat(ctx, 1, CreateChatInput{})
	require.NoError(t, err)
	assert.Empty(t, chat.Title)

	long := strings.Repeat("é", 80)
	out, err := svc.AppendTurn(ctx, 1, TurnInput{
		ChatID:  chat.ID,
		UserMsg: model.ChatMessage{Content: long},
		AIMsg:   model.ChatMessage{Content: "answer"},
		Roadmap: model.SetRoadmap(algebra),
		UIPatch: map[string]interface{}{"open": true},
	})
	require.NoError(t, err)

	meta := out.MetaData()
	require.Len(t, meta.Messages, 2)
	assert.Equal(t, model.MessageTypeUser, meta.Messages[0].Type)
	assert.Equal(t, model.MessageTypeAI, meta.Messages[1].Type)
	assert.Equal(t, algebra, meta.Roadmap)
	assert.Equal(t, true, meta.UI["open"])
	last := meta.Events[len(meta.Events)-1]
	assert.Equal(t, "appendTurn", last.Type)
	assert.EqualValues(t, 80, last.Data["len"])
	assert.Equal(t, strings.Repeat("é", 60), out.Title)

	out, err = svc.AppendTurn(ctx, 1, TurnInput{ChatID: chat.ID, UserMsg: model.ChatMessage{Content: "q"}, AIMsg: model.ChatMessage{Content: "a"}})
	require.NoError(t, err)
	assert.Equal(t, algebra, out.MetaData().Roadmap)
	assert.Len(t, out.MetaData().Messages, 4)
}

// racingRepo 在第一次 UpdateMeta 之前插入一次并发写入。
type racingRepo struct {
	repository.ChatRepository
	raced bool
}

func (r *racingRepo) UpdateMeta(chat *model.Chat, meta model.ChatMeta, title string) error {
	if !r.raced {
		r.raced = true
		other, err := r.FindOwned(chat.ID, chat.UserID)
		if err != nil {
			return err
		}
		concurrent := model.MergeMeta(other.MetaData(), model.MetaPatch{Performance: []model.PerfEntry{{Kind: model.PerfKindMCQ, Accuracy: 1}}})
		if err := r.ChatRepository.UpdateMeta(other, concurrent, other.Title); err != nil {
			return err
		}
	}
	return r.ChatRepository.UpdateMeta(chat, meta, title)
}

func TestChatService_RetriesOnConcurrentWrite(t *testing.T) {
	repo := &racingRepo{ChatRepository: repository.NewChatRepository(newTestDB(t))}
	svc := NewChatService(repo)
	ctx := context.Background()
	chat, err := svc.CreateChat(ctx, 1, CreateChatInput{})
	require.NoError(t, err)

	count, err := svc.RecordPerformance(ctx, 1, chat.ID, []model.PerfEntry{{Kind: model.PerfKindText, Accuracy: 0.5}})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestChatService_RenameAndDelete(t *testing.T) {
	svc := NewChatService(repository.NewChatRepository(newTestDB(t)))
	ctx := context.Background()
	chat, err := svc.CreateChat(ctx, 1, CreateChatInput{Title: "t"})
	require.NoError(t, err)

	require.NoError(t, svc.RenameChat(ctx, 1, chat.ID, "renamed"))
	assert.ErrorIs(t, svc.RenameChat(ctx, 9, chat.ID, "x"), ErrChatNotFound)

	list, err := svc.ListChats(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "renamed", list[0].Title)

	require.NoError(t, svc.DeleteChat(ctx, 1, chat.ID))
	assert.ErrorIs(t, svc.DeleteChat(ctx, 1, chat.ID), ErrChatNotFound)
	_, err = svc.GetChat(ctx, 1, chat.ID)
	assert.ErrorIs(t, err, ErrChatNotFound)
}
