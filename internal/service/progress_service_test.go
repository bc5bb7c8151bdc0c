package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnpilot/internal/config"
	"learnpilot/internal/model"
	"learnpilot/internal/repository"
	"learnpilot/pkg/embedding"
)

func TestProgress_SummaryAndOverview(t *testing.T) {
	db := newTestDB(t)
	chatRepo := repository.NewChatRepository(db)
	chats := NewChatService(chatRepo)
	search := NewSearchService(embedding.NewClient(config.EmbeddingConfig{}), nil, "", repository.NewSourceRepository(db))
	practice := NewPracticeService(&stubLLM{}, chats, search, config.PracticeConfig{})
	svc := NewProgressService(chatRepo, chats, practice)
	ctx := context.Background()

	a, err := chats.CreateChat(ctx, 1, CreateChatInput{Title: "a"})
	require.NoError(t, err)
	_, err = chats.CreateChat(ctx, 1, CreateChatInput{Title: "empty"})
	require.NoError(t, err)
	_, err = chats.RecordPerformance(ctx, 1, a.ID, []model.PerfEntry{
		{Kind: model.PerfKindMCQ, Question: "q1", Accuracy: 1},
		{Kind: model.PerfKindMCQ, Question: "q2", Accuracy: 1},
		{Kind: model.PerfKindText, Question: "q3", Accuracy: 0.7},
	})
	require.NoError(t, err)

	sum, err := svc.Summary(ctx, 1, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.InDelta(t, 0.9, sum.MeanAccuracy, 1e-9)
	assert.Equal(t, KindStats{Count: 2, Mean: 1}, sum.ByKind[model.PerfKindMCQ])
	assert.Len(t, sum.Recent, 3)
	assert.Equal(t, DifficultyHarder, sum.NextDifficulty)

	_, err = svc.Summary(ctx, 2, a.ID)
	assert.ErrorIs(t, err, ErrChatNotFound)

	ov, err := svc.Overview(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ov.Chats, 1)
	assert.Equal(t, "a", ov.Chats[0].Title)
	assert.Equal(t, 3, ov.Total)
}
