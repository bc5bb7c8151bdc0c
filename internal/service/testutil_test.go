package service

import (
	"context"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"learnpilot/internal/model"
	"learnpilot/pkg/llm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	return db
}

// stubLLM 按调用顺序返回预设的回复。
type stubLLM struct {
	enabled bool
	replies []string
	err     error
	calls   []stubCall
}

type stubCall struct {
	Messages []llm.Message
	Gen      *llm.GenerationParams
	Schema   string
}

func (s *stubLLM) Enabled() bool { return s.enabled }

func (s *stubLLM) next(msgs []llm.Message, gen *llm.GenerationParams, schema string) (string, error) {
	s.calls = append(s.calls, stubCall{Messages: msgs, Gen: gen, Schema: schema})
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", nil
	}
	out := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return out, nil
}

func (s *stubLLM) Complete(ctx context.Context, msgs []llm.Message, gen *llm.GenerationParams) (string, error) {
	return s.next(msgs, gen, "")
}

func (s *stubLLM) CompleteJSON(ctx context.Context, msgs []llm.Message, gen *llm.GenerationParams, schema llm.JSONSchema) (string, error) {
	return s.next(msgs, gen, schema.Name)
}

func (s *stubLLM) StreamChatMessages(ctx context.Context, msgs []llm.Message, gen *llm.GenerationParams, w llm.MessageWriter) error {
	out, err := s.next(msgs, gen, "")
	if err != nil {
		return err
	}
	for _, part := range strings.SplitAfter(out, " ") {
		if part == "" {
			continue
		}
		if err := w.WriteMessage(websocket.TextMessage, []byte(part)); err != nil {
			return err
		}
	}
	return nil
}
