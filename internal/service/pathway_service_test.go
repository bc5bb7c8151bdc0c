package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"learnpilot/internal/model"
	"learnpilot/internal/repository"
	"learnpilot/pkg/llm"
)

type pathwayFixture struct {
	db      *gorm.DB
	repo    repository.PathwayRepository
	chats   ChatService
	llm     *stubLLM
	service PathwayService
}

func newPathwayFixture(t *testing.T) *pathwayFixture {
	db := newTestDB(t)
	f := &pathwayFixture{db: db, repo: repository.NewPathwayRepository(db), chats: NewChatService(repository.NewChatRepository(db)), llm: &stubLLM{}}
	f.service = NewPathwayService(f.repo, repository.NewSubjectRepository(db), f.chats, f.llm)
	return f
}

// chainFrom 从 first 开始沿 nextId 遍历。
func chainFrom(t *testing.T, nodes []model.PathNode) []string {
	t.Helper()
	byID := make(map[string]model.PathNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	out := []string{}
	cur := &nodes[0].ID
	for cur != nil && len(out) <= len(nodes) {
		out = append(out, *cur)
		cur = byID[*cur].NextID
	}
	return out
}

func TestPathwayService_SanitizePlan(t *testing.T) {
	f := newPathwayFixture(t)

	_, err := f.service.SanitizePlan(json.RawMessage(`{"type":"TOPIC"}`))
	assert.ErrorIs(t, err, ErrInvalidPlan)
	_, err = f.service.SanitizePlan(json.RawMessage(`[{"type":"TOPIC","name":"  "},{"name":"x"}]`))
	assert.ErrorIs(t, err, ErrInvalidPlan)

	plan, err := f.service.SanitizePlan(json.RawMessage(`[{"type":"TOPIC","name":"A","subtopics":[{"type":"SUBTOPIC","name":"a1"},{"type":"X","name":"bad"}]}]`))
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Len(t, plan[0].Subtopics, 1)
}

func TestPathwayService_BuildSingleTopic(t *testing.T) {
	f := newPathwayFixture(t)
	ctx := context.Background()

	res, err := f.service.BuildFromPlan(ctx, 1, BuildInput{Topics: algebra})
	require.NoError(t, err)
	require.Len(t, res.TopicNodeIDs, 1)

	tree, err := f.service.GetTree(ctx, 1, res.PathwayID)
	require.NoError(t, err)
	assert.Equal(t, "Learning Path: Algebra", tree.Pathway.Title)
	assert.Equal(t, model.PathwayDraft, tree.Pathway.Status)
	require.NotNil(t, tree.Pathway.RootNodeID)
	assert.Equal(t, res.RootNodeID, *tree.Pathway.RootNodeID)

	require.Len(t, tree.Nodes, 1)
	root := tree.Nodes[0]
	require.Len(t, root.Children, 1)
	topic := root.Children[0]
	assert.Equal(t, "Algebra", topic.Title)
	assert.Equal(t, 0, topic.OrderIndex)
	assert.Nil(t, topic.NextID)
	require.Len(t, topic.Children, 1)
	sub := topic.Children[0]
	assert.Equal(t, model.NodeTypeSubtopic, sub.Type)
	assert.Equal(t, 0, sub.OrderIndex)
	assert.Nil(t, sub.NextID)
	assert.Equal(t, topic.ID, *sub.ParentID)
}

func TestPathwayService_NextChainMatchesOrderIndex(t *testing.T) {
	f := newPathwayFixture(t)
	ctx := context.Background()
	plan := model.Roadmap{
		{Type: model.NodeTypeTopic, Name: "One", Subtopics: []model.RoadmapSubtopic{{Type: model.NodeTypeSubtopic, Name: "1a"}, {Type: model.NodeTypeSubtopic, Name: "1b"}, {Type: model.NodeTypeSubtopic, Name: "1c"}}},
		{Type: model.NodeTypeTopic, Name: "Two"},
		{Type: model.NodeTypeTopic, Name: "Three", Subtopics: []model.RoadmapSubtopic{{Type: model.NodeTypeSubtopic, Name: "3a"}, {Type: model.NodeTypeSubtopic, Name: "3b"}}},
	}

	res, err := f.service.BuildFromPlan(ctx, 1, BuildInput{Topics: plan, Title: "  Mine  ", Status: model.PathwayActive})
	require.NoError(t, err)

	root := res.RootNodeID
	topics, err := f.repo.ChildrenOrdered(res.PathwayID, &root)
	require.NoError(t, err)
	assert.Equal(t, nodeIDs(topics), chainFrom(t, topics))
	assert.Equal(t, res.TopicNodeIDs, nodeIDs(topics))

	for _, topic := range topics {
		id := topic.ID
		subs, err := f.repo.ChildrenOrdered(res.PathwayID, &id)
		require.NoError(t, err)
		if len(subs) > 0 {
			assert.Equal(t, nodeIDs(subs), chainFrom(t, subs))
		}
	}

	p, err := f.repo.FindOwned(res.PathwayID, 1)
	require.NoError(t, err)
	assert.Equal(t, "Mine", p.Title)
	assert.Equal(t, model.PathwayActive, p.Status)
}

func TestPathwayService_InvalidPlanPersistsNothing(t *testing.T) {
	f := newPathwayFixture(t)
	_, err := f.service.BuildFromPlan(context.Background(), 1, BuildInput{Topics: model.Roadmap{{Type: "TOPIC", Name: " "}, {Name: "x"}}})
	assert.ErrorIs(t, err, ErrInvalidPlan)

	var count int64
	require.NoError(t, f.db.Model(&model.Pathway{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, f.db.Model(&model.PathNode{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPathwayService_ChatOwnership(t *testing.T) {
	f := newPathwayFixture(t)
	ctx := context.Background()
	chat, err := f.chats.CreateChat(ctx, 1, CreateChatInput{Title: "c"})
	require.NoError(t, err)

	other := chat.ID
	_, err = f.service.BuildFromPlan(ctx, 2, BuildInput{ChatID: &other, Topics: algebra})
	assert.ErrorIs(t, err, ErrChatNotFound)
	assert.Equal(t, "Chat not found or not owned by user.", ErrChatNotFound.Error())
}

// failingLinks 让所有 SetNext 调用失败。
type failingLinks struct {
	repository.PathwayRepository
}

func (failingLinks) SetNext(string, *string) error { return errors.New("link rejected") }

func TestPathwayService_LinkFailureKeepsTreeAndRelinkRepairs(t *testing.T) {
	f := newPathwayFixture(t)
	ctx := context.Background()
	broken := NewPathwayService(failingLinks{f.repo}, repository.NewSubjectRepository(f.db), f.chats, f.llm)
	plan := model.Roadmap{{Type: model.NodeTypeTopic, Name: "A"}, {Type: model.NodeTypeTopic, Name: "B"}}

	res, err := broken.BuildFromPlan(ctx, 1, BuildInput{Topics: plan})
	assert.ErrorIs(t, err, ErrLinkIncomplete)
	require.NotNil(t, res)

	root := res.RootNodeID
	topics, err := f.repo.ChildrenOrdered(res.PathwayID, &root)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Nil(t, topics[0].NextID)

	require.NoError(t, f.service.Relink(ctx, 1, res.PathwayID))
	topics, err = f.repo.ChildrenOrdered(res.PathwayID, &root)
	require.NoError(t, err)
	assert.Equal(t, nodeIDs(topics), chainFrom(t, topics))

	assert.ErrorIs(t, f.service.Relink(ctx, 2, res.PathwayID), ErrPathwayNotFound)
}

func TestPathwayService_AttachPlanToChat(t *testing.T) {
	f := newPathwayFixture(t)
	ctx := context.Background()
	chat, err := f.chats.CreateChat(ctx, 1, CreateChatInput{})
	require.NoError(t, err)

	first, err := f.service.AttachPlanToChat(ctx, 1, chat.ID, algebra)
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := f.service.AttachPlanToChat(ctx, 1, chat.ID, model.Roadmap{{Type: model.NodeTypeTopic, Name: "Geometry"}})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.PathwayID, second.PathwayID)

	p, err := f.repo.FindOwned(first.PathwayID, 1)
	require.NoError(t, err)
	assert.Contains(t, string(p.PlanSpec), "Geometry")
}

func TestPathwayService_IngestRoadmap(t *testing.T) {
	f := newPathwayFixture(t)
	ctx := context.Background()

	res, err := f.service.IngestRoadmap(ctx, 1, IngestInput{Topics: model.Roadmap{
		{Type: model.NodeTypeTopic, Name: "Limits", Subtopics: []model.RoadmapSubtopic{{Type: model.NodeTypeSubtopic, Name: "Epsilon"}, {Type: model.NodeTypeSubtopic, Name: "Delta"}}},
		{Type: model.NodeTypeTopic, Name: "Derivatives"},
	}})
	require.NoError(t, err)

	tree, err := f.service.GetTree(ctx, 1, res.PathwayID)
	require.NoError(t, err)
	assert.Equal(t, "Untitled Subject Pathway", tree.Pathway.Title)
	assert.Equal(t, model.PathwayActive, tree.Pathway.Status)
	require.Len(t, tree.Nodes, 2)
	first := tree.Nodes[0]
	assert.Equal(t, first.ID, *tree.Pathway.RootNodeID)
	require.NotNil(t, first.NextID)
	assert.Equal(t, tree.Nodes[1].ID, *first.NextID)
	require.Len(t, first.Contents, 1)
	assert.Equal(t, "Topic", first.Contents[0].Label)
	require.Len(t, first.Children, 2)
	assert.Equal(t, "Subtopic", first.Children[0].Contents[0].Label)
	assert.Equal(t, first.Children[1].ID, *first.Children[0].NextID)

	chat, err := f.chats.GetChat(ctx, 1, res.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "Untitled Subject", chat.Title)
	require.NotNil(t, chat.LastNodeID)
	assert.Equal(t, first.ID, *chat.LastNodeID)
	assert.Len(t, chat.MetaData().Roadmap, 2)
}

func TestPathwayService_GenerateNodeContent(t *testing.T) {
	f := newPathwayFixture(t)
	ctx := context.Background()
	res, err := f.service.BuildFromPlan(ctx, 1, BuildInput{Topics: algebra})
	require.NoError(t, err)

	_, err = f.service.GenerateNodeContent(ctx, 1, res.TopicNodeIDs[0])
	assert.ErrorIs(t, err, llm.ErrNotConfigured)

	f.llm.enabled = true
	f.llm.replies = []string{"```json\n[{\"type\":\"Q&A\",\"content\":\"What is x?\"},{\"type\":\"notes\",\"text\":\"x is a variable\"},{\"type\":\"QA\",\"content\":\"  \"}]\n```"}
	rows, err := f.service.GenerateNodeContent(ctx, 1, res.TopicNodeIDs[0])
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, model.ContentKindQA, rows[0].Kind)
	assert.Equal(t, model.ContentKindStudy, rows[1].Kind)
	assert.Equal(t, 0, rows[0].OrderIndex)
	assert.InDelta(t, 0.9, *f.llm.calls[0].Gen.Temperature, 1e-9)

	f.llm.replies = []string{"plain prose"}
	rows, err = f.service.GenerateNodeContent(ctx, 1, res.TopicNodeIDs[0])
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].OrderIndex)

	_, err = f.service.GenerateNodeContent(ctx, 2, res.TopicNodeIDs[0])
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestParseNodeItems(t *testing.T) {
	items := ParseNodeItems(`{"question": "Why?"}`)
	require.Len(t, items, 1)
	assert.Equal(t, model.ContentKindQA, items[0].Kind)

	items = ParseNodeItems(`["one", "two"]`)
	assert.Len(t, items, 2)

	long := make([]rune, 3500)
	for i := range long {
		long[i] = 'z'
	}
	items = ParseNodeItems(string(long))
	require.Len(t, items, 1)
	assert.Equal(t, model.ContentKindStudy, items[0].Kind)
	assert.Len(t, []rune(items[0].Content), 3000)

	assert.Equal(t, model.ContentKindQA, NormalizeItemKind("quiz-answer"))
	assert.Equal(t, model.ContentKindStudy, NormalizeItemKind("explain"))
	assert.Equal(t, model.ContentKindStudy, NormalizeItemKind(""))
}
