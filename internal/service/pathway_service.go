package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"learnpilot/internal/model"
	"learnpilot/internal/repository"
	"learnpilot/pkg/llm"
	"learnpilot/pkg/log"
)

// buildTxTimeout 限制插入阶段事务的持续时间。
const buildTxTimeout = 20 * time.Second

// BuildInput 是由计划创建学习路径的参数。
type BuildInput struct {
	ChatID *string       `json:"chatId"`
	Title  string        `json:"title"`
	Status string        `json:"status"`
	Topics model.Roadmap `json:"plan"`
}

// BuildResult 是创建结果。
type BuildResult struct {
	PathwayID    string   `json:"pathwayId"`
	RootNodeID   string   `json:"rootNodeId"`
	TopicNodeIDs []string `json:"topicNodeIds"`
}

// IngestInput 是路线图导入的参数。
type IngestInput struct {
	SubjectKey  string        `json:"subjectKey"`
	SubjectName string        `json:"subjectName"`
	ChatTitle   string        `json:"chatTitle"`
	Topics      model.Roadmap `json:"roadmap"`
}

// IngestResult 是路线图导入的结果。
type IngestResult struct {
	ChatID    string `json:"chatId"`
	PathwayID string `json:"pathwayId"`
	SubjectID uint   `json:"subjectId"`
}

// AttachResult 是把计划挂到聊天上的结果。
type AttachResult struct {
	PathwayID string `json:"pathwayId"`
	Created   bool   `json:"created"`
}

// PathwayTree 是学习路径及其按 orderIndex 组装的节点树。
type PathwayTree struct {
	Pathway model.Pathway         `json:"pathway"`
	Nodes   []*model.PathTreeNode `json:"nodes"`
}

// PathwayService 定义了学习路径相关的业务操作。
type PathwayService interface {
	// SanitizePlan 解析原始计划，过滤格式错误的条目。非数组或过滤后为空返回 ErrInvalidPlan。
	SanitizePlan(raw json.RawMessage) (model.Roadmap, error)
	// BuildFromPlan 两阶段创建学习路径：事务内插入节点，事务外并行设置 nextId。
	// 链接阶段失败时结果仍然返回，同时返回 ErrLinkIncomplete。
	BuildFromPlan(ctx context.Context, userID uint, in BuildInput) (*BuildResult, error)
	// Relink 按 orderIndex 重新计算所有 nextId 链。
	Relink(ctx context.Context, userID uint, pathwayID string) error
	GetTree(ctx context.Context, userID uint, pathwayID string) (*PathwayTree, error)
	ListPathways(ctx context.Context, userID uint) ([]model.Pathway, error)
	AttachPlanToChat(ctx context.Context, userID uint, chatID string, topics model.Roadmap) (*AttachResult, error)
	IngestRoadmap(ctx context.Context, userID uint, in IngestInput) (*IngestResult, error)
	// GenerateNodeContent 为节点生成 QA / STUDY 学习条目并追加保存。
	GenerateNodeContent(ctx context.Context, userID uint, nodeID string) ([]model.PathNodeContent, error)
}

type pathwayService struct {
	pathwayRepo repository.PathwayRepository
	subjectRepo repository.SubjectRepository
	chatService ChatService
	llmClient   llm.Client
}

// NewPathwayService 创建一个新的 PathwayService 实例。
func NewPathwayService(pathwayRepo repository.PathwayRepository, subjectRepo repository.SubjectRepository, chatService ChatService, llmClient llm.Client) PathwayService {
	return &pathwayService{
		pathwayRepo: pathwayRepo,
		subjectRepo: subjectRepo,
		chatService: chatService,
		llmClient:   llmClient,
	}
}

func (s *pathwayService) SanitizePlan(raw json.RawMessage) (model.Roadmap, error) {
	plan, ok := model.SanitizeRoadmap(raw)
	if !ok || len(plan) == 0 {
		return nil, ErrInvalidPlan
	}
	return plan, nil
}

func (s *pathwayService) BuildFromPlan(ctx context.Context, userID uint, in BuildInput) (*BuildResult, error) {
	plan := in.Topics.Sanitize()
	if len(plan) == 0 {
		return nil, ErrInvalidPlan
	}
	if in.ChatID != nil && *in.ChatID != "" {
		if _, err := s.chatService.GetChat(ctx, userID, *in.ChatID); err != nil {
			return nil, err
		}
	} else {
		in.ChatID = nil
	}
	status := in.Status
	if status == "" {
		status = model.PathwayDraft
	}
	if !model.ValidPathwayStatus(status) {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, status)
	}
	title := pathwayTitle(in.Title, plan)
	planSpec, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}

	// 阶段 1: 仅插入，事务受超时约束
	log.Infof("[PathwayService] 步骤1: 插入节点, userID: %d, topics: %d", userID, len(plan))
	res := &BuildResult{TopicNodeIDs: make([]string, 0, len(plan))}
	withSubtopics := make(map[string]bool, len(plan))
	txCtx, cancel := context.WithTimeout(ctx, buildTxTimeout)
	defer cancel()
	err = s.pathwayRepo.Transaction(txCtx, func(tx repository.PathwayRepository) error {
		pathway := &model.Pathway{UserID: userID, ChatID: in.ChatID, Title: title, Status: status, PlanSpec: datatypes.JSON(planSpec)}
		if err := tx.CreatePathway(pathway); err != nil {
			return err
		}
		root := &model.PathNode{PathwayID: pathway.ID, Type: model.NodeTypeTopic, Title: title, OrderIndex: 0}
		if err := tx.CreateNode(root); err != nil {
			return err
		}
		if err := tx.SetRoot(pathway.ID, root.ID); err != nil {
			return err
		}
		res.PathwayID, res.RootNodeID = pathway.ID, root.ID

		for i, topic := range plan {
			rootID := root.ID
			node := &model.PathNode{PathwayID: pathway.ID, ParentID: &rootID, Type: model.NodeTypeTopic, Title: topic.Name, OrderIndex: i}
			if err := tx.CreateNode(node); err != nil {
				return err
			}
			res.TopicNodeIDs = append(res.TopicNodeIDs, node.ID)
			withSubtopics[node.ID] = len(topic.Subtopics) > 0
			for j, sub := range topic.Subtopics {
				topicID := node.ID
				child := &model.PathNode{PathwayID: pathway.ID, ParentID: &topicID, Type: model.NodeTypeSubtopic, Title: sub.Name, OrderIndex: j}
				if err := tx.CreateNode(child); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		log.Errorf("[PathwayService] 插入阶段失败, userID: %d, error: %v", userID, err)
		return nil, fmt.Errorf("创建学习路径失败: %w", err)
	}

	// 阶段 2: 事务外按兄弟组并行链接
	log.Infof("[PathwayService] 步骤2: 链接 nextId, pathwayID: %s", res.PathwayID)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.linkChain(gctx, res.TopicNodeIDs)
	})
	for _, topicID := range res.TopicNodeIDs {
		if !withSubtopics[topicID] {
			continue
		}
		parent := topicID
		g.Go(func() error {
			children, err := s.pathwayRepo.ChildrenOrdered(res.PathwayID, &parent)
			if err != nil {
				return err
			}
			return s.linkChain(gctx, nodeIDs(children))
		})
	}
	if err := g.Wait(); err != nil {
		log.Errorf("[PathwayService] 链接阶段未完成, pathwayID: %s, error: %v", res.PathwayID, err)
		return res, fmt.Errorf("%w: %v", ErrLinkIncomplete, err)
	}
	log.Infof("[PathwayService] 学习路径创建完成, pathwayID: %s", res.PathwayID)
	return res, nil
}

// linkChain 让 ids[i] 指向 ids[i+1]，最后一个保持为空。
func (s *pathwayService) linkChain(ctx context.Context, ids []string) error {
	for i := 0; i+1 < len(ids); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		next := ids[i+1]
		if err := s.pathwayRepo.SetNext(ids[i], &next); err != nil {
			return fmt.Errorf("link %s -> %s: %w", ids[i], next, err)
		}
	}
	return nil
}

func (s *pathwayService) Relink(ctx context.Context, userID uint, pathwayID string) error {
	if _, err := s.findOwned(pathwayID, userID); err != nil {
		return err
	}
	nodes, err := s.pathwayRepo.NodesByPathway(pathwayID)
	if err != nil {
		return err
	}
	groups := make(map[string][]model.PathNode)
	order := make([]string, 0)
	for _, n := range nodes {
		key := ""
		if n.ParentID != nil {
			key = *n.ParentID
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], n)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range order {
		siblings := groups[key]
		g.Go(func() error {
			for i, n := range siblings {
				if err := gctx.Err(); err != nil {
					return err
				}
				var next *string
				if i+1 < len(siblings) {
					id := siblings[i+1].ID
					next = &id
				}
				if sameNext(n.NextID, next) {
					continue
				}
				if err := s.pathwayRepo.SetNext(n.ID, next); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("relink pathway %s: %w", pathwayID, err)
	}
	log.Infof("[PathwayService] 重新链接完成, pathwayID: %s, groups: %d", pathwayID, len(order))
	return nil
}

func (s *pathwayService) GetTree(ctx context.Context, userID uint, pathwayID string) (*PathwayTree, error) {
	pathway, err := s.findOwned(pathwayID, userID)
	if err != nil {
		return nil, err
	}
	nodes, err := s.pathwayRepo.NodesByPathway(pathwayID)
	if err != nil {
		return nil, err
	}
	return &PathwayTree{Pathway: *pathway, Nodes: buildTree(nodes)}, nil
}

// buildTree 按 orderIndex 顺序组装树，nodes 须已按 orderIndex 排序。
func buildTree(nodes []model.PathNode) []*model.PathTreeNode {
	byID := make(map[string]*model.PathTreeNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = &model.PathTreeNode{PathNode: n, Children: []*model.PathTreeNode{}}
	}
	roots := make([]*model.PathTreeNode, 0)
	for _, n := range nodes {
		tn := byID[n.ID]
		if n.ParentID != nil {
			if parent, ok := byID[*n.ParentID]; ok {
				parent.Children = append(parent.Children, tn)
				continue
			}
		}
		roots = append(roots, tn)
	}
	return roots
}

func (s *pathwayService) ListPathways(ctx context.Context, userID uint) ([]model.Pathway, error) {
	return s.pathwayRepo.ListByUser(userID)
}

func (s *pathwayService) AttachPlanToChat(ctx context.Context, userID uint, chatID string, topics model.Roadmap) (*AttachResult, error) {
	plan := topics.Sanitize()
	if len(plan) == 0 {
		return nil, ErrInvalidPlan
	}
	if _, err := s.chatService.GetChat(ctx, userID, chatID); err != nil {
		return nil, err
	}
	planSpec, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}

	existing, err := s.pathwayRepo.FindByChat(chatID, userID)
	if err == nil {
		if err := s.pathwayRepo.UpdatePlanSpec(existing.ID, datatypes.JSON(planSpec)); err != nil {
			return nil, err
		}
		return &AttachResult{PathwayID: existing.ID, Created: false}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	cid := chatID
	pathway := &model.Pathway{UserID: userID, ChatID: &cid, Title: pathwayTitle("", plan), Status: model.PathwayDraft, PlanSpec: datatypes.JSON(planSpec)}
	if err := s.pathwayRepo.CreatePathway(pathway); err != nil {
		return nil, err
	}
	return &AttachResult{PathwayID: pathway.ID, Created: true}, nil
}

// IngestRoadmap 为科目创建聊天与 ACTIVE 学习路径。主题节点直接位于顶层，
// 每个节点带一条 TEXT 内容，rootNodeId 与聊天的 lastNodeId 指向第一个主题。
func (s *pathwayService) IngestRoadmap(ctx context.Context, userID uint, in IngestInput) (*IngestResult, error) {
	plan := in.Topics.Sanitize()
	if len(plan) == 0 {
		return nil, ErrInvalidPlan
	}
	key := strings.TrimSpace(in.SubjectKey)
	if key == "" {
		key = "unnamed-subject"
	}
	name := strings.TrimSpace(in.SubjectName)
	if name == "" {
		name = "Untitled Subject"
	}
	chatTitle := strings.TrimSpace(in.ChatTitle)
	if chatTitle == "" {
		chatTitle = name
	}

	// 1. 确保用户科目存在
	subject, err := s.subjectRepo.Upsert(userID, key, name)
	if err != nil {
		return nil, fmt.Errorf("保存科目失败: %w", err)
	}

	// 2. 创建携带路线图的聊天
	chat, err := s.chatService.CreateChat(ctx, userID, CreateChatInput{Title: chatTitle, Roadmap: plan})
	if err != nil {
		return nil, err
	}

	// 3. 创建学习路径与节点
	planSpec, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}
	chatID := chat.ID
	pathway := &model.Pathway{UserID: userID, ChatID: &chatID, Title: name + " Pathway", Status: model.PathwayActive, PlanSpec: datatypes.JSON(planSpec)}
	topicIDs := make([]string, 0, len(plan))
	subIDs := make(map[string][]string, len(plan))
	err = s.pathwayRepo.Transaction(ctx, func(tx repository.PathwayRepository) error {
		if err := tx.CreatePathway(pathway); err != nil {
			return err
		}
		for i, topic := range plan {
			node := &model.PathNode{PathwayID: pathway.ID, Type: model.NodeTypeTopic, Title: topic.Name, OrderIndex: i}
			if err := tx.CreateNode(node); err != nil {
				return err
			}
			contents := []model.PathNodeContent{{NodeID: node.ID, Kind: model.ContentKindText, Label: "Topic", Text: topic.Name}}
			for j, sub := range topic.Subtopics {
				parent := node.ID
				child := &model.PathNode{PathwayID: pathway.ID, ParentID: &parent, Type: model.NodeTypeSubtopic, Title: sub.Name, OrderIndex: j}
				if err := tx.CreateNode(child); err != nil {
					return err
				}
				text := sub.Name
				if strings.TrimSpace(sub.Content) != "" {
					text = sub.Content
				}
				contents = append(contents, model.PathNodeContent{NodeID: child.ID, Kind: model.ContentKindText, Label: "Subtopic", Text: text})
				subIDs[node.ID] = append(subIDs[node.ID], child.ID)
			}
			if err := tx.CreateContents(contents); err != nil {
				return err
			}
			topicIDs = append(topicIDs, node.ID)
		}
		if err := tx.SetRoot(pathway.ID, topicIDs[0]); err != nil {
			return err
		}
		// 4. 链接主题链与子主题链
		if err := linkWith(tx, topicIDs); err != nil {
			return err
		}
		for _, ids := range subIDs {
			if err := linkWith(tx, ids); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("导入路线图失败: %w", err)
	}

	// 5. 聊天的快速恢复指针指向第一个主题
	if err := s.chatService.SetLastNode(ctx, userID, chat.ID, topicIDs[0]); err != nil {
		return nil, err
	}
	log.Infof("[PathwayService] 路线图导入完成, userID: %d, chatID: %s, pathwayID: %s", userID, chat.ID, pathway.ID)
	return &IngestResult{ChatID: chat.ID, PathwayID: pathway.ID, SubjectID: subject.ID}, nil
}

func linkWith(repo repository.PathwayRepository, ids []string) error {
	for i := 0; i+1 < len(ids); i++ {
		next := ids[i+1]
		if err := repo.SetNext(ids[i], &next); err != nil {
			return err
		}
	}
	return nil
}

func (s *pathwayService) findOwned(pathwayID string, userID uint) (*model.Pathway, error) {
	p, err := s.pathwayRepo.FindOwned(pathwayID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPathwayNotFound
		}
		return nil, err
	}
	return p, nil
}

// pathwayTitle 返回修剪后的标题，为空时由第一个主题生成。
func pathwayTitle(title string, plan model.Roadmap) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	first := ""
	if len(plan) > 0 {
		first = plan[0].Name
	}
	if utf8.RuneCountInString(first) > 40 {
		first = string([]rune(first)[:40])
	}
	if first == "" {
		first = "Untitled"
	}
	return "Learning Path: " + first
}

func nodeIDs(nodes []model.PathNode) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func sameNext(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
