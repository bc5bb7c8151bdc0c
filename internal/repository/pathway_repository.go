package repository

import (
	"context"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"learnpilot/internal/model"
)

// PathwayRepository 定义了学习路径与节点的持久化操作。
type PathwayRepository interface {
	// Transaction 在一个事务中执行 fn，fn 收到绑定到该事务的仓库。
	Transaction(ctx context.Context, fn func(repo PathwayRepository) error) error

	CreatePathway(p *model.Pathway) error
	SetRoot(pathwayID, rootNodeID string) error
	UpdatePlanSpec(pathwayID string, planSpec datatypes.JSON) error
	FindOwned(pathwayID string, userID uint) (*model.Pathway, error)
	FindByChat(chatID string, userID uint) (*model.Pathway, error)
	ListByUser(userID uint) ([]model.Pathway, error)

	CreateNode(n *model.PathNode) error
	FindNode(nodeID string) (*model.PathNode, error)
	// SetNext 设置节点的 nextId，nextID 为 nil 时清空。
	SetNext(nodeID string, nextID *string) error
	// ChildrenOrdered 返回同一父节点下按 orderIndex 排序的子节点，parentID 为 nil 表示顶层。
	ChildrenOrdered(pathwayID string, parentID *string) ([]model.PathNode, error)
	// NodesByPathway 返回路径下的全部节点（含内容），按 orderIndex 排序。
	NodesByPathway(pathwayID string) ([]model.PathNode, error)

	CreateContents(contents []model.PathNodeContent) error
	MaxContentOrder(nodeID string) (int, error)
}

type pathwayRepository struct {
	db *gorm.DB
}

// NewPathwayRepository 创建一个新的 PathwayRepository 实例。
func NewPathwayRepository(db *gorm.DB) PathwayRepository {
	return &pathwayRepository{db: db}
}

func (r *pathwayRepository) Transaction(ctx context.Context, fn func(repo PathwayRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&pathwayRepository{db: tx})
	})
}

func (r *pathwayRepository) CreatePathway(p *model.Pathway) error {
	return r.db.Create(p).Error
}

func (r *pathwayRepository) SetRoot(pathwayID, rootNodeID string) error {
	return r.db.Model(&model.Pathway{}).Where("id = ?", pathwayID).Update("root_node_id", rootNodeID).Error
}

func (r *pathwayRepository) UpdatePlanSpec(pathwayID string, planSpec datatypes.JSON) error {
	return r.db.Model(&model.Pathway{}).Where("id = ?", pathwayID).Update("plan_spec", planSpec).Error
}

func (r *pathwayRepository) FindOwned(pathwayID string, userID uint) (*model.Pathway, error) {
	var p model.Pathway
	if err := r.db.Where("id = ? AND user_id = ?", pathwayID, userID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *pathwayRepository) FindByChat(chatID string, userID uint) (*model.Pathway, error) {
	var p model.Pathway
	if err := r.db.Where("chat_id = ? AND user_id = ?", chatID, userID).Order("created_at asc").First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *pathwayRepository) ListByUser(userID uint) ([]model.Pathway, error) {
	var list []model.Pathway
	err := r.db.Where("user_id = ?", userID).Order("updated_at desc").Find(&list).Error
	return list, err
}

func (r *pathwayRepository) CreateNode(n *model.PathNode) error {
	return r.db.Omit("Contents").Create(n).Error
}

func (r *pathwayRepository) FindNode(nodeID string) (*model.PathNode, error) {
	var n model.PathNode
	if err := r.db.Where("id = ?", nodeID).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *pathwayRepository) SetNext(nodeID string, nextID *string) error {
	return r.db.Model(&model.PathNode{}).Where("id = ?", nodeID).Update("next_id", nextID).Error
}

func (r *pathwayRepository) ChildrenOrdered(pathwayID string, parentID *string) ([]model.PathNode, error) {
	q := r.db.Where("pathway_id = ?", pathwayID)
	if parentID == nil {
		q = q.Where("parent_id IS NULL")
	} else {
		q = q.Where("parent_id = ?", *parentID)
	}
	var nodes []model.PathNode
	err := q.Order("order_index asc").Order("created_at asc").Find(&nodes).Error
	return nodes, err
}

func (r *pathwayRepository) NodesByPathway(pathwayID string) ([]model.PathNode, error) {
	var nodes []model.PathNode
	err := r.db.Where("pathway_id = ?", pathwayID).
		Preload("Contents", func(db *gorm.DB) *gorm.DB { return db.Order("order_index asc") }).
		Order("order_index asc").Order("created_at asc").
		Find(&nodes).Error
	return nodes, err
}

func (r *pathwayRepository) CreateContents(contents []model.PathNodeContent) error {
	if len(contents) == 0 {
		return nil
	}
	return r.db.CreateInBatches(contents, 100).Error
}

func (r *pathwayRepository) MaxContentOrder(nodeID string) (int, error) {
	max := -1
	err := r.db.Model(&model.PathNodeContent{}).
		Where("node_id = ?", nodeID).
		Select("COALESCE(MAX(order_index), -1)").
		Row().Scan(&max)
	return max, err
}
