// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"learnpilot/internal/config"
	"learnpilot/pkg/log"
	"learnpilot/pkg/metrics"
	"learnpilot/pkg/tasks"
)

// MaxAttempts 是单个任务的最大失败次数，达到后提交 offset 放弃重试。
const MaxAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.SourceProcessingTask) error
}

// Producer 投递资料处理任务。
type Producer interface {
	ProduceSourceTask(ctx context.Context, task tasks.SourceProcessingTask) error
}

// AttemptCounter 记录任务失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type writerProducer struct {
	w *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) Producer {
	log.Info("Kafka 生产者初始化成功")
	return &writerProducer{w: &kafka.Writer{
		Addr:     kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}}
}

// ProduceSourceTask 发送一个资料处理任务到 Kafka。
func (p *writerProducer) ProduceSourceTask(ctx context.Context, task tasks.SourceProcessingTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", task.SourceID)),
		Value: taskBytes,
	})
}

type redisCounter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCounter 返回基于 Redis INCR 的计数器，计数键 24 小时过期。
func NewRedisCounter(rdb *redis.Client) AttemptCounter {
	return &redisCounter{rdb: rdb, ttl: 24 * time.Hour}
}

func (c *redisCounter) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err == nil {
		_ = c.rdb.Expire(ctx, key, c.ttl).Err()
	}
	return n, err
}

func (c *redisCounter) Reset(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func attemptsKey(task tasks.SourceProcessingTask) string {
	return fmt.Sprintf("kafka:attempts:source:%d", task.SourceID)
}

// HandleMessage 处理一条消息并返回是否应提交 offset。
//   - 消息无法解析：提交，避免阻塞队列
//   - 处理成功：清理计数并提交
//   - 处理失败：计数达到 MaxAttempts 时提交；计数器异常时不提交，让 Kafka 重试
func HandleMessage(ctx context.Context, value []byte, processor TaskProcessor, counter AttemptCounter) bool {
	var task tasks.SourceProcessingTask
	if err := json.Unmarshal(value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		metrics.IngestTasks.WithLabelValues("malformed").Inc()
		return true
	}

	log.Infof("开始处理资料任务: SourceID=%d, FileName=%s", task.SourceID, task.FileName)
	err := processor.Process(ctx, task)
	if err == nil {
		log.Infof("资料任务处理成功: SourceID=%d", task.SourceID)
		metrics.IngestTasks.WithLabelValues("ok").Inc()
		_ = counter.Reset(ctx, attemptsKey(task))
		return true
	}

	log.Errorf("处理资料任务失败: SourceID=%d, Error: %v", task.SourceID, err)
	metrics.IngestTasks.WithLabelValues("error").Inc()
	attempts, incErr := counter.Incr(ctx, attemptsKey(task))
	if incErr != nil {
		return false
	}
	if attempts >= MaxAttempts {
		log.Errorf("资料任务多次失败(>=%d)，提交 offset 终止重试: SourceID=%d", MaxAttempts, task.SourceID)
		return true
	}
	return false
}

// StartConsumer 启动一个 Kafka 消费者来处理资料任务，ctx 取消后退出。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, counter AttemptCounter) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}
		log.Infof("收到 Kafka 消息: offset %d", m.Offset)

		if HandleMessage(ctx, m.Value, processor, counter) {
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}
}
