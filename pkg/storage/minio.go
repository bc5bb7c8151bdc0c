// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"learnpilot/internal/config"
	"learnpilot/pkg/log"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// ObjectStore 是资料文件存取所需的最小接口。
type ObjectStore interface {
	PutObject(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error
	GetObject(ctx context.Context, objectName string) (io.ReadCloser, error)
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
	RemoveObject(ctx context.Context, objectName string) error
}

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	// 1. 初始化 MinIO 客户端
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}
	log.Info("MinIO 客户端初始化成功")

	// 2. 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	ctx := context.Background()
	exists, err := MinioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}
	if exists {
		log.Infof("存储桶 '%s' 已存在", cfg.BucketName)
		return
	}
	log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
	if err := MinioClient.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
		log.Fatal("创建 MinIO 存储桶失败", err)
	}
	log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
}

// MinIOStore 以单个存储桶实现 ObjectStore。
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore 创建绑定到 bucket 的存储。
func NewMinIOStore(client *minio.Client, bucket string) *MinIOStore {
	return &MinIOStore{client: client, bucket: bucket}
}

func (s *MinIOStore) PutObject(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{ContentType: contentType})
	return err
}

func (s *MinIOStore) GetObject(ctx context.Context, objectName string) (io.ReadCloser, error) {
	return s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
}

// PresignedURL generates a presigned URL for a given object.
func (s *MinIOStore) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	presignedURL, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, expiry, nil)
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return presignedURL.String(), nil
}

func (s *MinIOStore) RemoveObject(ctx context.Context, objectName string) error {
	return s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
}
