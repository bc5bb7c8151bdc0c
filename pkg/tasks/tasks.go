// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// SourceProcessingTask 描述一次学习资料处理任务。
type SourceProcessingTask struct {
	SourceID   uint   `json:"source_id"`
	FileHash   string `json:"file_hash"`
	ObjectName string `json:"object_name"`
	FileName   string `json:"file_name"`
	UserID     uint   `json:"user_id"`
	ChatID     string `json:"chat_id,omitempty"`
}
