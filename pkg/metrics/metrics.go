// Package metrics 定义进程内的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests 按方法、路由和状态码统计请求数。
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "learnpilot",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	// HTTPLatency 按方法和路由统计请求耗时。
	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "learnpilot",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// LLMCalls 按操作和结果统计模型调用次数。
	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "learnpilot",
		Name:      "llm_calls_total",
		Help:      "LLM calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	// PracticeGrades 按题型统计评分次数。
	PracticeGrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "learnpilot",
		Name:      "practice_grades_total",
		Help:      "Graded practice items by kind.",
	}, []string{"kind"})

	// IngestTasks 按结果统计资料处理任务。
	IngestTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "learnpilot",
		Name:      "ingest_tasks_total",
		Help:      "Source ingestion tasks by outcome.",
	}, []string{"outcome"})
)

// Outcome 把 error 映射为 ok / error 标签。
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
