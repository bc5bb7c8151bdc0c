package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnpilot/pkg/tasks"
)

type memCounter struct {
	counts map[string]int64
	err    error
}

func (c *memCounter) Incr(_ context.Context, key string) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.counts[key]++
	return c.counts[key], nil
}

func (c *memCounter) Reset(_ context.Context, key string) error {
	delete(c.counts, key)
	return nil
}

type stubProcessor struct {
	err   error
	calls int
}

func (p *stubProcessor) Process(context.Context, tasks.SourceProcessingTask) error {
	p.calls++
	return p.err
}

func taskBytes(t *testing.T) []byte {
	b, err := json.Marshal(tasks.SourceProcessingTask{SourceID: 7, FileName: "a.pdf"})
	require.NoError(t, err)
	return b
}

func TestHandleMessage_MalformedIsCommitted(t *testing.T) {
	p := &stubProcessor{}
	assert.True(t, HandleMessage(context.Background(), []byte("{bad"), p, &memCounter{counts: map[string]int64{}}))
	assert.Zero(t, p.calls)
}

func TestHandleMessage_SuccessResetsCounter(t *testing.T) {
	c := &memCounter{counts: map[string]int64{"kafka:attempts:source:7": 2}}
	assert.True(t, HandleMessage(context.Background(), taskBytes(t), &stubProcessor{}, c))
	assert.NotContains(t, c.counts, "kafka:attempts:source:7")
}

func TestHandleMessage_RetriesUntilMaxAttempts(t *testing.T) {
	c := &memCounter{counts: map[string]int64{}}
	p := &stubProcessor{err: errors.New("tika down")}

	assert.False(t, HandleMessage(context.Background(), taskBytes(t), p, c))
	assert.False(t, HandleMessage(context.Background(), taskBytes(t), p, c))
	assert.True(t, HandleMessage(context.Background(), taskBytes(t), p, c))
	assert.Equal(t, 3, p.calls)
}

func TestHandleMessage_CounterFailureKeepsOffset(t *testing.T) {
	c := &memCounter{counts: map[string]int64{}, err: errors.New("redis down")}
	assert.False(t, HandleMessage(context.Background(), taskBytes(t), &stubProcessor{err: errors.New("x")}, c))
}
