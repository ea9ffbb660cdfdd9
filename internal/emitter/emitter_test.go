package emitter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/warden/pkg/resource"
)

// mockEmitter implements Emitter for testing.
type mockEmitter struct {
	emitCalls  int
	closeCalls int
	emitErr    error
	closeErr   error
	reports    []resource.RunReport
}

func (m *mockEmitter) Emit(_ context.Context, report resource.RunReport) error {
	m.emitCalls++
	m.reports = append(m.reports, report)
	return m.emitErr
}

func (m *mockEmitter) Close() error {
	m.closeCalls++
	return m.closeErr
}

func TestMultiEmitter_Emit(t *testing.T) {
	e1 := &mockEmitter{}
	e2 := &mockEmitter{}
	multi := NewMultiEmitter(e1, e2)

	report := resource.RunReport{
		AccountID:  "acc-1",
		Identifier: "123456789012",
		Assets:     []resource.NormalizedAsset{makeAsset("vol-1", resource.StatusProtected, nil)},
		Duration:   time.Second,
	}

	err := multi.Emit(context.Background(), report)

	require.NoError(t, err)
	assert.Equal(t, 1, e1.emitCalls)
	assert.Equal(t, 1, e2.emitCalls)
	assert.Len(t, e1.reports, 1)
	assert.Len(t, e2.reports, 1)
}

func TestMultiEmitter_Emit_ErrorStillReachesOthers(t *testing.T) {
	e1 := &mockEmitter{emitErr: errors.New("emit failed")}
	e2 := &mockEmitter{}
	multi := NewMultiEmitter(e1, e2)

	err := multi.Emit(context.Background(), resource.RunReport{})

	assert.ErrorContains(t, err, "emit failed")
	assert.Equal(t, 1, e1.emitCalls)
	assert.Equal(t, 1, e2.emitCalls)
}

func TestMultiEmitter_Close_Error(t *testing.T) {
	e1 := &mockEmitter{closeErr: errors.New("close failed")}
	e2 := &mockEmitter{}
	multi := NewMultiEmitter(e1, e2)

	err := multi.Close()

	assert.Error(t, err)
	assert.Equal(t, 1, e1.closeCalls)
	assert.Equal(t, 1, e2.closeCalls)
}

func TestMultiEmitter_Empty(t *testing.T) {
	multi := NewMultiEmitter()

	err := multi.Emit(context.Background(), resource.RunReport{})
	require.NoError(t, err)

	err = multi.Close()
	require.NoError(t, err)
}
