package selection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics-console/internal/pkg/logger"
	"analytics-console/pkg/console"
	"analytics-console/pkg/console/conversation"
)

type fakeExportClient struct {
	got   []console.Message
	err   error
	calls int
}

func (f *fakeExportClient) Export(ctx context.Context, sessionID string, messages []console.Message) ([]byte, error) {
	f.calls++
	f.got = messages
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.4"), nil
}

func seededStore(t *testing.T, n int) *conversation.Store {
	t.Helper()
	s := conversation.NewStore()
	for i := 0; i < n; i++ {
		_, err := s.Append(console.ModeTabular, console.UserMessage(string(rune('a'+i))))
		require.NoError(t, err)
	}
	return s
}

func TestExporter_SendsSelectionInLogOrder(t *testing.T) {
	client := &fakeExportClient{}
	e := NewExporter(client, seededStore(t, 5), console.ModeTabular, logger.NewNop())
	e.SetSelectionMode(true)

	_, err := e.Toggle(3)
	require.NoError(t, err)
	_, err = e.Toggle(1)
	require.NoError(t, err)

	artifact, err := e.Export(context.Background(), "sess_1")
	require.NoError(t, err)
	require.Len(t, client.got, 2)
	assert.Equal(t, 1, client.got[0].Ordinal)
	assert.Equal(t, 3, client.got[1].Ordinal)
	assert.Equal(t, []int{1, 3}, artifact.Ordinals)
	assert.Equal(t, ArtifactFilename, artifact.Filename)

	assert.False(t, e.Enabled())
	assert.Empty(t, e.Selected())
}

func TestExporter_FailureKeepsSelection(t *testing.T) {
	client := &fakeExportClient{err: errors.New("502")}
	e := NewExporter(client, seededStore(t, 3), console.ModeTabular, logger.NewNop())
	e.SetSelectionMode(true)
	_, _ = e.Toggle(0)
	_, _ = e.Toggle(2)

	_, err := e.Export(context.Background(), "sess_1")
	assert.ErrorIs(t, err, console.ErrExport)
	assert.True(t, e.Enabled())
	assert.Equal(t, []int{0, 2}, e.Selected())
}

func TestExporter_EmptySelectionIsNoOp(t *testing.T) {
	client := &fakeExportClient{}
	e := NewExporter(client, seededStore(t, 2), console.ModeTabular, logger.NewNop())
	e.SetSelectionMode(true)

	_, err := e.Export(context.Background(), "sess_1")
	assert.ErrorIs(t, err, console.ErrEmptySelection)
	assert.Equal(t, 0, client.calls)
	assert.True(t, e.Enabled())
}

func TestExporter_Toggle(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		ordinal int
		wantErr error
	}{
		{name: "disabled", enabled: false, ordinal: 0, wantErr: console.ErrSelectionDisabled},
		{name: "negative", enabled: true, ordinal: -1, wantErr: console.ErrIndexOutOfRange},
		{name: "past end", enabled: true, ordinal: 2, wantErr: console.ErrIndexOutOfRange},
		{name: "valid", enabled: true, ordinal: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExporter(&fakeExportClient{}, seededStore(t, 2), console.ModeTabular, logger.NewNop())
			e.SetSelectionMode(tt.enabled)

			selected, err := e.Toggle(tt.ordinal)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, e.Selected())
				return
			}
			require.NoError(t, err)
			assert.True(t, selected)

			selected, err = e.Toggle(tt.ordinal)
			require.NoError(t, err)
			assert.False(t, selected)
		})
	}
}

func TestExporter_ModeChangeClearsSelection(t *testing.T) {
	e := NewExporter(&fakeExportClient{}, seededStore(t, 2), console.ModeTabular, logger.NewNop())
	e.SetSelectionMode(true)
	_, _ = e.Toggle(0)

	e.SetMode(console.ModeRelational)
	assert.False(t, e.Enabled())
	assert.Empty(t, e.Selected())
}

func TestExporter_ToggleSelectionModeClears(t *testing.T) {
	e := NewExporter(&fakeExportClient{}, seededStore(t, 2), console.ModeTabular, logger.NewNop())
	e.SetSelectionMode(true)
	_, _ = e.Toggle(1)

	e.SetSelectionMode(true)
	assert.Empty(t, e.Selected())
}
