package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case batch, ok := <-d.Output():
		require.True(t, ok, "output closed")
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
		return nil
	}
}

func TestDebouncer_Coalescing(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want []Operation
	}{
		{"single modify", []Operation{OpModify}, []Operation{OpModify}},
		{"create then modify", []Operation{OpCreate, OpModify}, []Operation{OpCreate}},
		{"delete then create", []Operation{OpDelete, OpCreate}, []Operation{OpModify}},
		{"modify then delete", []Operation{OpModify, OpDelete}, []Operation{OpDelete}},
		{"repeated writes", []Operation{OpModify, OpModify, OpModify}, []Operation{OpModify}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(20*time.Millisecond, 4)
			defer d.Stop()

			for _, op := range tt.ops {
				d.Add(FileEvent{Path: "/kb/articles.jsonl", Operation: op, Timestamp: time.Now()})
			}

			batch := receive(t, d)
			require.Len(t, batch, len(tt.want))
			for i, op := range tt.want {
				assert.Equal(t, op, batch[i].Operation)
			}
		})
	}
}

func TestDebouncer_CreateThenDeleteCancels(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, 4)
	defer d.Stop()

	d.Add(FileEvent{Path: "/kb/tmp.jsonl", Operation: OpCreate})
	d.Add(FileEvent{Path: "/kb/tmp.jsonl", Operation: OpDelete})
	d.Add(FileEvent{Path: "/kb/articles.jsonl", Operation: OpModify})

	batch := receive(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "/kb/articles.jsonl", batch[0].Path)
}

func TestDebouncer_BatchSortedByPath(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, 4)
	defer d.Stop()

	d.Add(FileEvent{Path: "/kb/b.json", Operation: OpModify})
	d.Add(FileEvent{Path: "/kb/a.jsonl", Operation: OpModify})

	batch := receive(t, d)
	require.Len(t, batch, 2)
	assert.Equal(t, "/kb/a.jsonl", batch[0].Path)
	assert.Equal(t, "/kb/b.json", batch[1].Path)
}

func TestDebouncer_StopClosesOutput(t *testing.T) {
	d := NewDebouncer(time.Hour, 1)
	d.Add(FileEvent{Path: "/kb/a.jsonl", Operation: OpModify})

	d.Stop()
	d.Stop()
	d.Add(FileEvent{Path: "/kb/a.jsonl", Operation: OpModify})

	_, ok := <-d.Output()
	assert.False(t, ok)
}
