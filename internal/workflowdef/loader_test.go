package workflowdef_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaveflow/weaveflow/internal/workflowdef"
)

func TestStaticLoader_LoadKnown(t *testing.T) {
	def := &workflowdef.Definition{WorkflowID: "wf-1", Name: "greeter"}
	l := workflowdef.NewStaticLoader(def)

	got, err := l.Load(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, def, got)
}

func TestStaticLoader_LoadUnknown(t *testing.T) {
	l := workflowdef.NewStaticLoader()

	_, err := l.Load(context.Background(), "missing")
	assert.Error(t, err)
}

func TestStaticLoader_PutReplacesAndDeleteRemoves(t *testing.T) {
	l := workflowdef.NewStaticLoader()
	l.Put(&workflowdef.Definition{WorkflowID: "wf-1", Version: 1})

	got, err := l.Load(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)

	l.Put(&workflowdef.Definition{WorkflowID: "wf-1", Version: 2})
	got, err = l.Load(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)

	l.Delete("wf-1")
	_, err = l.Load(context.Background(), "wf-1")
	assert.Error(t, err)
}
