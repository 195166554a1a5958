package storage

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "final_pdfs/missing.pdf")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	data := []byte("%PDF-1.3")
	require.NoError(t, s.Put(ctx, "final_pdfs/a.pdf", data, "application/pdf"))
	data[0] = 'X'

	got, err := s.Get(ctx, "final_pdfs/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.3"), got)
	assert.Equal(t, "application/pdf", s.Objects()["final_pdfs/a.pdf"].ContentType)
}
