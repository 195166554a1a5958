package cmd

import (
	"bytes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"worker-notes/config"
)

func TestRenderCommand(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "notes.md")
	output := filepath.Join(dir, "notes.pdf")
	require.NoError(t, os.WriteFile(input, []byte("# Lecture 1\n- limits\n"), 0o644))

	root := Root(&config.Config{})
	root.SetArgs([]string{"render", input, output})
	require.NoError(t, root.Execute())

	pdf, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
}

func TestEnhanceCommand(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "page.png")
	output := filepath.Join(dir, "scan.png")

	img := image.NewGray(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = 220
	}
	for x := 10; x < 54; x++ {
		img.SetGray(x, 24, color.Gray{Y: 20})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(input, buf.Bytes(), 0o644))

	root := Root(&config.Config{})
	root.SetArgs([]string{"enhance", input, output})
	require.NoError(t, root.Execute())

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	out, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), out.Bounds())
}

func TestEnhanceCommand_RejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "page.jpg")
	require.NoError(t, os.WriteFile(input, []byte("not an image"), 0o644))

	root := Root(&config.Config{})
	root.SetArgs([]string{"enhance", input, filepath.Join(dir, "out.png")})
	root.SetErr(&bytes.Buffer{})
	assert.Error(t, root.Execute())
}
