package testutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPDF_Trailer(t *testing.T) {
	pdf := BuildPDF([]TextLine{{X: 72, Y: 700, Text: "hello (world)"}})

	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-1.4\n")))
	assert.True(t, bytes.HasSuffix(pdf, []byte("\n%%EOF\n")), "trailer ends with the EOF marker")
	assert.Contains(t, string(pdf), `(hello \(world\)) Tj`)
}
