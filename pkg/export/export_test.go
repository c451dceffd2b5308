package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterWrite(t *testing.T) {
	buf := &bytes.Buffer{}
	err := NewCSVExporter().Write(buf, Dataset{
		Headers: []string{"application_id", "status"},
		Rows: [][]string{
			{"PRF1/CC/2025/01", "Pending"},
			{"PRF1/CC/2025/02"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "application_id,status\nPRF1/CC/2025/01,Pending\nPRF1/CC/2025/02,\n", buf.String())
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	assert.Error(t, NewCSVExporter().Write(&bytes.Buffer{}, Dataset{}))
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(Document{
		Title:  "Payment Receipt",
		Fields: []Field{{Label: "Application ID", Value: "PRF1/CC/2025/01"}},
		Footer: "Computer generated receipt.",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))

	_, err = NewPDFExporter().Render(Document{Title: "empty"})
	assert.Error(t, err)
}
