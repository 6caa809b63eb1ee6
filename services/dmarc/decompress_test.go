package dmarc

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipBytes(t *testing.T, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zipBytes(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDecompressAttachment_PlainXML(t *testing.T) {
	content := []byte(`<feedback></feedback>`)
	out, err := DecompressAttachment("google.com!example.com!1.xml", content)
	require.NoError(t, err)
	assert.Equal(t, content, out)
}

func TestDecompressAttachment_Gzip(t *testing.T) {
	content := []byte(`<feedback>gz</feedback>`)
	out, err := DecompressAttachment("report.xml.gz", gzipBytes(t, content))
	require.NoError(t, err)
	assert.Equal(t, content, out)
}

func TestDecompressAttachment_Zip(t *testing.T) {
	content := []byte(`<feedback>zip</feedback>`)
	archive := zipBytes(t, map[string][]byte{"report.xml": content})
	out, err := DecompressAttachment("report.zip", archive)
	require.NoError(t, err)
	assert.Equal(t, content, out)
}

func TestDecompressAttachment_ZipWithoutXMLEntry(t *testing.T) {
	archive := zipBytes(t, map[string][]byte{"readme.txt": []byte("hi")})
	_, err := DecompressAttachment("report.zip", archive)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no xml entry")
}

func TestDecompressAttachment_UnsupportedFormat(t *testing.T) {
	_, err := DecompressAttachment("report.pdf", []byte("x"))
	require.Error(t, err)
}

func TestDecompressAttachment_CorruptGzip(t *testing.T) {
	_, err := DecompressAttachment("report.gz", []byte("not gzip at all"))
	require.Error(t, err)
}

func TestIsReportAttachment(t *testing.T) {
	assert.True(t, IsReportAttachment("a.XML"))
	assert.True(t, IsReportAttachment("a.xml.gz"))
	assert.True(t, IsReportAttachment("a.zip"))
	assert.True(t, IsReportAttachment("a.gzip"))
	assert.False(t, IsReportAttachment("signature.asc"))
	assert.False(t, IsReportAttachment("logo.png"))
}
