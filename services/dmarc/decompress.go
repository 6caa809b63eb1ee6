package dmarc

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// report attachments are small; cap extraction to refuse decompression bombs.
const maxDecompressedSize = 32 << 20

// DecompressAttachment turns a mailbox attachment into raw report XML.
// Reporters deliver plain .xml, .xml.gz, or .zip archives holding one XML
// entry; the filename decides the container format.
func DecompressAttachment(filename string, data []byte) ([]byte, error) {
	name := strings.ToLower(filename)

	switch {
	case strings.HasSuffix(name, ".zip"):
		return extractZip(data)
	case strings.HasSuffix(name, ".gz"), strings.HasSuffix(name, ".gzip"):
		return extractGzip(data)
	case strings.HasSuffix(name, ".xml"):
		return data, nil
	default:
		return nil, errors.Errorf("unsupported report attachment format: %s", filename)
	}
}

// IsReportAttachment reports whether a filename looks like a DMARC aggregate
// report container.
func IsReportAttachment(filename string) bool {
	name := strings.ToLower(filename)
	return strings.HasSuffix(name, ".xml") ||
		strings.HasSuffix(name, ".xml.gz") ||
		strings.HasSuffix(name, ".gzip") ||
		strings.HasSuffix(name, ".zip")
}

func extractZip(data []byte) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Wrap(err, "open zip attachment")
	}

	for _, file := range reader.File {
		if !strings.HasSuffix(strings.ToLower(file.Name), ".xml") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "open zip entry %s", file.Name)
		}
		content, err := readCapped(rc)
		rc.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "read zip entry %s", file.Name)
		}
		return content, nil
	}

	return nil, errors.New("zip attachment contains no xml entry")
}

func extractGzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "open gzip attachment")
	}
	defer reader.Close()

	content, err := readCapped(reader)
	if err != nil {
		return nil, errors.Wrap(err, "read gzip attachment")
	}
	return content, nil
}

func readCapped(r io.Reader) ([]byte, error) {
	content, err := io.ReadAll(io.LimitReader(r, maxDecompressedSize+1))
	if err != nil {
		return nil, err
	}
	if len(content) > maxDecompressedSize {
		return nil, errors.New("decompressed attachment exceeds size limit")
	}
	return content, nil
}
