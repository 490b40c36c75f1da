package codec

import (
	iface "KnifeDetServer/interface"
	"archive/zip"
	"bytes"
	"fmt"

	"github.com/pkg/errors"
)

// ArchiveEntry is one processed upload; Position is its 1-based place in the request.
type ArchiveEntry struct {
	Position  int
	Original  iface.ImageData
	Annotated iface.ImageData
}

// ZipResults packs original_NNN.png and detected_NNN.png for every entry.
func ZipResults(entries []ArchiveEntry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		if err := writePNG(zw, fmt.Sprintf("original_%03d.png", e.Position), e.Original); err != nil {
			return nil, err
		}
		if err := writePNG(zw, fmt.Sprintf("detected_%03d.png", e.Position), e.Annotated); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "close zip")
	}
	return buf.Bytes(), nil
}

func writePNG(zw *zip.Writer, name string, img iface.ImageData) error {
	data, err := EncodePNG(img)
	if err != nil {
		return err
	}
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return errors.Wrapf(err, "add %s", name)
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	return nil
}
