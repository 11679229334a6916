// Package ingest turns uploads and local paths into pipeline input files.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joseph-ayodele/docs2md/constants"
	"github.com/joseph-ayodele/docs2md/internal/common"
	"github.com/joseph-ayodele/docs2md/internal/pipeline"
)

// FromBytes builds an InputFile, resolving its kind once: by extension, or
// by sniffed content type when the extension is unknown. Unsupported files
// are still returned; they fail at normalization with a per-file diagnostic.
func FromBytes(name string, data []byte) pipeline.InputFile {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	sum := sha256.Sum256(data)
	mt := mimetype.Detect(data)

	in := pipeline.InputFile{
		Name:   name,
		Ext:    constants.NormalizeExt(filepath.Ext(name)),
		MIME:   mt.String(),
		Data:   data,
		SHA256: hex.EncodeToString(sum[:]),
	}
	in.Kind = constants.KindForExt(in.Ext)
	if in.Kind == constants.Unsupported {
		if k := constants.KindForMIME(in.MIME); k != constants.Unsupported {
			in.Kind = k
			in.Ext = constants.NormalizeExt(mt.Extension())
		}
	}
	return in
}

// ReadUpload reads at most maxBytes from r. Larger payloads are rejected
// with ErrTooLarge before any batch is created.
func ReadUpload(name string, r io.Reader, maxBytes int64) (pipeline.InputFile, error) {
	if err := common.NewValidator().Field("filename", name, common.Required, common.MaxLength(255)).Error(); err != nil {
		return pipeline.InputFile{}, err
	}
	lr := r
	if maxBytes > 0 {
		lr = io.LimitReader(r, maxBytes+1)
	}
	data, err := io.ReadAll(lr)
	if err != nil {
		return pipeline.InputFile{}, fmt.Errorf("read %s: %w", name, err)
	}
	if err := CheckSize(name, int64(len(data)), maxBytes); err != nil {
		return pipeline.InputFile{}, err
	}
	return FromBytes(name, data), nil
}

// CheckSize enforces the per-file cap.
func CheckSize(name string, size, maxBytes int64) error {
	v := common.NewValidator().Field(name, size, common.MaxBytes(maxBytes))
	if v.HasErrors() {
		return fmt.Errorf("%w: %s", common.ErrTooLarge, v.ErrorMessage())
	}
	return nil
}
