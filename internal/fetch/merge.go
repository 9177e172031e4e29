package fetch

import (
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Merger combines page images into one document and reports its page count.
type Merger interface {
	Merge(images []string, outPath string) (int, error)
}

// PDFMerger imports each image as one PDF page with pdfcpu.
type PDFMerger struct{}

// Merge writes images to outPath, replacing any existing file, and verifies
// the result has one page per image.
func (PDFMerger) Merge(images []string, outPath string) (int, error) {
	if len(images) == 0 {
		return 0, ErrNoPages
	}

	tmp := outPath + ".partial.pdf"
	_ = os.Remove(tmp)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.ImportImagesFile(images, tmp, pdfcpu.DefaultImportConfig(), conf); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("failed to merge pages: %w", err)
	}

	f, err := os.Open(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to open merged PDF: %w", err)
	}
	pages, err := api.PageCount(f, conf)
	f.Close()
	if err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("failed to count merged pages: %w", err)
	}
	if pages != len(images) {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("merged PDF has %d pages, expected %d", pages, len(images))
	}

	if err := os.Rename(tmp, outPath); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("failed to move merged PDF: %w", err)
	}
	return pages, nil
}
