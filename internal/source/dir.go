package source

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"regaudit/internal/model"
	"regaudit/internal/textract"
	"regaudit/internal/walker"
)

// Dir treats every supported document under a directory as an uploaded
// regulation. The id is derived from the file's path relative to the root.
type Dir struct {
	root   string
	logger *zap.Logger
}

// NewDir creates a directory source rooted at root.
func NewDir(root string, logger *zap.Logger) *Dir {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dir{root: root, logger: logger}
}

// Discover lists the documents in the directory ordered by path. A missing
// directory yields no regulations.
func (d *Dir) Discover(ctx context.Context, limit int) ([]model.Regulation, error) {
	if _, err := os.Stat(d.root); os.IsNotExist(err) {
		d.logger.Warn("regulations directory does not exist", zap.String("dir", d.root))
		return nil, nil
	}

	fileCh, errCh := walker.Walk(d.root, textract.Extensions())
	var regs []model.Regulation
	for fi := range fileCh {
		rel := filepath.ToSlash(fi.RelPath)
		regs = append(regs, model.Regulation{
			ID:        slug(strings.TrimSuffix(rel, filepath.Ext(rel))),
			Title:     TitleFromFilename(rel),
			Date:      UnknownDate,
			LocalPath: fi.Path,
		})
	}
	if err := <-errCh; err != nil {
		return nil, goerr.Wrap(ErrSourceFetch, "walk regulations directory",
			goerr.V("dir", d.root), goerr.V("cause", err.Error()))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(regs, func(i, j int) bool { return regs[i].LocalPath < regs[j].LocalPath })
	if limit > 0 && len(regs) > limit {
		regs = regs[:limit]
	}
	d.logger.Debug("regulations discovered", zap.String("dir", d.root), zap.Int("count", len(regs)))
	return regs, nil
}

// Fetch checks that the document is still readable; it is already local.
func (d *Dir) Fetch(ctx context.Context, reg model.Regulation) (model.Regulation, error) {
	info, err := os.Stat(reg.LocalPath)
	if err != nil {
		return reg, goerr.Wrap(ErrSourceFetch, "stat regulation document",
			goerr.V("path", reg.LocalPath), goerr.V("cause", err.Error()))
	}
	if info.IsDir() {
		return reg, goerr.Wrap(ErrSourceFetch, "regulation path is a directory", goerr.V("path", reg.LocalPath))
	}
	if !textract.Supported(reg.LocalPath) {
		return reg, goerr.Wrap(ErrSourceFetch, "unsupported regulation file type", goerr.V("path", reg.LocalPath))
	}
	return reg, nil
}
