package policy

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LoadDir loads every .rego file under dir as a helper module named after
// its path relative to dir.
func (e *Engine) LoadDir(ctx context.Context, dir string) (loaded int, err error) {
	const spanName = "policy_engine.load_dir"
	ctx, span := e.tracer.Start(ctx, spanName,
		trace.WithAttributes(attribute.String("bundle_path", dir)))
	defer span.End()

	e.logger.LogSpanStart(ctx, spanName, attribute.String("bundle_path", dir))
	defer func() { e.logger.LogSpanEnd(ctx, spanName, err) }()

	if _, err := os.Stat(dir); err != nil {
		return 0, fmt.Errorf("policy bundle path %s: %w", dir, err)
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".rego") {
			return nil
		}

		rel, err := relativeTo(dir, path)
		if err != nil {
			return fmt.Errorf("invalid file path %s: %w", path, err)
		}

		content, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return fmt.Errorf("failed to read policy file %s: %w", path, err)
		}
		if err := e.LoadModule(ctx, filepath.ToSlash(rel), string(content)); err != nil {
			return err
		}
		loaded++
		return nil
	})
	if err != nil {
		return loaded, err
	}

	e.logger.WithContext(ctx).Info().
		Str("bundle_path", dir).
		Int("count", loaded).
		Msg("loaded policy bundle")
	return loaded, nil
}

func relativeTo(dir, path string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return rel, nil
}
