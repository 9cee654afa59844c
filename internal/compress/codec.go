// Package compress is the boundary to the external image codec. The
// orchestrator only depends on the Codec interface; failures and output
// mismatches are the caller's signal to fall back to the original files.
package compress

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Options are the global compression parameters applied to a whole batch.
type Options struct {
	Quality       int  // 0-100
	ConvertToWebP bool // re-encode output as WebP
}

// Codec processes a batch of files and returns the processed paths in the
// same order and length as the input. Any error, or a length mismatch, means
// "compression unavailable for this batch" to the caller.
type Codec interface {
	Compress(ctx context.Context, paths []string, opts Options) ([]string, error)
}

// ExecCodec shells out to the native codec binary. The binary prints one
// output path per input file on stdout, in input order.
type ExecCodec struct {
	binPath string
	outDir  string
	logger  *zap.Logger
}

func NewExecCodec(binPath, outDir string, logger *zap.Logger) *ExecCodec {
	return &ExecCodec{binPath: binPath, outDir: outDir, logger: logger}
}

var _ Codec = (*ExecCodec)(nil)

func (c *ExecCodec) Compress(ctx context.Context, paths []string, opts Options) ([]string, error) {
	args := []string{
		"--quality", strconv.Itoa(opts.Quality),
		"--out-dir", c.outDir,
	}
	if opts.ConvertToWebP {
		args = append(args, "--webp")
	}
	args = append(args, paths...)

	cmd := exec.CommandContext(ctx, c.binPath, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("codec command failed: %w", err)
	}

	var results []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			results = append(results, line)
		}
	}
	c.logger.Debug("codec run finished",
		zap.Int("inputs", len(paths)), zap.Int("outputs", len(results)))
	return results, nil
}
