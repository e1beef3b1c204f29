package samples

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"opdeck/internal/logging"
)

// SampleType selects the conversion profile.
type SampleType string

const (
	// TypeDrum samples may run up to 12 seconds.
	TypeDrum SampleType = "drum"
	// TypeSynth samples are trimmed to 6 seconds.
	TypeSynth SampleType = "synth"
)

// ErrUnknownType reports an unsupported sample type.
var ErrUnknownType = errors.New("unknown sample type")

func (t SampleType) maxDuration() (time.Duration, error) {
	switch t {
	case TypeDrum:
		return 12 * time.Second, nil
	case TypeSynth:
		return 6 * time.Second, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

type commandRunner func(ctx context.Context, name string, args ...string) error

// Converter runs ffmpeg to produce device-compatible AIFF files.
type Converter struct {
	logger       *slog.Logger
	ffmpegBinary string
	uploadDir    string
	convertedDir string
	timeout      time.Duration
	run          commandRunner
}

// Options configures a Converter.
type Options struct {
	Logger       *slog.Logger
	FFmpegBinary string
	UploadDir    string
	ConvertedDir string
	Timeout      time.Duration
}

func NewConverter(opts Options) *Converter {
	binary := strings.TrimSpace(opts.FFmpegBinary)
	if binary == "" {
		binary = "ffmpeg"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Converter{
		logger:       logging.NewComponentLogger(opts.Logger, "sample-converter"),
		ffmpegBinary: binary,
		uploadDir:    opts.UploadDir,
		convertedDir: opts.ConvertedDir,
		timeout:      timeout,
		run:          runCommand,
	}
}

// WithCommandRunner overrides process execution, for tests.
func (c *Converter) WithCommandRunner(run commandRunner) {
	if run != nil {
		c.run = run
	}
}

// Convert reads an uploaded sample, converts it, and returns the path of the
// produced AIFF under the converted directory's per-type subdirectory. The
// upload scratch file is removed regardless of outcome.
func (c *Converter) Convert(ctx context.Context, upload io.Reader, filename string, sampleType SampleType) (string, error) {
	maxDuration, err := sampleType.maxDuration()
	if err != nil {
		return "", err
	}
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", errors.New("upload filename is required")
	}

	if err := os.MkdirAll(c.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure upload directory: %w", err)
	}
	outputDir := filepath.Join(c.convertedDir, string(sampleType))
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure converted directory: %w", err)
	}

	inputPath := filepath.Join(c.uploadDir, uuid.NewString()+"_"+base)
	if err := saveUpload(inputPath, upload); err != nil {
		return "", err
	}
	defer func() {
		if removeErr := os.Remove(inputPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			c.logger.Warn("failed to remove uploaded file",
				logging.Error(removeErr),
				logging.String("path", inputPath))
		}
	}()

	outputName := strings.TrimSuffix(base, filepath.Ext(base)) + ".aiff"
	outputPath := filepath.Join(outputDir, outputName)

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := []string{
		"-i", inputPath,
		"-af", "loudnorm",
		"-t", strconv.Itoa(int(maxDuration.Seconds())),
		"-ac", "1",
		"-ar", "44100",
		"-sample_fmt", "s16",
		"-y",
		outputPath,
	}
	if err := c.run(runCtx, c.ffmpegBinary, args...); err != nil {
		return "", fmt.Errorf("run ffmpeg: %w", err)
	}

	c.logger.Info("sample converted",
		logging.String("output", outputPath),
		logging.String("type", string(sampleType)),
		logging.String(logging.FieldEventType, "sample_converted"))
	return outputPath, nil
}

// ConvertedDir returns the root of the converted output tree.
func (c *Converter) ConvertedDir() string {
	return c.convertedDir
}

func saveUpload(path string, upload io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(out, upload); err != nil {
		_ = out.Close()
		return fmt.Errorf("write upload file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close upload file: %w", err)
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(output))
		if trimmed != "" {
			return fmt.Errorf("%w: %s", err, trimmed)
		}
		return err
	}
	return nil
}
