package samples

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"opdeck/internal/logging"
)

func newTestConverter(t *testing.T) *Converter {
	t.Helper()
	base := t.TempDir()
	return NewConverter(Options{
		Logger:       logging.NewNop(),
		UploadDir:    filepath.Join(base, "uploads"),
		ConvertedDir: filepath.Join(base, "converted"),
	})
}

func TestConvertBuildsExpectedCommand(t *testing.T) {
	converter := newTestConverter(t)

	var gotName string
	var gotArgs []string
	converter.WithCommandRunner(func(_ context.Context, name string, args ...string) error {
		gotName = name
		gotArgs = args
		return nil
	})

	output, err := converter.Convert(context.Background(), strings.NewReader("audio"), "kick.wav", TypeDrum)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(output) != "kick.aiff" {
		t.Fatalf("unexpected output name %q", output)
	}
	if filepath.Base(filepath.Dir(output)) != "drum" {
		t.Fatalf("output not under drum directory: %q", output)
	}
	if gotName != "ffmpeg" {
		t.Fatalf("unexpected binary %q", gotName)
	}

	joined := strings.Join(gotArgs, " ")
	for _, fragment := range []string{"-af loudnorm", "-t 12", "-ac 1", "-ar 44100", "-sample_fmt s16"} {
		if !strings.Contains(joined, fragment) {
			t.Fatalf("missing %q in args: %s", fragment, joined)
		}
	}
}

func TestConvertSynthTrimsToSixSeconds(t *testing.T) {
	converter := newTestConverter(t)

	var gotArgs []string
	converter.WithCommandRunner(func(_ context.Context, _ string, args ...string) error {
		gotArgs = args
		return nil
	})

	if _, err := converter.Convert(context.Background(), strings.NewReader("audio"), "pad.mp3", TypeSynth); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(strings.Join(gotArgs, " "), "-t 6") {
		t.Fatalf("synth samples must trim to 6 seconds: %v", gotArgs)
	}
}

func TestConvertRejectsUnknownType(t *testing.T) {
	converter := newTestConverter(t)
	_, err := converter.Convert(context.Background(), strings.NewReader("audio"), "x.wav", SampleType("vocal"))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestConvertCleansUpUploadScratch(t *testing.T) {
	converter := newTestConverter(t)

	var inputPath string
	converter.WithCommandRunner(func(_ context.Context, _ string, args ...string) error {
		for i, arg := range args {
			if arg == "-i" && i+1 < len(args) {
				inputPath = args[i+1]
			}
		}
		if _, err := os.Stat(inputPath); err != nil {
			t.Fatalf("upload scratch missing during conversion: %v", err)
		}
		return errors.New("boom")
	})

	if _, err := converter.Convert(context.Background(), strings.NewReader("audio"), "kick.wav", TypeDrum); err == nil {
		t.Fatal("expected conversion error")
	}
	if _, err := os.Stat(inputPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("upload scratch must be removed after failure, stat err=%v", err)
	}
}

func TestConvertRequiresFilename(t *testing.T) {
	converter := newTestConverter(t)
	converter.WithCommandRunner(func(context.Context, string, ...string) error { return nil })

	if _, err := converter.Convert(context.Background(), strings.NewReader("audio"), "", TypeDrum); err == nil {
		t.Fatal("expected error for empty filename")
	}
}
