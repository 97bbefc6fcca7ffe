package transcription

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"voice-guard-go/internal/apperr"
	"voice-guard-go/internal/types"
)

const transcriptName = "transcript.txt"

// Recognizer is the remote speech-to-text capability. It returns the best
// alternative of every result segment, in the order the service produced them.
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, sampleRate int) ([]string, error)
}

type Service struct {
	rec Recognizer
	log *logrus.Entry
}

func NewService(rec Recognizer, log *logrus.Entry) *Service {
	return &Service{rec: rec, log: log.WithField("module", "transcription")}
}

// Transcribe recognizes a normalized artifact and stores the text next to it.
func (s *Service) Transcribe(ctx context.Context, art types.AudioArtifact) (types.TranscriptArtifact, error) {
	if art.Format != types.FormatLinear {
		return types.TranscriptArtifact{}, apperr.Errorf(apperr.Transcription, "recognize", "audio is not normalized (format %q)", art.Format)
	}
	if art.SampleRate <= 0 {
		return types.TranscriptArtifact{}, apperr.New(apperr.Transcription, "recognize", errors.New("missing sample rate"))
	}
	data, err := os.ReadFile(art.Path)
	if err != nil {
		return types.TranscriptArtifact{}, apperr.New(apperr.Transcription, "read audio", err)
	}

	start := time.Now()
	segments, err := s.rec.Recognize(ctx, data, art.SampleRate)
	if err != nil {
		return types.TranscriptArtifact{}, apperr.New(apperr.Transcription, "recognize", err)
	}
	text := Join(segments)

	path := filepath.Join(filepath.Dir(art.Path), transcriptName)
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return types.TranscriptArtifact{}, apperr.New(apperr.Transcription, "write transcript", err)
	}

	s.log.WithFields(logrus.Fields{
		"segments":    len(segments),
		"chars":       len(text),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("transcription finished")
	return types.TranscriptArtifact{Path: path, Text: text}, nil
}

// Join concatenates segments with newlines. No usable segment yields the
// EmptyTranscript sentinel, never an empty string.
func Join(segments []string) string {
	text := strings.Join(segments, "\n")
	if strings.TrimSpace(text) == "" {
		return types.EmptyTranscript
	}
	return text
}

// Mock returns a canned transcript. Enabled with USE_MOCK_TRANSCRIBE=true.
type Mock struct {
	Segments []string
}

func (m Mock) Recognize(_ context.Context, audio []byte, sampleRate int) ([]string, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("mock recognizer: empty audio")
	}
	if m.Segments == nil {
		return []string{"MOCK TRANSCRIPT: please help, someone is following me."}, nil
	}
	return m.Segments, nil
}
