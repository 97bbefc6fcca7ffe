// Package audio turns an arbitrary recorded clip into the mono linear PCM
// waveform the speech recognizer consumes.
package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"voice-guard-go/internal/apperr"
	"voice-guard-go/internal/types"
)

const normalizedName = "normalized.wav"

type Normalizer struct {
	fallback Converter
	byExt    map[string]Converter
	log      *logrus.Entry
}

// NewNormalizer uses fallback for any extension without an in-process decoder.
func NewNormalizer(fallback Converter, log *logrus.Entry) *Normalizer {
	return &Normalizer{
		fallback: fallback,
		byExt:    map[string]Converter{".mp3": MP3{}},
		log:      log.WithField("module", "audio"),
	}
}

// Normalize produces a linear16 artifact next to in and probes its sample rate.
// Output is written to a temporary name and renamed into place, so a failed
// conversion never leaves a file that looks valid.
func (n *Normalizer) Normalize(ctx context.Context, in types.AudioArtifact) (types.AudioArtifact, error) {
	start := time.Now()

	if info, err := ProbeWAV(in.Path); err == nil && info.IsLinear16() {
		n.log.WithField("sample_rate", info.SampleRate).Debug("input already linear16, skipping conversion")
		return types.AudioArtifact{Path: in.Path, Name: in.Name, Format: types.FormatLinear, SampleRate: info.SampleRate}, nil
	}

	dst := filepath.Join(filepath.Dir(in.Path), normalizedName)
	part := dst + ".part"
	conv := n.converterFor(in.Path)
	if conv == nil {
		return types.AudioArtifact{}, apperr.Errorf(apperr.Conversion, "convert", "no converter for %s", filepath.Ext(in.Path))
	}
	if err := conv.Convert(ctx, in.Path, part); err != nil {
		_ = os.Remove(part)
		return types.AudioArtifact{}, apperr.New(apperr.Conversion, "convert", err)
	}
	if err := os.Rename(part, dst); err != nil {
		_ = os.Remove(part)
		return types.AudioArtifact{}, apperr.New(apperr.Conversion, "finalize", err)
	}

	info, err := ProbeWAV(dst)
	if err != nil {
		return types.AudioArtifact{}, apperr.New(apperr.Probe, "sample rate", err)
	}
	if info.Format != formatPCM {
		return types.AudioArtifact{}, apperr.New(apperr.Probe, "sample rate", errors.New("converted stream is not linear PCM"))
	}

	n.log.WithFields(logrus.Fields{
		"sample_rate": info.SampleRate,
		"channels":    info.Channels,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("audio normalized")
	return types.AudioArtifact{Path: dst, Format: types.FormatLinear, SampleRate: info.SampleRate}, nil
}

func (n *Normalizer) converterFor(path string) Converter {
	if c, ok := n.byExt[strings.ToLower(filepath.Ext(path))]; ok {
		return c
	}
	return n.fallback
}
