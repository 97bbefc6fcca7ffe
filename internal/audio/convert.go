package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hajimehoshi/go-mp3"
)

// Converter writes a mono 16-bit PCM WAV rendition of src to dst.
type Converter interface {
	Convert(ctx context.Context, src, dst string) error
}

// FFmpeg shells out to an ffmpeg binary. It handles every container the
// binary was built with, so it is the fallback for anything not decoded in-process.
type FFmpeg struct {
	Bin        string
	SampleRate int
}

var _ Converter = (*FFmpeg)(nil)

func (c *FFmpeg) args(src, dst string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", src, "-vn", "-ac", "1"}
	if c.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(c.SampleRate))
	}
	return append(args, "-acodec", "pcm_s16le", "-f", "wav", dst)
}

func (c *FFmpeg) Convert(ctx context.Context, src, dst string) error {
	bin := c.Bin
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, c.args(src, dst)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("ffmpeg: %w", err)
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, msg)
	}
	return nil
}

// MP3 decodes MPEG-1/2 layer III in-process and downmixes to mono.
type MP3 struct{}

var _ Converter = MP3{}

func (MP3) Convert(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dec, err := mp3.NewDecoder(in)
	if err != nil {
		return fmt.Errorf("mp3 decode: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	w, err := newWAVWriter(out, dec.SampleRate(), 1)
	if err != nil {
		return err
	}
	if err := downmix(ctx, w, dec); err != nil {
		return fmt.Errorf("mp3 decode: %w", err)
	}
	if w.n == 0 {
		return fmt.Errorf("mp3 decode: no frames")
	}
	return w.Close()
}

// downmix reads interleaved 16-bit stereo frames and writes their mean.
func downmix(ctx context.Context, w io.Writer, r io.Reader) error {
	const frame = 4
	in := make([]byte, 4096*frame)
	out := make([]byte, 4096*2)
	var carry []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(in[len(carry):])
		copy(in, carry)
		buf := in[:len(carry)+n]
		whole := len(buf) / frame * frame
		o := 0
		for i := 0; i < whole; i += frame {
			left := int16(binary.LittleEndian.Uint16(buf[i:]))
			right := int16(binary.LittleEndian.Uint16(buf[i+2:]))
			binary.LittleEndian.PutUint16(out[o:], uint16(int16((int32(left)+int32(right))/2)))
			o += 2
		}
		if o > 0 {
			if _, werr := w.Write(out[:o]); werr != nil {
				return werr
			}
		}
		carry = append(carry[:0], buf[whole:]...)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
