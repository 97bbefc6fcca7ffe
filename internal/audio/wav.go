package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	wavHeaderSize = 44
	formatPCM     = 1
)

// Info is what the probe learns from a WAV file's chunks.
type Info struct {
	Format        uint16
	Channels      int
	SampleRate    int
	BitsPerSample int
	DataBytes     int64
}

// IsLinear16 reports mono 16-bit PCM, the layout the recognizer expects.
func (i Info) IsLinear16() bool {
	return i.Format == formatPCM && i.BitsPerSample == 16 && i.Channels == 1
}

var errNotWAV = errors.New("not a RIFF/WAVE stream")

// ProbeWAV walks the RIFF chunks of the file at path.
func ProbeWAV(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()
	return readInfo(f)
}

func readInfo(r io.Reader) (Info, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Info{}, errNotWAV
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Info{}, errNotWAV
	}

	var info Info
	var sawFmt, sawData bool
	for !sawData {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			break
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))
		switch id {
		case "fmt ":
			if size < 16 {
				return Info{}, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			var body [16]byte
			if _, err := io.ReadFull(r, body[:]); err != nil {
				return Info{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			info.Format = binary.LittleEndian.Uint16(body[0:2])
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			if err := skip(r, size-16+size%2); err != nil {
				return Info{}, err
			}
			sawFmt = true
		case "data":
			info.DataBytes = size
			sawData = true
		default:
			if err := skip(r, size+size%2); err != nil {
				return Info{}, err
			}
		}
	}

	if !sawFmt {
		return Info{}, errors.New("no fmt chunk")
	}
	if !sawData {
		return Info{}, errors.New("no audio stream")
	}
	if info.SampleRate <= 0 {
		return Info{}, errors.New("no sample rate in stream metadata")
	}
	return info, nil
}

func skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("skip chunk: %w", err)
	}
	return nil
}

// wavWriter streams 16-bit PCM samples and patches the header sizes on Close.
type wavWriter struct {
	f          *os.File
	sampleRate int
	channels   int
	n          int64
}

func newWAVWriter(f *os.File, sampleRate, channels int) (*wavWriter, error) {
	w := &wavWriter{f: f, sampleRate: sampleRate, channels: channels}
	if _, err := f.Write(make([]byte, wavHeaderSize)); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *wavWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.n += int64(n)
	return n, err
}

func (w *wavWriter) Close() error {
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return binary.Write(w.f, binary.LittleEndian, header(w.sampleRate, w.channels, w.n))
}

type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

func header(sampleRate, channels int, dataBytes int64) wavHeader {
	const bits = 16
	return wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataBytes),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   formatPCM,
		Channels:      uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * bits / 8),
		BlockAlign:    uint16(channels * bits / 8),
		BitsPerSample: bits,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataBytes),
	}
}
