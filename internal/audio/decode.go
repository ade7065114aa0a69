package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// PCM is mono audio normalized to [-1, 1].
type PCM struct {
	Samples    []float64
	SampleRate int
}

func (p PCM) Duration() float64 {
	if p.SampleRate == 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}

// riffHeader is the 12-byte RIFF preamble; chunks follow it.
type riffHeader struct {
	ChunkID   [4]byte
	ChunkSize uint32
	Format    [4]byte
}

type fmtChunk struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// DecodeWAV parses a RIFF/WAVE file with integer PCM (8/16/24/32-bit) or
// 32-bit float samples, downmixing all channels to mono.
func DecodeWAV(data []byte) (PCM, error) {
	r := bytes.NewReader(data)
	var hdr riffHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return PCM{}, fmt.Errorf("read WAV header: %w", err)
	}
	if string(hdr.ChunkID[:]) != "RIFF" {
		return PCM{}, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(hdr.Format[:]) != "WAVE" {
		return PCM{}, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var (
		f       fmtChunk
		haveFmt bool
		pcm     []byte
	)
	for r.Len() >= 8 {
		var id [4]byte
		var size uint32
		_ = binary.Read(r, binary.LittleEndian, &id)
		_ = binary.Read(r, binary.LittleEndian, &size)
		n := int(size)
		if n > r.Len() {
			if string(id[:]) != "data" {
				return PCM{}, fmt.Errorf("invalid WAV file: truncated %q chunk", string(id[:]))
			}
			// Some writers leave a bogus data size; take what is there.
			n = r.Len()
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			return PCM{}, fmt.Errorf("read %q chunk: %w", string(id[:]), err)
		}
		switch string(id[:]) {
		case "fmt ":
			if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, &f); err != nil {
				return PCM{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			if f.AudioFormat == wavFormatExtensible && len(body) >= 26 {
				f.AudioFormat = binary.LittleEndian.Uint16(body[24:26])
			}
			haveFmt = true
		case "data":
			pcm = body
		}
		if n%2 == 1 && r.Len() > 0 {
			_, _ = r.ReadByte()
		}
	}
	if !haveFmt {
		return PCM{}, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if pcm == nil {
		return PCM{}, fmt.Errorf("invalid WAV file: missing data chunk")
	}
	if f.NumChannels == 0 || f.SampleRate == 0 {
		return PCM{}, fmt.Errorf("invalid WAV file: %d channels at %d Hz", f.NumChannels, f.SampleRate)
	}

	var sample func([]byte) float64
	switch {
	case f.AudioFormat == wavFormatPCM && f.BitsPerSample == 8:
		sample = func(b []byte) float64 { return (float64(b[0]) - 128) / 128 }
	case f.AudioFormat == wavFormatPCM && f.BitsPerSample == 16:
		sample = func(b []byte) float64 { return float64(int16(binary.LittleEndian.Uint16(b))) / 32768 }
	case f.AudioFormat == wavFormatPCM && f.BitsPerSample == 24:
		sample = func(b []byte) float64 {
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			return float64(v) / 8388608
		}
	case f.AudioFormat == wavFormatPCM && f.BitsPerSample == 32:
		sample = func(b []byte) float64 { return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648 }
	case f.AudioFormat == wavFormatFloat && f.BitsPerSample == 32:
		sample = func(b []byte) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))) }
	default:
		return PCM{}, fmt.Errorf("unsupported WAV encoding: format %d, %d-bit", f.AudioFormat, f.BitsPerSample)
	}

	width := int(f.BitsPerSample / 8)
	channels := int(f.NumChannels)
	frame := width * channels
	n := len(pcm) / frame
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			off := i*frame + c*width
			sum += sample(pcm[off : off+width])
		}
		out[i] = sum / float64(channels)
	}
	return PCM{Samples: out, SampleRate: int(f.SampleRate)}, nil
}

// EncodeWAV writes mono 16-bit PCM. Samples are clipped to [-1, 1].
func EncodeWAV(samples []float64, sampleRate int) []byte {
	dataSize := uint32(len(samples) * 2)
	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, fmtChunk{
		AudioFormat:   wavFormatPCM,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
	})
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataSize)
	for _, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		_ = binary.Write(buf, binary.LittleEndian, int16(s*32767))
	}
	return buf.Bytes()
}

// FFmpegDecoder converts compressed recordings (mp3, m4a) to mono s16le PCM.
type FFmpegDecoder struct {
	command    string
	sampleRate int
}

func NewFFmpegDecoder(command string, sampleRate int) *FFmpegDecoder {
	if command == "" {
		command = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &FFmpegDecoder{command: command, sampleRate: sampleRate}
}

func (d *FFmpegDecoder) Decode(ctx context.Context, path string) (PCM, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-i", path,
		"-ac", "1",
		"-ar", strconv.Itoa(d.sampleRate),
		"-f", "s16le",
		"-",
	}
	cmd := exec.CommandContext(ctx, d.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return PCM{}, fmt.Errorf("ffmpeg decode %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	raw := stdout.Bytes()
	out := make([]float64, len(raw)/2)
	for i := range out {
		out[i] = float64(int16(binary.LittleEndian.Uint16(raw[2*i:]))) / 32768
	}
	return PCM{Samples: out, SampleRate: d.sampleRate}, nil
}

// Load decodes a validated recording: WAV in-process, everything else via ffmpeg.
func Load(ctx context.Context, path, encoding string, ff *FFmpegDecoder) (PCM, error) {
	if encoding == "wav" {
		data, err := os.ReadFile(path)
		if err != nil {
			return PCM{}, fmt.Errorf("read audio: %w", err)
		}
		return DecodeWAV(data)
	}
	if ff == nil {
		ff = NewFFmpegDecoder("", 0)
	}
	return ff.Decode(ctx, path)
}
