// Package transcode turns downloaded media files into mono signals ready
// for analysis. Decoding goes through FFmpeg so any container or codec
// the resolver hands back is handled; WAV files already at the target
// sample rate take a direct path that avoids the subprocess.
package transcode

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"chromascope/analysis"
	"chromascope/dsp"
	"chromascope/logging"
)

// Config holds decoder settings.
type Config struct {
	TargetSampleRate int           `json:"target_sample_rate"`
	FFmpegPath       string        `json:"ffmpeg_path"`
	FFprobePath      string        `json:"ffprobe_path"`
	Timeout          time.Duration `json:"timeout"`
}

// DefaultConfig returns decoder defaults matching the analysis defaults.
func DefaultConfig() *Config {
	return &Config{
		TargetSampleRate: 22050,
		FFmpegPath:       "ffmpeg",
		FFprobePath:      "ffprobe",
		Timeout:          2 * time.Minute,
	}
}

// StreamInfo holds the properties ffprobe detected for a file.
type StreamInfo struct {
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Codec      string  `json:"codec"`
	Duration   float64 `json:"duration"`
}

// Decoder converts media files into analysis signals.
type Decoder struct {
	cfg    *Config
	logger logging.Logger
}

// NewDecoder creates a decoder. A nil config uses DefaultConfig; a nil
// logger falls back to the global logger.
func NewDecoder(cfg *Config, logger logging.Logger) *Decoder {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Decoder{
		cfg:    cfg,
		logger: logger.WithFields(logging.Fields{"component": "decoder"}),
	}
}

// DecodeFile decodes filename into a mono signal at the target sample
// rate. Any DC offset the source carries is removed before the signal is
// handed to analysis.
func (d *Decoder) DecodeFile(ctx context.Context, filename string) (*analysis.Signal, error) {
	started := time.Now()

	var sig *analysis.Signal
	var err error
	if strings.EqualFold(filepath.Ext(filename), ".wav") {
		sig, err = d.decodeWAV(filename)
		if err != nil {
			d.logger.Debug("wav fast path unavailable, using ffmpeg", logging.Fields{
				"file":   filepath.Base(filename),
				"reason": err.Error(),
			})
			sig, err = d.decodeWithFFmpeg(ctx, filename)
		}
	} else {
		sig, err = d.decodeWithFFmpeg(ctx, filename)
	}
	if err != nil {
		return nil, err
	}

	sig.Samples = dsp.NewDCBlocker().ProcessBuffer(sig.Samples)

	d.logger.Debug("decode complete", logging.Fields{
		"file":         filepath.Base(filename),
		"duration_sec": sig.Duration(),
		"samples":      len(sig.Samples),
		"elapsed_ms":   time.Since(started).Milliseconds(),
	})
	return sig, nil
}

// Probe returns stream properties for filename via ffprobe.
func (d *Decoder) Probe(ctx context.Context, filename string) (*StreamInfo, error) {
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "a:0",
		filename,
	}
	cmd := exec.CommandContext(ctx, d.cfg.FFprobePath, args...)

	output, err := cmd.Output()
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, string(exitError.Stderr))
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbeOutput(output)
}

// decodeWithFFmpeg shells out to ffmpeg for a mono f64le stream at the
// target rate and reads it from stdout.
func (d *Decoder) decodeWithFFmpeg(ctx context.Context, filename string) (*analysis.Signal, error) {
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	args := []string{
		"-v", "error",
		"-i", filename,
		"-map", "0:a:0?",
		"-vn",
		"-f", "f64le",
		"-ac", "1",
		"-ar", strconv.Itoa(d.cfg.TargetSampleRate),
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, d.cfg.FFmpegPath, args...)

	d.logger.Debug("running ffmpeg", logging.Fields{
		"args": strings.Join(args, " "),
	})

	output, err := cmd.Output()
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("ffmpeg decode failed: %w, stderr: %s", err, string(exitError.Stderr))
		}
		return nil, fmt.Errorf("ffmpeg decode failed: %w", err)
	}

	samples := bytesToFloat64(output)
	if len(samples) == 0 {
		return nil, fmt.Errorf("no audio samples decoded from %s", filepath.Base(filename))
	}
	return analysis.NewSignal(samples, d.cfg.TargetSampleRate)
}

// decodeWAV reads a WAV file directly. Files at another sample rate are
// rejected so the caller falls back to ffmpeg for resampling.
func (d *Decoder) decodeWAV(filename string) (*analysis.Signal, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open wav file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read wav data: %w", err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("wav file carries no samples")
	}
	if buf.Format.SampleRate != d.cfg.TargetSampleRate {
		return nil, fmt.Errorf("wav sample rate %d needs resampling to %d",
			buf.Format.SampleRate, d.cfg.TargetSampleRate)
	}

	return analysis.NewSignal(monoFloat(buf), d.cfg.TargetSampleRate)
}

// monoFloat downmixes an integer PCM buffer to mono float64 in [-1, 1].
func monoFloat(buf *audio.IntBuffer) []float64 {
	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float64(int(1) << (bitDepth - 1))

	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		samples[i] = sum / float64(channels) / scale
	}
	return samples
}

// bytesToFloat64 reinterprets little-endian f64 output from ffmpeg.
func bytesToFloat64(data []byte) []float64 {
	if len(data)%8 != 0 {
		data = data[:len(data)-(len(data)%8)]
	}
	if len(data) == 0 {
		return nil
	}

	samples := make([]float64, len(data)/8)
	for i := range samples {
		bits := binary.LittleEndian.Uint64(data[i*8 : i*8+8])
		samples[i] = math.Float64frombits(bits)
	}
	return samples
}

func parseProbeOutput(jsonData []byte) (*StreamInfo, error) {
	var probe struct {
		Streams []struct {
			CodecType  string `json:"codec_type"`
			CodecName  string `json:"codec_name"`
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
			Duration   string `json:"duration"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(jsonData, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(probe.Streams) == 0 {
		return nil, fmt.Errorf("no audio streams found")
	}

	stream := probe.Streams[0]
	if stream.CodecType != "audio" {
		return nil, fmt.Errorf("stream is not audio type: %s", stream.CodecType)
	}

	sampleRate, err := strconv.Atoi(stream.SampleRate)
	if err != nil {
		sampleRate = 0
	}
	duration, err := strconv.ParseFloat(stream.Duration, 64)
	if err != nil {
		duration = 0
	}

	return &StreamInfo{
		SampleRate: sampleRate,
		Channels:   stream.Channels,
		Codec:      stream.CodecName,
		Duration:   duration,
	}, nil
}
