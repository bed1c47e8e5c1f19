package alert

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidTone is returned for files that are not readable PCM WAV
var ErrInvalidTone = errors.New("invalid tone file")

const (
	toneSampleRate = 44100
	toneBitDepth   = 16
	toneAmplitude  = 0.6
	toneFade       = 10 * time.Millisecond
)

// ToneInfo describes a WAV file
type ToneInfo struct {
	Path       string        `json:"path"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	BitDepth   int           `json:"bit_depth"`
	Duration   time.Duration `json:"duration"`
}

// EnsureTone validates the WAV at path, synthesizing a sine beep of freqHz
// lasting dur when the file does not exist.
func EnsureTone(path string, freqHz float64, dur time.Duration) (ToneInfo, error) {
	if _, err := os.Stat(path); err == nil {
		return Inspect(path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return ToneInfo{}, err
	}

	if err := WriteBeep(path, freqHz, dur); err != nil {
		return ToneInfo{}, err
	}
	return Inspect(path)
}

// Inspect reads the WAV header of path
func Inspect(path string) (ToneInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return ToneInfo{}, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return ToneInfo{}, fmt.Errorf("%w: %s", ErrInvalidTone, path)
	}

	length, err := d.Duration()
	if err != nil {
		return ToneInfo{}, fmt.Errorf("%w: %s: %v", ErrInvalidTone, path, err)
	}

	return ToneInfo{
		Path:       path,
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
		Duration:   length,
	}, nil
}

// WriteBeep writes a mono 16-bit sine tone with short fades at both ends
func WriteBeep(path string, freqHz float64, dur time.Duration) error {
	if freqHz <= 0 || dur <= 0 {
		return fmt.Errorf("%w: beep needs positive frequency and duration", ErrInvalidTone)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	n := int(dur.Seconds() * toneSampleRate)
	fade := int(toneFade.Seconds() * toneSampleRate)
	peak := toneAmplitude * float64(int(1)<<(toneBitDepth-1)-1)

	data := make([]int, n)
	for i := range data {
		gain := 1.0
		if i < fade {
			gain = float64(i) / float64(fade)
		} else if n-i < fade {
			gain = float64(n-i) / float64(fade)
		}
		data[i] = int(peak * gain * math.Sin(2*math.Pi*freqHz*float64(i)/toneSampleRate))
	}

	enc := wav.NewEncoder(f, toneSampleRate, toneBitDepth, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: toneSampleRate},
		Data:           data,
		SourceBitDepth: toneBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return f.Close()
}
