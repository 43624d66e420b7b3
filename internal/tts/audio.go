package tts

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// bitDepth is the PCM depth used for both decode validation and encode.
const bitDepth = 16

// clip is decoded mono PCM audio.
type clip struct {
	samples []float32
	rate    int
}

// decodeWAV decodes WAV bytes into float32 PCM. Mono 16-bit input is
// required; the sample rate is taken from the file.
func decodeWAV(data []byte) (clip, error) {
	if len(data) == 0 {
		return clip{}, errors.New("empty WAV input")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return clip{}, errors.New("invalid WAV file")
	}
	if dec.NumChans != 1 {
		return clip{}, fmt.Errorf("unexpected channel count %d, want mono", dec.NumChans)
	}
	if dec.BitDepth != bitDepth {
		return clip{}, fmt.Errorf("unexpected bit depth %d, want %d", dec.BitDepth, bitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return clip{}, fmt.Errorf("reading PCM data: %w", err)
	}

	return clip{samples: buf.Data, rate: int(dec.SampleRate)}, nil
}

// encodeWAV encodes mono float32 PCM as 16-bit WAV bytes.
func encodeWAV(c clip) ([]byte, error) {
	var buf bytes.Buffer
	sw := &seekBuffer{buf: &buf}

	enc := wav.NewEncoder(sw, c.rate, bitDepth, 1, 1) // 1 = PCM

	pcmBuf := &goaudio.Float32Buffer{
		Data:           c.samples,
		Format:         &goaudio.Format{SampleRate: c.rate, NumChannels: 1},
		SourceBitDepth: bitDepth,
	}

	if err := enc.Write(pcmBuf); err != nil {
		return nil, fmt.Errorf("writing PCM: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing encoder: %w", err)
	}

	return buf.Bytes(), nil
}

// appendWithCrossfade joins b onto a, overlapping crossfadeMS
// milliseconds with a linear fade to hide the segment seam.
func appendWithCrossfade(a, b clip, crossfadeMS int) (clip, error) {
	if a.rate != b.rate {
		return clip{}, fmt.Errorf("sample rate mismatch: %d vs %d", a.rate, b.rate)
	}

	overlap := a.rate * crossfadeMS / 1000
	if overlap > len(a.samples) {
		overlap = len(a.samples)
	}
	if overlap > len(b.samples) {
		overlap = len(b.samples)
	}

	out := make([]float32, 0, len(a.samples)+len(b.samples)-overlap)
	out = append(out, a.samples[:len(a.samples)-overlap]...)

	tail := a.samples[len(a.samples)-overlap:]
	for i := 0; i < overlap; i++ {
		t := float32(i+1) / float32(overlap+1)
		out = append(out, tail[i]*(1-t)+b.samples[i]*t)
	}

	out = append(out, b.samples[overlap:]...)
	return clip{samples: out, rate: a.rate}, nil
}

// seekBuffer wraps a bytes.Buffer to satisfy io.WriteSeeker for the WAV
// encoder, which seeks back to patch the header on Close.
type seekBuffer struct {
	buf *bytes.Buffer
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if s.pos == s.buf.Len() {
		n, err := s.buf.Write(p)
		s.pos += n
		return n, err
	}
	data := s.buf.Bytes()
	n := copy(data[s.pos:], p)
	if n < len(p) {
		data = append(data, p[n:]...)
		s.buf.Reset()
		s.buf.Write(data)
		n = len(p)
	}
	s.pos += n
	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int
	switch whence {
	case 0: // io.SeekStart
		newPos = int(offset)
	case 1: // io.SeekCurrent
		newPos = s.pos + int(offset)
	case 2: // io.SeekEnd
		newPos = s.buf.Len() + int(offset)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("seek before start")
	}
	s.pos = newPos
	return int64(newPos), nil
}
