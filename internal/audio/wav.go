package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ContentType is the media type of every encoded container
const ContentType = "audio/wav"

// WAVE format tags
const (
	FormatPCM        = 1
	FormatIEEEFloat  = 3
	formatExtensible = 0xFFFE
)

var (
	// ErrDecode marks bytes that are not a well-formed WAV container
	ErrDecode = errors.New("malformed wav container")

	// ErrEncode marks format parameters or frame data that cannot be encoded
	ErrEncode = errors.New("wav encode failed")

	// ErrFormatMismatch marks a chunk whose format differs from the anchor chunk
	ErrFormatMismatch = errors.New("audio format mismatch")
)

// DecodeError reports which chunk failed to decode and why
type DecodeError struct {
	Index int // Sentence index of the chunk, -1 when unknown
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%v: %v", ErrDecode, e.Err)
	}
	return fmt.Sprintf("chunk %d: %v: %v", e.Index, ErrDecode, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDecode) hold for every DecodeError
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// Format holds the parameters stored in a WAV fmt chunk
type Format struct {
	AudioFormat int // WAVE format tag (1 = integer PCM, 3 = IEEE float)
	NumChannels int
	SampleRate  int
	BitDepth    int
}

// BlockAlign returns the size in bytes of one frame (one sample per channel)
func (f Format) BlockAlign() int {
	return f.NumChannels * f.BitDepth / 8
}

// Duration returns the playback time of n bytes of frame data
func (f Format) Duration(n int) time.Duration {
	bytesPerSecond := f.SampleRate * f.BlockAlign()
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bytesPerSecond))
}

func (f Format) String() string {
	return fmt.Sprintf("format=%d channels=%d rate=%dHz bits=%d", f.AudioFormat, f.NumChannels, f.SampleRate, f.BitDepth)
}

func (f Format) validate() error {
	if f.NumChannels < 1 {
		return fmt.Errorf("invalid channel count %d", f.NumChannels)
	}
	if f.SampleRate < 1 {
		return fmt.Errorf("invalid sample rate %d", f.SampleRate)
	}
	switch f.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("unsupported bit depth %d", f.BitDepth)
	}
	return nil
}

// Decode parses a WAV container into its format parameters and raw frame bytes.
// A data chunk that declares more bytes than present, or zero bytes (common for
// streamed synthesis output), is read to the end of the input and cut to a
// whole number of frames. The returned frames alias data.
func Decode(data []byte) (Format, []byte, error) {
	if len(data) < 12 {
		return Format{}, nil, &DecodeError{Index: -1, Err: fmt.Errorf("container too short (%d bytes)", len(data))}
	}

	r := bytes.NewReader(data)
	d := wav.NewDecoder(r)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return Format{}, nil, &DecodeError{Index: -1, Err: err}
	}
	if d.NumChans == 0 {
		return Format{}, nil, &DecodeError{Index: -1, Err: errors.New("missing fmt chunk")}
	}

	f := Format{
		AudioFormat: int(d.WavAudioFormat),
		NumChannels: int(d.NumChans),
		SampleRate:  int(d.SampleRate),
		BitDepth:    int(d.BitDepth),
	}
	if f.AudioFormat == formatExtensible {
		sub, err := extensibleSubformat(data)
		if err != nil {
			return Format{}, nil, &DecodeError{Index: -1, Err: err}
		}
		f.AudioFormat = sub
	}
	if err := f.validate(); err != nil {
		return Format{}, nil, &DecodeError{Index: -1, Err: err}
	}

	if err := d.FwdToPCM(); err != nil || d.PCMChunk == nil {
		if err == nil {
			err = errors.New("missing data chunk")
		}
		return Format{}, nil, &DecodeError{Index: -1, Err: err}
	}

	// The decoder pads odd sizes and wraps 0xFFFFFFFF, so take the declared
	// size from the chunk header itself.
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil || start < 8 {
		return Format{}, nil, &DecodeError{Index: -1, Err: errors.New("cannot locate data chunk")}
	}
	declared := int64(binary.LittleEndian.Uint32(data[start-4 : start]))
	available := int64(len(data)) - start
	if declared == 0 || declared > available {
		// Streamed containers are written before their length is known
		declared = available
	}
	frames := data[start : start+declared]
	frames = frames[:len(frames)-len(frames)%f.BlockAlign()]

	return f, frames, nil
}

// extensibleSubformat returns the format tag held in the first two bytes of
// the subformat GUID of a WAVE_FORMAT_EXTENSIBLE fmt chunk.
func extensibleSubformat(data []byte) (int, error) {
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := data[off+8:]
		if id == "fmt " {
			if size < 40 || len(body) < 40 {
				return 0, fmt.Errorf("extensible fmt chunk too short (%d bytes)", size)
			}
			switch tag := int(binary.LittleEndian.Uint16(body[24:26])); tag {
			case FormatPCM, FormatIEEEFloat:
				return tag, nil
			default:
				return 0, fmt.Errorf("unsupported extensible subformat 0x%04x", tag)
			}
		}
		if size > len(body) {
			break
		}
		off += 8 + size + size%2
	}
	return 0, errors.New("missing fmt chunk")
}

// Encode wraps raw frame bytes in a single WAV container
func Encode(f Format, frames []byte) ([]byte, error) {
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if len(frames)%f.BlockAlign() != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-byte frames", ErrEncode, len(frames), f.BlockAlign())
	}

	audioFormat := f.AudioFormat
	if audioFormat == 0 {
		audioFormat = FormatPCM
	}

	out := &memFile{}
	enc := wav.NewEncoder(out, f.SampleRate, f.BitDepth, f.NumChannels, audioFormat)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.NumChannels, SampleRate: f.SampleRate},
		Data:           framesToInts(frames, f.BitDepth),
		SourceBitDepth: f.BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	return out.Bytes(), nil
}

// framesToInts widens little-endian samples the way the wav encoder expects them.
// 8-bit samples stay unsigned.
func framesToInts(frames []byte, bitDepth int) []int {
	width := bitDepth / 8
	out := make([]int, len(frames)/width)
	for i := range out {
		b := frames[i*width : (i+1)*width]
		switch bitDepth {
		case 8:
			out[i] = int(b[0])
		case 16:
			out[i] = int(int16(binary.LittleEndian.Uint16(b)))
		case 24:
			out[i] = int(goaudio.Int24LETo32(b))
		case 32:
			out[i] = int(int32(binary.LittleEndian.Uint32(b)))
		}
	}
	return out
}

// memFile is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes on Close.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("negative position %d", abs)
	}
	m.pos = int(abs)
	return abs, nil
}

func (m *memFile) Bytes() []byte {
	return m.buf
}
