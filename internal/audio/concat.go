package audio

import (
	"errors"
	"fmt"
)

// MismatchPolicy decides what happens to a chunk whose format differs from the anchor
type MismatchPolicy string

const (
	MismatchReject   MismatchPolicy = "reject"
	MismatchSkip     MismatchPolicy = "skip"
	MismatchResample MismatchPolicy = "resample"
)

// ParseMismatchPolicy maps a configuration value to a MismatchPolicy
func ParseMismatchPolicy(s string) (MismatchPolicy, error) {
	switch p := MismatchPolicy(s); p {
	case MismatchReject, MismatchSkip, MismatchResample:
		return p, nil
	case "":
		return MismatchReject, nil
	default:
		return "", fmt.Errorf("unknown mismatch policy %q", s)
	}
}

// Skip reasons reported in Joined.Skipped
const (
	SkipDecode   = "decode"
	SkipMismatch = "format_mismatch"
)

// Chunk is one synthesized payload tagged with its sentence index
type Chunk struct {
	Index int
	Data  []byte
}

// Skipped describes a chunk left out of the joined audio
type Skipped struct {
	Index  int
	Reason string
	Err    error
}

// Joined is the result of concatenating chunks
type Joined struct {
	Format    Format
	Frames    []byte
	Chunks    int // Chunks whose frames made it into the output
	Resampled int
	Skipped   []Skipped
}

// Concatenate decodes each chunk in order and joins their frames under the
// format of the first chunk (the anchor). The anchor must decode; later chunks
// that do not decode are skipped. Frames are appended as-is with no gap or
// crossfade.
func Concatenate(chunks []Chunk, policy MismatchPolicy) (*Joined, error) {
	if len(chunks) == 0 {
		return nil, &DecodeError{Index: -1, Err: errors.New("no audio chunks")}
	}

	anchor := chunks[0]
	format, frames, err := Decode(anchor.Data)
	if err != nil {
		return nil, withIndex(err, anchor.Index)
	}

	joined := &Joined{Format: format, Chunks: 1}
	out := make([]byte, 0, estimateSize(chunks))
	out = append(out, frames...)

	for _, c := range chunks[1:] {
		f, fr, err := Decode(c.Data)
		if err != nil {
			joined.Skipped = append(joined.Skipped, Skipped{Index: c.Index, Reason: SkipDecode, Err: withIndex(err, c.Index)})
			continue
		}

		if f != format {
			mismatch := fmt.Errorf("%w: chunk %d has %s, anchor has %s", ErrFormatMismatch, c.Index, f, format)
			switch policy {
			case MismatchSkip:
				joined.Skipped = append(joined.Skipped, Skipped{Index: c.Index, Reason: SkipMismatch, Err: mismatch})
				continue
			case MismatchResample:
				if !resamplable(f, format) {
					joined.Skipped = append(joined.Skipped, Skipped{Index: c.Index, Reason: SkipMismatch, Err: mismatch})
					continue
				}
				fr, err = ResamplePCM16(fr, f.NumChannels, f.SampleRate, format.SampleRate)
				if err != nil {
					joined.Skipped = append(joined.Skipped, Skipped{Index: c.Index, Reason: SkipMismatch, Err: fmt.Errorf("%w: %v", mismatch, err)})
					continue
				}
				joined.Resampled++
			default:
				return nil, mismatch
			}
		}

		out = append(out, fr...)
		joined.Chunks++
	}

	joined.Frames = out
	return joined, nil
}

// resamplable reports whether only the sample rate separates two 16-bit PCM formats
func resamplable(from, to Format) bool {
	return from.AudioFormat == FormatPCM && to.AudioFormat == FormatPCM &&
		from.BitDepth == 16 && to.BitDepth == 16 &&
		from.NumChannels == to.NumChannels
}

func withIndex(err error, index int) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return &DecodeError{Index: index, Err: de.Err}
	}
	return &DecodeError{Index: index, Err: err}
}

func estimateSize(chunks []Chunk) int {
	n := 0
	for _, c := range chunks {
		n += len(c.Data)
	}
	return n
}
