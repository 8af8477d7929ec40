package pcm

import (
	"encoding/binary"
	"math"
)

// fullScale16 is the int16 full-scale magnitude used for both directions of
// the int16 <-> float32 conversion. Using 32767 (not 32768) in both keeps the
// round trip exact at full scale: 1.0 -> 32767 -> 1.0.
const fullScale16 = 32767

// Float32ToInt16 converts interleaved little-endian float32 samples to
// little-endian int16 bytes, keeping only the first outChannels of each
// sample-frame. Each sample is clamped to [-1.0, 1.0], scaled by 32767, and
// rounded to the nearest integer with ties away from zero (0.5 -> 16384).
// The output is exactly frameCount*outChannels*2 bytes.
//
// src must hold at least frameCount*srcChannels float32 samples; shorter
// input is a caller bug, not a runtime condition.
func Float32ToInt16(src []byte, srcChannels, outChannels, frameCount int) []byte {
	out := make([]byte, frameCount*outChannels*2)
	for f := range frameCount {
		for ch := range outChannels {
			bits := binary.LittleEndian.Uint32(src[(f*srcChannels+ch)*4:])
			v := float64(math.Float32frombits(bits))
			if v > 1.0 {
				v = 1.0
			} else if v < -1.0 {
				v = -1.0
			}
			// math.Round ties away from zero, matching the capture
			// contract (0.5*32767 = 16383.5 -> 16384).
			s := int16(math.Round(v * fullScale16))
			binary.LittleEndian.PutUint16(out[(f*outChannels+ch)*2:], uint16(s))
		}
	}
	return out
}

// Float32ToFloat32 re-interleaves little-endian float32 samples keeping only
// the first outChannels of each sample-frame. When srcChannels == outChannels
// the source slice is returned as-is (zero copy); callers must treat the
// result as immutable in that case. Otherwise the output is a fresh slice of
// frameCount*outChannels*4 bytes.
func Float32ToFloat32(src []byte, srcChannels, outChannels, frameCount int) []byte {
	if srcChannels == outChannels {
		return src
	}
	out := make([]byte, frameCount*outChannels*4)
	for f := range frameCount {
		copy(out[f*outChannels*4:(f+1)*outChannels*4], src[f*srcChannels*4:])
	}
	return out
}

// Int16ToInt16 re-interleaves little-endian int16 samples keeping only the
// first outChannels of each sample-frame. When srcChannels == outChannels the
// source slice is returned as-is (zero copy).
func Int16ToInt16(src []byte, srcChannels, outChannels, frameCount int) []byte {
	if srcChannels == outChannels {
		return src
	}
	out := make([]byte, frameCount*outChannels*2)
	for f := range frameCount {
		copy(out[f*outChannels*2:(f+1)*outChannels*2], src[f*srcChannels*2:])
	}
	return out
}

// Int16ToFloat32 converts interleaved little-endian int16 samples to
// little-endian float32 bytes scaled by 1/32767, keeping only the first
// outChannels of each sample-frame. The output is exactly
// frameCount*outChannels*4 bytes. The same leading-channel rule and byte
// order as the float-sourced converters apply, so downstream decoders need
// not care which converter produced a payload.
func Int16ToFloat32(src []byte, srcChannels, outChannels, frameCount int) []byte {
	out := make([]byte, frameCount*outChannels*4)
	for f := range frameCount {
		for ch := range outChannels {
			s := int16(binary.LittleEndian.Uint16(src[(f*srcChannels+ch)*2:]))
			v := float32(s) / fullScale16
			binary.LittleEndian.PutUint32(out[(f*outChannels+ch)*4:], math.Float32bits(v))
		}
	}
	return out
}
