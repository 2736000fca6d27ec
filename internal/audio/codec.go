/*
 * This file is part of PreScreen (https://github.com/prescreenlabs/prescreen).
 * Copyright (C) 2026 PreScreen Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package audio implements the wire-format conversions for the telephony
// pipeline: G.711 μ-law companding and deterministic sample-rate conversion.
// Everything on the wire is 8 kHz mono μ-law; transports with a different
// native format convert at the edge so the rest of the pipeline never sees
// anything else.
package audio

import "encoding/binary"

// TelephonyRate is the sample rate of audio on the wire.
const TelephonyRate = 8000

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// EncodeMuLaw compands one 16-bit linear PCM sample to 8-bit μ-law.
func EncodeMuLaw(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)

	return ^(sign | exponent<<4 | mantissa)
}

// DecodeMuLaw expands one 8-bit μ-law sample to 16-bit linear PCM.
func DecodeMuLaw(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	s := (int32(mantissa)<<3 + muLawBias) << exponent
	s -= muLawBias
	if sign != 0 {
		s = -s
	}
	return int16(s)
}

// EncodeMuLawPCM16 compands a 16-bit little-endian PCM buffer to μ-law bytes.
// A trailing odd byte is dropped.
func EncodeMuLawPCM16(pcm []byte) []byte {
	out := make([]byte, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		out = append(out, EncodeMuLaw(sample))
	}
	return out
}

// DecodeMuLawPCM16 expands μ-law bytes to a 16-bit little-endian PCM buffer.
func DecodeMuLawPCM16(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, b := range ulaw {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(DecodeMuLaw(b)))
	}
	return out
}

// Downsample reduces the sample rate of 16-bit little-endian PCM by block
// averaging. srcRate must be an integer multiple of dstRate; averaging keeps
// the conversion deterministic so round-trip tests are reproducible.
func Downsample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 || srcRate%dstRate != 0 {
		return pcm
	}
	factor := srcRate / dstRate
	samples := len(pcm) / 2
	outSamples := samples / factor
	out := make([]byte, outSamples*2)
	for i := 0; i < outSamples; i++ {
		var sum int32
		for j := 0; j < factor; j++ {
			idx := (i*factor + j) * 2
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[idx : idx+2])))
		}
		avg := int16(sum / int32(factor))
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(avg))
	}
	return out
}

// Upsample raises the sample rate of 16-bit little-endian PCM by linear
// interpolation between adjacent source samples. dstRate must be an integer
// multiple of srcRate.
func Upsample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 || dstRate%srcRate != 0 {
		return pcm
	}
	factor := dstRate / srcRate
	samples := len(pcm) / 2
	if samples == 0 {
		return nil
	}
	out := make([]byte, samples*factor*2)
	for i := 0; i < samples; i++ {
		cur := int32(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		next := cur
		if i+1 < samples {
			next = int32(int16(binary.LittleEndian.Uint16(pcm[(i+1)*2 : (i+1)*2+2])))
		}
		for j := 0; j < factor; j++ {
			v := cur + (next-cur)*int32(j)/int32(factor)
			idx := (i*factor + j) * 2
			binary.LittleEndian.PutUint16(out[idx:idx+2], uint16(int16(v)))
		}
	}
	return out
}
