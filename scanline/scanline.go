// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package scanline presents raw captured lines for humans.
package scanline

import (
	"bufio"
	"fmt"
	"image"
	"io"
)

// Dump writes pix as a hex dump, 16 bytes per row prefixed with the offset.
func Dump(w io.Writer, pix []byte) error {
	b := bufio.NewWriter(w)
	for i := 0; i < len(pix); i += 16 {
		end := i + 16
		if end > len(pix) {
			end = len(pix)
		}
		fmt.Fprintf(b, "%04X:", i)
		for _, v := range pix[i:end] {
			fmt.Fprintf(b, " %02X", v)
		}
		b.WriteByte('\n')
	}
	return b.Flush()
}

// Min returns the smallest byte, 255 if pix is empty.
func Min(pix []byte) uint8 {
	out := uint8(0xFF)
	for _, v := range pix {
		if v < out {
			out = v
		}
	}
	return out
}

// Max returns the largest byte, 0 if pix is empty.
func Max(pix []byte) uint8 {
	out := uint8(0)
	for _, v := range pix {
		if v > out {
			out = v
		}
	}
	return out
}

// Gray returns the lines stacked as a grayscale image.
//
// The image is as wide as the longest line. Shorter lines are padded with
// black.
func Gray(lines ...[]byte) *image.Gray {
	w := 0
	for _, l := range lines {
		if len(l) > w {
			w = len(l)
		}
	}
	img := image.NewGray(image.Rect(0, 0, w, len(lines)))
	for y, l := range lines {
		copy(img.Pix[y*img.Stride:], l)
	}
	return img
}

// Stretch expands the dynamic range of src to [0, 255] linearly, without
// gamma.
func Stretch(src *image.Gray) *image.Gray {
	dst := image.NewGray(src.Rect)
	floor := Min(src.Pix)
	delta := int(Max(src.Pix)) - int(floor)
	if delta <= 0 {
		copy(dst.Pix, src.Pix)
		return dst
	}
	for i, v := range src.Pix {
		dst.Pix[i] = uint8(int(v-floor) * 255 / delta)
	}
	return dst
}
