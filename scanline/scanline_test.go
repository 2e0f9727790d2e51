// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package scanline

import (
	"bytes"
	"testing"
)

func TestDump(t *testing.T) {
	pix := make([]byte, 18)
	for i := range pix {
		pix[i] = byte(i * 15)
	}
	b := bytes.Buffer{}
	if err := Dump(&b, pix); err != nil {
		t.Fatal(err)
	}
	want := "0000: 00 0F 1E 2D 3C 4B 5A 69 78 87 96 A5 B4 C3 D2 E1\n" +
		"0010: F0 FF\n"
	if s := b.String(); s != want {
		t.Fatalf("%q", s)
	}
}

func TestDump_empty(t *testing.T) {
	b := bytes.Buffer{}
	if err := Dump(&b, nil); err != nil || b.Len() != 0 {
		t.Fatal(b.String(), err)
	}
}

func TestMinMax(t *testing.T) {
	if m := Min(nil); m != 255 {
		t.Fatal(m)
	}
	if m := Max(nil); m != 0 {
		t.Fatal(m)
	}
	pix := []byte{40, 3, 200, 17}
	if Min(pix) != 3 || Max(pix) != 200 {
		t.Fatal(Min(pix), Max(pix))
	}
}

func TestGray(t *testing.T) {
	img := Gray([]byte{1, 2, 3}, []byte{4})
	if b := img.Bounds(); b.Dx() != 3 || b.Dy() != 2 {
		t.Fatal(b)
	}
	if img.GrayAt(2, 0).Y != 3 || img.GrayAt(0, 1).Y != 4 || img.GrayAt(1, 1).Y != 0 {
		t.Fatal(img.Pix)
	}
}

func TestStretch(t *testing.T) {
	img := Stretch(Gray([]byte{10, 20, 30}))
	if !bytes.Equal(img.Pix, []byte{0, 127, 255}) {
		t.Fatal(img.Pix)
	}
	flat := Stretch(Gray([]byte{9, 9}))
	if !bytes.Equal(flat.Pix, []byte{9, 9}) {
		t.Fatal(flat.Pix)
	}
}
