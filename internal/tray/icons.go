package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

const iconSize = 32

var levelColors = map[Level]color.RGBA{
	LevelUnknown:  {0x9e, 0x9e, 0x9e, 0xff},
	LevelOK:       {0x43, 0xa0, 0x47, 0xff},
	LevelWarn:     {0xfb, 0xc0, 0x2d, 0xff},
	LevelCritical: {0xe5, 0x39, 0x35, 0xff},
}

// IconSet holds one filled circle PNG per level. Build it once at startup.
type IconSet map[Level][]byte

func NewIconSet() IconSet {
	set := make(IconSet, len(levelColors))
	for lvl, c := range levelColors {
		set[lvl] = circlePNG(c, iconSize)
	}
	return set
}

func circlePNG(c color.RGBA, size int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	r := float64(size)/2 - 1
	center := float64(size) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)+0.5-center, float64(y)+0.5-center
			if dx*dx+dy*dy <= r*r {
				img.SetRGBA(x, y, c)
			}
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
