package calendar

import "strings"

// Color is a provider event color tag, normalized to its display name.
type Color string

const (
	ColorNone      Color = ""
	ColorLavender  Color = "Lavender"
	ColorSage      Color = "Sage"
	ColorGrape     Color = "Grape"
	ColorFlamingo  Color = "Flamingo"
	ColorBanana    Color = "Banana"
	ColorTangerine Color = "Tangerine"
	ColorPeacock   Color = "Peacock"
	ColorGraphite  Color = "Graphite"
	ColorBlueberry Color = "Blueberry"
	ColorBasil     Color = "Basil"
	ColorTomato    Color = "Tomato"
)

// colorTable maps the eleven provider event colors to their numeric IDs
// and hex values.
var colorTable = []struct {
	color Color
	id    string
	hex   string
}{
	{ColorLavender, "1", "A4BDFC"},
	{ColorSage, "2", "7AE7BF"},
	{ColorGrape, "3", "DBADFF"},
	{ColorFlamingo, "4", "FF887C"},
	{ColorBanana, "5", "FBD75B"},
	{ColorTangerine, "6", "FFB878"},
	{ColorPeacock, "7", "46D6DB"},
	{ColorGraphite, "8", "E1E1E1"},
	{ColorBlueberry, "9", "5484ED"},
	{ColorBasil, "10", "51B749"},
	{ColorTomato, "11", "DC2127"},
}

// ColorFrom normalizes a color given as a name, numeric ID, or hex value
// (with or without a leading '#'). Unrecognized values map to ColorNone.
func ColorFrom(v string) Color {
	v = strings.TrimPrefix(strings.TrimSpace(v), "#")
	if v == "" {
		return ColorNone
	}
	for _, c := range colorTable {
		if strings.EqualFold(v, string(c.color)) ||
			v == c.id ||
			strings.EqualFold(v, c.hex) {
			return c.color
		}
	}
	return ColorNone
}

// Hex returns the color's hex value without a leading '#', or "" for
// ColorNone.
func (c Color) Hex() string {
	for _, e := range colorTable {
		if e.color == c {
			return e.hex
		}
	}
	return ""
}
