package app

import (
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/theme"
)

// Palette used by the main window.
var (
	ColorHeader     = color.NRGBA{R: 0x2C, G: 0x3E, B: 0x50, A: 0xFF} // Titles
	ColorCamera     = color.NRGBA{R: 0x34, G: 0x98, B: 0xDB, A: 0xFF}
	ColorImage      = color.NRGBA{R: 0x2E, G: 0xCC, B: 0x71, A: 0xFF}
	ColorExport     = color.NRGBA{R: 0xE7, G: 0x4C, B: 0x3C, A: 0xFF}
	ColorStop       = color.NRGBA{R: 0xE6, G: 0x7E, B: 0x22, A: 0xFF}
	ColorExit       = color.NRGBA{R: 0x95, G: 0xA5, B: 0xA6, A: 0xFF}
	ColorBackground = color.NRGBA{R: 0xF0, G: 0xF0, B: 0xF0, A: 0xFF}
	ColorValue      = color.NRGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xFF} // Result values
)

// PlateTheme provides the application's look.
type PlateTheme struct{}

var _ fyne.Theme = (*PlateTheme)(nil)

func (t *PlateTheme) Color(name fyne.ThemeColorName, variant fyne.ThemeVariant) color.Color {
	switch name {
	case theme.ColorNamePrimary:
		return ColorCamera
	case theme.ColorNameBackground:
		if variant == theme.VariantLight {
			return ColorBackground
		}
		return theme.DefaultTheme().Color(name, variant)
	case theme.ColorNameScrollBar:
		return color.NRGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xFF}
	default:
		return theme.DefaultTheme().Color(name, variant)
	}
}

func (t *PlateTheme) Font(style fyne.TextStyle) fyne.Resource {
	return theme.DefaultTheme().Font(style)
}

func (t *PlateTheme) Icon(name fyne.ThemeIconName) fyne.Resource {
	return theme.DefaultTheme().Icon(name)
}

func (t *PlateTheme) Size(name fyne.ThemeSizeName) float32 {
	switch name {
	case theme.SizeNameHeadingText:
		return 22
	case theme.SizeNameSubHeadingText:
		return 16
	default:
		return theme.DefaultTheme().Size(name)
	}
}
