// Package tilecache stores rendered tile bytes. Map configurations never
// change under a token, so entries stay valid until the token is deleted.
package tilecache

import "fmt"

// TileKey identifies one rendered tile.
type TileKey struct {
	Token       string
	Layers      string
	Format      string
	ScaleFactor float64
	Z           int
	X           int
	Y           int
}

// variant names the rendering parameters shared by every tile of a layer
// selection.
func (k TileKey) variant() string {
	return fmt.Sprintf("%s_%s_%g", k.Layers, k.Format, k.ScaleFactor)
}

type Cache interface {
	Get(key TileKey) ([]byte, bool)
	Set(key TileKey, value []byte)
	Has(key TileKey) bool // Check if tile exists without reading it (lightweight check)
	DeleteToken(token string)
	Clear()
}
