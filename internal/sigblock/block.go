package sigblock

import (
	"encoding/json"
	"fmt"
	"strings"

	"leadsign.org/internal/ids"
)

// Default geometry for a freshly placed block, in page pixels.
const (
	DefaultWidth  = 200
	DefaultHeight = 80

	// Minimum size enforced during interactive resize. Stored blocks are
	// not re-validated against these on load.
	MinWidth  = 100
	MinHeight = 50

	// DefaultLabel is used when a stored block carries no label.
	DefaultLabel = "Client signature"
)

// Block is a positioned, sized region on a document page designated to
// receive one signature. X and Y are ambiguous between two historical
// coordinate conventions; resolve them through the layout package before
// rendering.
type Block struct {
	ID     string `json:"id"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Label  string `json:"label"`
}

// New creates a block with default geometry at the given position.
func New(x, y int) Block {
	return NewSized(x, y, DefaultWidth, DefaultHeight)
}

// NewSized creates a block with explicit geometry. The id keeps the opaque
// "sig_" string contract of historically client-generated ids while using a
// collision-safe generator server-side.
func NewSized(x, y, width, height int) Block {
	return Block{
		ID:     fmt.Sprintf("sig_%s", strings.ToLower(ids.New())),
		X:      x,
		Y:      y,
		Width:  width,
		Height: height,
		Label:  DefaultLabel,
	}
}

// wireBlock is the persisted JSON shape. The type field is write-only filler
// kept for older readers; it is ignored on read. Geometry fields are decoded
// loosely so wrong-typed entries can be detected and dropped.
type wireBlock struct {
	ID     any    `json:"id"`
	X      any    `json:"x"`
	Y      any    `json:"y"`
	Width  any    `json:"width"`
	Height any    `json:"height"`
	Label  string `json:"label,omitempty"`
	Type   string `json:"type,omitempty"`
}

// Serialize encodes blocks as the persisted JSON list, injecting the legacy
// type discriminator each consumer of the old format still expects.
func Serialize(blocks []Block) string {
	out := make([]wireBlock, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, wireBlock{
			ID:     b.ID,
			X:      b.X,
			Y:      b.Y,
			Width:  b.Width,
			Height: b.Height,
			Label:  b.Label,
			Type:   "client",
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		// wireBlock contains only marshalable values
		return "[]"
	}
	return string(data)
}

// Deserialize decodes a persisted block list. It is total: blank or invalid
// input yields an empty list, and malformed entries are dropped rather than
// failing the whole document load. Callers must not assume round-trip count
// preservation for historical data.
func Deserialize(raw string) []Block {
	if strings.TrimSpace(raw) == "" {
		return []Block{}
	}
	var parsed []wireBlock
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return []Block{}
	}
	blocks := make([]Block, 0, len(parsed))
	for _, w := range parsed {
		id, ok := w.ID.(string)
		if !ok || id == "" {
			continue
		}
		x, ok := asInt(w.X)
		if !ok {
			continue
		}
		y, ok := asInt(w.Y)
		if !ok {
			continue
		}
		width, ok := asInt(w.Width)
		if !ok {
			continue
		}
		height, ok := asInt(w.Height)
		if !ok {
			continue
		}
		label := w.Label
		if label == "" {
			label = DefaultLabel
		}
		blocks = append(blocks, Block{
			ID:     id,
			X:      x,
			Y:      y,
			Width:  width,
			Height: height,
			Label:  label,
		})
	}
	return blocks
}

// Valid reports whether a block is structurally sound.
func (b Block) Valid() bool {
	return b.ID != "" && b.Width > 0 && b.Height > 0
}

// Find returns the block with the given id.
func Find(blocks []Block, id string) (Block, bool) {
	for _, b := range blocks {
		if b.ID == id {
			return b, true
		}
	}
	return Block{}, false
}

func asInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}
