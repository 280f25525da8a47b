package models

// EmbeddedObject describes an embedded picture or OLE attachment that was
// extracted from a sheet and handed to the attachment sink.
type EmbeddedObject struct {
	// SheetIndex is the zero-based position of the owning sheet.
	SheetIndex int `json:"sheetIndex"`
	// Sheet is the owning sheet's name.
	Sheet string `json:"sheet"`
	// Cell is the anchor's top-left cell, e.g. "C4".
	Cell string `json:"cell"`
	// Kind is "picture" or "ole".
	Kind string `json:"kind"`
	// Strategy names the payload strategy that produced the bytes.
	Strategy string `json:"strategy"`
	// Extension is the sniffed file extension including the dot.
	Extension string `json:"extension"`
	// Size is the payload length in bytes.
	Size int64 `json:"size"`
	// Key is the storage key the payload was written under.
	Key string `json:"key"`
	// Reference is what the sink returned for Key, usually a URL.
	Reference string `json:"reference"`
}
