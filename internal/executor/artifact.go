package executor

import (
	"encoding/json"
	"fmt"
)

// ArtifactKind tags the variants of Artifact on the wire.
type ArtifactKind string

const (
	KindRaster   ArtifactKind = "raster"
	KindVector   ArtifactKind = "vector"
	KindDocument ArtifactKind = "document"
)

// Artifact is one visual produced by an execution. The set of
// implementations is closed: RasterImage, VectorImage and
// InteractiveDocument.
type Artifact interface {
	Kind() ArtifactKind
	isArtifact()
}

// RasterImage is an inlined bitmap.
type RasterImage struct {
	Data     []byte
	MIMEType string
}

// VectorImage is SVG markup with its width and height removed, plus an
// optional rasterised copy for vision-capable consumers.
type VectorImage struct {
	Markup string
	Raster []byte
}

// InteractiveDocument is an HTML document served by reference. Path is
// the file on disk and never leaves the process.
type InteractiveDocument struct {
	Reference string
	Path      string
}

func (RasterImage) Kind() ArtifactKind         { return KindRaster }
func (VectorImage) Kind() ArtifactKind         { return KindVector }
func (InteractiveDocument) Kind() ArtifactKind { return KindDocument }

func (RasterImage) isArtifact()         {}
func (VectorImage) isArtifact()         {}
func (InteractiveDocument) isArtifact() {}

// Artifacts is an ordered artifact list with a tagged JSON encoding:
//
//	[{"kind":"vector","markup":"<svg ...>","raster":"iVBOR..."},
//	 {"kind":"document","reference":"/artifacts/ab12/widget_x.html"}]
type Artifacts []Artifact

type artifactJSON struct {
	Kind      ArtifactKind `json:"kind"`
	Data      []byte       `json:"data,omitempty"`
	MIMEType  string       `json:"mimeType,omitempty"`
	Markup    string       `json:"markup,omitempty"`
	Raster    []byte       `json:"raster,omitempty"`
	Reference string       `json:"reference,omitempty"`
}

func (a Artifacts) MarshalJSON() ([]byte, error) {
	out := make([]artifactJSON, 0, len(a))
	for _, art := range a {
		switch v := art.(type) {
		case RasterImage:
			out = append(out, artifactJSON{Kind: KindRaster, Data: v.Data, MIMEType: v.MIMEType})
		case VectorImage:
			out = append(out, artifactJSON{Kind: KindVector, Markup: v.Markup, Raster: v.Raster})
		case InteractiveDocument:
			out = append(out, artifactJSON{Kind: KindDocument, Reference: v.Reference})
		default:
			return nil, fmt.Errorf("executor: unknown artifact type %T", art)
		}
	}
	return json.Marshal(out)
}

func (a *Artifacts) UnmarshalJSON(b []byte) error {
	var raw []artifactJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Artifacts, 0, len(raw))
	for i, r := range raw {
		switch r.Kind {
		case KindRaster:
			out = append(out, RasterImage{Data: r.Data, MIMEType: r.MIMEType})
		case KindVector:
			out = append(out, VectorImage{Markup: r.Markup, Raster: r.Raster})
		case KindDocument:
			out = append(out, InteractiveDocument{Reference: r.Reference})
		default:
			return fmt.Errorf("executor: artifact %d has unknown kind %q", i, r.Kind)
		}
	}
	*a = out
	return nil
}
