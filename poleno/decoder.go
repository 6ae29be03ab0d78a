// Package poleno decodes Poleno device archives: zip files holding one
// JSON event description and two holography recordings per captured
// particle.
package poleno

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/pollenflow/stream"
	"github.com/BaSui01/pollenflow/types"
)

// File-name suffix candidates. Device firmware revisions differ in how
// they name the per-event files; exactly one candidate per role must
// match within a single archive.
var (
	eventSuffixes = []string{
		"_event.json",
		"_ev.json",
	}
	rec0Suffixes = []string{
		"_rec0.png",
		"_ev.computed_data.holography.image_pairs.0.0.rec_mag.png",
	}
	rec1Suffixes = []string{
		"_rec1.png",
		"_ev.computed_data.holography.image_pairs.0.1.rec_mag.png",
	}
)

// eventFile mirrors the per-event JSON document.
type eventFile struct {
	Metadata      map[string]any   `json:"metaData"`
	FluoData      map[string]any   `json:"fluoData"`
	RecProperties []map[string]any `json:"recProperties"`
}

// ZipDecoder decodes Poleno zip archives into Records. It implements
// worker.Decoder.
type ZipDecoder struct {
	logger *zap.Logger
}

// NewZipDecoder creates a decoder.
func NewZipDecoder(logger *zap.Logger) *ZipDecoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZipDecoder{logger: logger.With(zap.String("component", "poleno"))}
}

// Decode opens the archive and returns a lazy stream of records. The
// archive's event index is built upfront; per-event JSON and PNG decoding
// happens one event per pull. The underlying file handle closes when the
// stream terminates on any path, including context cancellation; a caller
// abandoning the stream mid-way closes it via the stream's Close.
func (d *ZipDecoder) Decode(ctx context.Context, source string) (*stream.Stream[*types.Record], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r, err := zip.OpenReader(source)
	if err != nil {
		return nil, unreadable(source, "cannot open archive", err)
	}

	idx, err := buildIndex(&r.Reader)
	if err != nil {
		r.Close()
		return nil, unreadable(source, "cannot index archive", err)
	}
	d.logger.Debug("archive indexed",
		zap.String("source", source),
		zap.Int("events", len(idx.ids)))

	pos := 0
	return stream.New(func(ctx context.Context) (*types.Record, bool, error) {
		if pos >= len(idx.ids) {
			return nil, false, nil
		}
		id := idx.ids[pos]
		pos++

		rec, err := readEvent(idx, id)
		if err != nil {
			return nil, false, unreadable(source, fmt.Sprintf("cannot decode event %q", id), err)
		}
		return rec, true, nil
	}).OnTerminate(func() {
		if err := r.Close(); err != nil {
			d.logger.Warn("closing archive failed",
				zap.String("source", source), zap.Error(err))
		}
	}), nil
}

// archiveIndex is the per-archive file table: the matched suffixes and the
// sorted event IDs present with all three files.
type archiveIndex struct {
	files       map[string]*zip.File
	eventSuffix string
	rec0Suffix  string
	rec1Suffix  string
	ids         []string
}

func buildIndex(r *zip.Reader) (*archiveIndex, error) {
	idx := &archiveIndex{files: make(map[string]*zip.File, len(r.File))}
	for _, f := range r.File {
		idx.files[f.Name] = f
	}

	var err error
	if idx.eventSuffix, err = matchSuffix(idx.files, eventSuffixes); err != nil {
		return nil, err
	}
	if idx.rec0Suffix, err = matchSuffix(idx.files, rec0Suffixes); err != nil {
		return nil, err
	}
	if idx.rec1Suffix, err = matchSuffix(idx.files, rec1Suffixes); err != nil {
		return nil, err
	}

	// An event belongs to the index only when all three files exist.
	for name := range idx.files {
		id, ok := strings.CutSuffix(name, idx.eventSuffix)
		if !ok {
			continue
		}
		if _, ok := idx.files[id+idx.rec0Suffix]; !ok {
			continue
		}
		if _, ok := idx.files[id+idx.rec1Suffix]; !ok {
			continue
		}
		idx.ids = append(idx.ids, id)
	}
	sort.Strings(idx.ids)
	return idx, nil
}

// matchSuffix selects the one candidate suffix present in the archive.
func matchSuffix(files map[string]*zip.File, candidates []string) (string, error) {
	var matched []string
	for _, cand := range candidates {
		for name := range files {
			if strings.HasSuffix(name, cand) {
				matched = append(matched, cand)
				break
			}
		}
	}
	if len(matched) != 1 {
		return "", fmt.Errorf("want one suffix match among %v, found %d", candidates, len(matched))
	}
	return matched[0], nil
}

func readEvent(idx *archiveIndex, id string) (*types.Record, error) {
	var ev eventFile
	if err := readJSON(idx.files[id+idx.eventSuffix], &ev); err != nil {
		return nil, err
	}
	if len(ev.RecProperties) < 2 {
		return nil, fmt.Errorf("event %q describes %d recording channels, want 2", id, len(ev.RecProperties))
	}

	rec0, err := readPNG(idx.files[id+idx.rec0Suffix])
	if err != nil {
		return nil, err
	}
	rec1, err := readPNG(idx.files[id+idx.rec1Suffix])
	if err != nil {
		return nil, err
	}

	return &types.Record{
		EventID:      id,
		Metadata:     ev.Metadata,
		Fluorescence: fluorescenceVectors(ev.FluoData),
		Properties: []map[string]float64{
			propertyFloats(ev.RecProperties[0]),
			propertyFloats(ev.RecProperties[1]),
		},
		Rec0: rec0,
		Rec1: rec1,
	}, nil
}

func readJSON(f *zip.File, v any) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return json.NewDecoder(rc).Decode(v)
}

// readPNG decodes one recording into a flat row-major pixel buffer,
// keeping the raw sample values (16-bit holography recordings stay in
// [0, 65535]).
func readPNG(f *zip.File) (*types.Image, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	img, err := png.Decode(rc)
	if err != nil {
		return nil, err
	}
	return flatten(img), nil
}

func flatten(img image.Image) *types.Image {
	b := img.Bounds()
	out := &types.Image{
		Width:  b.Dx(),
		Height: b.Dy(),
		Pix:    make([]float64, 0, b.Dx()*b.Dy()),
	}
	switch im := img.(type) {
	case *image.Gray:
		for _, v := range im.Pix {
			out.Pix = append(out.Pix, float64(v))
		}
	case *image.Gray16:
		// Big-endian sample pairs.
		for i := 0; i+1 < len(im.Pix); i += 2 {
			out.Pix = append(out.Pix, float64(uint16(im.Pix[i])<<8|uint16(im.Pix[i+1])))
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
				out.Pix = append(out.Pix, float64(g.Y))
			}
		}
	}
	return out
}

// fluorescenceVectors coerces the measured values to vectors: scalar
// measurements become one-element vectors, non-numeric entries drop.
func fluorescenceVectors(data map[string]any) map[string][]float64 {
	out := make(map[string][]float64, len(data))
	for k, v := range data {
		switch t := v.(type) {
		case float64:
			out[k] = []float64{t}
		case []any:
			vec := make([]float64, 0, len(t))
			ok := true
			for _, el := range t {
				f, isNum := el.(float64)
				if !isNum {
					ok = false
					break
				}
				vec = append(vec, f)
			}
			if ok {
				out[k] = vec
			}
		}
	}
	return out
}

// propertyFloats keeps the numeric recording properties; booleans map to
// 0/1 so that quality filters can bound them too.
func propertyFloats(props map[string]any) map[string]float64 {
	out := make(map[string]float64, len(props))
	for k, v := range props {
		switch t := v.(type) {
		case float64:
			out[k] = t
		case bool:
			if t {
				out[k] = 1
			} else {
				out[k] = 0
			}
		}
	}
	return out
}

func unreadable(source, msg string, err error) error {
	return types.NewError(types.CodeSourceUnreadable, msg).
		WithSource(source).
		WithStage("extraction").
		WithCause(err)
}
