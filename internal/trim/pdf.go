package trim

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/canectors/viewexport/internal/logger"
)

// PDF moves the bottom of the first page's crop box up to the lowest content
// plus PDFPadding.
func PDF(path string) (Result, error) {
	ctx, err := readContext(path)
	if err != nil {
		return Result{}, err
	}
	if ctx.PageCount == 0 {
		return Result{Reason: "document has no pages"}, nil
	}

	pageDict, _, inh, err := ctx.PageDict(1, false)
	if err != nil {
		return Result{}, fmt.Errorf("reading first page: %w", err)
	}
	if pageDict == nil {
		return Result{}, fmt.Errorf("first page not found")
	}

	if rotation(pageDict, inh)%360 != 0 {
		return Result{Reason: "rotated page"}, nil
	}

	box, err := pageBox(ctx, pageDict, inh)
	if err != nil {
		return Result{}, err
	}

	r, err := pdfcpu.ExtractPageContent(ctx, 1)
	if err != nil {
		return Result{}, fmt.Errorf("extracting page content: %w", err)
	}
	var stream []byte
	if r != nil {
		if stream, err = io.ReadAll(r); err != nil {
			return Result{}, fmt.Errorf("reading page content: %w", err)
		}
	}

	content, ok := ContentBoundsWith(stream, pageResources(ctx, pageDict, inh))
	if !ok {
		return Result{Before: box.Height(), After: box.Height(), Reason: "no content found"}, nil
	}

	newLLY := math.Max(box.LLY, content.LLY-PDFPadding)
	res := Result{Before: box.Height(), After: box.URY - newLLY}
	if res.After <= 0 {
		res.After = res.Before
		res.Reason = "content lies outside the page"
		return res, nil
	}
	if math.Abs(res.Before-res.After) < tolerance {
		res.Reason = "no space to trim"
		return res, nil
	}

	pageDict.Update("CropBox", types.NewNumberArray(box.LLX, newLLY, box.URX, box.URY))
	err = replaceFile(path, func(tmp string) error {
		return api.WriteContextFile(ctx, tmp)
	})
	if err != nil {
		return Result{}, err
	}

	res.Trimmed = true
	logger.Debug("pdf bottom trimmed",
		slog.String("path", path),
		slog.Float64("content_bottom", content.LLY),
		slog.Float64("height_before", res.Before),
		slog.Float64("height_after", res.After),
	)
	return res, nil
}

func readContext(path string) (*model.Context, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ctx, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	return ctx, nil
}

func rotation(pageDict types.Dict, inh *model.InheritedPageAttrs) int {
	if r := pageDict.IntEntry("Rotate"); r != nil {
		return *r
	}
	if inh != nil {
		return inh.Rotate
	}
	return 0
}

// pageBox returns the visible area of the page: its crop box when present,
// else its media box, looking at inherited attributes after the page's own.
func pageBox(ctx *model.Context, pageDict types.Dict, inh *model.InheritedPageAttrs) (Rect, error) {
	if r, ok := dictBox(ctx, pageDict, "CropBox"); ok {
		return r, nil
	}
	if inh != nil && inh.CropBox != nil {
		return fromRectangle(inh.CropBox), nil
	}
	if r, ok := dictBox(ctx, pageDict, "MediaBox"); ok {
		return r, nil
	}
	if inh != nil && inh.MediaBox != nil {
		return fromRectangle(inh.MediaBox), nil
	}
	return Rect{}, fmt.Errorf("first page has no media box")
}

func fromRectangle(r *types.Rectangle) Rect {
	return normalize(Rect{r.LL.X, r.LL.Y, r.UR.X, r.UR.Y})
}

func dictBox(ctx *model.Context, d types.Dict, key string) (Rect, bool) {
	v, ok := dictNumbers(ctx, d, key, 4)
	if !ok {
		return Rect{}, false
	}
	return normalize(Rect{v[0], v[1], v[2], v[3]}), true
}

// dictNumbers reads the array of n numbers stored under key.
func dictNumbers(ctx *model.Context, d types.Dict, key string, n int) ([]float64, bool) {
	obj, found := d.Find(key)
	if !found {
		return nil, false
	}
	arr, err := ctx.DereferenceArray(obj)
	if err != nil || len(arr) != n {
		return nil, false
	}
	v := make([]float64, n)
	for i, o := range arr {
		f, err := ctx.DereferenceNumber(o)
		if err != nil {
			return nil, false
		}
		v[i] = f
	}
	return v, true
}

// pdfResources resolves XObjects through a resource dictionary.
type pdfResources struct {
	ctx  *model.Context
	dict types.Dict
}

func pageResources(ctx *model.Context, pageDict types.Dict, inh *model.InheritedPageAttrs) Resources {
	if obj, found := pageDict.Find("Resources"); found {
		if d, err := ctx.DereferenceDict(obj); err == nil && d != nil {
			return pdfResources{ctx: ctx, dict: d}
		}
	}
	if inh != nil && inh.Resources != nil {
		return pdfResources{ctx: ctx, dict: inh.Resources}
	}
	return nil
}

func (r pdfResources) XObject(name string) (XObject, bool) {
	obj, found := r.dict.Find("XObject")
	if !found {
		return XObject{}, false
	}
	xobjects, err := r.ctx.DereferenceDict(obj)
	if err != nil || xobjects == nil {
		return XObject{}, false
	}
	ref, found := xobjects.Find(name)
	if !found {
		return XObject{}, false
	}
	o, err := r.ctx.Dereference(ref)
	if err != nil {
		return XObject{}, false
	}
	sd, ok := o.(types.StreamDict)
	if !ok {
		return XObject{}, false
	}
	if st := sd.NameEntry("Subtype"); st == nil || *st != "Form" {
		return XObject{}, true
	}
	if err := sd.Decode(); err != nil {
		logger.Debug("undecodable form xobject", slog.String("name", name), slog.String("error", err.Error()))
		return XObject{}, false
	}

	x := XObject{Form: true, Content: sd.Content}
	if v, ok := dictNumbers(r.ctx, sd.Dict, "Matrix", 6); ok {
		copy(x.Matrix[:], v)
	}
	if obj, found := sd.Find("Resources"); found {
		if d, err := r.ctx.DereferenceDict(obj); err == nil && d != nil {
			x.Resources = pdfResources{ctx: r.ctx, dict: d}
		}
	}
	return x, true
}

func normalize(r Rect) Rect {
	return Rect{
		LLX: math.Min(r.LLX, r.URX), LLY: math.Min(r.LLY, r.URY),
		URX: math.Max(r.LLX, r.URX), URY: math.Max(r.LLY, r.URY),
	}
}
