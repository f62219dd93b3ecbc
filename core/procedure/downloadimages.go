package procedure

import (
	"context"
	"fmt"

	"github.com/juju/errors"

	"github.com/kaizengarden/sdcadm/api"
	"github.com/kaizengarden/sdcadm/core/plan"
)

// downloadImagesProcedure implements spec §4.4 row 1: ensure every
// change's target image is present in the local image store before any
// other procedure runs. It never touches a running instance.
type downloadImagesProcedure struct {
	changes []plan.NormalizedChange
	deps    Dependencies
}

func (p *downloadImagesProcedure) Kind() Kind                          { return KindDownloadImages }
func (p *downloadImagesProcedure) Changes() []plan.NormalizedChange    { return p.changes }

func (p *downloadImagesProcedure) Summarize() string {
	return fmt.Sprintf("download %d image(s) to the local image store", len(p.uniqueImageUUIDs()))
}

func (p *downloadImagesProcedure) uniqueImageUUIDs() []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range p.changes {
		if !c.HasImage || seen[c.Image.UUID] {
			continue
		}
		seen[c.Image.UUID] = true
		out = append(out, c.Image.UUID)
	}
	return out
}

func (p *downloadImagesProcedure) Execute(ctx context.Context, progress api.Progress) error {
	for _, uuid := range p.uniqueImageUUIDs() {
		progress("downloading image %s", uuid)
		if err := p.deps.Images.GetImageFile(ctx, uuid, ""); err != nil {
			return errors.Trace(api.NewUpstreamError("imgapi", "GetImageFile", err))
		}
	}
	return nil
}
