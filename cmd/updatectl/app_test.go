package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/kaizengarden/sdcadm/api"
	"github.com/kaizengarden/sdcadm/core/image"
	"github.com/kaizengarden/sdcadm/core/plan"
	"github.com/kaizengarden/sdcadm/core/procedure"
	"github.com/kaizengarden/sdcadm/internal/config"
)

func Test(t *testing.T) { gc.TestingT(t) }

type AppSuite struct{}

var _ = gc.Suite(&AppSuite{})

// passthroughImages resolves any uuid to an api.Image carrying that same
// uuid, standing in for a real IMGAPI client so genUpdatePlan's tests can
// exercise image resolution without one.
type passthroughImages struct{}

func (passthroughImages) GetImage(ctx context.Context, uuid string) (api.Image, error) {
	return api.Image{UUID: uuid}, nil
}
func (passthroughImages) ListImages(ctx context.Context, filter api.ImageFilter) ([]api.Image, error) {
	return nil, nil
}
func (passthroughImages) GetImageFile(ctx context.Context, uuid, destPath string) error { return nil }

func useFakeImageResolver() func() {
	orig := newImageResolver
	newImageResolver = func(cfg config.Config) (image.Resolver, error) {
		return image.Resolver{Local: passthroughImages{}}, nil
	}
	return func() { newImageResolver = orig }
}

const snapshotJSON = `{
  "Services": [{"Name": "assets", "Type": "vm"}],
  "Instances": [{"ServiceName": "assets", "InstanceID": "assets-0", "ServerID": "server-0", "ImageID": "img-a"}],
  "Servers": [{"UUID": "server-0", "Hostname": "headnode", "IsHeadnode": true}]
}`

const changesYAML = `
- type: update-service
  service: assets
  image: img-b
`

func (s *AppSuite) TestGenUpdatePlanDryRun(c *gc.C) {
	defer useFakeImageResolver()()
	dir := c.MkDir()
	snapPath := filepath.Join(dir, "snapshot.json")
	changesPath := filepath.Join(dir, "changes.yaml")
	c.Assert(os.WriteFile(snapPath, []byte(snapshotJSON), 0o644), jc.ErrorIsNil)
	c.Assert(os.WriteFile(changesPath, []byte(changesYAML), 0o644), jc.ErrorIsNil)

	var out bytes.Buffer
	opt := options{snapshotPath: snapPath, changesPath: changesPath, dryRun: true}
	err := genUpdatePlan(context.Background(), &out, opt, config.Config{})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(out.String(), gc.Matches, "(?s).*justimages.*")
}

func (s *AppSuite) TestGenUpdatePlanWritesFile(c *gc.C) {
	defer useFakeImageResolver()()
	dir := c.MkDir()
	snapPath := filepath.Join(dir, "snapshot.json")
	changesPath := filepath.Join(dir, "changes.yaml")
	c.Assert(os.WriteFile(snapPath, []byte(snapshotJSON), 0o644), jc.ErrorIsNil)
	c.Assert(os.WriteFile(changesPath, []byte(changesYAML), 0o644), jc.ErrorIsNil)

	var out bytes.Buffer
	opt := options{snapshotPath: snapPath, changesPath: changesPath, workDir: dir}
	err := genUpdatePlan(context.Background(), &out, opt, config.Config{})
	c.Assert(err, jc.ErrorIsNil)

	entries, err := os.ReadDir(dir)
	c.Assert(err, jc.ErrorIsNil)
	found := false
	for _, e := range entries {
		if e.IsDir() {
			data, err := os.ReadFile(filepath.Join(dir, e.Name(), "plan.json"))
			if err == nil {
				found = true
				p, err := plan.Deserialize(data)
				c.Assert(err, jc.ErrorIsNil)
				c.Check(p.Changes, gc.HasLen, 1)
			}
		}
	}
	c.Check(found, gc.Equals, true)
}

func (s *AppSuite) TestGenUpdatePlanRequiresImageResolver(c *gc.C) {
	dir := c.MkDir()
	snapPath := filepath.Join(dir, "snapshot.json")
	changesPath := filepath.Join(dir, "changes.yaml")
	c.Assert(os.WriteFile(snapPath, []byte(snapshotJSON), 0o644), jc.ErrorIsNil)
	c.Assert(os.WriteFile(changesPath, []byte(changesYAML), 0o644), jc.ErrorIsNil)

	var out bytes.Buffer
	opt := options{snapshotPath: snapPath, changesPath: changesPath, dryRun: true}
	err := genUpdatePlan(context.Background(), &out, opt, config.Config{})
	c.Assert(err, gc.NotNil)
}

func (s *AppSuite) TestExecUpdatePlanRequiresDependencies(c *gc.C) {
	dir := c.MkDir()
	snapPath := filepath.Join(dir, "snapshot.json")
	c.Assert(os.WriteFile(snapPath, []byte(snapshotJSON), 0o644), jc.ErrorIsNil)

	p := plan.UpdatePlan{V: plan.FormatVersion}
	data, err := p.Serialize()
	c.Assert(err, jc.ErrorIsNil)
	planPath := filepath.Join(dir, "plan.json")
	c.Assert(os.WriteFile(planPath, data, 0o644), jc.ErrorIsNil)

	var out bytes.Buffer
	opt := options{snapshotPath: snapPath, changesPath: planPath}
	err = execUpdatePlan(context.Background(), &out, opt, config.Config{})
	c.Assert(err, gc.NotNil)
}

func (s *AppSuite) TestExecUpdatePlanDryRunSummarizes(c *gc.C) {
	orig := newDependencies
	newDependencies = func(cfg config.Config) (procedure.Dependencies, error) {
		return procedure.Dependencies{}, nil
	}
	defer func() { newDependencies = orig }()

	dir := c.MkDir()
	snapPath := filepath.Join(dir, "snapshot.json")
	c.Assert(os.WriteFile(snapPath, []byte(snapshotJSON), 0o644), jc.ErrorIsNil)

	p := plan.UpdatePlan{V: plan.FormatVersion}
	data, err := p.Serialize()
	c.Assert(err, jc.ErrorIsNil)
	planPath := filepath.Join(dir, "plan.json")
	c.Assert(os.WriteFile(planPath, data, 0o644), jc.ErrorIsNil)

	var out bytes.Buffer
	opt := options{snapshotPath: snapPath, changesPath: planPath, dryRun: true}
	err = execUpdatePlan(context.Background(), &out, opt, config.Config{})
	c.Assert(err, jc.ErrorIsNil)
}
