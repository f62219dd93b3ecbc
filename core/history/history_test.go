package history_test

import (
	"context"
	"testing"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/kaizengarden/sdcadm/api"
	"github.com/kaizengarden/sdcadm/core/history"
)

func Test(t *testing.T) { gc.TestingT(t) }

type HistorySuite struct{}

var _ = gc.Suite(&HistorySuite{})

func (s *HistorySuite) TestSaveThenUpdateRoundtrip(c *gc.C) {
	store := history.FileStore{Dir: c.MkDir()}
	rec := api.HistoryRecord{
		UUID:      history.NewUUID(),
		Changes:   []string{"update-service sdc"},
		StartedAt: "2026-08-02T00:00:00Z",
	}
	c.Assert(store.SaveHistory(context.Background(), rec), jc.ErrorIsNil)

	rec.FinishedAt = "2026-08-02T00:05:00Z"
	c.Assert(store.UpdateHistory(context.Background(), rec), jc.ErrorIsNil)

	got, err := store.Load(rec.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got.FinishedAt, gc.Equals, rec.FinishedAt)
	c.Check(got.StartedAt, gc.Equals, rec.StartedAt)
}

func (s *HistorySuite) TestSaveRejectsDuplicateUUID(c *gc.C) {
	store := history.FileStore{Dir: c.MkDir()}
	rec := api.HistoryRecord{UUID: "dup-0", StartedAt: "2026-08-02T00:00:00Z"}
	c.Assert(store.SaveHistory(context.Background(), rec), jc.ErrorIsNil)
	err := store.SaveHistory(context.Background(), rec)
	c.Assert(err, gc.NotNil)
}

func (s *HistorySuite) TestSaveRejectsMissingUUID(c *gc.C) {
	store := history.FileStore{Dir: c.MkDir()}
	err := store.SaveHistory(context.Background(), api.HistoryRecord{})
	c.Assert(err, gc.NotNil)
}
