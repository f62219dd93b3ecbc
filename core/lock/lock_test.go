package lock_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/kaizengarden/sdcadm/core/lock"
)

func Test(t *testing.T) { gc.TestingT(t) }

type LockSuite struct{}

var _ = gc.Suite(&LockSuite{})

func (s *LockSuite) TestAcquireReleaseRoundtrip(c *gc.C) {
	m := lock.Manager{
		Path: filepath.Join(c.MkDir(), "update.lock"),
		Name: "sdcadm-test-roundtrip",
	}
	l, err := m.Acquire(context.Background(), nil, time.Second)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(l, gc.NotNil)
	l.Release()
}

func (s *LockSuite) TestSecondAcquireBlocksUntilReleased(c *gc.C) {
	m := lock.Manager{
		Path: filepath.Join(c.MkDir(), "update.lock"),
		Name: "sdcadm-test-blocks",
	}
	first, err := m.Acquire(context.Background(), nil, time.Second)
	c.Assert(err, jc.ErrorIsNil)

	acquired := make(chan error, 1)
	go func() {
		second, err := m.Acquire(context.Background(), nil, 5*time.Second)
		if err == nil {
			second.Release()
		}
		acquired <- err
	}()

	select {
	case <-acquired:
		c.Fatalf("second Acquire returned before first Release")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release()

	select {
	case err := <-acquired:
		c.Assert(err, jc.ErrorIsNil)
	case <-time.After(5 * time.Second):
		c.Fatalf("second Acquire never completed after release")
	}
}

func (s *LockSuite) TestAcquireWarnsAfterOneSecond(c *gc.C) {
	clk := testclock.NewClock(time.Now())
	m := lock.Manager{
		Path:  filepath.Join(c.MkDir(), "update.lock"),
		Name:  "sdcadm-test-warns",
		Clock: clk,
	}
	first, err := m.Acquire(context.Background(), nil, time.Second)
	c.Assert(err, jc.ErrorIsNil)
	defer first.Release()

	var messages []string
	progress := func(format string, args ...interface{}) {
		messages = append(messages, format)
	}

	done := make(chan error, 1)
	go func() {
		second, err := m.Acquire(context.Background(), progress, 0)
		if err == nil {
			second.Release()
		}
		done <- err
	}()

	c.Assert(clk.WaitAdvance(time.Second, testLongWait, 1), jc.ErrorIsNil)
	first.Release()

	select {
	case <-done:
	case <-time.After(testLongWait):
		c.Fatalf("second Acquire never completed")
	}
	c.Check(messages, gc.HasLen, 1)
}

const testLongWait = 5 * time.Second
