package latenttb

import (
	"errors"
	"sync/atomic"

	"gopkg.in/check.v1"
)

type throttleSuite struct{}

var _ = check.Suite(&throttleSuite{})

func (s *throttleSuite) TestLimit(c *check.C) {
	var running, peak int64
	thr := throttle{Max: 3}
	for i := 0; i < 50; i++ {
		thr.Go(func() error {
			n := atomic.AddInt64(&running, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			atomic.AddInt64(&running, -1)
			return nil
		})
	}
	c.Check(thr.Wait(), check.IsNil)
	c.Check(peak <= 3, check.Equals, true)
}

func (s *throttleSuite) TestFirstError(c *check.C) {
	thr := throttle{}
	first := errors.New("first")
	thr.Report(first)
	thr.Report(errors.New("second"))
	thr.Go(func() error { return nil })
	c.Check(thr.Wait(), check.Equals, first)
	c.Check(thr.Max, check.Equals, 1)
}
