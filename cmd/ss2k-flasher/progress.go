package main

import (
	"time"

	"github.com/schollz/progressbar/v3"
)

// progress renders one bar per flashed region.
type progress struct {
	region string
	bar    *progressbar.ProgressBar
}

func (p *progress) report(region string, written, total int64) {
	if p.bar == nil || p.region != region {
		p.finish()

		p.region = region
		p.bar = progressbar.NewOptions64(total,
			progressbar.OptionSetDescription(region),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	_ = p.bar.Set64(written)
}

func (p *progress) finish() {
	if p.bar == nil {
		return
	}

	_ = p.bar.Finish()
	p.bar = nil
}
