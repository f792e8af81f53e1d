package activities

import (
	"io"
	"time"
)

// progressWriter counts bytes written through it and calls report with the
// completed percentage no more than once per interval.
type progressWriter struct {
	w        io.Writer
	total    int64
	written  int64
	interval time.Duration
	now      func() time.Time
	last     time.Time
	report   func(percent int)
}

func newProgressWriter(w io.Writer, total int64, interval time.Duration, now func() time.Time, report func(int)) *progressWriter {
	return &progressWriter{
		w:        w,
		total:    total,
		interval: interval,
		now:      now,
		last:     now(),
		report:   report,
	}
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)

	if t := p.now(); t.Sub(p.last) >= p.interval {
		p.last = t
		p.report(p.percent())
	}
	return n, err
}

func (p *progressWriter) percent() int {
	if p.total <= 0 {
		return 0
	}
	pct := int(p.written * 100 / p.total)
	if pct > 100 {
		return 100
	}
	return pct
}
