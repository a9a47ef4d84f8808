package progress

import (
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"ftplite/internal/logging"
	"ftplite/internal/transfer"
)

// logInterval is how often progress is written to the log
const logInterval = 10 * time.Second

// Reporter turns transfer progress callbacks into a console progress bar
// and periodic log lines.
type Reporter struct {
	mu          sync.Mutex
	bar         *progressbar.ProgressBar
	name        string
	total       int64
	transferred int64
	startTime   time.Time
	lastLog     time.Time
}

// NewReporter creates a reporter for one file. total is -1 when the size is
// unknown, which renders a spinner instead of a bar. A nil w disables the
// console bar and keeps only the log lines.
func NewReporter(w io.Writer, name string, total int64) *Reporter {
	r := &Reporter{
		name:      name,
		total:     total,
		startTime: time.Now(),
		lastLog:   time.Now(),
	}

	if w != nil {
		r.bar = progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(name),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionOnCompletion(func() {
				io.WriteString(w, "\n")
			}),
		)
	}

	return r
}

// Update records a progress report
func (r *Reporter) Update(p transfer.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transferred = p.Transferred
	if r.bar != nil {
		r.bar.Set64(p.Transferred)
	}

	if time.Since(r.lastLog) >= logInterval {
		logging.LogTransferProgress(r.name, p.Transferred, p.Total)
		r.lastLog = time.Now()
	}
}

// Func adapts the reporter to a transfer.ProgressFunc
func (r *Reporter) Func() transfer.ProgressFunc {
	return r.Update
}

// Finish completes the bar and returns the bytes seen and time taken
func (r *Reporter) Finish() (transferred int64, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bar != nil {
		r.bar.Finish()
	}
	return r.transferred, time.Since(r.startTime)
}

// Display creates its Reporter on the first report, once the file name and
// total are known.
type Display struct {
	w        io.Writer
	reporter *Reporter
}

func NewDisplay(w io.Writer) *Display {
	return &Display{w: w}
}

func (d *Display) Update(p transfer.Progress) {
	if d.reporter == nil {
		total := p.Total
		if total <= 0 {
			total = -1
		}
		d.reporter = NewReporter(d.w, p.FileName, total)
	}
	d.reporter.Update(p)
}

// Finish completes the bar, if one was started.
func (d *Display) Finish() {
	if d.reporter == nil {
		return
	}
	n, elapsed := d.reporter.Finish()
	logging.LogTransferComplete(d.reporter.name, n, elapsed)
	d.reporter = nil
}

// Describe summarizes the reporter state, e.g. "1.0 MiB / 4.0 MiB".
func (r *Reporter) Describe() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.total <= 0 {
		return humanize.IBytes(uint64(r.transferred))
	}
	return humanize.IBytes(uint64(r.transferred)) + " / " + humanize.IBytes(uint64(r.total))
}
