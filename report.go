package vmem

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"
)

// LogUsage writes the memory diagnostic: one warning per live block, a
// warning if anything is still allocated, then the peak and totals.
func (t *Tracker) LogUsage() {
	t.log.Info("memory diagnostic:")
	for n := t.head; n != nil; n = n.next {
		t.log.Warn("bytes still active",
			zap.String("addr", fmt.Sprintf("%#x", n.addr)),
			zap.Int("size", n.size),
			zap.String("from", n.location),
			zap.Uint64("gen", n.generation))
	}
	if t.current != 0 {
		t.log.Warn("bytes still allocated at exit", zap.Int("bytes", t.current))
	}
	t.log.Info("peak", zap.Int("bytes", t.peak))
	t.log.Info("total", zap.Int("bytes", t.total), zap.Int("chunks", t.chunks))
}

// LogGeneration lists the live blocks allocated in generation gen.
func (t *Tracker) LogGeneration(gen uint64) {
	t.log.Info("memory generation", zap.Uint64("gen", gen))
	for n := t.head; n != nil; n = n.next {
		if n.generation == gen {
			t.log.Info("live block",
				zap.String("addr", fmt.Sprintf("%#x", n.addr)),
				zap.Int("size", n.size),
				zap.String("from", n.location))
		}
	}
}

// WriteReport renders the live blocks as a table followed by the
// counters.
func (t *Tracker) WriteReport(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Address", "Bytes", "Location", "Gen"})
	table.SetAutoWrapText(false)
	for _, l := range t.Live() {
		table.Append([]string{
			fmt.Sprintf("%#x", l.Addr),
			strconv.Itoa(l.Size),
			l.Location,
			strconv.FormatUint(l.Generation, 10),
		})
	}
	table.Render()

	s := t.Stats()
	_, err := fmt.Fprintf(w, "still allocated: %10d bytes in %d blocks\npeak:            %10d bytes\ntotal:           %10d bytes in %d chunks\n",
		s.CurrentBytes, s.LiveBlocks, s.PeakBytes, s.TotalBytes, s.TotalChunks)
	return err
}
