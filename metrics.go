package vmem

// SizeInUse returns the number of bytes handed out since the last reset.
// It counts alignment padding and the unused tail of every page the
// cursor has left behind, but not page headers.
func (a *Arena) SizeInUse() int {
	if a.released {
		return 0
	}
	used := 0
	for r := a.pages.First(); r != a.current; r = a.pages.Next(r) {
		used += a.UsableSize()
	}
	return used + a.cursor - a.header
}

// NumPages returns the number of pages the arena holds, including pages
// kept for reuse after a restore.
func (a *Arena) NumPages() int {
	if a.released {
		return 0
	}
	return a.pages.Len()
}

// Capacity returns the total size in bytes of all pages.
func (a *Arena) Capacity() int {
	return a.NumPages() * a.pageSize
}

// Utilization returns the ratio of bytes in use to total capacity (0.0 to 1.0).
// Returns 0.0 if the arena has no capacity.
func (a *Arena) Utilization() float64 {
	capacity := a.Capacity()
	if capacity == 0 {
		return 0
	}
	return float64(a.SizeInUse()) / float64(capacity)
}

// PageSize returns the size of one page.
func (a *Arena) PageSize() int {
	return a.pageSize
}

// Metrics returns a snapshot of arena statistics.
func (a *Arena) Metrics() ArenaMetrics {
	return ArenaMetrics{
		SizeInUse:   a.SizeInUse(),
		Capacity:    a.Capacity(),
		NumPages:    a.NumPages(),
		PageSize:    a.PageSize(),
		Utilization: a.Utilization(),
	}
}

// ArenaMetrics contains statistical information about an arena.
type ArenaMetrics struct {
	SizeInUse   int     // Bytes in use up to the cursor
	Capacity    int     // Total capacity in bytes
	NumPages    int     // Number of pages
	PageSize    int     // Size of one page
	Utilization float64 // Ratio of used to total capacity (0.0-1.0)
}
