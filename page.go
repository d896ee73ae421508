package gda

// Page is a result window: First is the index of the first record to return
// (numbered from 0) and Max is the maximum number of records. Max <= 0 means
// no limit, so the zero Page returns everything.
type Page struct {
	First int
	Max   int
}

// Offset returns the number of records to skip. Negative First clamps to 0.
func (p Page) Offset() int {
	if p.First < 0 {
		return 0
	}
	return p.First
}

// Limited reports whether the window caps the number of records returned.
func (p Page) Limited() bool {
	return p.Max > 0
}

// Bounds clamps the window into [0, n] for slicing an in-memory result set
// of n records. The adapters that filter client side use it so that their
// pages partition results the same way the server-side adapters do.
func (p Page) Bounds(n int) (lo, hi int) {
	lo = p.Offset()
	if lo > n {
		lo = n
	}
	hi = n
	// lo+p.Max overflows for MaxInt-sized limits, so compare the remainder.
	if p.Limited() && p.Max < n-lo {
		hi = lo + p.Max
	}
	return lo, hi
}
