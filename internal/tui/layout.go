package tui

// layout is the split of the terminal between the list and preview panels.
// Widths and height are inner sizes; each panel adds a one-cell border.
type layout struct {
	list    int
	preview int
	height  int
}

func computeLayout(width, height int) layout {
	l := layout{list: 40, preview: 60, height: 20}
	if width > 0 {
		l.list = max(width*2/5-4, 20)
		l.preview = max(width*3/5-4, 20)
	}
	if height > 0 {
		// input row, status bar and two borders
		l.height = max(height-6, 5)
	}
	return l
}

type region int

const (
	regionNone region = iota
	regionList
	regionPreview
)

// at maps a mouse position to a panel and, for the list, the row under it.
func (l layout) at(x, y, offset int) (region, int) {
	const top = 2 // input row and top border
	if y < top || y >= top+l.height {
		return regionNone, -1
	}
	switch {
	case x >= 1 && x <= l.list:
		return regionList, offset + (y-top)/linesPerItem
	case x > l.list+2:
		return regionPreview, -1
	}
	return regionNone, -1
}
