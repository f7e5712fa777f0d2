package enrich

import (
	"cmp"
	"slices"
)

// placeRow is a completed row plus its position in the search results,
// used only to break rating ties deterministically.
type placeRow struct {
	position int
	row      Row
}

// finalize orders rows by rating descending with missing ratings last,
// numbers them 1..N and stamps the query on each.
func finalize(rows []placeRow, keyword, location string) []Row {
	slices.SortStableFunc(rows, func(a, b placeRow) int {
		ra, rb := a.row.Rating, b.row.Rating
		switch {
		case ra == nil && rb == nil:
		case ra == nil:
			return 1
		case rb == nil:
			return -1
		case *ra != *rb:
			return cmp.Compare(*rb, *ra)
		}
		return cmp.Compare(a.position, b.position)
	})
	out := make([]Row, len(rows))
	for i, pr := range rows {
		r := pr.row
		r.Index = i + 1
		r.Keyword = keyword
		r.Location = location
		out[i] = r
	}
	return out
}
