package parser

import (
	"fmt"
	"sort"
	"strings"
)

// MergedRegion is a rectangular block of merged cells, zero-based and
// inclusive on both ends. The cell at (FirstRow, FirstCol) is its origin.
type MergedRegion struct {
	FirstRow int
	LastRow  int
	FirstCol int
	LastCol  int
}

// Contains reports whether (row, col) lies inside the region.
func (m MergedRegion) Contains(row, col int) bool {
	return row >= m.FirstRow && row <= m.LastRow && col >= m.FirstCol && col <= m.LastCol
}

// IsOrigin reports whether (row, col) is the region's top-left cell.
func (m MergedRegion) IsOrigin(row, col int) bool {
	return row == m.FirstRow && col == m.FirstCol
}

func (m MergedRegion) RowSpan() int { return m.LastRow - m.FirstRow + 1 }

func (m MergedRegion) ColSpan() int { return m.LastCol - m.FirstCol + 1 }

func (m MergedRegion) String() string {
	return CellName(m.FirstRow, m.FirstCol) + ":" + CellName(m.LastRow, m.LastCol)
}

// ParseRange parses an "A1:C3" reference into a region. A single cell
// reference yields a one-cell region.
func ParseRange(ref string) (MergedRegion, error) {
	start, end, found := strings.Cut(ref, ":")
	if !found {
		end = start
	}
	r1, c1, err := ParseCellName(start)
	if err != nil {
		return MergedRegion{}, err
	}
	r2, c2, err := ParseCellName(end)
	if err != nil {
		return MergedRegion{}, err
	}
	if r2 < r1 {
		r1, r2 = r2, r1
	}
	if c2 < c1 {
		c1, c2 = c2, c1
	}
	if r1 < 0 || c1 < 0 {
		return MergedRegion{}, fmt.Errorf("invalid range %q", ref)
	}
	return MergedRegion{FirstRow: r1, LastRow: r2, FirstCol: c1, LastCol: c2}, nil
}

// MergedRegions is the set of merged regions of one sheet. Regions of a
// sheet never overlap, so at most one region contains a given cell.
type MergedRegions []MergedRegion

// Index builds the lookup structure used to resolve cells to regions.
func (rs MergedRegions) Index() *MergeIndex {
	ix := &MergeIndex{regions: make([]MergedRegion, len(rs)), reach: make([]int, len(rs))}
	copy(ix.regions, rs)
	sort.Slice(ix.regions, func(i, j int) bool {
		a, b := ix.regions[i], ix.regions[j]
		if a.FirstRow != b.FirstRow {
			return a.FirstRow < b.FirstRow
		}
		return a.FirstCol < b.FirstCol
	})
	for i, m := range ix.regions {
		ix.reach[i] = m.LastRow
		if i > 0 && ix.reach[i-1] > m.LastRow {
			ix.reach[i] = ix.reach[i-1]
		}
	}
	return ix
}

// MergeIndex resolves cells to merged regions. Regions are sorted by first
// row and reach[i] is the largest LastRow among regions[:i+1]; a lookup
// walks back from the row only while an earlier region can still cover it.
type MergeIndex struct {
	regions []MergedRegion
	reach   []int
}

// Find returns the region containing (row, col).
func (ix *MergeIndex) Find(row, col int) (MergedRegion, bool) {
	if ix == nil {
		return MergedRegion{}, false
	}
	i := sort.Search(len(ix.regions), func(i int) bool { return ix.regions[i].FirstRow > row }) - 1
	for ; i >= 0 && ix.reach[i] >= row; i-- {
		if ix.regions[i].Contains(row, col) {
			return ix.regions[i], true
		}
	}
	return MergedRegion{}, false
}

// Origin returns the cell whose value (row, col) displays: the region origin
// for merged cells, the cell itself otherwise.
func (ix *MergeIndex) Origin(row, col int) (int, int) {
	if m, ok := ix.Find(row, col); ok {
		return m.FirstRow, m.FirstCol
	}
	return row, col
}
