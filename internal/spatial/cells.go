// Package spatial aggregates stored positions into H3 hexagons and renders them
// as WKT polygons with observation counts.
package spatial

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/saviobatista/adsb-area-recorder/internal/types"
	"github.com/uber/h3-go/v4"
)

// Header is the first line of every cells file
const Header = "wkt|num_observations"

// Index is the occupied cells at one resolution
type Index struct {
	Resolution int
	Cells      []types.Cell
	Skipped    int
}

// Total returns the number of points counted into cells
func (idx *Index) Total() int {
	n := 0
	for _, c := range idx.Cells {
		n += c.Count
	}
	return n
}

// FileName returns the output file name for a resolution
func FileName(res int) string {
	return fmt.Sprintf("h3s_z%d.csv", res)
}

func validPoint(p types.Point) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// BuildCells counts points per H3 cell at res. Points outside valid
// coordinate ranges are skipped.
func BuildCells(points []types.Point, res int) (*Index, error) {
	if res < 0 || res > 15 {
		return nil, fmt.Errorf("invalid resolution %d", res)
	}

	idx := &Index{Resolution: res}
	counts := make(map[h3.Cell]int)
	for _, p := range points {
		if !validPoint(p) {
			idx.Skipped++
			continue
		}
		cell, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lon), res)
		if err != nil {
			idx.Skipped++
			continue
		}
		counts[cell]++
	}

	ids := make([]h3.Cell, 0, len(counts))
	for cell := range counts {
		ids = append(ids, cell)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	idx.Cells = make([]types.Cell, 0, len(ids))
	for _, cell := range ids {
		poly, err := Polygon(cell)
		if err != nil {
			return nil, err
		}
		idx.Cells = append(idx.Cells, types.Cell{
			ID:    cell.String(),
			WKT:   wkt.MarshalString(poly),
			Count: counts[cell],
		})
	}
	return idx, nil
}

// Polygon returns the cell boundary as a closed lon/lat ring
func Polygon(cell h3.Cell) (orb.Polygon, error) {
	boundary, err := cell.Boundary()
	if err != nil {
		return nil, fmt.Errorf("boundary of cell %s: %w", cell, err)
	}
	if len(boundary) == 0 {
		return nil, fmt.Errorf("cell %s has an empty boundary", cell)
	}
	ring := make(orb.Ring, 0, len(boundary)+1)
	for _, v := range boundary {
		ring = append(ring, orb.Point{v.Lng, v.Lat})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}, nil
}

// WriteCells writes the header and one "<wkt>|<count>" line per cell
func WriteCells(w io.Writer, idx *Index) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(Header + "\n"); err != nil {
		return err
	}
	for _, c := range idx.Cells {
		if _, err := bw.WriteString(c.WKT + "|" + strconv.Itoa(c.Count) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile writes the index to dir/h3s_z<res>.csv, replacing any previous file
func WriteFile(dir string, idx *Index) (string, error) {
	name := filepath.Join(dir, FileName(idx.Resolution))
	tmp, err := os.CreateTemp(dir, fmt.Sprintf("h3s_z%d-*.csv", idx.Resolution))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if err := WriteCells(tmp, idx); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	return name, nil
}
