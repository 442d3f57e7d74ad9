// internal/task/matrix.go
//
// Counting-zeros task: a grid of random 0/1 digits rendered as a PNG; the
// participant reports how many zeros it contains.
//
// Stored fields:
//   - Text:     grid rows joined by "\n", e.g. "0110...\n1010...".
//   - Solution: decimal count of '0' digits.
//
// Rendering uses a built-in 5x7 bitmap font so the digits cannot be
// copied out of the page as text.

package task

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math/rand"
	"strconv"
	"strings"
)

const (
	MatrixName  = "matrix"
	DefaultRows = 10
	DefaultCols = 15

	glyphW     = 5
	glyphH     = 7
	glyphScale = 3
	cellPadX   = 9
	cellPadY   = 9
	margin     = 12
)

// glyphs are 5x7 bitmaps, one string per row, '#' = ink.
var glyphs = map[rune][glyphH]string{
	'0': {
		".###.",
		"#...#",
		"#..##",
		"#.#.#",
		"##..#",
		"#...#",
		".###.",
	},
	'1': {
		"..#..",
		".##..",
		"..#..",
		"..#..",
		"..#..",
		"..#..",
		".###.",
	},
}

var (
	ink   = color.Gray{Y: 0x20}
	paper = color.Gray{Y: 0xff}
)

// Matrix is the counting-zeros provider.
type Matrix struct {
	rng  *lockedRand
	rows int
	cols int
}

// NewMatrix constructs a Matrix provider producing rows x cols grids.
func NewMatrix(rng *rand.Rand, rows, cols int) *Matrix {
	if rows <= 0 {
		rows = DefaultRows
	}
	if cols <= 0 {
		cols = DefaultCols
	}
	return &Matrix{rng: &lockedRand{rng: rng}, rows: rows, cols: cols}
}

func (m *Matrix) Name() string      { return MatrixName }
func (m *Matrix) InputType() string { return "number" }
func (m *Matrix) InputHint() string { return "number of zeros" }

// Generate draws a fresh grid. The player id is not used.
func (m *Matrix) Generate(ctx context.Context, playerID string) (Fields, error) {
	lines := make([]string, m.rows)
	zeros := 0
	var b strings.Builder
	for r := 0; r < m.rows; r++ {
		b.Reset()
		for c := 0; c < m.cols; c++ {
			if m.rng.Intn(2) == 0 {
				b.WriteByte('0')
				zeros++
			} else {
				b.WriteByte('1')
			}
		}
		lines[r] = b.String()
	}
	return Fields{Text: strings.Join(lines, "\n"), Solution: strconv.Itoa(zeros)}, nil
}

// Render draws the grid and returns it as a PNG data URL under "image".
func (m *Matrix) Render(ctx context.Context, f Fields) (Encoding, error) {
	img, err := drawGrid(f.Text)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return Encoding{"image": "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())}, nil
}

// Grade compares the answer with the zero count as integers.
// A non-numeric answer is simply wrong.
func (m *Matrix) Grade(ctx context.Context, answer string, f Fields) (bool, error) {
	want, err := strconv.Atoi(f.Solution)
	if err != nil {
		return false, errors.New("matrix: stored solution is not a number")
	}
	got, err := strconv.Atoi(strings.TrimSpace(answer))
	if err != nil {
		return false, nil
	}
	return got == want, nil
}

func drawGrid(text string) (*image.Gray, error) {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, errors.New("matrix: empty grid")
	}
	cols := len(lines[0])
	cellW := glyphW*glyphScale + cellPadX
	cellH := glyphH*glyphScale + cellPadY
	w := 2*margin + cols*cellW - cellPadX
	h := 2*margin + len(lines)*cellH - cellPadY

	img := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: paper}, image.Point{}, draw.Src)

	for r, line := range lines {
		if len(line) != cols {
			return nil, errors.New("matrix: ragged grid")
		}
		for c, ch := range line {
			g, ok := glyphs[ch]
			if !ok {
				return nil, errors.New("matrix: unexpected digit " + strconv.QuoteRune(ch))
			}
			drawGlyph(img, g, margin+c*cellW, margin+r*cellH)
		}
	}
	return img, nil
}

func drawGlyph(img *image.Gray, g [glyphH]string, x0, y0 int) {
	for gy, row := range g {
		for gx := 0; gx < glyphW; gx++ {
			if row[gx] != '#' {
				continue
			}
			for dy := 0; dy < glyphScale; dy++ {
				for dx := 0; dx < glyphScale; dx++ {
					img.SetGray(x0+gx*glyphScale+dx, y0+gy*glyphScale+dy, ink)
				}
			}
		}
	}
}
