package trim

import "strconv"

// Rect is an axis-aligned box in PDF user space (y grows upward).
type Rect struct {
	LLX, LLY, URX, URY float64
}

// Width returns the horizontal extent.
func (r Rect) Width() float64 { return r.URX - r.LLX }

// Height returns the vertical extent.
func (r Rect) Height() float64 { return r.URY - r.LLY }

// bounds accumulates a union of rectangles.
type bounds struct {
	r  Rect
	ok bool
}

func (b *bounds) add(r Rect) {
	if !b.ok {
		b.r, b.ok = r, true
		return
	}
	b.r.LLX = min(b.r.LLX, r.LLX)
	b.r.LLY = min(b.r.LLY, r.LLY)
	b.r.URX = max(b.r.URX, r.URX)
	b.r.URY = max(b.r.URY, r.URY)
}

func (b *bounds) addPoint(x, y float64) {
	b.add(Rect{x, y, x, y})
}

// matrix is a PDF transformation [a b c d e f].
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// mul returns m × n: m is applied first.
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m matrix) apply(x, y float64) (float64, float64) {
	return x*m[0] + y*m[2] + m[4], x*m[1] + y*m[3] + m[5]
}

func (m matrix) rect(llx, lly, urx, ury float64) Rect {
	var b bounds
	for _, p := range [][2]float64{{llx, lly}, {urx, lly}, {llx, ury}, {urx, ury}} {
		b.addPoint(m.apply(p[0], p[1]))
	}
	return b.r
}

func translate(tx, ty float64) matrix { return matrix{1, 0, 0, 1, tx, ty} }

// Glyph boxes are estimated from the font size: no font metrics are read.
const (
	glyphWidth   = 0.5
	glyphAscent  = 1.0
	glyphDescent = 0.2
)

type graphicsState struct {
	ctm         matrix
	fillWhite   bool
	strokeWhite bool
}

type textState struct {
	tm, tlm  matrix
	fontSize float64
	leading  float64
	hscale   float64
	rise     float64
	mode     int
}

// scanner walks a content stream and records where ink lands.
type scanner struct {
	gs    graphicsState
	stack []graphicsState
	ts    textState

	path     bounds
	text     bounds
	drawings bounds

	res   Resources
	depth int
}

// maxFormDepth bounds form XObject nesting.
const maxFormDepth = 8

// XObject is a named external object drawn by the Do operator.
type XObject struct {
	// Form is false for images, which cover the unit square.
	Form bool
	// Content is the decoded content stream of a form.
	Content []byte
	// Matrix maps form space to the space of the invoking stream. The zero
	// value means identity.
	Matrix [6]float64
	// Resources of the form. Nil means the invoking stream's resources.
	Resources Resources
}

// Resources looks up the XObjects a content stream may draw.
type Resources interface {
	XObject(name string) (XObject, bool)
}

// ContentBounds estimates the box of visible text and drawings in a decoded
// page content stream. Paths painted white, invisible text and drawings no
// more than one unit wide or tall are ignored. ok is false when nothing
// visible was found. Every XObject counts as an image.
func ContentBounds(stream []byte) (Rect, bool) {
	return ContentBoundsWith(stream, nil)
}

// ContentBoundsWith is ContentBounds with form XObjects looked up in res and
// scanned under their matrix.
func ContentBoundsWith(stream []byte, res Resources) (Rect, bool) {
	s := &scanner{gs: graphicsState{ctm: identity}, res: res}
	s.ts.hscale = 1
	s.run(stream)

	var all bounds
	if s.text.ok {
		all.add(s.text.r)
	}
	if s.drawings.ok {
		all.add(s.drawings.r)
	}
	return all.r, all.ok
}

func (s *scanner) run(stream []byte) {
	lx := lexer{data: stream}
	var operands []token
	for {
		tok, done := lx.next()
		if done {
			return
		}
		if tok.kind != tokOperator {
			operands = append(operands, tok)
			continue
		}
		if tok.text == "ID" {
			lx.skipInlineImage()
			s.paintUnitSquare()
		} else {
			s.exec(tok.text, operands)
		}
		operands = operands[:0]
	}
}

// drawXObject paints the XObject named by the last operand. Forms are
// scanned in place; images and unresolved names cover the unit square.
func (s *scanner) drawXObject(ops []token) {
	n := len(ops)
	if s.res == nil || n == 0 || ops[n-1].kind != tokName {
		s.paintUnitSquare()
		return
	}
	x, ok := s.res.XObject(ops[n-1].text)
	if !ok || !x.Form {
		s.paintUnitSquare()
		return
	}
	if s.depth >= maxFormDepth {
		return
	}

	gs, stack, ts, path, res := s.gs, s.stack, s.ts, s.path, s.res
	m := matrix(x.Matrix)
	if m == (matrix{}) {
		m = identity
	}
	s.gs.ctm = m.mul(s.gs.ctm)
	s.stack = nil
	s.path = bounds{}
	if x.Resources != nil {
		s.res = x.Resources
	}
	s.depth++
	s.run(x.Content)
	s.depth--
	s.gs, s.stack, s.ts, s.path, s.res = gs, stack, ts, path, res
}

func nums(ops []token, n int) ([]float64, bool) {
	if len(ops) < n {
		return nil, false
	}
	out := make([]float64, n)
	for i, t := range ops[len(ops)-n:] {
		if t.kind != tokNumber {
			return nil, false
		}
		out[i] = t.num
	}
	return out, true
}

func (s *scanner) exec(op string, ops []token) {
	switch op {
	// graphics state
	case "q":
		s.stack = append(s.stack, s.gs)
	case "Q":
		if n := len(s.stack); n > 0 {
			s.gs = s.stack[n-1]
			s.stack = s.stack[:n-1]
		}
	case "cm":
		if v, ok := nums(ops, 6); ok {
			s.gs.ctm = matrix{v[0], v[1], v[2], v[3], v[4], v[5]}.mul(s.gs.ctm)
		}

	// colour
	case "g", "rg", "k", "sc", "scn":
		s.gs.fillWhite = isWhite(ops)
	case "G", "RG", "K", "SC", "SCN":
		s.gs.strokeWhite = isWhite(ops)
	case "cs":
		s.gs.fillWhite = false
	case "CS":
		s.gs.strokeWhite = false

	// path construction
	case "m", "l":
		if v, ok := nums(ops, 2); ok {
			s.pathPoint(v[0], v[1])
		}
	case "c":
		if v, ok := nums(ops, 6); ok {
			s.pathPoint(v[0], v[1])
			s.pathPoint(v[2], v[3])
			s.pathPoint(v[4], v[5])
		}
	case "v", "y":
		if v, ok := nums(ops, 4); ok {
			s.pathPoint(v[0], v[1])
			s.pathPoint(v[2], v[3])
		}
	case "re":
		if v, ok := nums(ops, 4); ok {
			s.pathPoint(v[0], v[1])
			s.pathPoint(v[0]+v[2], v[1]+v[3])
		}

	// path painting
	case "S", "s":
		s.paint(!s.gs.strokeWhite)
	case "f", "F", "f*":
		s.paint(!s.gs.fillWhite)
	case "B", "B*", "b", "b*":
		s.paint(!s.gs.fillWhite || !s.gs.strokeWhite)
	case "n":
		s.path = bounds{}
	case "Do":
		s.drawXObject(ops)

	// text
	case "BT":
		s.ts.tm, s.ts.tlm = identity, identity
	case "Tf":
		if v, ok := nums(ops, 1); ok {
			s.ts.fontSize = v[0]
		}
	case "TL":
		if v, ok := nums(ops, 1); ok {
			s.ts.leading = v[0]
		}
	case "Tz":
		if v, ok := nums(ops, 1); ok {
			s.ts.hscale = v[0] / 100
		}
	case "Ts":
		if v, ok := nums(ops, 1); ok {
			s.ts.rise = v[0]
		}
	case "Tr":
		if v, ok := nums(ops, 1); ok {
			s.ts.mode = int(v[0])
		}
	case "Td":
		if v, ok := nums(ops, 2); ok {
			s.moveText(v[0], v[1])
		}
	case "TD":
		if v, ok := nums(ops, 2); ok {
			s.ts.leading = -v[1]
			s.moveText(v[0], v[1])
		}
	case "Tm":
		if v, ok := nums(ops, 6); ok {
			m := matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
			s.ts.tm, s.ts.tlm = m, m
		}
	case "T*":
		s.moveText(0, -s.ts.leading)
	case "Tj":
		if n := len(ops); n > 0 && ops[n-1].kind == tokString {
			s.showText(float64(ops[n-1].glyphs), 0)
		}
	case "'", "\"":
		s.moveText(0, -s.ts.leading)
		if n := len(ops); n > 0 && ops[n-1].kind == tokString {
			s.showText(float64(ops[n-1].glyphs), 0)
		}
	case "TJ":
		if n := len(ops); n > 0 && ops[n-1].kind == tokArray {
			var glyphs, adjust float64
			for _, el := range ops[n-1].elems {
				switch el.kind {
				case tokString:
					glyphs += float64(el.glyphs)
				case tokNumber:
					adjust += el.num
				}
			}
			s.showText(glyphs, adjust)
		}
	}
}

func isWhite(ops []token) bool {
	var v []float64
	for _, t := range ops {
		if t.kind != tokNumber {
			// pattern or named colour
			return false
		}
		v = append(v, t.num)
	}
	switch len(v) {
	case 1, 3:
		for _, c := range v {
			if c < 0.999 {
				return false
			}
		}
		return true
	case 4:
		for _, c := range v {
			if c > 0.001 {
				return false
			}
		}
		return true
	}
	return false
}

func (s *scanner) pathPoint(x, y float64) {
	s.path.addPoint(s.gs.ctm.apply(x, y))
}

func (s *scanner) paint(visible bool) {
	if visible && s.path.ok {
		s.addDrawing(s.path.r)
	}
	s.path = bounds{}
}

func (s *scanner) paintUnitSquare() {
	s.addDrawing(s.gs.ctm.rect(0, 0, 1, 1))
}

func (s *scanner) addDrawing(r Rect) {
	if r.Width() > 1 && r.Height() > 1 {
		s.drawings.add(r)
	}
}

func (s *scanner) moveText(tx, ty float64) {
	s.ts.tlm = translate(tx, ty).mul(s.ts.tlm)
	s.ts.tm = s.ts.tlm
}

// showText records the box of n glyphs and advances the text matrix.
// adjust is the sum of TJ offsets in thousandths of a unit of text space.
func (s *scanner) showText(n, adjust float64) {
	fs := s.ts.fontSize
	width := (n*glyphWidth*fs - adjust/1000*fs) * s.ts.hscale
	if n > 0 && fs != 0 && s.ts.mode != 3 && s.ts.mode != 7 && !s.gs.fillWhite {
		trm := s.ts.tm.mul(s.gs.ctm)
		s.text.add(trm.rect(0, s.ts.rise-glyphDescent*fs, width, s.ts.rise+glyphAscent*fs))
	}
	s.ts.tm = translate(width, 0).mul(s.ts.tm)
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokName
	tokString
	tokArray
	tokOperator
)

type token struct {
	kind   tokenKind
	text   string
	num    float64
	glyphs int
	elems  []token
}

// lexer splits a content stream into operands and operators.
type lexer struct {
	data []byte
	pos  int
}

func isSpace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		switch {
		case isSpace(c):
			l.pos++
		case c == '%':
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
		default:
			return
		}
	}
}

// next returns the next token; done is true at the end of the stream.
func (l *lexer) next() (token, bool) {
	for {
		l.skipSpace()
		if l.pos >= len(l.data) {
			return token{}, true
		}
		c := l.data[l.pos]
		switch {
		case c == '(':
			l.pos++
			return token{kind: tokString, glyphs: l.literalString()}, false
		case c == '<' && l.peek(1) == '<':
			l.pos += 2
			l.skipDict()
			continue
		case c == '<':
			l.pos++
			return token{kind: tokString, glyphs: l.hexString()}, false
		case c == '[':
			l.pos++
			return token{kind: tokArray, elems: l.array()}, false
		case c == ']' || c == '>' || c == ')' || c == '{' || c == '}':
			l.pos++
			continue
		case c == '/':
			l.pos++
			return token{kind: tokName, text: l.regular()}, false
		default:
			word := l.regular()
			if word == "" {
				l.pos++
				continue
			}
			if f, err := strconv.ParseFloat(word, 64); err == nil && isNumberStart(word[0]) {
				return token{kind: tokNumber, num: f}, false
			}
			return token{kind: tokOperator, text: word}, false
		}
	}
}

func isNumberStart(c byte) bool {
	return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9')
}

func (l *lexer) peek(off int) byte {
	if l.pos+off < len(l.data) {
		return l.data[l.pos+off]
	}
	return 0
}

func (l *lexer) regular() string {
	start := l.pos
	for l.pos < len(l.data) && !isSpace(l.data[l.pos]) && !isDelim(l.data[l.pos]) {
		l.pos++
	}
	return string(l.data[start:l.pos])
}

// literalString consumes a (...) string and returns its decoded length.
func (l *lexer) literalString() int {
	depth, n := 1, 0
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '\\':
			if l.pos >= len(l.data) {
				return n
			}
			e := l.data[l.pos]
			l.pos++
			switch {
			case e == '\r':
				if l.pos < len(l.data) && l.data[l.pos] == '\n' {
					l.pos++
				}
			case e == '\n':
			case e >= '0' && e <= '7':
				for i := 0; i < 2 && l.pos < len(l.data) && l.data[l.pos] >= '0' && l.data[l.pos] <= '7'; i++ {
					l.pos++
				}
				n++
			default:
				n++
			}
		case '(':
			depth++
			n++
		case ')':
			depth--
			if depth == 0 {
				return n
			}
			n++
		default:
			n++
		}
	}
	return n
}

// hexString consumes a <...> string and returns its decoded length.
func (l *lexer) hexString() int {
	digits := 0
	for l.pos < len(l.data) && l.data[l.pos] != '>' {
		if !isSpace(l.data[l.pos]) {
			digits++
		}
		l.pos++
	}
	l.pos++
	return (digits + 1) / 2
}

func (l *lexer) array() []token {
	var elems []token
	for {
		l.skipSpace()
		if l.pos >= len(l.data) {
			return elems
		}
		if l.data[l.pos] == ']' {
			l.pos++
			return elems
		}
		tok, done := l.next()
		if done {
			return elems
		}
		elems = append(elems, tok)
	}
}

func (l *lexer) skipDict() {
	depth := 1
	for l.pos < len(l.data) && depth > 0 {
		switch {
		case l.data[l.pos] == '(':
			l.pos++
			l.literalString()
		case l.data[l.pos] == '<' && l.peek(1) == '<':
			l.pos += 2
			depth++
		case l.data[l.pos] == '>' && l.peek(1) == '>':
			l.pos += 2
			depth--
		default:
			l.pos++
		}
	}
}

// skipInlineImage moves past the binary data of an inline image to its EI.
func (l *lexer) skipInlineImage() {
	if l.pos < len(l.data) && isSpace(l.data[l.pos]) {
		l.pos++
	}
	for i := l.pos; i+1 < len(l.data); i++ {
		if l.data[i] == 'E' && l.data[i+1] == 'I' &&
			(i == 0 || isSpace(l.data[i-1])) &&
			(i+2 >= len(l.data) || isSpace(l.data[i+2]) || isDelim(l.data[i+2])) {
			l.pos = i + 2
			return
		}
	}
	l.pos = len(l.data)
}
