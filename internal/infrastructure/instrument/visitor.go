package instrument

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/token"

	"github.com/nmalaguti/karma-coverage/internal/domain"
)

// insertion is text spliced into the source at a byte offset. At one offset,
// closing text goes before opening text; closes run newest first and opens
// oldest first. Every wrap registers its close before its open and before
// visiting its children, which keeps nested wraps balanced.
type insertion struct {
	offset int
	text   string
	close  bool
	seq    int
}

func sortInsertions(ins []insertion) {
	sort.SliceStable(ins, func(i, j int) bool {
		a, b := ins[i], ins[j]
		if a.offset != b.offset {
			return a.offset < b.offset
		}
		if a.close != b.close {
			return a.close
		}
		if a.close {
			return a.seq > b.seq
		}
		return a.seq < b.seq
	})
}

// visitor walks a program, records the coverage record and the counter
// insertions.
type visitor struct {
	src     string
	base    int
	counter string
	lines   *lineIndex
	rec     *domain.FileCoverage

	inserts   []insertion
	seq       int
	stmts     int
	fns       int
	branches  int
	anonymous int
}

func newVisitor(src string, base int, counter, path string) *visitor {
	return &visitor{
		src:     src,
		base:    base,
		counter: counter,
		lines:   newLineIndex(src),
		rec:     domain.NewFileCoverage(path),
	}
}

func (v *visitor) off(idx file.Idx) int {
	return int(idx) - v.base
}

func (v *visitor) insert(offset int, text string, close bool) {
	v.seq++
	v.inserts = append(v.inserts, insertion{offset: offset, text: text, close: close, seq: v.seq})
}

func (v *visitor) rng(start, end int) domain.Range {
	return domain.Range{Start: v.lines.position(start), End: v.lines.position(end)}
}

func (v *visitor) newStatement(start, end int) string {
	v.stmts++
	id := strconv.Itoa(v.stmts)
	v.rec.StatementMap[id] = v.rng(start, end)
	v.rec.S[id] = 0
	return id
}

func (v *visitor) newFunction(name string, start, end int) string {
	v.fns++
	id := strconv.Itoa(v.fns)
	if name == "" {
		v.anonymous++
		name = fmt.Sprintf("(anonymous_%d)", v.anonymous)
	}
	loc := v.rng(start, end)
	v.rec.FnMap[id] = domain.FunctionMapping{Name: name, Line: loc.Start.Line, Loc: loc}
	v.rec.F[id] = 0
	return id
}

func (v *visitor) newBranch(kind string, line int, locs []domain.Range) string {
	v.branches++
	id := strconv.Itoa(v.branches)
	v.rec.BranchMap[id] = domain.BranchMapping{Line: line, Type: kind, Locations: locs}
	v.rec.B[id] = make([]int, len(locs))
	return id
}

func (v *visitor) stmtCounter(id string) string {
	return fmt.Sprintf("%s.s['%s']++; ", v.counter, id)
}

func (v *visitor) fnCounter(id string) string {
	return fmt.Sprintf("%s.f['%s']++; ", v.counter, id)
}

func (v *visitor) branchCounter(id string, arm int) string {
	return fmt.Sprintf("%s.b['%s'][%d]++", v.counter, id, arm)
}

func (v *visitor) program(p *ast.Program) {
	v.statements(p.Body)
}

// statements visits a statement list, skipping the directive prologue.
func (v *visitor) statements(list []ast.Statement) {
	prologue := true
	for _, s := range list {
		if prologue && isDirective(s) {
			continue
		}
		prologue = false
		v.statement(s, true)
	}
}

func isDirective(s ast.Statement) bool {
	es, ok := s.(*ast.ExpressionStatement)
	if !ok {
		return false
	}
	_, ok = es.Expression.(*ast.StringLiteral)
	return ok
}

// afterDirectives returns the offset just past the directive prologue of a
// block, or just past its opening brace.
func (v *visitor) afterDirectives(b *ast.BlockStatement) int {
	pos := v.off(b.LeftBrace) + 1
	for _, s := range b.List {
		if !isDirective(s) {
			break
		}
		pos = v.endOf(s)
	}
	return pos
}

// statement records s and its children. counted is false for the body of a
// label, where a counter would detach the label from its loop.
func (v *visitor) statement(s ast.Statement, counted bool) {
	switch s.(type) {
	case *ast.EmptyStatement, *ast.BadStatement:
		return
	case *ast.BlockStatement:
		v.statements(s.(*ast.BlockStatement).List)
		return
	}

	if counted {
		start := v.startOf(s)
		id := v.newStatement(start, v.endOf(s))
		v.insert(start, v.stmtCounter(id), false)
	}

	switch s := s.(type) {
	case *ast.ExpressionStatement:
		v.expression(s.Expression)
	case *ast.VariableStatement:
		v.bindings(s.List)
	case *ast.LexicalDeclaration:
		v.bindings(s.List)
	case *ast.ReturnStatement:
		v.expression(s.Argument)
	case *ast.ThrowStatement:
		v.expression(s.Argument)
	case *ast.FunctionDeclaration:
		v.function(s.Function)
	case *ast.IfStatement:
		v.ifStatement(s)
	case *ast.ForStatement:
		v.expression(s.Test)
		v.expression(s.Update)
		v.body(s.Body)
	case *ast.ForInStatement:
		v.expression(s.Source)
		v.body(s.Body)
	case *ast.ForOfStatement:
		v.expression(s.Source)
		v.body(s.Body)
	case *ast.WhileStatement:
		v.expression(s.Test)
		v.body(s.Body)
	case *ast.DoWhileStatement:
		v.body(s.Body)
		v.expression(s.Test)
	case *ast.WithStatement:
		v.expression(s.Object)
		v.body(s.Body)
	case *ast.LabelledStatement:
		v.statement(s.Statement, false)
	case *ast.TryStatement:
		v.statements(s.Body.List)
		if s.Catch != nil && s.Catch.Body != nil {
			v.statements(s.Catch.Body.List)
		}
		if s.Finally != nil {
			v.statements(s.Finally.List)
		}
	case *ast.SwitchStatement:
		v.expression(s.Discriminant)
		for _, c := range s.Body {
			v.expression(c.Test)
			v.statements(c.Consequent)
		}
	}
}

// body visits a loop body, wrapping a single statement in braces.
func (v *visitor) body(s ast.Statement) {
	if b, ok := s.(*ast.BlockStatement); ok {
		v.statements(b.List)
		return
	}
	v.wrap(s, "")
}

// wrap puts braces around a single statement so counters can precede it.
// prefix is emitted right after the opening brace.
func (v *visitor) wrap(s ast.Statement, prefix string) {
	start := v.startOf(s)
	v.insert(v.endOf(s), " }", true)
	v.insert(start, "{ ", false)
	if prefix != "" {
		v.insert(start, prefix, false)
	}
	v.statement(s, true)
}

func (v *visitor) ifStatement(s *ast.IfStatement) {
	start := v.startOf(s)
	consEnd := v.endOf(s.Consequent)
	locs := []domain.Range{v.rng(v.startOf(s.Consequent), consEnd)}
	if s.Alternate != nil {
		locs = append(locs, v.rng(v.startOf(s.Alternate), v.endOf(s.Alternate)))
	} else {
		locs = append(locs, v.rng(start, consEnd))
	}
	id := v.newBranch("if", v.lines.position(start).Line, locs)

	v.expression(s.Test)

	if s.Alternate == nil {
		// Registered before the consequent so it lands after any wrap.
		v.insert(consEnd, fmt.Sprintf(" else { %s; }", v.branchCounter(id, 1)), true)
	}
	v.arm(s.Consequent, id, 0)
	if s.Alternate != nil {
		v.arm(s.Alternate, id, 1)
	}
}

func (v *visitor) arm(s ast.Statement, id string, n int) {
	counter := v.branchCounter(id, n) + "; "
	if b, ok := s.(*ast.BlockStatement); ok {
		v.insert(v.off(b.LeftBrace)+1, counter, false)
		v.statements(b.List)
		return
	}
	v.wrap(s, counter)
}

func (v *visitor) bindings(list []*ast.Binding) {
	for _, b := range list {
		if b != nil {
			v.expression(b.Initializer)
		}
	}
}

func (v *visitor) function(fn *ast.FunctionLiteral) {
	if fn == nil || fn.Body == nil {
		return
	}
	name := ""
	if fn.Name != nil {
		name = string(fn.Name.Name)
	}
	id := v.newFunction(name, v.off(fn.Idx0()), v.off(fn.Idx1()))
	v.insert(v.afterDirectives(fn.Body), v.fnCounter(id), false)
	v.statements(fn.Body.List)
}

func (v *visitor) arrow(fn *ast.ArrowFunctionLiteral) {
	id := v.newFunction("", v.off(fn.Idx0()), v.off(fn.Idx1()))
	switch body := fn.Body.(type) {
	case *ast.BlockStatement:
		v.insert(v.afterDirectives(body), v.fnCounter(id), false)
		v.statements(body.List)
	case *ast.ExpressionBody:
		start, end := v.off(body.Expression.Idx0()), v.off(body.Expression.Idx1())
		stmt := v.newStatement(start, end)
		v.insert(end, ")", true)
		v.insert(start, fmt.Sprintf("(%s.f['%s']++, %s.s['%s']++, ", v.counter, id, v.counter, stmt), false)
		v.expression(body.Expression)
	}
}

func (v *visitor) expression(e ast.Expression) {
	switch e := e.(type) {
	case nil:
	case *ast.FunctionLiteral:
		v.function(e)
	case *ast.ArrowFunctionLiteral:
		v.arrow(e)
	case *ast.BinaryExpression:
		if isLogical(e.Operator) {
			v.logical(e)
			return
		}
		v.expression(e.Left)
		v.expression(e.Right)
	case *ast.ConditionalExpression:
		v.conditional(e)
	case *ast.CallExpression:
		v.expression(e.Callee)
		v.expressions(e.ArgumentList)
	case *ast.NewExpression:
		v.expression(e.Callee)
		v.expressions(e.ArgumentList)
	case *ast.AssignExpression:
		v.expression(e.Left)
		v.expression(e.Right)
	case *ast.SequenceExpression:
		v.expressions(e.Sequence)
	case *ast.UnaryExpression:
		v.expression(e.Operand)
	case *ast.DotExpression:
		v.expression(e.Left)
	case *ast.BracketExpression:
		v.expression(e.Left)
		v.expression(e.Member)
	case *ast.ArrayLiteral:
		v.expressions(e.Value)
	case *ast.ObjectLiteral:
		for _, p := range e.Value {
			if kv, ok := p.(*ast.PropertyKeyed); ok {
				v.expression(kv.Value)
			}
		}
	}
}

func (v *visitor) expressions(list []ast.Expression) {
	for _, e := range list {
		v.expression(e)
	}
}

func isLogical(op token.Token) bool {
	return op == token.LOGICAL_AND || op == token.LOGICAL_OR || op == token.COALESCE
}

// logical records one branch per chain of logical operators, with one arm
// per leaf operand.
func (v *visitor) logical(e *ast.BinaryExpression) {
	var leaves []ast.Expression
	var collect func(ast.Expression)
	collect = func(x ast.Expression) {
		if b, ok := x.(*ast.BinaryExpression); ok && isLogical(b.Operator) {
			collect(b.Left)
			collect(b.Right)
			return
		}
		leaves = append(leaves, x)
	}
	collect(e)

	locs := make([]domain.Range, len(leaves))
	for i, leaf := range leaves {
		locs[i] = v.rng(v.off(leaf.Idx0()), v.off(leaf.Idx1()))
	}
	id := v.newBranch("binary-expr", locs[0].Start.Line, locs)
	for i, leaf := range leaves {
		v.armExpression(leaf, id, i)
	}
}

func (v *visitor) conditional(e *ast.ConditionalExpression) {
	v.expression(e.Test)
	locs := []domain.Range{
		v.rng(v.off(e.Consequent.Idx0()), v.off(e.Consequent.Idx1())),
		v.rng(v.off(e.Alternate.Idx0()), v.off(e.Alternate.Idx1())),
	}
	id := v.newBranch("cond-expr", v.lines.position(v.off(e.Idx0())).Line, locs)
	v.armExpression(e.Consequent, id, 0)
	v.armExpression(e.Alternate, id, 1)
}

func (v *visitor) armExpression(e ast.Expression, id string, n int) {
	v.insert(v.off(e.Idx1()), ")", true)
	v.insert(v.off(e.Idx0()), "("+v.branchCounter(id, n)+", ", false)
	v.expression(e)
}

// endOf returns the end offset of s, including the semicolon that
// terminates simple statements.
func (v *visitor) endOf(s ast.Statement) int {
	switch s := s.(type) {
	case *ast.IfStatement:
		if s.Alternate != nil {
			return v.endOf(s.Alternate)
		}
		return v.endOf(s.Consequent)
	case *ast.ForStatement:
		return v.endOf(s.Body)
	case *ast.ForInStatement:
		return v.endOf(s.Body)
	case *ast.ForOfStatement:
		return v.endOf(s.Body)
	case *ast.WhileStatement:
		return v.endOf(s.Body)
	case *ast.WithStatement:
		return v.endOf(s.Body)
	case *ast.LabelledStatement:
		return v.endOf(s.Statement)
	case *ast.ExpressionStatement:
		_, n := v.openParens(v.off(s.Idx0()))
		return v.skipSemicolon(v.closeParens(v.off(s.Idx1()), n))
	case *ast.VariableStatement, *ast.LexicalDeclaration,
		*ast.ReturnStatement, *ast.ThrowStatement, *ast.BranchStatement,
		*ast.DoWhileStatement, *ast.DebuggerStatement:
		return v.skipSemicolon(v.off(s.Idx1()))
	}
	return v.off(s.Idx1())
}

// startOf returns the start offset of s. Expression statements are widened
// over leading parentheses, which the AST does not keep.
func (v *visitor) startOf(s ast.Statement) int {
	switch s := s.(type) {
	case *ast.ExpressionStatement:
		start, _ := v.openParens(v.off(s.Idx0()))
		return start
	case *ast.IfStatement:
		// The parser leaves IfStatement.If unset.
		return v.keywordBefore("if", v.off(s.Test.Idx0()))
	}
	return v.off(s.Idx0())
}

// keywordBefore finds kw ahead of a statement header that starts at offset,
// skipping the parentheses and whitespace between them.
func (v *visitor) keywordBefore(kw string, offset int) int {
	start, _ := v.openParens(offset)
	j := start
	for j > 0 && isSpace(v.src[j-1]) {
		j--
	}
	if j >= len(kw) && v.src[j-len(kw):j] == kw {
		return j - len(kw)
	}
	// Comments between the keyword and the header.
	if i := strings.LastIndex(v.src[:start], kw); i >= 0 {
		return i
	}
	return start
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

func (v *visitor) openParens(start int) (int, int) {
	n := 0
	for j := start - 1; j >= 0; j-- {
		switch v.src[j] {
		case ' ', '\t', '\r', '\n':
			continue
		case '(':
			n++
			start = j
			continue
		}
		break
	}
	return start, n
}

func (v *visitor) closeParens(end, n int) int {
	for i := end; i < len(v.src) && n > 0; i++ {
		switch v.src[i] {
		case ' ', '\t', '\r', '\n':
		case ')':
			n--
			end = i + 1
		default:
			return end
		}
	}
	return end
}

func (v *visitor) skipSemicolon(end int) int {
	i := end
	for i < len(v.src) {
		switch v.src[i] {
		case ' ', '\t', '\r', '\n':
			i++
			continue
		case ';':
			return i + 1
		}
		break
	}
	return end
}

// lineIndex converts byte offsets to 1-based lines and UTF-16 columns.
type lineIndex struct {
	src    string
	starts []int
}

func newLineIndex(src string) *lineIndex {
	starts := []int{0}
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &lineIndex{src: src, starts: starts}
}

func (l *lineIndex) position(offset int) domain.Position {
	offset = max(0, min(offset, len(l.src)))
	line := sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > offset }) - 1
	if line < 0 {
		line = 0
	}
	return domain.Position{Line: line + 1, Column: utf16Len(l.src[l.starts[line]:offset])}
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r == utf8.RuneError {
			n++
			continue
		}
		n += utf16.RuneLen(r)
	}
	return n
}
