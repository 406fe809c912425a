// Package parser provides a YARA rule parser using participle.
package parser

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/sansecio/yarex/ast"
)

// Parser parses YARA rules.
type Parser struct {
	parser *participle.Parser[file]
}

// New creates a new YARA parser.
func New() (*Parser, error) {
	lex := lexer.MustStateful(lexer.Rules{
		"Common": {
			{Name: "LineComment", Pattern: `//[^\n]*`},
			{Name: "BlockComment", Pattern: `/\*(?:[^*]|\*[^/])*\*/`},
			{Name: "Whitespace", Pattern: `[\s]+`},
		},
		"Root": {
			{Name: "Import", Pattern: `\bimport\b`},
			{Name: "Private", Pattern: `\bprivate\b`},
			{Name: "Global", Pattern: `\bglobal\b`},
			{Name: "Rule", Pattern: `\brule\b`, Action: lexer.Push("RuleBody")},
			{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"`},
			lexer.Include("Common"),
		},
		"RuleBody": {
			{Name: "Meta", Pattern: `\bmeta\b`},
			{Name: "Strings", Pattern: `\bstrings\b`},
			{Name: "Condition", Pattern: `\bcondition\b`, Action: lexer.Push("ConditionExpr")},
			{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
			{Name: "LBrace", Pattern: `\{`},
			{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"`},
			{Name: "Int", Pattern: `-?[0-9]+`},
			{Name: "StringIdent", Pattern: `\$[a-zA-Z0-9_]*`, Action: lexer.Push("StringValue")},
			{Name: "Colon", Pattern: `:`},
			{Name: "Equals", Pattern: `=`},
			{Name: "RBrace", Pattern: `\}`, Action: lexer.Pop()},
			lexer.Include("Common"),
		},
		"StringValue": {
			{Name: "Equals", Pattern: `=`},
			lexer.Include("Common"),
			{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"`},
			{Name: "Regex", Pattern: `/(?:[^/\\]|\\.)+/[sim]*`},
			{Name: "HexOpen", Pattern: `\{`, Action: lexer.Push("HexString")},
			{Name: "Modifier", Pattern: `\b(base64wide|base64|fullword|wide|ascii|nocase|xor|private)\b`},
			{Name: "HexNum", Pattern: `0x[0-9A-Fa-f]+`},
			{Name: "Num", Pattern: `[0-9]+`},
			{Name: "LParen", Pattern: `\(`},
			{Name: "RParen", Pattern: `\)`},
			{Name: "Dash", Pattern: `-`},
			lexer.Return(),
		},
		"HexString": {
			{Name: "HexByte", Pattern: `[0-9A-Fa-f]{2}`},
			{Name: "HexWildcard", Pattern: `\?\?`},
			{Name: "HexNibble", Pattern: `[0-9A-Fa-f]\?|\?[0-9A-Fa-f]`},
			{Name: "HexJump", Pattern: `\[\s*\d*\s*(?:-\s*\d*\s*)?\]`},
			{Name: "LParen", Pattern: `\(`},
			{Name: "Pipe", Pattern: `\|`},
			{Name: "RParen", Pattern: `\)`},
			{Name: "HexClose", Pattern: `\}`, Action: lexer.Pop()},
			lexer.Include("Common"),
		},
		"ConditionExpr": {
			{Name: "Colon", Pattern: `:`},
			{Name: "CondLineComment", Pattern: `//[^\n]*`},
			{Name: "CondBlockComment", Pattern: `/\*(?:[^*]|\*[^/])*\*/`},
			{Name: "CondWhitespace", Pattern: `[\s]+`},
			{Name: "Regex", Pattern: `/(?:[^/\\]|\\.)+/[sim]*`},
			{Name: "StringPattern", Pattern: `\$[a-zA-Z0-9_]*\*`},
			{Name: "CondStringID", Pattern: `\$[a-zA-Z0-9_]*`},
			{Name: "CondCount", Pattern: `#[a-zA-Z0-9_]*`},
			{Name: "CondOffset", Pattern: `@[a-zA-Z0-9_]*`},
			{Name: "Neq", Pattern: `!=`},
			{Name: "CondLength", Pattern: `![a-zA-Z0-9_]*`},
			{Name: "Float", Pattern: `[0-9]+\.[0-9]+`},
			{Name: "HexInt", Pattern: `0x[0-9A-Fa-f]+`},
			{Name: "Octal", Pattern: `0o[0-7]+`},
			{Name: "CondInt", Pattern: `[0-9]+(?:KB|MB)?`},
			{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"`},
			{Name: "Range", Pattern: `\.\.`},
			{Name: "Dot", Pattern: `\.`},
			{Name: "Shl", Pattern: `<<`},
			{Name: "Shr", Pattern: `>>`},
			{Name: "Le", Pattern: `<=`},
			{Name: "Ge", Pattern: `>=`},
			{Name: "Eq", Pattern: `==`},
			{Name: "Lt", Pattern: `<`},
			{Name: "Gt", Pattern: `>`},
			{Name: "BitOr", Pattern: `\|`},
			{Name: "Caret", Pattern: `\^`},
			{Name: "Amp", Pattern: `&`},
			{Name: "Tilde", Pattern: `~`},
			{Name: "Percent", Pattern: `%`},
			{Name: "Plus", Pattern: `\+`},
			{Name: "Minus", Pattern: `-`},
			{Name: "Star", Pattern: `\*`},
			{Name: "Div", Pattern: `\\`},
			{Name: "CondIdent", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
			{Name: "LParen", Pattern: `\(`},
			{Name: "RParen", Pattern: `\)`},
			{Name: "LBracket", Pattern: `\[`},
			{Name: "RBracket", Pattern: `\]`},
			{Name: "Comma", Pattern: `,`},
			{Name: "RBrace", Pattern: `\}`, Action: lexer.Pop()},
		},
	})

	p, err := participle.Build[file](
		participle.Lexer(lex),
		participle.Elide("Whitespace", "LineComment", "BlockComment", "CondLineComment", "CondBlockComment", "CondWhitespace"),
		participle.UseLookahead(5),
	)
	if err != nil {
		return nil, fmt.Errorf("building parser: %w", err)
	}

	return &Parser{parser: p}, nil
}

// Parse parses YARA rules from a string.
func (p *Parser) Parse(input string) (*ast.RuleSet, error) {
	f, err := p.parser.ParseString("", input)
	if err != nil {
		return nil, wrapError(err)
	}
	return convertToAST(f)
}

// ParseFile parses YARA rules from a file.
func (p *Parser) ParseFile(filename string) (*ast.RuleSet, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	f, err := p.parser.ParseBytes(filename, content)
	if err != nil {
		return nil, wrapError(err)
	}
	return convertToAST(f)
}

func convertToAST(f *file) (*ast.RuleSet, error) {
	rs := &ast.RuleSet{Rules: make([]*ast.Rule, 0, len(f.Rules))}
	for _, imp := range f.Imports {
		rs.Imports = append(rs.Imports, unquoteString(imp.Path))
	}
	for _, r := range f.Rules {
		rule, err := convertRule(r)
		if err != nil {
			return nil, err
		}
		rs.Rules = append(rs.Rules, rule)
	}
	return rs, nil
}

func convertRule(r *ruleGrammar) (*ast.Rule, error) {
	rule := &ast.Rule{Name: r.Name, Tags: r.Tags}
	for _, m := range r.Modifiers {
		switch m {
		case "private":
			rule.Private = true
		case "global":
			rule.Global = true
		}
	}

	var seenMeta, seenStrings, seenCondition bool
	for _, sec := range r.Sections {
		switch {
		case sec.Meta != nil:
			if seenMeta {
				return nil, &ParseError{Expected: "single meta section", Found: fmt.Sprintf("duplicate meta in rule %q", r.Name)}
			}
			seenMeta = true
			for _, m := range sec.Meta.Entries {
				entry := &ast.MetaEntry{Key: m.Key}
				switch {
				case m.StringValue != nil:
					entry.Value = unquoteString(*m.StringValue)
				case m.IntValue != nil:
					entry.Value = *m.IntValue
				case m.BoolValue != nil:
					entry.Value = *m.BoolValue == "true"
				}
				rule.Meta = append(rule.Meta, entry)
			}

		case sec.Strings != nil:
			if seenStrings {
				return nil, &ParseError{Expected: "single strings section", Found: fmt.Sprintf("duplicate strings in rule %q", r.Name)}
			}
			seenStrings = true
			for _, s := range sec.Strings.Defs {
				def, err := convertStringDef(s)
				if err != nil {
					return nil, fmt.Errorf("rule %q: %w", r.Name, err)
				}
				rule.Strings = append(rule.Strings, def)
			}

		case sec.Condition != nil:
			if seenCondition {
				return nil, &ParseError{Expected: "single condition section", Found: fmt.Sprintf("duplicate condition in rule %q", r.Name)}
			}
			seenCondition = true
			cond, err := convertOrExpr(sec.Condition.Expr)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", r.Name, err)
			}
			rule.Condition = cond
		}
	}

	if !seenCondition {
		return nil, &ParseError{Expected: "condition section", Found: fmt.Sprintf("rule %q without condition", r.Name)}
	}

	return rule, nil
}

func convertStringDef(s *stringDefGrammar) (*ast.StringDef, error) {
	def := &ast.StringDef{Name: s.Name}

	for _, mod := range s.Modifiers {
		if err := applyModifier(def, mod); err != nil {
			return nil, fmt.Errorf("string %s: %w", s.Name, err)
		}
	}

	switch {
	case s.Text != nil:
		def.Value = ast.TextString{Value: unquoteString(*s.Text)}
	case s.Hex != nil:
		tokens, err := convertHexSeq(s.Hex)
		if err != nil {
			return nil, fmt.Errorf("string %s: %w", s.Name, err)
		}
		def.Value = ast.HexString{Tokens: tokens}
	case s.Regex != nil:
		pattern, mods := parseRegex(*s.Regex)
		def.Value = ast.RegexString{Pattern: pattern, Modifiers: mods}
	}

	return def, nil
}

func applyModifier(def *ast.StringDef, m *modifierGrammar) error {
	mods := &def.Modifiers
	switch m.Name {
	case "nocase":
		mods.Nocase = true
	case "wide":
		mods.Wide = true
	case "ascii":
		mods.Ascii = true
	case "fullword":
		mods.Fullword = true
	case "private":
		mods.Private = true
	case "xor":
		mods.Xor = true
		mods.XorMin, mods.XorMax = 0, 255
		if m.XorRange != nil {
			min, err := parseXorKey(m.XorRange.Min)
			if err != nil {
				return err
			}
			max := min
			if m.XorRange.Max != nil {
				if max, err = parseXorKey(*m.XorRange.Max); err != nil {
					return err
				}
			}
			if max < min {
				return fmt.Errorf("xor range %d-%d: lower bound exceeds upper", min, max)
			}
			mods.XorMin, mods.XorMax = byte(min), byte(max)
		}
	case "base64", "base64wide":
		if m.Name == "base64" {
			mods.Base64 = true
		} else {
			mods.Base64Wide = true
		}
		if m.Alphabet != nil {
			alpha := unquoteString(*m.Alphabet)
			if len(alpha) != 64 {
				return fmt.Errorf("base64 alphabet must be 64 bytes, got %d", len(alpha))
			}
			mods.Base64Alphabet = alpha
		}
	}
	if m.XorRange != nil && m.Name != "xor" {
		return fmt.Errorf("modifier %s does not take a range", m.Name)
	}
	if m.Alphabet != nil && m.Name != "base64" && m.Name != "base64wide" {
		return fmt.Errorf("modifier %s does not take an alphabet", m.Name)
	}
	return nil
}

func parseXorKey(s string) (int, error) {
	var v int64
	var err error
	if strings.HasPrefix(s, "0x") {
		v, err = strconv.ParseInt(s[2:], 16, 64)
	} else {
		v, err = strconv.ParseInt(s, 10, 64)
	}
	if err != nil {
		return 0, fmt.Errorf("parsing xor key %q: %w", s, err)
	}
	if v < 0 || v > 255 {
		return 0, fmt.Errorf("xor key %d out of range 0-255", v)
	}
	return int(v), nil
}

func convertHexSeq(h *hexSeqGrammar) ([]ast.HexToken, error) {
	tokens := make([]ast.HexToken, 0, len(h.Tokens))
	jumps := 0
	for _, t := range h.Tokens {
		switch {
		case t.Byte != nil:
			b, _ := strconv.ParseUint(*t.Byte, 16, 8)
			tokens = append(tokens, ast.HexByte{Value: byte(b)})
		case t.Wildcard:
			tokens = append(tokens, ast.HexWildcard{})
		case t.Nibble != nil:
			tokens = append(tokens, parseHexNibble(*t.Nibble))
		case t.Jump != nil:
			jump, err := parseHexJump(*t.Jump)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, jump)
			jumps++
		case t.Alt != nil:
			first, err := convertHexSeq(t.Alt.First)
			if err != nil {
				return nil, err
			}
			branches := [][]ast.HexToken{first}
			for _, b := range t.Alt.Rest {
				branch, err := convertHexSeq(b)
				if err != nil {
					return nil, err
				}
				branches = append(branches, branch)
			}
			tokens = append(tokens, ast.HexAlt{Branches: branches})
		}
	}
	// a sequence of only jumps matches everywhere with zero length
	if len(tokens) == jumps {
		return nil, fmt.Errorf("hex string needs at least one byte, nibble, wildcard or alternation")
	}
	return tokens, nil
}

func parseHexNibble(s string) ast.HexNibble {
	var n ast.HexNibble
	if s[0] != '?' {
		v := byte(hexDigit(s[0]))
		n.High = &v
	}
	if s[1] != '?' {
		v := byte(hexDigit(s[1]))
		n.Low = &v
	}
	return n
}

func hexDigit(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return 0
}

func parseRegex(s string) (string, ast.RegexModifiers) {
	s = s[1:]
	var mods ast.RegexModifiers
	if idx := strings.LastIndex(s, "/"); idx >= 0 {
		for _, c := range s[idx+1:] {
			switch c {
			case 'i':
				mods.CaseInsensitive = true
			case 's':
				mods.DotMatchesAll = true
			case 'm':
				mods.Multiline = true
			}
		}
		s = s[:idx]
	}
	return s, mods
}

func parseHexJump(s string) (ast.HexJump, error) {
	s = strings.Trim(s, "[] \t")
	if s == "" {
		return ast.HexJump{}, fmt.Errorf("empty jump []")
	}
	if s == "-" {
		return ast.HexJump{}, nil
	}
	if idx := strings.Index(s, "-"); idx >= 0 {
		var jump ast.HexJump
		if minStr := strings.TrimSpace(s[:idx]); minStr != "" {
			min, _ := strconv.Atoi(minStr)
			jump.Min = &min
		}
		if maxStr := strings.TrimSpace(s[idx+1:]); maxStr != "" {
			max, _ := strconv.Atoi(maxStr)
			jump.Max = &max
		}
		return jump, nil
	}
	n, _ := strconv.Atoi(s)
	return ast.HexJump{Min: &n, Max: &n}, nil
}

func unquoteString(s string) string {
	if len(s) < 2 {
		return s
	}
	s = s[1 : len(s)-1]

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '\\':
			b.WriteByte('\\')
		case '"':
			b.WriteByte('"')
		case 'x':
			if i+2 < len(s) {
				if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
					b.WriteByte(byte(v))
					i += 2
					continue
				}
			}
			b.WriteByte('\\')
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// Condition conversion functions

// reservedWords may not be used as plain identifiers in conditions.
var reservedWords = map[string]bool{
	"and": true, "or": true, "not": true, "at": true, "in": true, "of": true,
	"for": true, "all": true, "any": true, "none": true, "them": true,
	"true": true, "false": true, "filesize": true, "entrypoint": true,
	"contains": true, "startswith": true, "endswith": true, "matches": true,
	"rule": true, "meta": true, "strings": true, "condition": true,
	"import": true, "private": true, "global": true,
}

func convertOrExpr(e *condExpr) (ast.Expr, error) {
	if e == nil {
		return nil, fmt.Errorf("empty condition")
	}
	left, err := convertAndExpr(e.Left)
	if err != nil {
		return nil, err
	}
	for _, right := range e.Right {
		r, err := convertAndExpr(right)
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: "or", Left: left, Right: r}
	}
	return left, nil
}

func convertAndExpr(e *condAnd) (ast.Expr, error) {
	left, err := convertNotExpr(e.Left)
	if err != nil {
		return nil, err
	}
	for _, right := range e.Right {
		r, err := convertNotExpr(right)
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: "and", Left: left, Right: r}
	}
	return left, nil
}

func convertNotExpr(e *condNot) (ast.Expr, error) {
	expr, err := convertCmpExpr(e.Expr)
	if err != nil {
		return nil, err
	}
	for range e.Nots {
		expr = ast.UnaryExpr{Op: "not", Operand: expr}
	}
	return expr, nil
}

func convertCmpExpr(e *condCmp) (ast.Expr, error) {
	left, err := convertBitOr(e.Left)
	if err != nil {
		return nil, err
	}
	if e.Op != nil && e.Right != nil {
		right, err := convertBitOr(e.Right)
		if err != nil {
			return nil, err
		}
		return ast.BinaryExpr{Op: *e.Op, Left: left, Right: right}, nil
	}
	return left, nil
}

func convertBitOr(e *condBitOr) (ast.Expr, error) {
	left, err := convertBitXor(e.Left)
	if err != nil {
		return nil, err
	}
	for _, right := range e.Right {
		r, err := convertBitXor(right)
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: "|", Left: left, Right: r}
	}
	return left, nil
}

func convertBitXor(e *condBitXor) (ast.Expr, error) {
	left, err := convertBitAnd(e.Left)
	if err != nil {
		return nil, err
	}
	for _, right := range e.Right {
		r, err := convertBitAnd(right)
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: "^", Left: left, Right: r}
	}
	return left, nil
}

func convertBitAnd(e *condBitAnd) (ast.Expr, error) {
	left, err := convertShift(e.Left)
	if err != nil {
		return nil, err
	}
	for _, right := range e.Right {
		r, err := convertShift(right)
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: "&", Left: left, Right: r}
	}
	return left, nil
}

func convertShift(e *condShift) (ast.Expr, error) {
	left, err := convertAdd(e.Left)
	if err != nil {
		return nil, err
	}
	for _, rhs := range e.Rest {
		r, err := convertAdd(rhs.Expr)
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: rhs.Op, Left: left, Right: r}
	}
	return left, nil
}

func convertAdd(e *condAdd) (ast.Expr, error) {
	left, err := convertMul(e.Left)
	if err != nil {
		return nil, err
	}
	for _, rhs := range e.Rest {
		r, err := convertMul(rhs.Expr)
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: rhs.Op, Left: left, Right: r}
	}
	return left, nil
}

func convertMul(e *condMul) (ast.Expr, error) {
	left, err := convertUnary(e.Left)
	if err != nil {
		return nil, err
	}
	for _, rhs := range e.Rest {
		r, err := convertUnary(rhs.Expr)
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: rhs.Op, Left: left, Right: r}
	}
	return left, nil
}

func convertUnary(e *condUnary) (ast.Expr, error) {
	expr, err := convertPrimary(e.Primary)
	if err != nil {
		return nil, err
	}
	for i := len(e.Ops) - 1; i >= 0; i-- {
		expr = ast.UnaryExpr{Op: e.Ops[i], Operand: expr}
	}
	return expr, nil
}

func convertPrimary(p *condPrimary) (ast.Expr, error) {
	switch {
	case p.For != nil:
		return convertForExpr(p.For)

	case p.Of != nil:
		quant, err := convertQuant(&p.Of.Quant)
		if err != nil {
			return nil, err
		}
		return ast.OfExpr{Quant: quant, Set: convertSet(&p.Of.Set)}, nil

	case p.Paren != nil:
		inner, err := convertOrExpr(p.Paren)
		if err != nil {
			return nil, err
		}
		return ast.ParenExpr{Inner: inner}, nil

	case p.Func != nil:
		args := make([]ast.Expr, len(p.Func.Args))
		for i, arg := range p.Func.Args {
			a, err := convertOrExpr(arg)
			if err != nil {
				return nil, err
			}
			args[i] = a
		}
		return ast.FuncCall{Name: p.Func.Name, Args: args}, nil

	case p.StringExpr != nil:
		ref := ast.StringRef{Name: p.StringExpr.Name}
		switch {
		case p.StringExpr.At != nil:
			pos, err := convertAdd(p.StringExpr.At)
			if err != nil {
				return nil, err
			}
			return ast.AtExpr{Ref: ref, Pos: pos}, nil
		case p.StringExpr.In != nil:
			rng, err := convertRange(p.StringExpr.In)
			if err != nil {
				return nil, err
			}
			return ast.InExpr{Ref: ref, Range: rng}, nil
		}
		return ref, nil

	case p.Count != nil:
		c := ast.StringCount{Name: "$" + strings.TrimPrefix(p.Count.Name, "#")}
		if p.Count.Range != nil {
			rng, err := convertRange(p.Count.Range)
			if err != nil {
				return nil, err
			}
			c.Range = &rng
		}
		return c, nil

	case p.Offset != nil:
		o := ast.StringOffset{Name: "$" + strings.TrimPrefix(p.Offset.Name, "@")}
		if p.Offset.Index != nil {
			idx, err := convertOrExpr(p.Offset.Index)
			if err != nil {
				return nil, err
			}
			o.Index = idx
		}
		return o, nil

	case p.Length != nil:
		l := ast.StringLength{Name: "$" + strings.TrimPrefix(p.Length.Name, "!")}
		if p.Length.Index != nil {
			idx, err := convertOrExpr(p.Length.Index)
			if err != nil {
				return nil, err
			}
			l.Index = idx
		}
		return l, nil

	case p.Regex != nil:
		pattern, mods := parseRegex(*p.Regex)
		return ast.RegexLit{Pattern: pattern, Modifiers: mods}, nil

	case p.Float != nil:
		return ast.FloatLit{Value: *p.Float}, nil

	case p.HexInt != nil:
		v, err := strconv.ParseInt(strings.TrimPrefix(*p.HexInt, "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing hex int: %w", err)
		}
		return ast.IntLit{Value: v}, nil

	case p.Octal != nil:
		v, err := strconv.ParseInt(strings.TrimPrefix(*p.Octal, "0o"), 8, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing octal int: %w", err)
		}
		return ast.IntLit{Value: v}, nil

	case p.Int != nil:
		v, err := parseIntLit(*p.Int)
		if err != nil {
			return nil, err
		}
		return ast.IntLit{Value: v}, nil

	case p.Str != nil:
		return ast.StringLit{Value: unquoteString(*p.Str)}, nil

	case p.True:
		return ast.BoolLit{Value: true}, nil

	case p.False:
		return ast.BoolLit{Value: false}, nil

	case p.Filesize:
		return ast.Filesize{}, nil

	case p.Entrypoint:
		return ast.Entrypoint{}, nil

	case p.Ident != nil:
		if len(p.Ident.Parts) == 1 && reservedWords[p.Ident.Parts[0]] {
			return nil, &ParseError{Expected: "identifier", Found: p.Ident.Parts[0]}
		}
		return ast.Identifier{Parts: p.Ident.Parts}, nil
	}

	return nil, fmt.Errorf("unknown primary type")
}

func convertForExpr(f *condForExpr) (ast.Expr, error) {
	quant, err := convertQuant(&f.Quant)
	if err != nil {
		return nil, err
	}
	body, err := convertOrExpr(f.Body)
	if err != nil {
		return nil, err
	}

	if f.Var != nil {
		if reservedWords[*f.Var] {
			return nil, &ParseError{Expected: "loop variable", Found: *f.Var}
		}
		lo, err := convertOrExpr(f.Lo)
		if err != nil {
			return nil, err
		}
		hi, err := convertOrExpr(f.Hi)
		if err != nil {
			return nil, err
		}
		return ast.ForInExpr{
			Quant: quant,
			Var:   *f.Var,
			Range: ast.RangeExpr{Lo: lo, Hi: hi},
			Body:  body,
		}, nil
	}

	return ast.ForOfExpr{Quant: quant, Set: convertSet(f.Of), Body: body}, nil
}

func convertQuant(q *condQuant) (ast.Quantifier, error) {
	switch {
	case q.All:
		return ast.Quantifier{Kind: ast.QuantAll}, nil
	case q.Any:
		return ast.Quantifier{Kind: ast.QuantAny}, nil
	case q.None:
		return ast.Quantifier{Kind: ast.QuantNone}, nil
	case q.Percent != nil:
		v, err := parseIntLit(*q.Percent)
		if err != nil {
			return ast.Quantifier{}, err
		}
		if v < 0 || v > 100 {
			return ast.Quantifier{}, fmt.Errorf("percentage %d out of range", v)
		}
		return ast.Quantifier{Kind: ast.QuantPercent, Expr: ast.IntLit{Value: v}}, nil
	case q.N != nil:
		v, err := parseIntLit(*q.N)
		if err != nil {
			return ast.Quantifier{}, err
		}
		return ast.Quantifier{Kind: ast.QuantExpr, Expr: ast.IntLit{Value: v}}, nil
	}
	return ast.Quantifier{}, fmt.Errorf("unknown quantifier")
}

func convertSet(s *condSet) ast.StringSet {
	if s == nil || s.Them {
		return ast.StringSet{Them: true}
	}
	return ast.StringSet{Items: s.Items}
}

func convertRange(r *condRange) (ast.RangeExpr, error) {
	lo, err := convertOrExpr(r.Lo)
	if err != nil {
		return ast.RangeExpr{}, err
	}
	hi, err := convertOrExpr(r.Hi)
	if err != nil {
		return ast.RangeExpr{}, err
	}
	return ast.RangeExpr{Lo: lo, Hi: hi}, nil
}

func parseIntLit(s string) (int64, error) {
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "KB"):
		mult = 1 << 10
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "MB"):
		mult = 1 << 20
		s = strings.TrimSuffix(s, "MB")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing int %q: %w", s, err)
	}
	return v * mult, nil
}
