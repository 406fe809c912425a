package scanner

import (
	"errors"
	"fmt"

	"github.com/sansecio/yarex/ast"
	"github.com/sansecio/yarex/compiler"
	"github.com/sansecio/yarex/matcher"
	"github.com/sansecio/yarex/parser"
)

// ImportResolver vets import statements at compile time. Field values
// are still resolved at scan time through the module accessor map; the
// resolver only decides whether the import is known at all.
type ImportResolver interface {
	Resolve(name string) error
}

// CompileOptions configures compilation behavior.
type CompileOptions struct {
	// Imports vets import statements. Nil accepts every import.
	Imports ImportResolver
}

// Compile compiles rule source text into Rules ready for scanning.
func Compile(src string) (*Rules, error) {
	return CompileWithOptions(src, CompileOptions{})
}

// CompileWithOptions compiles rule source text with the given options.
func CompileWithOptions(src string, opts CompileOptions) (*Rules, error) {
	p, err := parser.New()
	if err != nil {
		return nil, err
	}
	rs, err := p.Parse(src)
	if err != nil {
		return nil, err
	}
	return CompileAST(rs, opts)
}

// CompileAST compiles an already parsed ruleset.
func CompileAST(rs *ast.RuleSet, opts CompileOptions) (*Rules, error) {
	if opts.Imports != nil {
		for _, imp := range rs.Imports {
			if err := opts.Imports.Resolve(imp); err != nil {
				return nil, fmt.Errorf("import %q: %w", imp, err)
			}
		}
	}

	c := compiler.New()
	rules := &Rules{}
	var patterns []*matcher.Pattern

	for _, r := range rs.Rules {
		refs := make([]compiler.PatternRef, 0, len(r.Strings))
		for _, s := range r.Strings {
			mp, err := matcherPattern(s, len(patterns))
			if err != nil {
				return nil, &compiler.Error{Kind: compiler.TypeMismatch, Rule: r.Name, Detail: err.Error()}
			}
			patterns = append(patterns, mp)
			refs = append(refs, compiler.PatternRef{Name: s.Name, ID: mp.ID})
		}

		prog, err := c.CompileRule(r, refs)
		if err != nil {
			return nil, err
		}

		cr := &compiledRule{
			name:     r.Name,
			tags:     r.Tags,
			metas:    make([]Meta, len(r.Meta)),
			private:  r.Private,
			global:   r.Global,
			program:  prog,
			patterns: refs,
		}
		for i, m := range r.Meta {
			cr.metas[i] = Meta{Identifier: m.Key, Value: m.Value}
		}
		rules.rules = append(rules.rules, cr)
	}

	m, err := matcher.New(patterns)
	if err != nil {
		var me *matcher.ModifierError
		if errors.As(err, &me) {
			return nil, &compiler.Error{Kind: compiler.InvalidModifierCombination, Detail: me.Error()}
		}
		return nil, err
	}
	rules.matcher = m
	rules.regexes = c.Regexes()
	rules.numPatterns = len(patterns)
	return rules, nil
}

func matcherPattern(s *ast.StringDef, id int) (*matcher.Pattern, error) {
	p := &matcher.Pattern{
		ID:   id,
		Name: s.Name,
		Mods: s.Modifiers,
	}
	switch v := s.Value.(type) {
	case ast.TextString:
		p.Kind = matcher.KindText
		p.Text = []byte(v.Value)
	case ast.HexString:
		p.Kind = matcher.KindHex
		p.Hex = v.Tokens
	case ast.RegexString:
		p.Kind = matcher.KindRegex
		p.Regex = v.Pattern
		p.RegexMods = v.Modifiers
	default:
		return nil, fmt.Errorf("string %s has no value", s.Name)
	}
	return p, nil
}
