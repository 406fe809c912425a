package scanner

import (
	"context"
	"os"
	"time"

	"github.com/sansecio/yarex/matcher"
	"github.com/sansecio/yarex/vm"
)

// ScanOptions configures one scan invocation.
type ScanOptions struct {
	Flags   ScanFlags
	Timeout time.Duration

	// Externals are the values behind bare identifiers in conditions.
	Externals map[string]vm.Value

	// Modules maps module names (pe, elf, ...) to their accessors.
	// Fields of unregistered modules evaluate to Undefined.
	Modules map[string]vm.ModuleAccessor

	// StepBudget bounds bytecode steps per rule; <= 0 uses the default.
	StepBudget int

	// OnFault, when set, receives per-rule runtime faults (step limit,
	// module accessor failure). The faulted rule counts as a non-match
	// either way.
	OnFault func(rule string, err error)
}

// ScanMem scans a byte buffer for matching rules.
func (r *Rules) ScanMem(buf []byte, flags ScanFlags, timeout time.Duration, cb ScanCallback) error {
	return r.ScanMemWithOptions(buf, ScanOptions{Flags: flags, Timeout: timeout}, cb)
}

// ScanFile scans a file's contents for matching rules.
func (r *Rules) ScanFile(path string, flags ScanFlags, timeout time.Duration, cb ScanCallback) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return r.ScanMem(buf, flags, timeout, cb)
}

// ScanMemWithOptions scans a byte buffer with full control over
// externals, modules and resource limits.
//
// Every rule is evaluated against the shared match table. Private rules
// evaluate but are never reported. A global rule that does not match
// suppresses every match of the scan.
func (r *Rules) ScanMemWithOptions(buf []byte, opts ScanOptions, cb ScanCallback) error {
	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	table := r.matcher.Scan(buf)
	sctx := &vm.ScanContext{
		Data:      buf,
		Matches:   table,
		Externals: opts.Externals,
		Modules:   opts.Modules,
	}

	var matched []*compiledRule
	for _, cr := range r.rules {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res := vm.Eval(cr.program.Code, r.regexes, sctx, opts.StepBudget)
		if res.Status == vm.Faulted && opts.OnFault != nil {
			opts.OnFault(cr.name, res.Err)
		}
		if res.Status != vm.Matched {
			if cr.global {
				return nil // a failed global rule voids the whole scan
			}
			continue
		}
		if !cr.private {
			matched = append(matched, cr)
		}
	}

	for _, cr := range matched {
		abort, err := cb.RuleMatching(r.matchRule(cr, buf, table))
		if err != nil {
			return err
		}
		if abort {
			return nil
		}
	}
	return nil
}

func (r *Rules) matchRule(cr *compiledRule, buf []byte, table matcher.MatchTable) *MatchRule {
	mr := &MatchRule{
		Rule:  cr.name,
		Tags:  cr.tags,
		Metas: cr.metas,
	}
	for _, ref := range cr.patterns {
		for _, m := range table[ref.ID] {
			mr.Strings = append(mr.Strings, MatchString{
				Name:   ref.Name,
				Offset: int64(m.Offset),
				Length: m.Length,
				Data:   buf[m.Offset : m.Offset+m.Length],
			})
		}
	}
	return mr
}
