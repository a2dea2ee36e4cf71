package parser

import (
	"os"
	"path/filepath"
)

// FrequencyAccumulator receives the text of every .encoded string found
// while preprocessing, so the string-table stage can build its
// compression tree before any string is actually emitted. Defined here
// rather than imported from the stringtable package to keep parser free
// of a dependency on it; stringtable.Table implements this interface.
type FrequencyAccumulator interface {
	AddString(s string)
}

// Preprocessor walks a token stream once, splicing in the contents of
// .include files in place and feeding .encoded string literals to a
// FrequencyAccumulator. Everything else — directives, labels, mnemonics
// — passes through untouched; the preprocessor's only job is to make the
// token stream self-contained and to gather the frequency data the
// string-table builder needs.
type Preprocessor struct {
	baseDir string
	open    map[string]bool // files currently being included, for cycle detection
	errs    *ErrorList
	freq    FrequencyAccumulator
}

func NewPreprocessor(baseDir string, freq FrequencyAccumulator, errs *ErrorList) *Preprocessor {
	if baseDir == "" {
		baseDir = "."
	}
	return &Preprocessor{baseDir: baseDir, open: make(map[string]bool), errs: errs, freq: freq}
}

// Process runs the preprocessor over list in place. rootFile is pushed
// onto the open-include set for the duration, so a root file that
// includes itself, directly or indirectly, is caught the same way a
// deeper cycle would be.
func (p *Preprocessor) Process(list *TokenList, rootFile string) {
	if abs, err := filepath.Abs(filepath.Join(p.baseDir, rootFile)); err == nil {
		p.open[abs] = true
		defer delete(p.open, abs)
	}
	p.processRange(list, list.Head, nil)
}

// processRange walks list from start up to, but not including, stop. A
// nil stop means "walk to the end of the list". Splicing an .include's
// contents in is handled by recursing over exactly the spliced range
// before continuing the outer walk, so the include-cycle tracking in
// p.open is scoped correctly: it closes as soon as every token belonging
// to that file (and anything it itself includes) has been processed.
func (p *Preprocessor) processRange(list *TokenList, start, stop *Token) {
	for t := start; t != nil && t != stop; {
		switch {
		case t.Kind == TokDirective && t.Literal == "include":
			t = p.spliceInclude(list, t)
		case t.Kind == TokDirective && t.Literal == "encoded":
			t = p.collectEncoded(t)
		default:
			t = t.Next
		}
	}
}

// spliceInclude expects ".include" to be followed by a string token
// naming the file, then replaces both tokens with the full token stream
// of that file's contents, recursively preprocessing the spliced-in
// range before returning. It returns the token to resume the outer walk
// from: whatever followed the .include statement originally.
func (p *Preprocessor) spliceInclude(list *TokenList, dirTok *Token) *Token {
	nameTok := dirTok.Next
	if nameTok == nil || nameTok.Kind != TokString {
		p.errs.AddError(dirTok.Pos, ErrorPreprocessing, ".include requires a string filename")
		return dirTok.Next
	}
	resume := nameTok.Next

	absPath, err := filepath.Abs(filepath.Join(p.baseDir, nameTok.Literal))
	if err != nil {
		p.errs.AddError(dirTok.Pos, ErrorPreprocessing, "cannot resolve include path %q: %v", nameTok.Literal, err)
		list.Remove(nameTok)
		list.Remove(dirTok)
		return resume
	}
	if p.open[absPath] {
		p.errs.AddError(dirTok.Pos, ErrorPreprocessing, "circular include of %q", nameTok.Literal)
		list.Remove(nameTok)
		list.Remove(dirTok)
		return resume
	}

	src, err := os.ReadFile(absPath) // #nosec G304 -- include path comes from assembly source by design
	if err != nil {
		p.errs.AddError(dirTok.Pos, ErrorPreprocessing, "cannot read included file %q: %v", nameTok.Literal, err)
		list.Remove(nameTok)
		list.Remove(dirTok)
		return resume
	}

	lx := NewLexer(nameTok.Literal, src, p.errs)
	included := lx.Lex()
	// Drop the included file's own terminal EOF; it isn't the end of the
	// overall stream, just the end of this splice.
	if included.Tail != nil && included.Tail.Kind == TokEOF {
		included.Remove(included.Tail)
	}

	before := dirTok.Prev
	list.Remove(dirTok)
	list.Remove(nameTok)

	if included.Head == nil {
		return resume
	}

	resumeAt := included.Head
	list.SpliceAfter(before, included)

	p.open[absPath] = true
	p.processRange(list, resumeAt, resume)
	delete(p.open, absPath)

	return resume
}

// collectEncoded expects ".encoded" to be followed by a string literal;
// the string itself is left in the token stream (the emitter still needs
// to read it to write the actual encoded bytes), only its characters are
// fed to the frequency accumulator here.
func (p *Preprocessor) collectEncoded(dirTok *Token) *Token {
	strTok := dirTok.Next
	if strTok == nil || strTok.Kind != TokString {
		p.errs.AddError(dirTok.Pos, ErrorPreprocessing, ".encoded requires a string literal")
		return dirTok.Next
	}
	if p.freq != nil {
		p.freq.AddString(strTok.Literal)
	}
	return strTok.Next
}
