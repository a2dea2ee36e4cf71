package parser

import "fmt"

// Symbol is a named value the assembler tracks: a label address, a
// .define constant, or the reserved _EXTSTART/_ENDMEM markers the
// finalizer adds once the code position is known.
type Symbol struct {
	Name       string
	Value      int32
	Defined    bool
	Pos        Position
	References []Position
}

// SymbolTable is the single namespace shared by labels and .define
// constants; Glulx has no notion of local vs. global symbols outside a
// function's own local-name list, which is tracked separately by the
// emitter. Insertion order is preserved alongside the lookup map so that
// -dump-labels output is stable and matches the order symbols were first
// seen, not map iteration order.
type SymbolTable struct {
	symbols map[string]*Symbol
	order   []string
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{symbols: make(map[string]*Symbol)}
}

// Define records a symbol's value. It is an error to define a name that
// already has a defined value; defining a name that exists only as an
// undefined forward reference fills in that reference instead of
// creating a second entry.
func (st *SymbolTable) Define(name string, value int32, pos Position) error {
	if sym, exists := st.symbols[name]; exists {
		if sym.Defined {
			return fmt.Errorf("symbol %q already defined at %s", name, sym.Pos)
		}
		sym.Value = value
		sym.Defined = true
		sym.Pos = pos
		return nil
	}
	st.symbols[name] = &Symbol{Name: name, Value: value, Defined: true, Pos: pos}
	st.order = append(st.order, name)
	return nil
}

// Reference records that name was used at pos, creating an undefined
// placeholder entry if this is the first time the name has appeared.
func (st *SymbolTable) Reference(name string, pos Position) *Symbol {
	if sym, exists := st.symbols[name]; exists {
		sym.References = append(sym.References, pos)
		return sym
	}
	sym := &Symbol{Name: name, Pos: pos, References: []Position{pos}}
	st.symbols[name] = sym
	st.order = append(st.order, name)
	return sym
}

func (st *SymbolTable) Lookup(name string) (*Symbol, bool) {
	sym, ok := st.symbols[name]
	return sym, ok
}

// Get returns a symbol's value, failing if the name was never defined.
func (st *SymbolTable) Get(name string) (int32, error) {
	sym, exists := st.symbols[name]
	if !exists || !sym.Defined {
		return 0, fmt.Errorf("undefined symbol %q", name)
	}
	return sym.Value, nil
}

// Undefined returns every symbol that was referenced but never defined,
// in the order each was first referenced.
func (st *SymbolTable) Undefined() []*Symbol {
	var out []*Symbol
	for _, name := range st.order {
		sym := st.symbols[name]
		if !sym.Defined {
			out = append(out, sym)
		}
	}
	return out
}

// All returns every symbol in first-seen order, for -dump-labels.
func (st *SymbolTable) All() []*Symbol {
	out := make([]*Symbol, 0, len(st.order))
	for _, name := range st.order {
		out = append(out, st.symbols[name])
	}
	return out
}
