// Package inspect is a static, post-assembly browser for an assembled
// program's symbol table, outstanding patches, and string table: a
// read-only counterpart to the toolchain's live execution debugger,
// built from the same tview/tcell panel-and-layout style but with
// nothing to step or break on, since there is no running program here —
// only the artifacts one assembly pass produced.
package inspect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/GrenDrake/glulx-assemble/emitter"
	"github.com/GrenDrake/glulx-assemble/parser"
)

// TUI is the inspector's text user interface.
type TUI struct {
	App  *tview.Application
	Root *tview.Flex

	SymbolList  *tview.List
	DetailView  *tview.TextView
	StatusBar   *tview.TextView

	symbols *parser.SymbolTable
	state   *emitter.State
}

// NewTUI builds an inspector over the result of one assembly run.
// symbols and state are read, never mutated.
func NewTUI(symbols *parser.SymbolTable, state *emitter.State) *TUI {
	t := &TUI{
		App:     tview.NewApplication(),
		symbols: symbols,
		state:   state,
	}
	t.build()
	return t
}

func (t *TUI) build() {
	t.SymbolList = tview.NewList().ShowSecondaryText(false)
	t.SymbolList.SetBorder(true).SetTitle(" Symbols ")

	t.DetailView = tview.NewTextView().SetDynamicColors(true).SetWrap(true)
	t.DetailView.SetBorder(true).SetTitle(" Detail ")

	t.StatusBar = tview.NewTextView().SetDynamicColors(true)
	t.StatusBar.SetText(fmt.Sprintf(
		"[yellow]%d symbols  %d unresolved  %d bytes emitted[-]  (q to quit, arrows to browse)",
		len(t.symbols.All()), len(t.symbols.Undefined()), t.state.Buf.Len(),
	))

	for _, sym := range t.sortedSymbols() {
		sym := sym
		label := sym.Name
		if !sym.Defined {
			label = "[red]" + label + " (undefined)[-]"
		}
		t.SymbolList.AddItem(label, "", 0, func() {
			t.showSymbol(sym)
		})
	}

	body := tview.NewFlex().
		AddItem(t.SymbolList, 0, 1, true).
		AddItem(t.DetailView, 0, 2, false)

	t.Root = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, true).
		AddItem(t.StatusBar, 1, 0, false)

	t.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == 'q' {
			t.App.Stop()
			return nil
		}
		return event
	})
}

func (t *TUI) sortedSymbols() []*parser.Symbol {
	all := append([]*parser.Symbol(nil), t.symbols.All()...)
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

func (t *TUI) showSymbol(sym *parser.Symbol) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[yellow]%s[-]\n\n", sym.Name)
	if sym.Defined {
		fmt.Fprintf(&sb, "value:  %d (%#x)\n", sym.Value, uint32(sym.Value))
		fmt.Fprintf(&sb, "defined at %s\n", sym.Pos)
	} else {
		sb.WriteString("never defined\n")
	}
	fmt.Fprintf(&sb, "referenced %d time(s)\n", len(sym.References))
	for _, ref := range sym.References {
		fmt.Fprintf(&sb, "  %s\n", ref)
	}
	t.DetailView.SetText(sb.String())
}

// Run starts the TUI event loop. It blocks until the user quits.
func (t *TUI) Run() error {
	return t.App.SetRoot(t.Root, true).SetFocus(t.SymbolList).Run()
}
