package stringtable

import (
	"fmt"
	"strings"
)

// Serialize writes the whole tree into the Glulx string-table binary
// format: each node is a one-byte type tag followed by its payload, laid
// out in the pre-order each node's Position was already assigned by.
// Branch nodes' two children are written as big-endian 32-bit byte
// offsets relative to the start of the table, the same offsets Build
// assigned as Position.
func (t *Table) Serialize() []byte {
	if t.Root == nil {
		return nil
	}
	var out []byte
	var walk func(n *Node)
	walk = func(n *Node) {
		switch n.Kind {
		case KindBranch:
			out = append(out, 0x00)
			out = appendWord(out, uint32(n.Left.Position))
			out = appendWord(out, uint32(n.Right.Position))
			walk(n.Left)
			walk(n.Right)
		case KindEnd:
			out = append(out, 0x01)
		case KindChar:
			out = append(out, 0x02, byte(n.Value))
		case KindUni:
			out = append(out, 0x03)
			out = appendWord(out, uint32(n.Value))
		}
	}
	walk(t.Root)
	return out
}

func appendWord(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// DumpFrequencies renders the node listing the -dump-stringtable flag
// asks for: node count, root position, then one line per node giving its
// weight, kind, byte position, and (for character nodes) the character
// itself.
func (t *Table) DumpFrequencies() string {
	var sb strings.Builder
	if t.Root == nil {
		sb.WriteString("0 NODES\nNO ROOT NODE\n")
		return sb.String()
	}

	var nodes []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		nodes = append(nodes, n)
		if n.Kind == KindBranch {
			walk(n.Left)
			walk(n.Right)
		}
	}
	walk(t.Root)

	fmt.Fprintf(&sb, "%d NODES\n", len(nodes))
	fmt.Fprintf(&sb, "ROOT NODE AT %d\n\n", t.Root.Position)
	for _, n := range nodes {
		switch n.Kind {
		case KindBranch:
			fmt.Fprintf(&sb, "weight=%-6d branch    @%-5d left=%d right=%d\n",
				n.Weight, n.Position, n.Left.Position, n.Right.Position)
		case KindEnd:
			fmt.Fprintf(&sb, "weight=%-6d end       @%-5d\n", n.Weight, n.Position)
		case KindChar:
			fmt.Fprintf(&sb, "weight=%-6d char      @%-5d %q\n", n.Weight, n.Position, rune(n.Value))
		case KindUni:
			fmt.Fprintf(&sb, "weight=%-6d unichar   @%-5d %q (U+%04X)\n", n.Weight, n.Position, rune(n.Value), n.Value)
		}
	}
	return sb.String()
}
