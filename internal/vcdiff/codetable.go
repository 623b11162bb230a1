package vcdiff

// Half-instruction types (RFC 3284 §5.1 / xdelta3's built-in code table).
const (
	opNoop = 0
	opAdd  = 1
	opRun  = 2
	opCopy = 3
)

const (
	addSizes     = 17
	nearModes    = 4
	sameModes    = 3
	copySizes    = 15
	addCopyAddMax     = 4
	addCopyNearCpyMax = 6
	addCopySameCpyMax = 4
	copyAddAddMax     = 1
	copyAddNearCpyMax = 4
	copyAddSameCpyMax = 4
)

// instruction is one row of the fixed 256-entry code table: up to two
// half-instructions packed into a single opcode byte.
type instruction struct {
	type1, size1 int
	type2, size2 int
}

// codeTable is the single built-in default table (spec.md §4.7: "custom
// code table ... unsupported and cause immediate failure").
var codeTable = buildCodeTable()

// buildCodeTable reproduces xdelta3's deterministic default code table
// layout (grounded on original_source/gogdl/xdelta/objects.py build_code_table).
func buildCodeTable() [256]instruction {
	var table [256]instruction
	cpyModes := 2 + nearModes + sameModes
	i := 0

	table[i].type1 = opRun
	i++
	table[i].type1 = opAdd
	i++

	for size1 := 1; size1 <= addSizes; size1++ {
		table[i].type1 = opAdd
		table[i].size1 = size1
		i++
	}

	for mode := 0; mode < cpyModes; mode++ {
		table[i].type1 = opCopy + mode
		i++
		for size1 := 4; size1 < 4+copySizes; size1++ {
			table[i].type1 = opCopy + mode
			table[i].size1 = size1
			i++
		}
	}

	for mode := 0; mode < cpyModes; mode++ {
		isNear := mode < 2+nearModes
		max := addCopySameCpyMax
		if isNear {
			max = addCopyNearCpyMax
		}
		for size1 := 1; size1 <= addCopyAddMax; size1++ {
			for size2 := 4; size2 <= max; size2++ {
				table[i].type1 = opAdd
				table[i].size1 = size1
				table[i].type2 = opCopy + mode
				table[i].size2 = size2
				i++
			}
		}
	}

	for mode := 0; mode < cpyModes; mode++ {
		isNear := mode < 2+nearModes
		max := copyAddSameCpyMax
		if isNear {
			max = copyAddNearCpyMax
		}
		for size1 := 4; size1 <= max; size1++ {
			for size2 := 1; size2 <= copyAddAddMax; size2++ {
				table[i].type1 = opCopy + mode
				table[i].size1 = size1
				table[i].type2 = opAdd
				table[i].size2 = size2
				i++
			}
		}
	}

	return table
}

// addressCache implements the near (ring-buffer of last 4) and same
// (256-wide, 3-slot modulo) COPY address caches (spec.md §4.7).
type addressCache struct {
	nearArray [nearModes]int64
	sameArray [sameModes * 256]int64
	nextSlot  int
}

func newAddressCache() *addressCache { return &addressCache{} }

func (c *addressCache) update(addr int64) {
	c.nearArray[c.nextSlot] = addr
	c.nextSlot = (c.nextSlot + 1) % nearModes
	c.sameArray[addr%(sameModes*256)] = addr
}
