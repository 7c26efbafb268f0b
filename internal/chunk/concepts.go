package chunk

// ConceptKind is the sum-type discriminant for a UniversalConcept.
// Modeled as a flat enum + struct per the design note in spec.md 9
// ("avoid class hierarchies"), not as an interface with four impls.
type ConceptKind int

const (
	ConceptDefinition ConceptKind = iota
	ConceptComment
	ConceptImport
	ConceptReference
)

func (k ConceptKind) String() string {
	switch k {
	case ConceptDefinition:
		return "definition"
	case ConceptComment:
		return "comment"
	case ConceptImport:
		return "import"
	case ConceptReference:
		return "reference"
	default:
		return "unknown"
	}
}

// ChunkKind mirrors spec.md's chunk_type enum.
type ChunkKind string

const (
	ChunkFunction ChunkKind = "function"
	ChunkMethod   ChunkKind = "method"
	ChunkClass    ChunkKind = "class"
	ChunkComment  ChunkKind = "comment"
	ChunkBlock    ChunkKind = "block"
	ChunkUnknown  ChunkKind = "unknown"
)

// Concept is a single emitted unit from the tree walk: a UniversalConcept
// per spec.md 4.2, with byte/line spans and parent_header resolution.
type Concept struct {
	Kind         ConceptKind
	ChunkType    ChunkKind
	Symbol       string
	StartByte    uint32
	EndByte      uint32
	StartLine    int // 1-indexed
	EndLine      int // 1-indexed, inclusive
	ParentHeader string
}

var commentNodeTypes = map[string]bool{
	"comment":       true,
	"line_comment":  true,
	"block_comment": true,
}

// importNodeTypes are emitted as standalone ConceptImport concepts. Go,
// JS/TS and Python imports are deliberately excluded here: CodeChunker's
// extractFileContext already lifts them into every chunk's Context, so
// emitting them again as concepts would double-count the same import
// block as both context and an unrelated standalone chunk.
var importNodeTypes = map[string]bool{
	"use_declaration": true, // rust
	"using_directive": true, // c#
}

// namespaceNodeTypes mark a file's package/namespace declaration: part of
// extractFileContext, never a standalone concept (a bare "package main"
// with nothing else must not produce a chunk).
var namespaceNodeTypes = map[string]bool{
	"package_clause": true, // go
}

// contextCapturedImportTypes are import-like nodes already folded into
// extractFileContext for their language; skipped here for the same
// double-counting reason as namespaceNodeTypes.
var contextCapturedImportTypes = map[string]bool{
	"import_declaration":    true, // go
	"import_statement":      true, // js/ts/python
	"import_from_statement": true, // python
}

// ExtractConcepts walks tree once and emits the UniversalConcept stream
// for language, resolving parent_header for nested definitions (a class's
// methods inherit the class's symbol name) and mapping interface/type
// declarations to "class" chunk_type per spec.md 4.2.
//
// Concepts never overlap in byte span: once a node is emitted as a
// definition, its body is not independently re-walked, except for
// classes, which are decomposed into a header concept (class start up
// to the first recognised method) plus one concept per direct method -
// this is what lets C3 treat an oversized class as naturally
// line-splittable without re-deriving method boundaries itself.
func ExtractConcepts(tree *Tree, language string) []*Concept {
	if tree == nil || tree.Root == nil {
		return []*Concept{}
	}
	registry := DefaultRegistry()
	config, ok := registry.GetByName(language)
	if !ok {
		return []*Concept{}
	}
	extractor := NewSymbolExtractorWithRegistry(registry)

	funcTypes := toSet(config.FunctionTypes)
	methodTypes := toSet(config.MethodTypes)
	classTypes := toSet(config.ClassTypes)
	ifaceTypes := toSet(config.InterfaceTypes)
	typedefTypes := toSet(config.TypeDefTypes)
	constTypes := toSet(config.ConstantTypes)
	varTypes := toSet(config.VariableTypes)

	var concepts []*Concept

	nameOf := func(n *Node) string {
		name := extractor.extractName(n, tree.Source, config, language)
		if name == "" {
			name = "anonymous"
		}
		return name
	}

	emitSpan := func(kind ConceptKind, ct ChunkKind, symbol, parent string, startByte, endByte uint32, startLine, endLine int) {
		if startByte >= endByte {
			return
		}
		concepts = append(concepts, &Concept{
			Kind: kind, ChunkType: ct, Symbol: symbol, ParentHeader: parent,
			StartByte: startByte, EndByte: endByte,
			StartLine: startLine, EndLine: endLine,
		})
	}

	// findMethods collects direct method-defining descendants of a class
	// node without crossing into a nested class's own body.
	var findMethods func(n *Node) []*Node
	findMethods = func(n *Node) []*Node {
		var out []*Node
		for _, child := range n.Children {
			if methodTypes[child.Type] || (funcTypes[child.Type] && language == "python") {
				out = append(out, child)
				continue
			}
			if classTypes[child.Type] {
				continue // nested class handled independently by the outer walk
			}
			out = append(out, findMethods(child)...)
		}
		return out
	}

	var walk func(n *Node, parent string)
	walk = func(n *Node, parent string) {
		if n == nil {
			return
		}

		if commentNodeTypes[n.Type] {
			emitSpan(ConceptComment, ChunkComment, "comment", parent, n.StartByte, n.EndByte,
				int(n.StartPoint.Row)+1, int(n.EndPoint.Row)+1)
			return
		}

		if namespaceNodeTypes[n.Type] || contextCapturedImportTypes[n.Type] {
			return // carried via extractFileContext, not its own concept
		}

		if importNodeTypes[n.Type] {
			emitSpan(ConceptImport, ChunkBlock, "import", parent, n.StartByte, n.EndByte,
				int(n.StartPoint.Row)+1, int(n.EndPoint.Row)+1)
			return
		}

		switch {
		case classTypes[n.Type]:
			name := nameOf(n)
			methods := findMethods(n)
			if len(methods) == 0 {
				emitSpan(ConceptDefinition, ChunkClass, name, parent, n.StartByte, n.EndByte,
					int(n.StartPoint.Row)+1, int(n.EndPoint.Row)+1)
				return
			}
			// header: class start through the first method's start.
			emitSpan(ConceptDefinition, ChunkClass, name, parent, n.StartByte, methods[0].StartByte,
				int(n.StartPoint.Row)+1, int(methods[0].StartPoint.Row)+1)
			for _, m := range methods {
				mName := nameOf(m)
				emitSpan(ConceptDefinition, ChunkMethod, mName, name, m.StartByte, m.EndByte,
					int(m.StartPoint.Row)+1, int(m.EndPoint.Row)+1)
			}
			return

		case ifaceTypes[n.Type] || typedefTypes[n.Type]:
			// interface/type declarations map to class chunks (spec.md 4.2).
			name := nameOf(n)
			emitSpan(ConceptDefinition, ChunkClass, name, parent, n.StartByte, n.EndByte,
				int(n.StartPoint.Row)+1, int(n.EndPoint.Row)+1)
			return

		case methodTypes[n.Type]:
			name := nameOf(n)
			emitSpan(ConceptDefinition, ChunkMethod, name, parent, n.StartByte, n.EndByte,
				int(n.StartPoint.Row)+1, int(n.EndPoint.Row)+1)
			return

		case funcTypes[n.Type]:
			name := nameOf(n)
			chunkType := ChunkFunction
			if parent != "" {
				chunkType = ChunkMethod
			}
			emitSpan(ConceptDefinition, chunkType, name, parent, n.StartByte, n.EndByte,
				int(n.StartPoint.Row)+1, int(n.EndPoint.Row)+1)
			return

		case n.Type == "lexical_declaration" || n.Type == "variable_declaration":
			if sym := extractor.extractSpecialSymbol(n, tree.Source, language); sym != nil {
				emitSpan(ConceptDefinition, ChunkFunction, sym.Name, parent, n.StartByte, n.EndByte,
					sym.StartLine, sym.EndLine)
				return
			}
			fallthrough

		case constTypes[n.Type] || varTypes[n.Type]:
			name := nameOf(n)
			emitSpan(ConceptDefinition, ChunkBlock, name, parent, n.StartByte, n.EndByte,
				int(n.StartPoint.Row)+1, int(n.EndPoint.Row)+1)
			return
		}

		for _, child := range n.Children {
			walk(child, parent)
		}
	}

	walk(tree.Root, "")
	return concepts
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}
