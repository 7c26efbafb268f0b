package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// CodeChunkerOptions configures the cAST pipeline.
type CodeChunkerOptions struct {
	CAST CASTConfig
}

// CodeChunker implements cAST: syntax-tree-aligned, size-bounded chunking.
type CodeChunker struct {
	parser   *Parser
	registry *LanguageRegistry
	cfg      CASTConfig
}

// NewCodeChunker creates a new code chunker with default cAST settings.
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithOptions(CodeChunkerOptions{})
}

// NewCodeChunkerWithOptions creates a new code chunker with custom cAST settings.
func NewCodeChunkerWithOptions(opts CodeChunkerOptions) *CodeChunker {
	cfg := opts.CAST
	if cfg.MaxChunkSize == 0 {
		cfg = DefaultCASTConfig()
	}

	registry := DefaultRegistry()
	return &CodeChunker{
		parser:   NewParserWithRegistry(registry),
		registry: registry,
		cfg:      cfg,
	}
}

// Close releases chunker resources.
func (c *CodeChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions returns file extensions this chunker handles.
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk splits a file into cAST chunks. Unsupported languages and
// unparseable files fall back to a plain line-based split rather than
// failing the batch (spec.md 4.1: parse errors never abort a batch).
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	if !c.parser.IsSupported(file.Language) {
		return c.chunkByLines(file)
	}

	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		return c.chunkByLines(file)
	}

	concepts := ExtractConcepts(tree, file.Language)
	if len(concepts) == 0 {
		// A file holding only its package clause and imports has no
		// content of its own to index.
		bare := true
		for _, n := range tree.Root.Children {
			if namespaceNodeTypes[n.Type] || contextCapturedImportTypes[n.Type] {
				continue
			}
			if strings.Trim(n.GetContent(file.Content), " \t\r\n;") != "" {
				bare = false
				break
			}
		}
		if bare {
			return nil, nil
		}
		return c.chunkByLines(file)
	}

	fileContext := c.extractFileContext(tree, file.Content, file.Language)
	fileContext = c.enrichContextWithFilePath(file.Path, file.Language, fileContext)

	chunks := CAST(c.cfg, file.Path, file.Content, file.Language, concepts)
	for _, ch := range chunks {
		ch.Context = fileContext
		ch.Content = combineContextAndContent(fileContext, ch.RawContent)
	}
	return chunks, nil
}

// extractFileContext extracts package declaration and imports from a file.
func (c *CodeChunker) extractFileContext(tree *Tree, source []byte, language string) string {
	var parts []string

	switch language {
	case "go":
		parts = c.extractGoContext(tree, source)
	case "typescript", "tsx":
		parts = c.extractTSContext(tree, source)
	case "javascript", "jsx":
		parts = c.extractJSContext(tree, source)
	case "python":
		parts = c.extractPythonContext(tree, source)
	}

	return strings.Join(parts, "\n\n")
}

func (c *CodeChunker) extractGoContext(tree *Tree, source []byte) []string {
	var parts []string

	for _, node := range tree.Root.Children {
		if node.Type == "package_clause" {
			parts = append(parts, node.GetContent(source))
			break
		}
	}

	for _, node := range tree.Root.Children {
		if node.Type == "import_declaration" {
			parts = append(parts, node.GetContent(source))
		}
	}

	return parts
}

func (c *CodeChunker) extractTSContext(tree *Tree, source []byte) []string {
	return c.extractJSContext(tree, source)
}

func (c *CodeChunker) extractJSContext(tree *Tree, source []byte) []string {
	var parts []string

	for _, node := range tree.Root.Children {
		if node.Type == "import_statement" {
			parts = append(parts, node.GetContent(source))
		}
	}

	return parts
}

func (c *CodeChunker) extractPythonContext(tree *Tree, source []byte) []string {
	var parts []string

	for _, node := range tree.Root.Children {
		if node.Type == "import_statement" || node.Type == "import_from_statement" {
			parts = append(parts, node.GetContent(source))
		}
	}

	return parts
}

// chunkByLines is the fallback for unsupported or unparseable files.
func (c *CodeChunker) chunkByLines(file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	concept := &Concept{
		Kind: ConceptDefinition, ChunkType: ChunkBlock, Symbol: "file",
		StartByte: 0, EndByte: uint32(len(file.Content)),
		StartLine: 1, EndLine: strings.Count(content, "\n") + 1,
	}
	chunks := CAST(c.cfg, file.Path, file.Content, file.Language, []*Concept{concept})
	for _, ch := range chunks {
		ch.ContentType = ContentTypeText
	}
	return chunks, nil
}

// estimateTokens approximates a token count from character length, used
// by the markdown chunker's size bookkeeping (not the cAST char-based
// pipeline, which sizes chunks directly in characters).
func estimateTokens(content string) int {
	return len(content) / TokensPerChar
}

// GenerateChunkID derives a stable ChunkId from (file_path, start_line,
// end_line) per spec.md 3/8 (invariant 4): re-storing the identical span
// yields the identical id. The hash+truncate mechanics are adapted from
// the teacher's content-addressed generateChunkID, applied to this
// spec-mandated input instead of a content hash (see DESIGN.md, Open
// Question 3).
func GenerateChunkID(filePath string, startLine, endLine int) string {
	input := filePath + "\x00" + strconv.Itoa(startLine) + "\x00" + strconv.Itoa(endLine)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:16]
}

// combineContextAndContent combines context and raw content into full content.
func combineContextAndContent(context, rawContent string) string {
	if context == "" {
		return rawContent
	}
	return context + "\n\n" + rawContent
}

// enrichContextWithFilePath prepends a file path marker to the context.
func (c *CodeChunker) enrichContextWithFilePath(filePath, language, existingContext string) string {
	if filePath == "" {
		return existingContext
	}

	var marker string
	switch language {
	case "python":
		marker = fmt.Sprintf("# File: %s", filePath)
	default:
		marker = fmt.Sprintf("// File: %s", filePath)
	}

	if existingContext == "" {
		return marker
	}
	return marker + "\n" + existingContext
}
