package chunk

import (
	"fmt"
	"strings"
)

// CASTConfig configures the cAST split/merge pipeline. Sizes are in
// characters, per spec.md 4.3.
type CASTConfig struct {
	MaxChunkSize   int     // hard ceiling per chunk
	MinChunkSize   int     // below this, class/function mixing restriction relaxes for merge
	MergeThreshold float64 // merged size must be <= MaxChunkSize * MergeThreshold
	GreedyMerge    bool
}

// DefaultCASTConfig mirrors the teacher's char-equivalent defaults
// (DefaultMaxChunkTokens=512 tokens * TokensPerChar=4 chars/token).
func DefaultCASTConfig() CASTConfig {
	return CASTConfig{
		MaxChunkSize:   DefaultMaxChunkTokens * TokensPerChar,
		MinChunkSize:   MinChunkTokens * TokensPerChar,
		MergeThreshold: 0.8,
		GreedyMerge:    true,
	}
}

// castChunk is an internal working representation before conversion to
// the public Chunk type; carries chunk_type so merge-restriction and
// dedupe can operate on it.
type castChunk struct {
	symbol       string
	chunkType    ChunkKind
	startLine    int
	endLine      int
	code         string
	parentHeader string
}

// CAST runs the four-pass emit/split/merge/dedupe algorithm of
// spec.md 4.3 over concepts extracted from a single file and returns
// size-bounded, non-overlapping chunks.
func CAST(cfg CASTConfig, filePath string, source []byte, language string, concepts []*Concept) []*Chunk {
	// Pass 1: emit one candidate per concept.
	candidates := make([]castChunk, 0, len(concepts))
	for _, c := range concepts {
		code := string(source[c.StartByte:c.EndByte])
		if strings.TrimSpace(code) == "" {
			continue
		}
		candidates = append(candidates, castChunk{
			symbol: c.Symbol, chunkType: c.ChunkType,
			startLine: c.StartLine, endLine: c.EndLine,
			code: code, parentHeader: c.ParentHeader,
		})
	}

	// Pass 2: split oversized candidates at line boundaries.
	var split []castChunk
	for _, cc := range candidates {
		split = append(split, splitOversized(cc, cfg.MaxChunkSize)...)
	}

	// Pass 3: greedy left-to-right merge of line-adjacent same-file chunks.
	merged := split
	if cfg.GreedyMerge {
		merged = greedyMerge(split, cfg)
	}

	// Pass 4: dedupe by exact code equality, keep first.
	seen := make(map[string]bool, len(merged))
	out := make([]*Chunk, 0, len(merged))
	for _, cc := range merged {
		if seen[cc.code] {
			continue
		}
		seen[cc.code] = true
		out = append(out, &Chunk{
			ID:          GenerateChunkID(filePath, cc.startLine, cc.endLine),
			FilePath:    filePath,
			Content:     cc.code,
			RawContent:  cc.code,
			ContentType: ContentTypeCode,
			Language:    language,
			StartLine:   cc.startLine,
			EndLine:     cc.endLine,
			Symbols:     []*Symbol{{Name: cc.symbol, Type: symbolTypeFor(cc.chunkType)}},
			Metadata:    map[string]string{"chunk_type": string(cc.chunkType), "parent_header": cc.parentHeader},
		})
	}
	return out
}

func symbolTypeFor(ct ChunkKind) SymbolType {
	switch ct {
	case ChunkFunction:
		return SymbolTypeFunction
	case ChunkMethod:
		return SymbolTypeMethod
	case ChunkClass:
		return SymbolTypeClass
	default:
		return SymbolTypeVariable
	}
}

// splitOversized splits cc at line boundaries if it exceeds maxSize,
// preferring (in order) blank-line boundaries, then outer-indentation
// changes, then raw line boundaries. Split children are named
// "{symbol}.part{i}" and their line ranges are absolute and contiguous,
// satisfying testable property 2.
func splitOversized(cc castChunk, maxSize int) []castChunk {
	if len(cc.code) <= maxSize {
		return []castChunk{cc}
	}

	lines := strings.Split(cc.code, "\n")
	var parts []castChunk
	partIdx := 1
	lineOffset := cc.startLine

	start := 0
	for start < len(lines) {
		end := bestSplitEnd(lines, start, maxSize)
		if end <= start {
			end = start + 1
		}
		chunkLines := lines[start:end]
		code := strings.Join(chunkLines, "\n")
		startLine := lineOffset + start
		endLine := lineOffset + end - 1

		parts = append(parts, castChunk{
			symbol:       fmt.Sprintf("%s.part%d", cc.symbol, partIdx),
			chunkType:    cc.chunkType,
			startLine:    startLine,
			endLine:      endLine,
			code:         code,
			parentHeader: cc.parentHeader,
		})
		partIdx++
		start = end
	}

	return parts
}

// bestSplitEnd finds the exclusive end line index (relative to lines)
// for a chunk starting at start, not exceeding maxSize characters,
// preferring to end on a blank line, then an outer-indentation change,
// else the raw boundary.
func bestSplitEnd(lines []string, start, maxSize int) int {
	size := 0
	hardEnd := start
	for i := start; i < len(lines); i++ {
		lineSize := len(lines[i]) + 1 // + newline
		if i > start && size+lineSize > maxSize {
			hardEnd = i
			break
		}
		size += lineSize
		hardEnd = i + 1
	}
	if hardEnd >= len(lines) {
		return len(lines)
	}

	baseIndent := leadingIndent(lines[start])

	// Prefer a blank line within the window, searching backward from hardEnd.
	for i := hardEnd - 1; i > start; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			return i + 1
		}
	}
	// Then prefer a line returning to the starting (outer) indentation level.
	for i := hardEnd - 1; i > start; i-- {
		if strings.TrimSpace(lines[i]) != "" && leadingIndent(lines[i]) <= baseIndent {
			return i
		}
	}
	return hardEnd
}

func leadingIndent(line string) int {
	n := 0
	for _, r := range line {
		if r == ' ' || r == '\t' {
			n++
			continue
		}
		break
	}
	return n
}

// greedyMerge merges adjacent same-file chunks left-to-right iff their
// combined size fits within MaxChunkSize*MergeThreshold and the right
// chunk starts on the line immediately after the left chunk ends. A
// class chunk is never merged with a function chunk unless both are
// smaller than MinChunkSize.
func greedyMerge(chunks []castChunk, cfg CASTConfig) []castChunk {
	if len(chunks) == 0 {
		return chunks
	}
	limit := float64(cfg.MaxChunkSize) * cfg.MergeThreshold

	var out []castChunk
	cur := chunks[0]
	for i := 1; i < len(chunks); i++ {
		next := chunks[i]
		combinedSize := len(cur.code) + 1 + len(next.code)
		adjacent := next.startLine == cur.endLine+1
		mixKindOK := !mixesClassAndFunction(cur.chunkType, next.chunkType) ||
			(len(cur.code) < cfg.MinChunkSize && len(next.code) < cfg.MinChunkSize)

		if adjacent && float64(combinedSize) <= limit && mixKindOK {
			cur = castChunk{
				symbol:       cur.symbol + "+" + next.symbol,
				chunkType:    cur.chunkType,
				startLine:    cur.startLine,
				endLine:      next.endLine,
				code:         cur.code + "\n" + next.code,
				parentHeader: cur.parentHeader,
			}
			continue
		}

		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	return out
}

func mixesClassAndFunction(a, b ChunkKind) bool {
	isClassLike := func(k ChunkKind) bool { return k == ChunkClass }
	isFuncLike := func(k ChunkKind) bool { return k == ChunkFunction || k == ChunkMethod }
	return (isClassLike(a) && isFuncLike(b)) || (isClassLike(b) && isFuncLike(a))
}
