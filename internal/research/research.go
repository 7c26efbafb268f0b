// Package research implements the multi-hop researcher: starting from a
// natural-language or code question, it iteratively expands a chunk set by
// extracting candidate entities from each hop's results and re-querying for
// them, recording the relationships discovered along the way.
package research

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Aman-CERP/amanmcp/internal/search"
	"github.com/Aman-CERP/amanmcp/internal/store"
)

// Options configures a research run.
type Options struct {
	// MaxHops bounds the number of expansion hops after the seed search.
	MaxHops int

	// MaxResultsPerHop bounds results requested per query (seed or entity).
	MaxResultsPerHop int

	// MaxTotalChunks is a hard cap on the number of chunks collected across
	// every hop; the loop stops early once it is reached.
	MaxTotalChunks int

	// NoFilter disables the default all/code/docs filter, searching every
	// indexed content type.
	NoFilter bool
}

// DefaultOptions returns the spec's default hop budget.
func DefaultOptions() Options {
	return Options{
		MaxHops:          2,
		MaxResultsPerHop: 10,
		MaxTotalChunks:   100,
	}
}

// Relationship records that ToEntity was reached while following up on
// FromEntity, discovered inside the chunk identified by ChunkID.
type Relationship struct {
	FromEntity string `json:"from_entity"`
	ToEntity   string `json:"to_entity"`
	Type       string `json:"type"`
	ChunkID    string `json:"chunk_id"`
}

// Relationship types, per the single heuristic in spec.md 4.8.
const (
	RelationFunctionCall = "function_call"
	RelationInheritance  = "inheritance"
	RelationReference    = "reference"
)

// Result is the output of a research run.
type Result struct {
	Question           string          `json:"question"`
	Chunks             []*store.Chunk  `json:"chunks"`
	Relationships      []Relationship  `json:"relationships"`
	HopsExecuted       int             `json:"hops_executed"`
	TotalEntitiesFound int             `json:"total_entities_found"`
}

// Researcher runs multi-hop research over a search engine.
type Researcher struct {
	engine search.SearchEngine
}

// New creates a Researcher backed by engine.
func New(engine search.SearchEngine) *Researcher {
	return &Researcher{engine: engine}
}

var identifierPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]{2,}`)

// goKeywordBlocklist excludes language keywords and common builtins from
// the candidate entity set so the hop loop doesn't chase "func" or "error".
var goKeywordBlocklist = map[string]struct{}{
	"func": {}, "return": {}, "if": {}, "else": {}, "for": {}, "range": {},
	"package": {}, "import": {}, "var": {}, "const": {}, "type": {},
	"struct": {}, "interface": {}, "map": {}, "chan": {}, "go": {},
	"defer": {}, "select": {}, "switch": {}, "case": {}, "default": {},
	"break": {}, "continue": {}, "goto": {}, "fallthrough": {},
	"nil": {}, "true": {}, "false": {}, "string": {}, "int": {}, "int64": {},
	"int32": {}, "bool": {}, "error": {}, "byte": {}, "rune": {}, "float64": {},
	"float32": {}, "uint": {}, "uint64": {}, "uint32": {}, "any": {},
	"context": {}, "ctx": {}, "err": {}, "this": {}, "self": {},
}

var stopWords = map[string]struct{}{
	"what": {}, "how": {}, "when": {}, "where": {}, "which": {}, "who": {},
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "does": {}, "do": {},
	"did": {}, "can": {}, "could": {}, "would": {}, "should": {}, "of": {},
	"in": {}, "on": {}, "to": {}, "for": {}, "and": {}, "or": {}, "it": {},
	"this": {}, "that": {}, "be": {}, "with": {},
}

var identifierLike = regexp.MustCompile(`^([a-z0-9]+_[a-z0-9_]+|[a-z]+[A-Z][A-Za-z0-9]*|[A-Z][A-Za-z0-9]*[A-Z][A-Za-z0-9]*|[A-Z][A-Z0-9_]{1,})$`)

// preprocessQuestion builds the set of query terms for the seed search,
// picking natural-language or code mode per spec.md 4.8.
func preprocessQuestion(question string) []string {
	if looksLikeCode(question) {
		return preprocessCode(question)
	}
	return preprocessNaturalLanguage(question)
}

// looksLikeCode is a light heuristic: questions end in "?" or contain
// question words and run-on prose; anything else (a bare identifier,
// dotted call, or snake/camel token) is treated as code.
func looksLikeCode(question string) bool {
	q := strings.TrimSpace(question)
	if strings.HasSuffix(q, "?") {
		return false
	}
	if strings.Contains(q, " ") {
		for _, w := range strings.Fields(strings.ToLower(q)) {
			if _, ok := stopWords[w]; ok {
				return false
			}
		}
	}
	return true
}

func preprocessNaturalLanguage(question string) []string {
	var terms []string
	seen := make(map[string]struct{})
	for _, tok := range identifierPattern.FindAllString(question, -1) {
		lower := strings.ToLower(tok)
		_, isStop := stopWords[lower]
		isIdentifierLike := identifierLike.MatchString(tok)
		if isStop && !isIdentifierLike {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		terms = append(terms, tok)
	}
	return terms
}

func preprocessCode(question string) []string {
	// a.b → "a b" and "b": split on '.' before tokenizing so both the
	// receiver and the member survive as separate candidate terms.
	expanded := strings.ReplaceAll(question, ".", " ")

	var terms []string
	seen := make(map[string]struct{})
	for _, tok := range identifierPattern.FindAllString(expanded, -1) {
		for _, part := range splitIdentifier(tok) {
			lower := strings.ToLower(part)
			if len(part) < 2 {
				continue
			}
			if _, dup := seen[lower]; dup {
				continue
			}
			seen[lower] = struct{}{}
			terms = append(terms, part)
			if len(terms) >= 30 {
				return terms
			}
		}
	}
	return terms
}

// splitIdentifier breaks a token on snake_case and camelCase boundaries,
// also returning the original token so exact-match lookups still work.
func splitIdentifier(tok string) []string {
	parts := []string{tok}
	if strings.Contains(tok, "_") {
		for _, p := range strings.Split(tok, "_") {
			if p != "" {
				parts = append(parts, p)
			}
		}
		return parts
	}
	var sub []string
	var cur strings.Builder
	for i, r := range tok {
		if i > 0 && r >= 'A' && r <= 'Z' && cur.Len() > 0 {
			sub = append(sub, cur.String())
			cur.Reset()
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		sub = append(sub, cur.String())
	}
	if len(sub) > 1 {
		parts = append(parts, sub...)
	}
	return parts
}

// Research runs the bounded multi-hop expansion described in spec.md 4.8.
func (r *Researcher) Research(ctx context.Context, question string, opts Options) (*Result, error) {
	if opts.MaxHops <= 0 {
		opts.MaxHops = DefaultOptions().MaxHops
	}
	if opts.MaxResultsPerHop <= 0 {
		opts.MaxResultsPerHop = DefaultOptions().MaxResultsPerHop
	}
	if opts.MaxTotalChunks <= 0 {
		opts.MaxTotalChunks = DefaultOptions().MaxTotalChunks
	}

	// NoFilter and the default both resolve to "all": research deliberately
	// searches every content type since entity hops may land in docs as
	// readily as code. Kept as an explicit option so callers can see the
	// --no-filter flag reflected in Options even though it's a no-op today.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filter := "all"

	seedTerms := preprocessQuestion(question)
	seedQuery := question
	if len(seedTerms) > 0 {
		seedQuery = strings.Join(seedTerms, " ")
	}

	seedResults, err := r.engine.Search(ctx, seedQuery, search.SearchOptions{
		Limit:  opts.MaxResultsPerHop,
		Filter: filter,
	})
	if err != nil {
		return nil, fmt.Errorf("seed search failed: %w", err)
	}

	result := &Result{Question: question}
	seenChunks := make(map[string]*store.Chunk)
	// chunkSymbol records the representative symbol used to name a chunk as
	// a relationship endpoint (its first symbol, or its file path).
	chunkSymbol := make(map[string]string)

	frontier := make([]*store.Chunk, 0, len(seedResults))
	for _, res := range seedResults {
		if res.Chunk == nil {
			continue
		}
		if _, ok := seenChunks[res.Chunk.ID]; ok {
			continue
		}
		seenChunks[res.Chunk.ID] = res.Chunk
		chunkSymbol[res.Chunk.ID] = representativeSymbol(res.Chunk)
		frontier = append(frontier, res.Chunk)
	}
	result.Chunks = append(result.Chunks, frontier...)

	queriedEntities := make(map[string]struct{})
	entitiesFound := make(map[string]struct{})

	hop := 0
	for ; hop < opts.MaxHops; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(result.Chunks) >= opts.MaxTotalChunks {
			break
		}

		candidates := extractEntities(frontier)
		var newEntities []entityOccurrence
		for _, c := range candidates {
			if _, ok := queriedEntities[strings.ToLower(c.entity)]; ok {
				continue
			}
			queriedEntities[strings.ToLower(c.entity)] = struct{}{}
			entitiesFound[strings.ToLower(c.entity)] = struct{}{}
			newEntities = append(newEntities, c)
		}

		if len(newEntities) == 0 {
			break
		}

		var hopFrontier []*store.Chunk
		addedThisHop := false

		for _, occ := range newEntities {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if len(result.Chunks) >= opts.MaxTotalChunks {
				break
			}

			entityResults, err := r.engine.Search(ctx, occ.entity, search.SearchOptions{
				Limit:    opts.MaxResultsPerHop,
				Filter:   filter,
				BM25Only: true,
			})
			if err != nil {
				continue
			}

			for _, res := range entityResults {
				if res.Chunk == nil {
					continue
				}
				if len(result.Chunks) >= opts.MaxTotalChunks {
					break
				}
				relType := classifyRelationship(occ.sourceContent, occ.entity)
				result.Relationships = append(result.Relationships, Relationship{
					FromEntity: occ.fromSymbol,
					ToEntity:   occ.entity,
					Type:       relType,
					ChunkID:    res.Chunk.ID,
				})

				if _, ok := seenChunks[res.Chunk.ID]; ok {
					continue
				}
				seenChunks[res.Chunk.ID] = res.Chunk
				chunkSymbol[res.Chunk.ID] = representativeSymbol(res.Chunk)
				result.Chunks = append(result.Chunks, res.Chunk)
				hopFrontier = append(hopFrontier, res.Chunk)
				addedThisHop = true
			}
		}

		if !addedThisHop {
			hop++
			break
		}
		frontier = hopFrontier
	}

	result.HopsExecuted = hop
	result.TotalEntitiesFound = len(entitiesFound)
	return result, nil
}

type entityOccurrence struct {
	entity        string
	fromSymbol    string
	sourceContent string
}

// extractEntities collects candidate identifiers from a set of chunks:
// symbol names plus identifier-shaped tokens in their content, filtered
// against the keyword blocklist.
func extractEntities(chunks []*store.Chunk) []entityOccurrence {
	var out []entityOccurrence
	seen := make(map[string]struct{})

	for _, c := range chunks {
		fromSymbol := representativeSymbol(c)

		for _, sym := range c.Symbols {
			if isBlocked(sym.Name) {
				continue
			}
			key := sym.Name + "|" + fromSymbol
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, entityOccurrence{entity: sym.Name, fromSymbol: fromSymbol, sourceContent: c.Content})
		}

		for _, tok := range identifierPattern.FindAllString(c.Content, -1) {
			if isBlocked(tok) {
				continue
			}
			key := tok + "|" + fromSymbol
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, entityOccurrence{entity: tok, fromSymbol: fromSymbol, sourceContent: c.Content})
		}
	}
	return out
}

func isBlocked(tok string) bool {
	_, blocked := goKeywordBlocklist[strings.ToLower(tok)]
	return blocked
}

// representativeSymbol names a chunk as a relationship endpoint: its first
// symbol if it has one, otherwise its file path.
func representativeSymbol(c *store.Chunk) string {
	if len(c.Symbols) > 0 && c.Symbols[0].Name != "" {
		return c.Symbols[0].Name
	}
	return c.FilePath
}

var callPatternCache = make(map[string]*regexp.Regexp)

// classifyRelationship applies the single heuristic of spec.md 4.8:
// function_call when entity appears as a callable in sourceContent,
// inheritance when the match sits in a type/struct/interface header line,
// else reference.
func classifyRelationship(sourceContent, entity string) string {
	if entity == "" {
		return RelationReference
	}

	callPattern, ok := callPatternCache[entity]
	if !ok {
		callPattern = regexp.MustCompile(regexp.QuoteMeta(entity) + `\s*\(`)
		callPatternCache[entity] = callPattern
	}
	if callPattern.MatchString(sourceContent) {
		return RelationFunctionCall
	}

	for _, line := range strings.Split(sourceContent, "\n") {
		if !strings.Contains(line, entity) {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "struct") || strings.Contains(lower, "interface") ||
			strings.Contains(lower, "extends") || strings.Contains(lower, "implements") {
			return RelationInheritance
		}
	}

	return RelationReference
}

// CallGraphEdge is one outgoing edge in a derived call graph.
type CallGraphEdge struct {
	Target  string `json:"target"`
	Type    string `json:"type"`
	ChunkID string `json:"chunk_id,omitempty"`
}

// BuildCallGraph groups relationships by their source entity, per
// spec.md 4.8's build_call_graph.
func BuildCallGraph(relationships []Relationship) map[string][]CallGraphEdge {
	graph := make(map[string][]CallGraphEdge)
	for _, rel := range relationships {
		graph[rel.FromEntity] = append(graph[rel.FromEntity], CallGraphEdge{
			Target:  rel.ToEntity,
			Type:    rel.Type,
			ChunkID: rel.ChunkID,
		})
	}
	return graph
}

// GetEntryPoints returns entities that appear only as a relationship
// source — zero incoming edges. A purely cyclic component yields no
// entry points, matching spec.md 4.8.
func GetEntryPoints(relationships []Relationship) []string {
	hasIncoming := make(map[string]struct{})
	isSource := make(map[string]struct{})
	for _, rel := range relationships {
		isSource[rel.FromEntity] = struct{}{}
		hasIncoming[rel.ToEntity] = struct{}{}
	}

	var entryPoints []string
	for entity := range isSource {
		if _, ok := hasIncoming[entity]; !ok {
			entryPoints = append(entryPoints, entity)
		}
	}
	return entryPoints
}
