package graph

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/medrag/pkg/ai"
	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/logger"
)

// Extraction holds the candidate facts of one chunk.
type Extraction struct {
	ChunkID         string
	Entities        []common.Entity
	Relations       []common.Relation
	ContentKeywords []string

	// Discarded counts entities with a type outside the enumeration,
	// Malformed counts records that could not be parsed.
	Discarded int
	Malformed int

	// Degraded is set when the model could not be reached; the extraction
	// is then empty and Err holds the cause.
	Degraded bool
	Err      error
}

// Extractor drives the delimited-record extraction protocol against a
// Completer.
type Extractor struct {
	completer   ai.Completer
	entityTypes []string
	typeSet     map[string]bool
	language    string
	maxGleaning int
}

// NewExtractorParams configures an Extractor. Empty EntityTypes fall back
// to ai.DefaultEntityTypes.
type NewExtractorParams struct {
	Completer   ai.Completer
	EntityTypes []string
	Language    string
	MaxGleaning int
}

func NewExtractor(params NewExtractorParams) *Extractor {
	types := params.EntityTypes
	if len(types) == 0 {
		types = ai.DefaultEntityTypes
	}
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[strings.ToUpper(strings.TrimSpace(t))] = true
	}
	language := params.Language
	if language == "" {
		language = ai.DefaultLanguage
	}
	return &Extractor{
		completer:   params.Completer,
		entityTypes: types,
		typeSet:     typeSet,
		language:    language,
		maxGleaning: max(params.MaxGleaning, 0),
	}
}

// Extract runs the first pass and up to maxGleaning continuation rounds for
// chunk. It never returns an error: model failures yield a Degraded
// extraction so that the remaining chunks can proceed.
func (e *Extractor) Extract(ctx context.Context, chunk common.Chunk) Extraction {
	raw, err := e.converse(ctx, chunk)
	if err != nil {
		logger.Warn("[Extract] Chunk degraded to empty extraction", "chunk_id", chunk.ID, "err", err)
		return Extraction{ChunkID: chunk.ID, Degraded: true, Err: err}
	}

	ext := ParseRecords(raw, chunk, e.typeSet)
	logger.Debug("[Extract] Chunk extracted",
		"chunk_id", chunk.ID,
		"entities", len(ext.Entities),
		"relations", len(ext.Relations),
		"discarded", ext.Discarded,
		"malformed", ext.Malformed,
	)
	return ext
}

func (e *Extractor) converse(ctx context.Context, chunk common.Chunk) (string, error) {
	types := strings.Join(e.entityTypes, ", ")
	examples := fmt.Sprintf(ai.EntityExtractionExample, ai.TupleDelimiter, ai.RecordDelimiter, ai.CompletionDelimiter)
	prompt := fmt.Sprintf(ai.EntityExtractionPrompt,
		e.language,
		types,
		ai.TupleDelimiter,
		ai.RecordDelimiter,
		ai.CompletionDelimiter,
		examples,
		chunk.Content,
	)

	result, err := e.completer.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("extraction: %w", err)
	}

	history := []ai.ChatMessage{ai.UserMessage(prompt), ai.AssistantMessage(result)}
	continuePrompt := fmt.Sprintf(ai.ContinueExtractionPrompt, types)
	for round := range e.maxGleaning {
		glean, err := e.completer.Complete(ctx, continuePrompt, ai.WithHistory(history...))
		if err != nil {
			return "", fmt.Errorf("continuation round %d: %w", round+1, err)
		}
		history = append(history, ai.UserMessage(continuePrompt), ai.AssistantMessage(glean))
		result += glean

		if round == e.maxGleaning-1 {
			break
		}
		answer, err := e.completer.Complete(ctx, ai.LoopExtractionPrompt, ai.WithHistory(history...))
		if err != nil {
			return "", fmt.Errorf("loop check round %d: %w", round+1, err)
		}
		if !wantsMore(answer) {
			break
		}
	}
	return result, nil
}

func wantsMore(answer string) bool {
	return strings.ToLower(common.CleanField(answer)) == "yes"
}

var recordBody = regexp.MustCompile(`(?s)\((.*)\)`)

// ParseRecords decodes the delimited records of a model answer. A record
// that cannot be decoded is counted and skipped; it never invalidates the
// others. Entities whose type is not in types are discarded, and so are
// relations that point at such an entity.
func ParseRecords(raw string, chunk common.Chunk, types map[string]bool) Extraction {
	ext := Extraction{ChunkID: chunk.ID}
	entityIndex := map[string]int{}
	relationIndex := map[string]int{}
	discarded := map[string]bool{}

	var pendingRelations []common.Relation
	for _, record := range splitRecords(raw) {
		m := recordBody.FindStringSubmatch(record)
		if m == nil {
			if strings.TrimSpace(record) != "" {
				ext.Malformed++
			}
			continue
		}
		attrs := strings.Split(m[1], ai.TupleDelimiter)
		switch strings.ToLower(common.CleanField(attrs[0])) {
		case "entity":
			entity, ok := parseEntity(attrs, chunk)
			if !ok {
				ext.Malformed++
				continue
			}
			if !types[entity.Type] {
				ext.Discarded++
				discarded[entity.Name] = true
				continue
			}
			if i, seen := entityIndex[entity.Name]; seen {
				ext.Entities[i] = foldEntity(ext.Entities[i], entity)
				continue
			}
			entityIndex[entity.Name] = len(ext.Entities)
			ext.Entities = append(ext.Entities, entity)
		case "relationship":
			rel, ok := parseRelation(attrs, chunk)
			if !ok {
				ext.Malformed++
				continue
			}
			pendingRelations = append(pendingRelations, rel)
		case "content_keywords":
			if len(attrs) < 2 {
				ext.Malformed++
				continue
			}
			ext.ContentKeywords = common.UnionSorted(ext.ContentKeywords, splitKeywords(attrs[1]))
		default:
			ext.Malformed++
		}
	}

	for _, rel := range pendingRelations {
		if rejectedEndpoint(rel, discarded, entityIndex) {
			continue
		}
		key := rel.Key()
		if i, seen := relationIndex[key]; seen {
			ext.Relations[i] = foldRelation(ext.Relations[i], rel)
			continue
		}
		relationIndex[key] = len(ext.Relations)
		ext.Relations = append(ext.Relations, rel)
	}
	return ext
}

// rejectedEndpoint reports whether an endpoint of rel was only ever seen
// with a type outside the enumeration in this chunk.
func rejectedEndpoint(rel common.Relation, discarded map[string]bool, accepted map[string]int) bool {
	for _, name := range []string{rel.Source, rel.Target} {
		if _, ok := accepted[name]; ok {
			continue
		}
		if discarded[name] {
			return true
		}
	}
	return false
}

func splitRecords(raw string) []string {
	raw = strings.ReplaceAll(raw, ai.CompletionDelimiter, ai.RecordDelimiter)
	return strings.Split(raw, ai.RecordDelimiter)
}

func parseEntity(attrs []string, chunk common.Chunk) (common.Entity, bool) {
	if len(attrs) < 4 {
		return common.Entity{}, false
	}
	name := common.NormalizeName(attrs[1])
	if name == "" {
		return common.Entity{}, false
	}
	return common.Entity{
		Name:           name,
		Type:           strings.ToUpper(common.CleanField(attrs[2])),
		Description:    common.CleanField(attrs[3]),
		SourceChunkIDs: []string{chunk.ID},
		CreatedAt:      chunk.CreatedAt,
	}, true
}

func parseRelation(attrs []string, chunk common.Chunk) (common.Relation, bool) {
	if len(attrs) < 5 {
		return common.Relation{}, false
	}
	source := common.NormalizeName(attrs[1])
	target := common.NormalizeName(attrs[2])
	if source == "" || target == "" || source == target {
		return common.Relation{}, false
	}

	strength := 1.0
	if len(attrs) >= 6 {
		if f, err := strconv.ParseFloat(common.CleanField(attrs[len(attrs)-1]), 64); err == nil {
			strength = f
		}
	}
	return common.Relation{
		Source:         source,
		Target:         target,
		Description:    common.CleanField(attrs[3]),
		Keywords:       splitKeywords(attrs[4]),
		Strength:       strength,
		SourceChunkIDs: []string{chunk.ID},
		CreatedAt:      chunk.CreatedAt,
	}.Canonical(), true
}

func splitKeywords(s string) []string {
	var out []string
	for kw := range strings.SplitSeq(common.CleanField(s), ",") {
		if kw = common.CleanField(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return common.UnionSorted(nil, out)
}

// foldEntity combines two mentions of one entity within the same chunk.
func foldEntity(a, b common.Entity) common.Entity {
	fragments := common.SplitFragments(a.Description)
	for _, f := range common.SplitFragments(b.Description) {
		if !slices.Contains(fragments, f) {
			fragments = append(fragments, f)
		}
	}
	a.Description = common.JoinFragments(fragments)
	return a
}

func foldRelation(a, b common.Relation) common.Relation {
	fragments := common.SplitFragments(a.Description)
	for _, f := range common.SplitFragments(b.Description) {
		if !slices.Contains(fragments, f) {
			fragments = append(fragments, f)
		}
	}
	a.Description = common.JoinFragments(fragments)
	a.Keywords = common.UnionSorted(a.Keywords, b.Keywords)
	a.Strength = max(a.Strength, b.Strength)
	return a
}
