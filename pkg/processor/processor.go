package processor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/xhad/cyberrag/internal/models"
)

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
	// MinChunkLength drops chunks shorter than this many runes. Zero keeps everything.
	MinChunkLength int
}

type Processor struct {
	config   ProcessorConfig
	splitter textsplitter.RecursiveCharacter
}

func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 150
	}
	if config.ChunkSize < 0 || config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		return nil, models.Errorf(models.KindInvalidInput, "new processor",
			"chunk overlap %d must be non-negative and smaller than chunk size %d", config.ChunkOverlap, config.ChunkSize)
	}

	return &Processor{
		config: config,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ChunkSize),
			textsplitter.WithChunkOverlap(config.ChunkOverlap),
		),
	}, nil
}

// Process cleans and splits every document into chunks, in document order.
// Documents that are empty after cleaning produce no chunks.
func (p *Processor) Process(docs []models.Document) ([]models.Chunk, error) {
	var chunks []models.Chunk
	perSource := make(map[string]int)

	for _, doc := range docs {
		text := Preprocess(doc.Content)
		if text == "" {
			continue
		}

		parts, err := p.splitter.SplitText(text)
		if err != nil {
			return nil, fmt.Errorf("failed to split document %s: %w", doc.Source, err)
		}

		sourceID := SourceID(doc.Source)
		starts := startIndexes(text, parts, p.config.ChunkOverlap)

		for i, part := range parts {
			if utf8.RuneCountInString(part) < p.config.MinChunkLength {
				continue
			}

			metadata := make(map[string]interface{}, len(doc.Metadata)+2)
			for k, v := range doc.Metadata {
				metadata[k] = v
			}
			if _, ok := metadata["source"]; !ok && doc.Source != "" {
				metadata["source"] = doc.Source
			}
			metadata["start_index"] = starts[i]

			n := perSource[sourceID]
			perSource[sourceID] = n + 1

			chunks = append(chunks, models.Chunk{
				ID:       fmt.Sprintf("%s_%d", sourceID, n),
				Text:     part,
				Metadata: metadata,
				SourceID: sourceID,
			})
		}
	}

	return chunks, nil
}

// Preprocess collapses every whitespace run into a single space.
func Preprocess(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// SourceID derives a stable identifier from a document source path or URL.
func SourceID(source string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source)).String()
}

// startIndexes locates each chunk in text, searching forward from where the
// previous chunk could have overlapped. Offsets are in runes; -1 marks a
// chunk that could not be found.
func startIndexes(text string, parts []string, overlap int) []int {
	starts := make([]int, len(parts))
	index, prevLen := 0, 0

	for i, part := range parts {
		offset := index + prevLen - overlap
		if offset < 0 {
			offset = 0
		}
		byteOffset := runeToByte(text, offset)

		found := strings.Index(text[byteOffset:], part)
		if found < 0 {
			starts[i] = -1
			continue
		}
		index = utf8.RuneCountInString(text[:byteOffset+found])
		prevLen = utf8.RuneCountInString(part)
		starts[i] = index
	}

	return starts
}

func runeToByte(s string, runes int) int {
	if runes <= 0 {
		return 0
	}
	n := 0
	for i := range s {
		if n == runes {
			return i
		}
		n++
	}
	return len(s)
}
