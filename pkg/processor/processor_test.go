package processor_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/verdikt/internal/models"
	"github.com/xhad/verdikt/pkg/processor"
)

const decisionText = "Справа № 362/1318/13-ц. Провадження № 2/362/87/14. " +
	"Київський районний суд розглянув цивільну справу за позовом про стягнення боргу. " +
	"Суд встановив, що відповідач не виконав зобов'язання за договором позики! " +
	"Чи були підстави для відстрочення? Таких підстав суд не знайшов. " +
	"Керуючись статтями кодексу, суд вирішив позов задовольнити повністю."

// reconstruct joins chunks by dropping the part each one shares with its predecessor.
func reconstruct(t *testing.T, chunks []models.Chunk) string {
	var b strings.Builder
	prevEnd := 0
	for i, c := range chunks {
		if i == 0 {
			require.Equal(t, 0, c.Start)
		} else {
			require.LessOrEqual(t, c.Start, prevEnd, "gap before chunk %d", i)
		}
		shared := prevEnd - c.Start
		b.WriteString(string([]rune(c.Text)[shared:]))
		prevEnd = c.End
	}
	return b.String()
}

func TestProcessor_Split(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    80,
		ChunkOverlap: 15,
	})

	doc := models.Document{ID: "49586520", Content: decisionText}
	chunks := p.Split(doc, models.DecisionMetadata{Number: "362/1318/13-ц"})

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, "49586520", c.DocumentID)
		assert.Equal(t, "362/1318/13-ц", c.DecisionNumber)
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 80)
		assert.Equal(t, c.End-c.Start, utf8.RuneCountInString(c.Text))
	}
	assert.Equal(t, decisionText, reconstruct(t, chunks))
}

func TestProcessor_PrefersSentenceBoundaries(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    52,
		ChunkOverlap: 5,
	})

	text := "Перше речення тут. Друге речення довше за перше. Третє."
	chunks := p.SplitText(text)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "Перше речення тут. Друге речення довше за перше. ", chunks[0])
}

func TestProcessor_HardCutWithoutBoundaries(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    10,
		ChunkOverlap: 3,
	})

	text := strings.Repeat("я", 25)
	doc := models.Document{ID: "1", Content: text}
	chunks := p.Split(doc, models.DecisionMetadata{})

	require.Len(t, chunks, 4)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 10)
	}
	assert.Equal(t, text, reconstruct(t, chunks))
}

func TestProcessor_Deterministic(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 50, ChunkOverlap: 10})
	doc := models.Document{ID: "7", Content: decisionText}

	first := p.Split(doc, models.DecisionMetadata{})
	second := p.Split(doc, models.DecisionMetadata{})
	assert.Equal(t, first, second)
	assert.Equal(t, processor.ChunkIDs("7", first), processor.ChunkIDs("7", second))
}

func TestProcessor_ShortAndEmpty(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 512, ChunkOverlap: 50})

	assert.Empty(t, p.SplitText(""))
	assert.Equal(t, []string{"коротко"}, p.SplitText("коротко"))
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "49586520_chunk_0", processor.ChunkID("49586520", 0))
	assert.Equal(t, "49586520_chunk_12", processor.ChunkID("49586520", 12))
}
