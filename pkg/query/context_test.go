package query

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// table returns the csv records of the titled table in rendered.
func table(t *testing.T, rendered, title string) [][]string {
	t.Helper()
	header := "-----" + title + "-----\n```csv\n"
	start := strings.Index(rendered, header)
	require.GreaterOrEqual(t, start, 0, "table %s not rendered", title)
	body := rendered[start+len(header):]
	body = body[:strings.Index(body, "```")]
	records, err := csv.NewReader(strings.NewReader(body)).ReadAll()
	require.NoError(t, err)
	return records
}

func TestRenderTimelineMarksLatest(t *testing.T) {
	created := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	set := ContextSet{
		Entities: []EntityRow{{
			Name:           "METFORMIN",
			Type:           "DRUG",
			Description:    "First-line drug, dose changed.",
			SourceChunkIDs: []string{"chunk-old", "chunk-new", "chunk-undated"},
			CreatedAt:      created,
		}},
		Chunks: []ChunkRow{
			{ID: "chunk-old", Content: "In 2019-03-01 the dose was 500 mg.", EventTime: time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC), TimeSource: TimeSourceText, CreatedAt: created},
			{ID: "chunk-new", Content: "Since 2024-05-01 the dose is 1000 mg.", EventTime: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), TimeSource: TimeSourceText, CreatedAt: created},
			{ID: "chunk-undated", Content: "Metformin is taken with meals.", EventTime: created, TimeSource: TimeSourceCreatedAt, CreatedAt: created},
		},
	}
	rendered := Render(set)

	entities := table(t, rendered, "Entities")
	require.Len(t, entities, 2)
	assert.Equal(t, []string{"id", "entity", "type", "description", "rank", "created_at", "event_time", "time_source"}, entities[0])
	assert.Equal(t, "2025-02-01 00:00:00", entities[1][5])

	timeline := table(t, rendered, "Timeline")
	require.Len(t, timeline, 4)
	// newest first: the undated chunk falls back to its ingestion time
	assert.Equal(t, []string{"METFORMIN", "2", "2025-02-01", "created_at", "true"}, timeline[1])
	assert.Equal(t, []string{"METFORMIN", "1", "2024-05-01", "text", "false"}, timeline[2])
	assert.Equal(t, []string{"METFORMIN", "0", "2019-03-01", "text", "false"}, timeline[3])
}

func TestRenderQuotesFields(t *testing.T) {
	set := ContextSet{Relations: []RelationRow{{
		Source:      "ASPIRIN",
		Target:      "FEVER",
		Description: "Lowers fever, \"quickly\".",
		Keywords:    []string{"treatment", "antipyretic"},
		Strength:    8.5,
	}}}
	rows := table(t, Render(set), "Relationships")
	require.Len(t, rows, 2)
	assert.Equal(t, "Lowers fever, \"quickly\".", rows[1][3])
	assert.Equal(t, "treatment, antipyretic", rows[1][4])
	assert.Equal(t, "8.5", rows[1][5])
	assert.Equal(t, "", rows[1][8])
}

func TestRenderEmptySet(t *testing.T) {
	assert.Empty(t, Render(ContextSet{}))
	assert.Empty(t, RenderSources(nil))
}
