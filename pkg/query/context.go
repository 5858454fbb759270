package query

import (
	"cmp"
	"encoding/csv"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	dateLayout      = "2006-01-02"
)

// Render formats a ContextSet as the CSV tables handed to the model.
func Render(set ContextSet) string {
	var b strings.Builder

	if len(set.Entities) > 0 {
		rows := [][]string{{"id", "entity", "type", "description", "rank", "created_at", "event_time", "time_source"}}
		for i, e := range set.Entities {
			rows = append(rows, []string{
				strconv.Itoa(i), e.Name, e.Type, e.Description, strconv.Itoa(e.Degree),
				formatTimestamp(e.CreatedAt), formatDate(e.EventTime), string(e.TimeSource),
			})
		}
		writeTable(&b, "Entities", rows)
	}

	if len(set.Relations) > 0 {
		rows := [][]string{{"id", "source", "target", "description", "keywords", "weight", "rank", "created_at", "event_time", "time_source"}}
		for i, r := range set.Relations {
			rows = append(rows, []string{
				strconv.Itoa(i), r.Source, r.Target, r.Description, strings.Join(r.Keywords, ", "),
				strconv.FormatFloat(r.Strength, 'f', -1, 64), strconv.Itoa(r.Degree),
				formatTimestamp(r.CreatedAt), formatDate(r.EventTime), string(r.TimeSource),
			})
		}
		writeTable(&b, "Relationships", rows)
	}

	if len(set.Chunks) > 0 {
		writeTable(&b, "Sources", sourceRows(set.Chunks))
	}

	if timeline := timelineRows(set); len(timeline) > 1 {
		writeTable(&b, "Timeline", timeline)
	}
	return strings.TrimSpace(b.String())
}

// RenderSources formats only the chunk table, used by naive queries.
func RenderSources(chunks []ChunkRow) string {
	if len(chunks) == 0 {
		return ""
	}
	var b strings.Builder
	writeTable(&b, "Sources", sourceRows(chunks))
	return strings.TrimSpace(b.String())
}

func sourceRows(chunks []ChunkRow) [][]string {
	rows := [][]string{{"id", "content", "created_at", "event_time", "time_source"}}
	for i, c := range chunks {
		rows = append(rows, []string{
			strconv.Itoa(i), c.Content, formatTimestamp(c.CreatedAt), formatDate(c.EventTime), string(c.TimeSource),
		})
	}
	return rows
}

// timelineRows lists, per entity, the retrieved chunks supporting it ordered
// by authoritative time, newest first. The first row of an entity is the
// latest.
func timelineRows(set ContextSet) [][]string {
	byID := make(map[string]ChunkRow, len(set.Chunks))
	for _, c := range set.Chunks {
		byID[c.ID] = c
	}
	rows := [][]string{{"entity", "source_id", "event_time", "time_source", "latest"}}
	for _, e := range set.Entities {
		var support []ChunkRow
		for _, id := range e.SourceChunkIDs {
			if c, ok := byID[id]; ok {
				support = append(support, c)
			}
		}
		if len(support) == 0 {
			continue
		}
		slices.SortStableFunc(support, func(a, b ChunkRow) int {
			if c := b.EventTime.Compare(a.EventTime); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		for i, c := range support {
			rows = append(rows, []string{
				e.Name, chunkIndex(set.Chunks, c.ID), formatDate(c.EventTime), string(c.TimeSource), strconv.FormatBool(i == 0),
			})
		}
	}
	return rows
}

func chunkIndex(chunks []ChunkRow, id string) string {
	return strconv.Itoa(slices.IndexFunc(chunks, func(c ChunkRow) bool { return c.ID == id }))
}

func writeTable(b *strings.Builder, title string, rows [][]string) {
	fmt.Fprintf(b, "-----%s-----\n```csv\n", title)
	w := csv.NewWriter(b)
	_ = w.WriteAll(rows)
	b.WriteString("```\n\n")
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateLayout)
}
