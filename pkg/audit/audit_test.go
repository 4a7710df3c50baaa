package audit

import (
	"archive/zip"
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLoggerRecordsBothStreams(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(dir, 0)
	require.NoError(t, err)
	defer logger.Close()

	require.NoError(t, logger.RecordEnvelope(EnvelopeRecord{
		Event: EnvelopeReceived, EnvelopeID: "e1", From: "agent-1",
	}))
	require.NoError(t, logger.RecordDecision(DecisionRecord{
		EnvelopeID: "e1", ParticipantID: "agent-1", Allowed: true,
	}))

	envelopes, err := readJSONLFile[EnvelopeRecord](logger.envelopes.path)
	require.NoError(t, err)
	require.Len(t, envelopes, 1)
	assert.Equal(t, EnvelopeReceived, envelopes[0].Event)

	decisions, err := readJSONLFile[DecisionRecord](logger.decisions.path)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Allowed)
}

func TestFileLoggerRotatesAtMaxBytes(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(dir, 10) // tiny, forces rotation almost immediately
	require.NoError(t, err)
	defer logger.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, logger.RecordEnvelope(EnvelopeRecord{Event: EnvelopeReceived, EnvelopeID: "e"}))
	}

	rotated, err := readJSONLFile[EnvelopeRecord](logger.envelopes.path + ".1")
	require.NoError(t, err)
	assert.NotEmpty(t, rotated, "rotation should have produced a .1 generation")
}

func TestWriterLoggerWritesJSONLines(t *testing.T) {
	var envBuf, decBuf bytes.Buffer
	logger := NewWriterLogger(&envBuf, &decBuf)

	require.NoError(t, logger.RecordEnvelope(EnvelopeRecord{Event: EnvelopeDelivered, EnvelopeID: "e1"}))
	assert.Contains(t, envBuf.String(), `"envelope_id":"e1"`)
}

func TestExporterGeneratesVerifiablePack(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(dir, 0)
	require.NoError(t, err)
	defer logger.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, logger.RecordEnvelope(EnvelopeRecord{Time: now, Event: EnvelopeReceived, EnvelopeID: "e1"}))
	require.NoError(t, logger.RecordDecision(DecisionRecord{Time: now, EnvelopeID: "e1", Allowed: false, Reason: "no matching capability"}))

	exporter := NewExporter(logger)
	data, checksum, err := exporter.GeneratePack(ExportRequest{})
	require.NoError(t, err)
	require.Len(t, checksum, 64)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	assert.True(t, names["envelopes.json"])
	assert.True(t, names["decisions.json"])
	assert.True(t, names["manifest.json"])
}

func TestExporterFiltersByWindow(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(dir, 0)
	require.NoError(t, err)
	defer logger.Close()

	early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, logger.RecordEnvelope(EnvelopeRecord{Time: early, Event: EnvelopeReceived, EnvelopeID: "old"}))
	require.NoError(t, logger.RecordEnvelope(EnvelopeRecord{Time: late, Event: EnvelopeReceived, EnvelopeID: "new"}))

	records, err := readJSONLMatching[EnvelopeRecord](logger.envelopes.path, ExportRequest{
		Since: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].EnvelopeID)
}
