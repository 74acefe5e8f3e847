package jsonfeed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync/internal/model"
)

func TestDecode(t *testing.T) {
	body := []byte(`{"events": [
		{"id": "a", "summary": "Interview", "location": "Admissions Hall", "status": "CONFIRMED",
		 "start": "2024-09-10T10:00:00-04:00", "end": "2024-09-10T11:00:00-04:00"},
		{"id": "b", "summary": "Open House", "start": "2024-09-12"},
		{"id": "c", "summary": "Cancelled", "status": "CANCELLED", "start": "2024-09-12"},
		{"id": "", "summary": "No id", "start": "2024-09-12"},
		{"id": "d", "summary": "Bad start", "start": "next tuesday"}
	]}`)

	events, err := Decode(body)
	require.NoError(t, err)
	require.Len(t, events, 2)

	a := events[0]
	assert.Equal(t, "a", a.ExternalID)
	assert.Equal(t, "Admissions Hall", a.Location)
	assert.True(t, a.Start.Equal(model.At(time.Date(2024, 9, 10, 14, 0, 0, 0, time.UTC))))
	assert.True(t, a.End.Equal(model.At(time.Date(2024, 9, 10, 15, 0, 0, 0, time.UTC))))

	b := events[1]
	assert.True(t, b.Start.Equal(model.OnDate(2024, 9, 12)))
	assert.True(t, b.End.IsAbsent())
}

func TestDecodeRejectsMalformedPayload(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"items": []}`))
	assert.Error(t, err)
}

func TestParseMoment(t *testing.T) {
	m, err := ParseMoment("")
	require.NoError(t, err)
	assert.True(t, m.IsAbsent())

	m, err = ParseMoment("2024-02-29")
	require.NoError(t, err)
	assert.True(t, m.IsDate())

	_, err = ParseMoment("2024-13-01")
	assert.Error(t, err)
}
