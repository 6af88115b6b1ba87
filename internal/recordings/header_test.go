package recordings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeaderCompanyAndPerson(t *testing.T) {
	h := ParseHeader("Acme Corp, Jane Doe\nMeeting notes...")

	require.NotNil(t, h.Company)
	require.NotNil(t, h.Person)
	assert.Equal(t, "Acme Corp", *h.Company)
	assert.Equal(t, "Jane Doe", *h.Person)
	assert.Equal(t, "Meeting notes...", h.Body)
	assert.Equal(t, "Acme Corp, Jane Doe", h.Text)
}

func TestParseHeaderSingleSentenceWithoutComma(t *testing.T) {
	transcript := "This is a single sentence without commas."
	h := ParseHeader(transcript)

	assert.Nil(t, h.Company)
	assert.Nil(t, h.Person)
	assert.Equal(t, transcript, h.Text)
	assert.Equal(t, "", h.Body)
}

func TestParseHeaderSkipsBlankLeadingLines(t *testing.T) {
	h := ParseHeader("\n   \n  Beta d.o.o., Marko  \nVsebina")

	require.NotNil(t, h.Company)
	assert.Equal(t, "Beta d.o.o.", *h.Company)
	assert.Equal(t, "Marko", *h.Person)
	assert.Equal(t, "Vsebina", h.Body)
}

func TestParseHeaderKeepsExtraCommasInPerson(t *testing.T) {
	h := ParseHeader("Acme, Jane, CFO\nbody")

	assert.Equal(t, "Acme", *h.Company)
	assert.Equal(t, "Jane, CFO", *h.Person)
}

func TestParseHeaderEmptyParts(t *testing.T) {
	h := ParseHeader(" , Jane\nbody")
	assert.Nil(t, h.Company)
	require.NotNil(t, h.Person)
	assert.Equal(t, "Jane", *h.Person)

	h = ParseHeader("Acme ,  \nbody")
	require.NotNil(t, h.Company)
	assert.Equal(t, "Acme", *h.Company)
	assert.Nil(t, h.Person)
}

func TestParseHeaderEmptyTranscript(t *testing.T) {
	h := ParseHeader("")
	assert.Equal(t, "", h.Text)
	assert.Equal(t, "", h.Body)
	assert.Nil(t, h.Company)
	assert.Nil(t, h.Person)

	h = ParseHeader(" \n\t\n")
	assert.Equal(t, "", h.Text)
	assert.Equal(t, " \n\t\n", h.Body)
}

func TestSafeParseHeader(t *testing.T) {
	h, ok := SafeParseHeader("Acme, Jane\nbody")
	assert.True(t, ok)
	assert.Equal(t, "body", h.Body)
}
