package readers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_UniversalFileReader_CanRead(t *testing.T) {
	r := UniversalFileReader{}
	assert.True(t, r.CanRead("some/file.docx"))
	assert.True(t, r.CanRead("some/file.odt"))
	assert.True(t, r.CanRead("some/file.pdf"))
	assert.True(t, r.CanRead("some/file.PDF"))
	assert.True(t, r.CanRead("some/file.xml"))
	assert.False(t, r.CanRead("some/file.txt"))
	assert.False(t, r.CanRead("some/file.bin"))
}

func Test_Find(t *testing.T) {
	rs := Default()

	r, err := Find(rs, "notes.txt")
	require.NoError(t, err)
	assert.IsType(t, &TxtFileReader{}, r)

	r, err = Find(rs, "report.pdf")
	require.NoError(t, err)
	assert.IsType(t, &UniversalFileReader{}, r)

	_, err = Find(rs, "archive.zip")
	assert.Error(t, err)
}
