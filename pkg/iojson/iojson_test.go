package iojson

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type note struct {
	Body string `json:"body"`
}

func (n note) Validate() error {
	if n.Body == "" {
		return errors.New("body is required")
	}
	return nil
}

func TestFileReader(t *testing.T) {
	tests := []struct {
		name    string
		stdin   string
		file    string
		want    note
		wantErr string
	}{
		{name: "stdin", stdin: `{"body":"hi"}`, want: note{Body: "hi"}},
		{name: "file", file: `{"body":"from file"}`, want: note{Body: "from file"}},
		{name: "malformed", stdin: `{`, wantErr: "decode JSON"},
		{name: "unknown field", stdin: `{"body":"x","extra":1}`, wantErr: "decode JSON"},
		{name: "fails validation", stdin: `{"body":""}`, wantErr: "body is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := &FileReader[note]{Stdin: strings.NewReader(tt.stdin)}
			if tt.file != "" {
				path := filepath.Join(t.TempDir(), "in.json")
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0o644))
				fr.fileFlagValue = path
			}

			got, err := fr.Read()
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLine(&buf, note{Body: "a"}))
	require.NoError(t, WriteLine(&buf, note{Body: "b"}))
	assert.Equal(t, "{\"body\":\"a\"}\n{\"body\":\"b\"}\n", buf.String())
}

func TestWriteWith(t *testing.T) {
	var out, errOut bytes.Buffer
	require.NoError(t, WriteWith(&out, &errOut, note{Body: "a"}))
	assert.Equal(t, "{\n  \"body\": \"a\"\n}\n", out.String())
	assert.Empty(t, errOut.String())

	out.Reset()
	require.NoError(t, WriteWith(&out, &errOut, func() {}))
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "json_error")
}
