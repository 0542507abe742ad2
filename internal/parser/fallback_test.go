package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackParser_SingleFileIsScalar(t *testing.T) {
	in := `<file>
  <path>src/auth.ts</path>
  <diff>
    <content><![CDATA[
if (x < 10 && y > 5) {...}
]]></content>
    <start_line> 42 </start_line>
  </diff>
</file>`

	got, err := NewFallbackParser().Parse(in)
	require.NoError(t, err)

	file, ok := got["file"].(map[string]any)
	require.True(t, ok, "single file entry must not be wrapped in a slice")
	assert.Equal(t, "src/auth.ts", file["path"])

	diff, ok := file["diff"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "\nif (x < 10 && y > 5) {...}\n", diff["content"])
	assert.Contains(t, diff["content"], "x < 10 && y > 5")
	assert.Equal(t, "42", diff["start_line"])
}

func TestFallbackParser_MultipleFilesKeepOrder(t *testing.T) {
	var sb strings.Builder
	names := []string{"a.go", "b.go", "c.go"}
	for _, n := range names {
		sb.WriteString("<file><path>" + n + "</path><diff><content>x</content></diff></file>\n")
	}

	got, err := NewFallbackParser().Parse(sb.String())
	require.NoError(t, err)

	files, ok := got["file"].([]any)
	require.True(t, ok)
	require.Len(t, files, 3)
	for i, n := range names {
		assert.Equal(t, n, files[i].(map[string]any)["path"])
	}
}

func TestFallbackParser_Diffs(t *testing.T) {
	t.Run("multiple diffs become a list", func(t *testing.T) {
		in := `<file><path>a</path>
<diff><content>one</content><start_line>1</start_line></diff>
<diff><content>two</content></diff>
</file>`
		got, err := NewFallbackParser().Parse(in)
		require.NoError(t, err)

		diffs := got["file"].(map[string]any)["diff"].([]any)
		require.Len(t, diffs, 2)
		assert.Equal(t, map[string]any{"content": "one", "start_line": "1"}, diffs[0])
		assert.Equal(t, map[string]any{"content": "two"}, diffs[1])
	})

	t.Run("cdata preferred over plain content", func(t *testing.T) {
		in := `<file><path>a</path><diff><content><![CDATA[a &amp; b]]></content></diff></file>`
		got, err := NewFallbackParser().Parse(in)
		require.NoError(t, err)

		diff := got["file"].(map[string]any)["diff"].(map[string]any)
		assert.Equal(t, "a &amp; b", diff["content"])
	})

	t.Run("plain content entities decoded", func(t *testing.T) {
		in := `<file><path>a</path><diff><content>a &lt; b</content></diff></file>`
		got, err := NewFallbackParser().Parse(in)
		require.NoError(t, err)

		diff := got["file"].(map[string]any)["diff"].(map[string]any)
		assert.Equal(t, "a < b", diff["content"])
	})

	t.Run("empty diffs dropped with their file", func(t *testing.T) {
		in := `<file><path>empty</path><diff><content>   </content></diff></file>
<file><path>kept</path><diff><content>x</content></diff><diff></diff></file>`
		got, err := NewFallbackParser().Parse(in)
		require.NoError(t, err)

		file, ok := got["file"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "kept", file["path"])
		assert.Equal(t, map[string]any{"content": "x"}, file["diff"])
	})
}

func TestFallbackParser_FailsClosed(t *testing.T) {
	t.Run("missing path", func(t *testing.T) {
		in := `<file><path>ok</path><diff><content>x</content></diff></file>
<file><diff><content>y</content></diff></file>`
		_, err := NewFallbackParser().Parse(in)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingField)

		var mf *MissingFieldError
		require.True(t, errors.As(err, &mf))
		assert.Equal(t, "path", mf.Field)
	})

	t.Run("blank path", func(t *testing.T) {
		_, err := NewFallbackParser().Parse(`<file><path> </path><diff><content>x</content></diff></file>`)
		assert.ErrorIs(t, err, ErrMissingField)
	})

	t.Run("no valid file entries", func(t *testing.T) {
		in := `<file><path>a</path><diff><content></content></diff></file><file><path>b</path></file>`
		_, err := NewFallbackParser().Parse(in)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingField)
		assert.Contains(t, err.Error(), "no valid file entries")
	})

	t.Run("no file blocks at all", func(t *testing.T) {
		_, err := NewFallbackParser().Parse("nothing to see")
		assert.ErrorIs(t, err, ErrMissingField)
	})
}

func TestFallbackParser_PathOutsideDiffs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "cdata diff with path element before real path",
			in:   "<file><diff><content><![CDATA[<path>evil</path>]]></content></diff><path>real.go</path></file>",
			want: "real.go",
		},
		{
			name: "plain diff with path element",
			in:   "<file><diff><content><path>evil</path></content></diff><path>real.xml</path></file>",
			want: "real.xml",
		},
		{
			name: "svg path element in diff",
			in:   `<file><diff><content><svg><path d="M0 0L1 1"/></svg></content></diff><path>icon.svg</path></file>`,
			want: "icon.svg",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewFallbackParser().Parse(tt.in)
			require.NoError(t, err)
			file, ok := got["file"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.want, file["path"])
		})
	}

	t.Run("path only inside diff fails closed", func(t *testing.T) {
		_, err := NewFallbackParser().Parse("<file><diff><content><![CDATA[<path>evil</path>]]></content></diff></file>")
		assert.ErrorIs(t, err, ErrMissingField)
	})
}

func TestFallbackParser_SizeLimit(t *testing.T) {
	t.Run("custom limit", func(t *testing.T) {
		f := &FallbackParser{maxBytes: 16}
		_, err := f.Parse(strings.Repeat("a", 17))
		assert.ErrorIs(t, err, ErrSizeLimit)
	})

	t.Run("default limit", func(t *testing.T) {
		_, err := NewFallbackParser().Parse(strings.Repeat("a", MaxFallbackInputBytes+1))
		assert.ErrorIs(t, err, ErrSizeLimit)
	})

	t.Run("at the limit is accepted", func(t *testing.T) {
		in := `<file><path>a</path><diff><content>x</content></diff></file>`
		f := &FallbackParser{maxBytes: len(in)}
		_, err := f.Parse(in)
		assert.NoError(t, err)
	})
}
