// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package content

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   string
		absent []string
	}{
		{
			name:   "inline script",
			in:     `<p>Hi<script>alert(1)</script></p>`,
			want:   `<p>Hi</p>`,
			absent: []string{"<script"},
		},
		{
			name:   "multi-line script with attributes",
			in:     "<div>a</div><SCRIPT type=\"text/javascript\">\nvar x = 1;\n</SCRIPT ><div>b</div>",
			want:   "<div>a</div><div>b</div>",
			absent: []string{"SCRIPT", "var x"},
		},
		{
			name:   "style block",
			in:     "<style>\nbody { color: red }\n</style><p>ok</p>",
			want:   "<p>ok</p>",
			absent: []string{"color: red"},
		},
		{
			name: "link tag",
			in:   `<link rel="stylesheet" href="https://evil.example/x.css"><p>ok</p>`,
			want: `<p>ok</p>`,
		},
		{
			name:   "script reassembled by link removal",
			in:     `<p>Hi<scr<link>ipt>alert(1)</scr<link>ipt></p>`,
			want:   `<p>Hi</p>`,
			absent: []string{"<script", "alert"},
		},
		{
			name: "unterminated script opener",
			in:   `<p>x</p><script src="https://evil.example/a.js">`,
			want: `<p>x</p>`,
		},
		{
			name:   "javascript href",
			in:     `<a href="javascript:alert(document.cookie)">click</a>`,
			want:   `<a href="">click</a>`,
			absent: []string{"javascript"},
		},
		{
			name:   "javascript in handler",
			in:     `<img onerror='JavaScript :steal()' src="x.png">`,
			want:   `<img onerror='' src="x.png">`,
		},
		{
			name:   "data uri",
			in:     `<img src="data:image/png;base64,AAAA">`,
			want:   `<img src="">`,
			absent: []string{"base64"},
		},
		{
			name: "plain html untouched",
			in:   `<p>Hello <b>world</b></p>`,
			want: `<p>Hello <b>world</b></p>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.in)
			assert.Equal(t, tt.want, got)
			for _, s := range tt.absent {
				assert.NotContains(t, got, s)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Run("prefers html", func(t *testing.T) {
		assert.Equal(t, "<p>Hi</p>", Normalize("<p>Hi</p>", "Hi"))
	})

	t.Run("falls back to text when html blank", func(t *testing.T) {
		assert.Equal(t, "Hello", Normalize("  \n ", "Hello"))
	})

	t.Run("falls back to text when html sanitises to nothing", func(t *testing.T) {
		assert.Equal(t, "fallback", Normalize("<script>x()</script>", "fallback"))
	})

	t.Run("split script tag never stored", func(t *testing.T) {
		got := Normalize("<p>Hi<scr<link>ipt>alert(1)</scr<link>ipt></p>", "")
		assert.Equal(t, "<p>Hi</p>", got)
	})

	t.Run("escapes text", func(t *testing.T) {
		got := Normalize("", "a < b & \"c\"\nnext line")
		assert.Equal(t, "a &lt; b &amp; &#34;c&#34;<br />\nnext line", got)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, EmptyPlaceholder, Normalize("", ""))
		assert.Equal(t, EmptyPlaceholder, Normalize(" ", "\n"))
	})
}

func TestTextToHTML_QuotedReplies(t *testing.T) {
	text := "Thanks!\r\n\r\nOn Mon, Jan 5, 2026 at 10:00 AM Support <help@x.com> wrote:\r\n> previous line\r\n>> older"
	got := TextToHTML(text)

	assert.True(t, strings.HasPrefix(got, "Thanks!<br />\n<br />\n"))
	assert.Contains(t, got, `<div class="email-quote">On Mon, Jan 5, 2026 at 10:00 AM Support &lt;help@x.com&gt; wrote:</div>`)
	assert.Contains(t, got, `<div class="email-quote">&gt; previous line</div>`)
	assert.Contains(t, got, `<div class="email-quote">&gt;&gt; older</div>`)
	assert.NotContains(t, got, "\r")
}

func TestNormalizer_BoundsInput(t *testing.T) {
	n := Normalizer{MaxInputBytes: 5}
	assert.Equal(t, "Hello", n.Normalize("", "Hello, world"))

	// Never split a multi-byte rune.
	assert.Equal(t, "abc", truncate("abcü", 4))
	assert.Equal(t, "abcü", truncate("abcü", 5))
}
