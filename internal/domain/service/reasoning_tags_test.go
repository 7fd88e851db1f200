package service

import "testing"

func TestStripReasoningTags(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"no tags passes through", `{"verdict":"ok"}`, `{"verdict":"ok"}`},
		{"empty input", "", ""},
		{"think span removed", `<think>weighing options</think>{"verdict":"ok"}`, `{"verdict":"ok"}`},
		{"thinking span removed", "<thinking>\nlong deliberation\n</thinking>\n{\"done\":true}", `{"done":true}`},
		{"thought span removed", `<thought>hm</thought>{"action":"click"}`, `{"action":"click"}`},
		{"case insensitive", `<THINK>loud</THINK>{"a":1}`, `{"a":1}`},
		{"final markers removed content kept", `<final>{"verdict":"ok"}</final>`, `{"verdict":"ok"}`},
		{"unclosed think truncates the rest", `{"verdict":"ok"}<think>never closed`, `{"verdict":"ok"}`},
		{"multiple spans", `<think>a</think>{"x":1}<think>b</think>`, `{"x":1}`},
		{"surrounding whitespace trimmed", "  <think>pad</think>  {\"x\":1}  ", `{"x":1}`},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripReasoningTags(tt.in); got != tt.want {
				t.Fatalf("StripReasoningTags(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
