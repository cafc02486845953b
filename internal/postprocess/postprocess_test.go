package postprocess

import "testing"

func TestRemoveThinkingBlocks(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "no thinking blocks",
			input:    `{"fills": ["猫"]}`,
			expected: `{"fills": ["猫"]}`,
		},
		{
			name:     "simple thinking block",
			input:    "<think>The mask must be an animal</think>[\"猫\"]",
			expected: "[\"猫\"]",
		},
		{
			name:     "reasoning block",
			input:    "Start<reasoning>Analyzing the grammar</reasoning>End",
			expected: "StartEnd",
		},
		{
			name:     "truncated thinking block",
			input:    "<thinking>Still deciding",
			expected: "",
		},
		{
			name:     "truncated thinking in middle",
			input:    "Before<thinking>Incomplete",
			expected: "Before",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := removeThinkingBlocks(tt.input)
			if result != tt.expected {
				t.Errorf("removeThinkingBlocks(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestUnwrapCodeFence(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"json fence", "```json\n{\"fills\": [\"猫\"]}\n```", `{"fills": ["猫"]}`},
		{"bare fence", "```\n[\"犬\"]\n```", `["犬"]`},
		{"no fence", `["犬"]`, `["犬"]`},
		{"fence in middle", "text ```x``` more", "text ```x``` more"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := unwrapCodeFence(tt.input); got != tt.expected {
				t.Errorf("unwrapCodeFence(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRemoveInstructionEchoes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"here is the answer", `Here is the answer: ["猫"]`, `["猫"]`},
		{"sure prefix", `Sure, here's the JSON: {"fills": []}`, `{"fills": []}`},
		{"japanese prefix", "回答：[\"猫\"]", `["猫"]`},
		{"no echo", `["猫"]`, `["猫"]`},
		{"colon required", "Here is the answer without colon", "Here is the answer without colon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := removeInstructionEchoes(tt.input); got != tt.expected {
				t.Errorf("removeInstructionEchoes(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRemoveQuoteWrapping(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"double quotes", `"猫"`, "猫"},
		{"kagi brackets", "「猫」", "猫"},
		{"double kagi", "『猫』", "猫"},
		{"mismatched", "「猫\"", "「猫\""},
		{"single rune", "猫", "猫"},
		{"json array untouched", `["猫"]`, `["猫"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := removeQuoteWrapping(tt.input); got != tt.expected {
				t.Errorf("removeQuoteWrapping(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestClean(t *testing.T) {
	input := "<think>hmm</think>\n```json\n{\"fills\": [\"猫\"]}\n```"
	if got := Clean(input); got != `{"fills": ["猫"]}` {
		t.Errorf("Clean = %q", got)
	}
}
