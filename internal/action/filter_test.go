package action

import "testing"

func TestNotCommandRules_PositiveAndNegative(t *testing.T) {
	cases := []struct {
		rule   string
		reject []string
		accept []string
	}{
		{
			rule:   "listing_output",
			reject: []string{"drwxr-xr-x  5 user staff  160 Jan  3 10:12 src", "-rw-r--r--  1 user staff 1024 main.go", "total 48"},
			accept: []string{"ls -la", "tree -L 2"},
		},
		{
			rule:   "markdown",
			reject: []string{"## Next steps", "| name | size |", "[docs](https://example.com)", "---", "**Note**: run tests"},
			accept: []string{"cat README.md", "grep '#' notes.txt"},
		},
		{
			rule:   "numbered_list",
			reject: []string{"1. Install the deps", "2) run the tests"},
			accept: []string{"head -n 1 file.txt"},
		},
		{
			rule:   "bullet_list",
			reject: []string{"- update the config", "* check the logs", "• done"},
			accept: []string{"npm install --save-dev eslint"},
		},
		{
			rule:   "date_time",
			reject: []string{"2024-05-01 12:00:03 INFO started", "10:42:01 build finished", "Mon Jan 15 10:00:00 UTC 2024", "March 3, 2024"},
			accept: []string{"date +%Y-%m-%d"},
		},
		{
			rule:   "source_declaration",
			reject: []string{"func main() {", "def handler(event):", "class Config:", "import os", "package main", "fn main() {", "const x = 1", "#include <stdio.h>", "// comment"},
			accept: []string{"go run ./cmd/warden", "python3 -m http.server"},
		},
		{
			rule:   "assertion",
			reject: []string{"assert result == 4", "expect(value).toBe(3)", "assert_eq!(a, b)", "t.Fatalf(\"bad\")"},
			accept: []string{"pytest -k assert_helpers"},
		},
		{
			rule:   "error_echo",
			reject: []string{"error: could not compile", "Traceback (most recent call last):", "bash: foo: command not found", "ValueError: bad input", "panic: runtime error"},
			accept: []string{"go vet ./..."},
		},
		{
			rule:   "prose_sentence",
			reject: []string{"Build the project first", "The tests pass now.", "Run the migrations next", "this should fix the failing build."},
			accept: []string{"make build", "git log --oneline -5"},
		},
		{
			rule:   "arrow",
			reject: []string{"input -> output", "x => x * 2"},
			accept: []string{"echo '->'"},
		},
		{
			rule:   "unbalanced_quotes",
			reject: []string{`echo "unterminated`, "it's broken"},
			accept: []string{`echo "balanced"`, `echo 'a' "b"`},
		},
		{
			rule:   "trailing_semicolon",
			reject: []string{"console.log(value);", "x = 5;", "and then we stop;"},
			accept: []string{"cd build && make"},
		},
	}

	filter := NewCommandFilter()
	for _, tc := range cases {
		t.Run(tc.rule, func(t *testing.T) {
			for _, line := range tc.reject {
				if filter.Accept(line) {
					t.Fatalf("expected %q to be rejected", line)
				}
			}
			for _, line := range tc.accept {
				if name, rejected := filter.Reject(line); rejected {
					t.Fatalf("expected %q to be accepted, rejected by %q", line, name)
				}
			}
		})
	}
}

func TestNegativeFilter_ExtractsNothing(t *testing.T) {
	lines := []string{
		"drwxr-xr-x  2 root root 4096 Jan  1 00:00 bin",
		"# Installation",
		"This command lists the directory contents.",
		"1. Open a terminal",
		"func handle(w http.ResponseWriter, r *http.Request) {",
	}
	e := newTestExtractor()
	for _, line := range lines {
		text := "```bash\n" + line + "\n```"
		if got := e.Extract(text); len(got) != 0 {
			t.Fatalf("expected no candidate for %q, got %+v", line, got)
		}
	}
}

func TestCommandFilter_ExtraRules(t *testing.T) {
	e := NewExtractor(testTools, WithFilterRules(NotCommandRule{
		Name:  "no_docker",
		Match: func(line string) bool { return len(line) >= 6 && line[:6] == "docker" },
	}))
	if e.AcceptsCommand("docker ps") {
		t.Fatal("expected extra rule to reject docker")
	}
	if !e.AcceptsCommand("ls") {
		t.Fatal("expected ls to be accepted")
	}
}

func TestStripInlineComment(t *testing.T) {
	cases := map[string]string{
		"ls -la # list":        "ls -la",
		`echo "a # b"`:         `echo "a # b"`,
		`echo 'x' #c`:          `echo 'x'`,
		"echo foo#bar":         "echo foo#bar",
		`echo \"quoted # hash`: `echo \"quoted`,
	}
	for in, want := range cases {
		if got := stripInlineComment(in); got != want {
			t.Fatalf("strip(%q): expected %q, got %q", in, want, got)
		}
	}
}
