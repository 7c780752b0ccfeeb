package execution

import (
	"fmt"
	"strings"

	"github.com/dontdude/codestream/internal/domain"
)

// BuildScript returns the shell script run inside the sandbox. It locates the
// staged source file, copies it into the writable workspace and either runs
// it directly or compiles it first. Compiler diagnostics are printed as
// ordinary output before the script exits non-zero.
func BuildScript(p domain.Profile, stagingDir, workspaceDir string) string {
	file := p.FileName()

	var b strings.Builder
	fmt.Fprintf(&b, "SOURCE_FILE=$(find %s -name \"%s\" -type f | head -1)\n", stagingDir, file)
	b.WriteString("if [ -z \"$SOURCE_FILE\" ]; then\n")
	fmt.Fprintf(&b, "  echo \"Error: %s not found in %s\"\n", file, stagingDir)
	b.WriteString("  exit 1\n")
	b.WriteString("fi\n")
	fmt.Fprintf(&b, "cp \"$SOURCE_FILE\" %s/%s\n", workspaceDir, file)
	fmt.Fprintf(&b, "cd %s\n", workspaceDir)

	if !p.Compiled {
		b.WriteString(p.RunCommand + "\n")
		return b.String()
	}

	fmt.Fprintf(&b, "%s 2> compile_error.txt\n", p.CompileCommand)
	b.WriteString("if [ $? -ne 0 ]; then\n")
	b.WriteString("  cat compile_error.txt\n")
	b.WriteString("  exit 1\n")
	b.WriteString("fi\n")
	b.WriteString("chmod +x main\n")
	b.WriteString(p.RunCommand + "\n")
	return b.String()
}
