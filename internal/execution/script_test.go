package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontdude/codestream/internal/domain"
)

func TestBuildScriptCompiled(t *testing.T) {
	p, err := domain.LanguageC.Profile()
	require.NoError(t, err)

	want := `SOURCE_FILE=$(find /home/runner -name "main.c" -type f | head -1)
if [ -z "$SOURCE_FILE" ]; then
  echo "Error: main.c not found in /home/runner"
  exit 1
fi
cp "$SOURCE_FILE" /workspace/main.c
cd /workspace
gcc main.c -o main 2> compile_error.txt
if [ $? -ne 0 ]; then
  cat compile_error.txt
  exit 1
fi
chmod +x main
./main
`
	assert.Equal(t, want, BuildScript(p, "/home/runner", "/workspace"))
}

func TestBuildScriptInterpreted(t *testing.T) {
	p, err := domain.LanguagePython.Profile()
	require.NoError(t, err)

	want := `SOURCE_FILE=$(find /staging -name "main.py" -type f | head -1)
if [ -z "$SOURCE_FILE" ]; then
  echo "Error: main.py not found in /staging"
  exit 1
fi
cp "$SOURCE_FILE" /ws/main.py
cd /ws
python3 main.py
`
	assert.Equal(t, want, BuildScript(p, "/staging", "/ws"))
}
