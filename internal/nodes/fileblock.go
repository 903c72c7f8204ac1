package nodes

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/forgeflow/conductor/internal/wfstate"
)

// fileBlockHeaderPrefix marks the start of a declared file in codesmith's
// text-only output contract (spec §9 "File-block format"): the header line
// names a workspace-relative path, followed by a fenced content block.
const fileBlockHeaderPrefix = "### FILE: "

const fence = "```"

// FileBlock is one parsed file declaration from an LLM response.
type FileBlock struct {
	Path    string
	Content []byte
}

// ParseFileBlocks scans content for the file-block format and returns one
// FileBlock per declared file, in the order they appear. A header whose path
// is absolute, contains a ".." segment, or resolves outside workspacePath is
// rejected and reported via onReject rather than included in the result —
// the caller decides whether that is fatal or merely recorded as an error.
func ParseFileBlocks(content, workspacePath string, onReject func(path, reason string)) []FileBlock {
	var blocks []FileBlock
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, fileBlockHeaderPrefix) {
			continue
		}
		path := strings.TrimSpace(strings.TrimPrefix(line, fileBlockHeaderPrefix))

		body, ok := scanFencedBody(scanner)
		if !ok {
			if onReject != nil {
				onReject(path, "missing fenced content block after header")
			}
			continue
		}

		if err := validateWorkspacePath(workspacePath, path); err != nil {
			if onReject != nil {
				onReject(path, err.Error())
			}
			continue
		}

		blocks = append(blocks, FileBlock{Path: path, Content: []byte(body)})
	}
	return blocks
}

// scanFencedBody consumes lines until it finds an opening and closing fence,
// returning the lines in between. The opening fence line may carry a
// language tag (```go) which is ignored.
func scanFencedBody(scanner *bufio.Scanner) (string, bool) {
	// Skip blank lines between the header and the opening fence.
	var opened bool
	var sb strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if !opened {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if !strings.HasPrefix(trimmed, fence) {
				return "", false
			}
			opened = true
			continue
		}
		if strings.TrimSpace(line) == fence {
			return sb.String(), true
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return "", false
}

// validateWorkspacePath implements spec §7's path_escape check: reject
// absolute paths, ".." segments, and anything that resolves outside
// workspacePath. Deliberately stdlib-only (path/filepath, strings) — this
// is security-load-bearing logic where an exact, auditable check beats
// delegating to a general-purpose templating or archive library.
func validateWorkspacePath(workspacePath, declared string) error {
	if declared == "" {
		return fmt.Errorf("empty path")
	}
	if filepath.IsAbs(declared) {
		return fmt.Errorf("%w: absolute path %q", wfstate.ErrPathEscape, declared)
	}
	clean := filepath.Clean(declared)
	for _, seg := range strings.Split(clean, string(filepath.Separator)) {
		if seg == ".." {
			return fmt.Errorf("%w: %q contains a \"..\" segment", wfstate.ErrPathEscape, declared)
		}
	}
	resolved := filepath.Join(workspacePath, clean)
	root := filepath.Clean(workspacePath) + string(filepath.Separator)
	if !strings.HasPrefix(resolved+string(filepath.Separator), root) {
		return fmt.Errorf("%w: %q resolves outside the workspace", wfstate.ErrPathEscape, declared)
	}
	return nil
}
