package linear

import (
	"bytes"
	"fmt"

	"github.com/pilegen/pilegen/internal/gitx"
)

// synthesizeCommit builds the raw bytes of an output commit: the tree
// comes from the regeneration result, the parent from the previous output
// commit, while author, committer and message are copied verbatim from
// the pile revision's own commit object. Copying the identities verbatim
// keeps the output commit reproducible from the same inputs.
func synthesizeCommit(pileCommit []byte, tree, parent gitx.OID) ([]byte, error) {
	if tree == "" {
		return nil, fmt.Errorf("no tree for output commit")
	}

	header, body, found := bytes.Cut(pileCommit, []byte("\n\n"))
	if !found {
		return nil, fmt.Errorf("malformed commit object: missing header separator")
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "tree %s\n", tree)
	if parent != "" {
		fmt.Fprintf(&out, "parent %s\n", parent)
	}
	for _, line := range bytes.Split(header, []byte("\n")) {
		if len(line) == 0 ||
			bytes.HasPrefix(line, []byte("tree ")) ||
			bytes.HasPrefix(line, []byte("parent ")) {
			continue
		}
		out.Write(line)
		out.WriteByte('\n')
	}
	out.WriteByte('\n')
	out.Write(body)
	return out.Bytes(), nil
}
