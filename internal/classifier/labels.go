package classifier

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadLabels reads one label per line. Surrounding blanks and carriage
// returns are trimmed and trailing blank lines are ignored. A blank line
// before the last label is a configuration error.
func LoadLabels(r io.Reader) ([]string, error) {
	var labels []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		labels = append(labels, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}

	for len(labels) > 0 && labels[len(labels)-1] == "" {
		labels = labels[:len(labels)-1]
	}
	for i, l := range labels {
		if l == "" {
			return nil, fmt.Errorf("%w: blank label at line %d", ErrConfig, i+1)
		}
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no labels", ErrConfig)
	}
	return labels, nil
}

// LoadLabelFile reads labels from path.
func LoadLabelFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()
	return LoadLabels(f)
}
