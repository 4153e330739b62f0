package tensors

import (
	"bytes"
	"fmt"
	"strings"
)

// String implements fmt.Stringer, with a summary of the tensor's content.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil tensor>"
	}
	return t.Summary(4)
}

// Summary returns a multi-line summary of the Tensor's content, eliding the middle of long axes.
// Inspired by numpy output.
func (t *Tensor) Summary(precision int) string {
	var buf bytes.Buffer
	w := func(format string, args ...any) { _, _ = fmt.Fprintf(&buf, format, args...) }

	dims := t.shape.Dimensions
	for _, dim := range dims {
		w("[%d]", dim)
	}
	w("float32")
	if len(dims) == 0 {
		w("(%.*g)", precision, t.flat[0])
		return buf.String()
	}

	var printElements func(index, indent int, currentShape []int)
	printElements = func(index, indent int, currentShape []int) {
		if len(currentShape) == 1 {
			w("{")
			n := currentShape[0]
			for i := 0; i < n; i++ {
				if n > 6 && i == 3 {
					w(", ...")
					i = n - 3
				}
				if i > 0 {
					w(", ")
				}
				w("%.*g", precision, t.flat[index+i])
			}
			w("}")
			return
		}
		stride := 1
		for _, dim := range currentShape[1:] {
			stride *= dim
		}
		indentStr := strings.Repeat(" ", indent)
		w("{")
		n := currentShape[0]
		for i := 0; i < n; i++ {
			if n > 6 && i == 3 {
				w(",\n%s...", indentStr)
				i = n - 3
			}
			if i > 0 {
				w(",\n%s", indentStr)
			}
			printElements(index+i*stride, indent+1, currentShape[1:])
		}
		w("}")
	}
	printElements(0, 1, dims)
	return buf.String()
}
