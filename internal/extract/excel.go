package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractExcel renders each sheet as a "# <sheet>" heading followed by its non-empty
// rows, cells separated by tabs.
func extractExcel(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var buf strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.Rows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		wroteHeader := false
		for rows.Next() {
			cols, err := rows.Columns()
			if err != nil {
				_ = rows.Close()
				return "", fmt.Errorf("read row in sheet %q: %w", sheet, err)
			}
			line := strings.TrimRight(strings.Join(cols, "\t"), "\t ")
			if line == "" {
				continue
			}
			if !wroteHeader {
				fmt.Fprintf(&buf, "# %s\n", sheet)
				wroteHeader = true
			}
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
		if err := rows.Close(); err != nil {
			return "", fmt.Errorf("close sheet %q: %w", sheet, err)
		}
	}
	return strings.TrimSpace(buf.String()), nil
}
