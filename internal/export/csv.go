// Package export writes queue rows to CSV for offline analysis.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"sigengine/internal/domain"
)

// header is the column order downstream spreadsheets expect.
var header = []string{
	"id", "symbol", "direction", "entry_min", "entry_max",
	"stop_loss", "tp1", "tp2", "tp3", "timestamp", "status",
}

// utf8BOM keeps the file openable in spreadsheet tools that sniff
// encoding from the first bytes.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteCSV writes signals to w: prices with two decimals, absent
// targets as "0.00", timestamps as YYYY-MM-DD HH:MM:SS of created_at.
func WriteCSV(w io.Writer, signals []domain.Signal) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("export: write bom: %w", err)
	}

	cw := csv.NewWriter(w)

	if err := cw.Write(header); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}

	for _, s := range signals {
		row := []string{
			strconv.FormatInt(s.ID, 10),
			s.Symbol,
			string(s.Direction),
			price(s.EntryMin),
			price(s.EntryMax),
			price(s.StopLoss),
			price(s.TakeProfit1),
			optPrice(s.TakeProfit2),
			optPrice(s.TakeProfit3),
			s.CreatedAt.Format("2006-01-02 15:04:05"),
			string(s.Status),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export: write signal %d: %w", s.ID, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	return nil
}

func price(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func optPrice(v *float64) string {
	if v == nil {
		return "0.00"
	}
	return price(*v)
}
