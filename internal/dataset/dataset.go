// Package dataset reads and writes transaction datasets as CSV.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrMalformed is returned for rows or headers that cannot be decoded.
var ErrMalformed = errors.New("malformed dataset")

// Columns is the header written by Write, in order.
var Columns = []string{
	"transaction_id", "user_id", "timestamp", "amount", "merchant",
	"location", "latitude", "longitude", "is_fraud", "fraud_type",
}

var requiredColumns = []string{
	"transaction_id", "user_id", "timestamp", "amount", "latitude", "longitude",
}

// TimestampLayout is the naive layout datasets use; such values are read as UTC.
const TimestampLayout = "2006-01-02 15:04:05"

// ReadFile loads a dataset from path.
func ReadFile(path string) ([]domain.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	txs, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return txs, nil
}

// Read decodes a CSV dataset. Columns are matched by header name, in any
// order; the first bad row fails the whole load.
func Read(r io.Reader) ([]domain.Transaction, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: missing header", ErrMalformed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrMalformed, col)
		}
	}

	var txs []domain.Transaction
	for row := 2; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrMalformed, row, err)
		}

		tx, err := decodeRow(record, colIndex)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrMalformed, row, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func decodeRow(record []string, colIndex map[string]int) (domain.Transaction, error) {
	field := func(name string) string {
		i, ok := colIndex[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	tx := domain.Transaction{
		ID:        field("transaction_id"),
		UserID:    field("user_id"),
		Merchant:  field("merchant"),
		Location:  field("location"),
		FraudType: field("fraud_type"),
	}

	var err error
	if tx.Timestamp, err = ParseTimestamp(field("timestamp")); err != nil {
		return tx, err
	}
	if tx.Amount, err = decimal.NewFromString(field("amount")); err != nil {
		return tx, fmt.Errorf("amount %q: %w", field("amount"), err)
	}
	if tx.Latitude, err = strconv.ParseFloat(field("latitude"), 64); err != nil {
		return tx, fmt.Errorf("latitude: %w", err)
	}
	if tx.Longitude, err = strconv.ParseFloat(field("longitude"), 64); err != nil {
		return tx, fmt.Errorf("longitude: %w", err)
	}

	if v := field("is_fraud"); v != "" {
		label, err := strconv.ParseBool(v)
		if err != nil {
			return tx, fmt.Errorf("is_fraud %q is not a boolean", v)
		}
		tx.GroundTruthFraud = &label
	}

	if err := tx.Validate(); err != nil {
		return tx, err
	}
	return tx, nil
}

// ParseTimestamp accepts TimestampLayout (as UTC) or RFC 3339.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("timestamp %q: want %q or RFC 3339", s, TimestampLayout)
}

// FormatTimestamp writes UTC times in TimestampLayout and keeps the offset
// of any other zone so the local hour survives a round trip.
func FormatTimestamp(t time.Time) string {
	if _, offset := t.Zone(); offset == 0 {
		return t.UTC().Format(TimestampLayout)
	}
	return t.Format(time.RFC3339)
}

// FormatAmount writes d with at least two decimal places and never rounds,
// so sub-cent amounts read back unchanged.
func FormatAmount(d decimal.Decimal) string {
	if d.Exponent() >= -2 {
		return d.StringFixed(2)
	}
	return d.String()
}

// WriteFile writes txs to path, replacing any existing file.
func WriteFile(path string, txs []domain.Transaction) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, txs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write encodes txs with the Columns header.
func Write(w io.Writer, txs []domain.Transaction) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return err
	}

	for i := range txs {
		tx := &txs[i]
		label := ""
		if tx.GroundTruthFraud != nil {
			label = FormatLabel(*tx.GroundTruthFraud)
		}
		record := []string{
			tx.ID,
			tx.UserID,
			FormatTimestamp(tx.Timestamp),
			FormatAmount(tx.Amount),
			tx.Merchant,
			tx.Location,
			strconv.FormatFloat(tx.Latitude, 'f', -1, 64),
			strconv.FormatFloat(tx.Longitude, 'f', -1, 64),
			label,
			tx.FraudType,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// FormatLabel renders a fraud label the way datasets spell it.
func FormatLabel(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// SortChronological orders txs by timestamp in place. Ties keep input order.
func SortChronological(txs []domain.Transaction) {
	slices.SortStableFunc(txs, func(a, b domain.Transaction) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}
