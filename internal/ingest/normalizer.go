// Package ingest turns raw marketplace export files into the canonical
// entity set. The normalizer maps arbitrary column layouts onto a fixed row
// shape; the materializer groups rows into deduplicated entities.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dromara/carbon/v2"
	"golang.org/x/text/encoding/charmap"
)

var (
	// ErrEmptyDataset is returned when the source file has no data rows.
	ErrEmptyDataset = errors.New("dataset contains no rows")

	// ErrBadFormat is returned when the upload is not parseable as a
	// delimited tabular file.
	ErrBadFormat = errors.New("unrecognized file format")
)

// userIDBase offsets synthesized per-row user ids away from plausible real ids.
const userIDBase = 10000

// Sentinel values substituted for missing identifier cells.
const (
	sentinelItemID     = "UNKNOWN-ITEM"
	sentinelItemCell   = "UNKNOWN"
	sentinelTxnCell    = "TXN-AUTO"
	sentinelUserCell   = "nan"
	generatedTxnPrefix = "TXN-"
)

// columnAliases maps normalized export column names to canonical fields.
// Covers Amazon seller exports, Flipkart exports and a few generic layouts.
var columnAliases = map[string]string{
	"amazon-order-id": "transaction_id",
	"order id":        "transaction_id",
	"order-id":        "transaction_id",
	"buyer-email":     "user_id",
	"buyer-name":      "user_id",
	"sku":             "item_id",
	"asin":            "item_id",
	"item id":         "item_id",
	"item-price":      "price",
	"price":           "price",
	"purchase-date":   "date",
	"order date":      "date",
	"return-date":     "return_date",
	"payment-method":  "payment_method",
	"payment method":  "payment_method",
	"shipping-risk":   "shipping_risk",
	"category":        "category",
	"item-category":   "category",
}

// Row is one normalized (transaction, item) observation with an optional
// return event. Field-level parse failures never surface here; they resolve
// to the documented defaults.
type Row struct {
	UserID        int64
	RawName       string
	TransactionID string
	ItemID        string
	Price         float64
	Date          time.Time
	ReturnDate    time.Time
	HasReturn     bool

	// Optional enrichment columns; empty when the export lacks them.
	PaymentMethod string
	ShippingRisk  string
	Category      string
}

// Normalize reads a delimited tabular export and produces the normalized row
// sequence. now anchors defaults for unparsable or missing dates.
func Normalize(r io.Reader, now time.Time) ([]Row, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyDataset
	}

	// Marketplace exports are occasionally Latin-1 rather than UTF-8.
	if !utf8.Valid(raw) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: undecodable bytes", ErrBadFormat)
		}
		raw = decoded
	}

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = sniffDelimiter(raw)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}

	cols := mapColumns(header)

	var rows []Row
	idx := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
		}
		rows = append(rows, normalizeRecord(record, cols, idx, now))
		idx++
	}

	if len(rows) == 0 {
		return nil, ErrEmptyDataset
	}

	return rows, nil
}

// sniffDelimiter picks the delimiter that appears most often in the header line.
func sniffDelimiter(raw []byte) rune {
	line := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		line = raw[:i]
	}

	best := ','
	bestCount := bytes.Count(line, []byte{','})
	for _, cand := range []byte{';', '\t', '|'} {
		if n := bytes.Count(line, []byte{cand}); n > bestCount {
			best = rune(cand)
			bestCount = n
		}
	}
	return best
}

// mapColumns resolves header names through the alias table.
// The last column claiming a canonical field wins, matching how duplicate
// aliases (buyer-name and buyer-email) collapse in practice.
func mapColumns(header []string) map[string]int {
	cols := make(map[string]int)
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		canonical, ok := columnAliases[key]
		if !ok {
			canonical = key
		}
		cols[canonical] = i
	}
	return cols
}

func normalizeRecord(record []string, cols map[string]int, idx int, now time.Time) Row {
	row := Row{}

	rawUser, hasUser := cell(record, cols, "user_id")
	if !hasUser {
		if _, present := cols["user_id"]; present {
			// Blank cells in an identity column collapse into one
			// shared placeholder user.
			rawUser = sentinelUserCell
		} else {
			// No identity column at all: synthesize one per row.
			synth := int64(idx) + userIDBase
			rawUser = strconv.FormatInt(synth, 10)
		}
	}
	row.RawName = rawUser
	row.UserID = HashUserID(rawUser)

	if tid, ok := cell(record, cols, "transaction_id"); ok {
		row.TransactionID = tid
	} else if _, present := cols["transaction_id"]; present {
		row.TransactionID = sentinelTxnCell
	} else {
		row.TransactionID = generatedTxnPrefix + strconv.Itoa(idx)
	}

	if iid, ok := cell(record, cols, "item_id"); ok {
		row.ItemID = iid
	} else if _, present := cols["item_id"]; present {
		row.ItemID = sentinelItemCell
	} else {
		row.ItemID = sentinelItemID
	}

	if p, ok := cell(record, cols, "price"); ok {
		row.Price = ParsePrice(p)
	}

	row.Date = now
	if d, ok := cell(record, cols, "date"); ok {
		row.Date = parseDate(d, now)
	}

	if rd, ok := cell(record, cols, "return_date"); ok {
		if t, parsed := tryParseDate(rd); parsed {
			row.ReturnDate = t
			row.HasReturn = true
		}
	}

	if pm, ok := cell(record, cols, "payment_method"); ok {
		row.PaymentMethod = pm
	}
	if sr, ok := cell(record, cols, "shipping_risk"); ok {
		row.ShippingRisk = sr
	}
	if cat, ok := cell(record, cols, "category"); ok {
		row.Category = cat
	}

	return row
}

// cell returns the trimmed value for a canonical field, reporting false for
// absent columns and blank or NaN-like cells.
func cell(record []string, cols map[string]int, field string) (string, bool) {
	i, ok := cols[field]
	if !ok || i >= len(record) {
		return "", false
	}
	v := strings.TrimSpace(record[i])
	if v == "" {
		return "", false
	}
	switch strings.ToLower(v) {
	case "nan", "null", "none":
		return "", false
	}
	return v, true
}

// HashUserID maps a raw identifier to a stable integer id. Numeric-looking
// values pass through; anything else hashes to an 8-digit id, so the same
// raw name always yields the same id within and across runs. Distinct names
// can collide; that is an accepted limitation of the 8-digit space.
// Names that parse as non-finite floats, like "Inf" or "NaN", hash instead
// of passing through, since int64 conversion is undefined for them.
func HashUserID(raw string) int64 {
	if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil &&
		!math.IsInf(f, 0) && !math.IsNaN(f) {
		return int64(f)
	}

	h := fnv.New64a()
	h.Write([]byte(raw))
	return int64(h.Sum64() % 1e8)
}

// ParsePrice strips common currency symbols and thousands separators.
// Unparsable values resolve to 0.0, never an error.
func ParsePrice(raw string) float64 {
	cleaned := strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(raw)
	v, err := strconv.ParseFloat(strings.TrimSpace(cleaned), 64)
	if err != nil {
		return 0.0
	}
	return v
}

// parseDate accepts the formats marketplace exports actually use; anything
// unparsable resolves to the processing time.
func parseDate(raw string, now time.Time) time.Time {
	if t, ok := tryParseDate(raw); ok {
		return t
	}
	return now
}

func tryParseDate(raw string) (time.Time, bool) {
	c := carbon.Parse(strings.TrimSpace(raw))
	if c.IsInvalid() {
		return time.Time{}, false
	}
	return c.StdTime(), true
}
