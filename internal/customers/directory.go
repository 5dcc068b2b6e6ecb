// Package customers loads the loan customer dataset and answers name lookups
// for the recovery coordinator.
package customers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/recoverydesk/voiceagent/internal/recovery"
)

const (
	notFoundSampleSize = 20
	summarySampleSize  = 10

	defaultEMIAmount  = 15000
	defaultLoanAmount = 800000
	missingValue      = "N/A"
)

// ErrNoNameColumn is returned when the dataset has no Name column.
var ErrNoNameColumn = errors.New("customers: dataset has no Name column")

// Summary describes a loaded dataset.
type Summary struct {
	TotalCustomers  int      `json:"total_customers"`
	TotalDefaulters int      `json:"total_defaulters"`
	Columns         []string `json:"columns"`
	SampleNames     []string `json:"sample_names"`
}

// Directory is an in-memory, read-only customer dataset.
// It is safe for concurrent use.
type Directory struct {
	profiles []recovery.CustomerProfile
	columns  []string
}

// LoadFile reads a CSV dataset from path.
func LoadFile(path string, log logrus.FieldLogger) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("customers: open dataset: %w", err)
	}
	defer f.Close()

	d, err := Load(f, log)
	if err != nil {
		return nil, fmt.Errorf("customers: %s: %w", path, err)
	}
	return d, nil
}

// Load parses a CSV dataset. Columns are matched case-insensitively;
// missing amounts fall back to the portfolio defaults and are logged.
func Load(r io.Reader, log logrus.FieldLogger) (*Directory, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := idx["name"]; !ok {
		return nil, ErrNoNameColumn
	}

	d := &Directory{columns: header}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		name := get("name")
		if name == "" {
			log.Warnf("customers: line %d has no name, skipping", line)
			continue
		}

		p := recovery.CustomerProfile{
			Name:     name,
			Phone:    orMissing(get("phone")),
			LoanType: orMissing(get("loan_type")),
			Status:   orMissing(get("status")),
		}
		p.IsDefaulter = strings.EqualFold(p.Status, "defaulter")
		p.EMIAmount = amountOr(get("emi_amount"), defaultEMIAmount, "EMI_Amount", name, log)
		p.LoanAmount = amountOr(get("loan_amount"), defaultLoanAmount, "Loan_Amount", name, log)
		p.TenureMonths = intOr(get("tenure_months"), 0)
		p.DaysOverdue = intOr(get("days_overdue"), 0)
		if p.DaysOverdue < 0 {
			p.DaysOverdue = 0
		}

		d.profiles = append(d.profiles, p)
	}
	return d, nil
}

// FindCustomer does a case-insensitive substring search on customer names.
// When several names contain the query but exactly one equals it, that one
// is returned as unique.
func (d *Directory) FindCustomer(_ context.Context, name string) (recovery.LookupResult, error) {
	q := strings.ToLower(strings.TrimSpace(name))
	if q == "" {
		return recovery.LookupResult{Status: recovery.LookupNone, Candidates: d.sampleNames(notFoundSampleSize)}, nil
	}

	var matches []int
	exact := -1
	for i, p := range d.profiles {
		lower := strings.ToLower(p.Name)
		if strings.Contains(lower, q) {
			matches = append(matches, i)
			if lower == q {
				if exact == -1 {
					exact = i
				} else {
					exact = -2
				}
			}
		}
	}

	switch {
	case len(matches) == 0:
		return recovery.LookupResult{Status: recovery.LookupNone, Candidates: d.sampleNames(notFoundSampleSize)}, nil
	case len(matches) == 1:
		p := d.profiles[matches[0]]
		return recovery.LookupResult{Status: recovery.LookupUnique, Profile: &p}, nil
	case exact >= 0:
		p := d.profiles[exact]
		return recovery.LookupResult{Status: recovery.LookupUnique, Profile: &p}, nil
	default:
		names := make([]string, 0, len(matches))
		for _, i := range matches {
			names = append(names, d.profiles[i].Name)
		}
		return recovery.LookupResult{Status: recovery.LookupMultiple, Candidates: names}, nil
	}
}

// Summary reports dataset totals for the operator console.
func (d *Directory) Summary() Summary {
	s := Summary{
		TotalCustomers: len(d.profiles),
		Columns:        append([]string(nil), d.columns...),
		SampleNames:    d.sampleNames(summarySampleSize),
	}
	for _, p := range d.profiles {
		if p.IsDefaulter {
			s.TotalDefaulters++
		}
	}
	return s
}

// Len is the number of customers loaded.
func (d *Directory) Len() int { return len(d.profiles) }

func (d *Directory) sampleNames(n int) []string {
	if n > len(d.profiles) {
		n = len(d.profiles)
	}
	out := make([]string, 0, n)
	for _, p := range d.profiles[:n] {
		out = append(out, p.Name)
	}
	return out
}

func orMissing(s string) string {
	if s == "" {
		return missingValue
	}
	return s
}

func amountOr(raw string, def int64, col, name string, log logrus.FieldLogger) int64 {
	if raw == "" || strings.EqualFold(raw, missingValue) {
		return def
	}
	v, err := recovery.ParseAmount(raw)
	if err != nil || v == 0 {
		log.WithFields(logrus.Fields{"customer": name, "column": col, "value": raw}).
			Warnf("customers: unreadable amount, using default %d", def)
		return def
	}
	return v
}

func intOr(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return def
	}
	return v
}
